package extract

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/ppiankov/tootrelay/internal/resolve"
	"github.com/ppiankov/tootrelay/internal/source"
)

type fakeMedia map[string]error

func (f fakeMedia) ResolveMedia(_ context.Context, permalink string) (string, error) {
	err, ok := f[permalink]
	if !ok {
		return "", errors.Mark(errors.Newf("unexpected permalink %s", permalink), resolve.ErrResolution)
	}
	if err != nil {
		return "", err
	}
	return "https://pbs.example.com/media/" + permalink[strings.LastIndex(permalink, "/status/")+8:] + ".jpg", nil
}

type fakeContext struct {
	posts map[string]resolve.Post
	calls []string
}

func (f *fakeContext) ResolveContext(_ context.Context, permalink string) (resolve.Post, error) {
	f.calls = append(f.calls, permalink)
	p, ok := f.posts[permalink]
	if !ok {
		return resolve.Post{}, errors.Mark(errors.New("connection refused"), resolve.ErrResolution)
	}
	return p, nil
}

type post struct {
	id    string
	body  string
	meta  string
	links [][2]string // anchor, url
}

func page(author string, posts ...post) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	if author != "" {
		fmt.Fprintf(&b, `<table class="profile-details"><tr><td><div class="fullname">%s</div></td></tr></table>`, author)
	}
	for _, p := range posts {
		body := p.body
		for _, l := range p.links {
			body = strings.Replace(body, l[0], fmt.Sprintf(`<a class="twitter_external_link" data-url="%s">%s</a>`, l[1], l[0]), 1)
		}
		fmt.Fprintf(&b, `<table class="tweet"><tr><td>%s<div class="tweet-text" data-id="%s"><div class="dir-ltr">%s</div></div></td></tr></table>`,
			p.meta, p.id, body)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newTestExtractor(media fakeMedia, ctx *fakeContext) *Extractor {
	if ctx == nil {
		ctx = &fakeContext{}
	}
	return New(source.NewHTMLParser(), source.NewSite("", ""), media, ctx, zerolog.Nop())
}

func TestExtract_SingleNewPost(t *testing.T) {
	e := newTestExtractor(nil, nil)
	batch, err := e.Extract(context.Background(), strings.NewReader(page("", post{id: "100", body: "hello"})), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(batch.Items) != 1 {
		t.Fatalf("got %d items, want 1", len(batch.Items))
	}
	it := batch.Items[0]
	if it.ID != "100" || it.Timestamp != 100 || it.Text != "hello" || it.HasMedia() {
		t.Errorf("item = %+v", it)
	}
	if batch.MaxTimestamp() != 100 {
		t.Errorf("max timestamp = %d, want 100", batch.MaxTimestamp())
	}
}

func TestExtract_WatermarkFilters(t *testing.T) {
	e := newTestExtractor(nil, nil)
	src := page("", post{id: "110", body: "new"}, post{id: "100", body: "seen"}, post{id: "90", body: "old"})

	batch, err := e.Extract(context.Background(), strings.NewReader(src), 100, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(batch.Items) != 1 || batch.Items[0].Timestamp != 110 {
		t.Fatalf("items = %+v, want only 110", batch.Items)
	}
	if len(batch.Failures) != 0 {
		t.Errorf("failures = %+v", batch.Failures)
	}
}

func TestExtract_NeverReturnsItemsAtOrBelowWatermark(t *testing.T) {
	e := newTestExtractor(nil, nil)
	var posts []post
	for _, id := range []string{"5", "50", "49", "51", "1000", "7"} {
		posts = append(posts, post{id: id, body: "x"})
	}
	src := page("", posts...)

	for _, wm := range []int64{0, 5, 49, 50, 51, 999, 1000, 5000} {
		batch, err := e.Extract(context.Background(), strings.NewReader(src), wm, Options{})
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		for _, it := range batch.Items {
			if it.Timestamp <= wm {
				t.Errorf("watermark %d: got item %d", wm, it.Timestamp)
			}
		}
	}
}

func TestExtract_NewestFirstAndDedup(t *testing.T) {
	e := newTestExtractor(nil, nil)
	src := page("",
		post{id: "20", body: "b"},
		post{id: "30", body: "c"},
		post{id: "10", body: "a"},
		post{id: "20", body: "b again"},
	)

	batch, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var got []int64
	for _, it := range batch.Items {
		got = append(got, it.Timestamp)
	}
	if fmt.Sprint(got) != "[30 20 10]" {
		t.Errorf("order = %v, want [30 20 10]", got)
	}
	if batch.Items[1].Text != "b again" {
		t.Errorf("duplicate timestamp should overwrite, got %q", batch.Items[1].Text)
	}
}

func TestExtract_EmptyPage(t *testing.T) {
	e := newTestExtractor(nil, nil)
	batch, err := e.Extract(context.Background(), strings.NewReader("<html><body></body></html>"), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(batch.Items) != 0 || len(batch.Failures) != 0 {
		t.Errorf("batch = %+v, want empty", batch)
	}
}

func TestExtract_ExternalLinkInlined(t *testing.T) {
	e := newTestExtractor(nil, nil)
	src := page("", post{id: "1", body: "read example.com/a… now", links: [][2]string{{"example.com/a…", "https://example.com/article"}}})

	batch, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := batch.Items[0].Text; got != "read https://example.com/article  now" {
		t.Errorf("text = %q", got)
	}
}

func TestExtract_MediaResolved(t *testing.T) {
	link := "https://twitter.com/nasa/status/7/photo/1"
	e := newTestExtractor(fakeMedia{link: nil}, nil)
	src := page("", post{id: "7", body: "Look pic.twitter.com/x", links: [][2]string{{"pic.twitter.com/x", link}}})

	batch, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	it := batch.Items[0]
	if it.MediaURL != "https://pbs.example.com/media/7/photo/1.jpg" {
		t.Errorf("media = %q", it.MediaURL)
	}
	if strings.Contains(it.Text, link) {
		t.Errorf("link should be removed from body: %q", it.Text)
	}
	if it.Text != "Look" {
		t.Errorf("text = %q, want Look", it.Text)
	}
}

func TestExtract_MediaFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		notice string
	}{
		{"sensitive", resolve.ErrSensitiveMedia, sensitiveNotice},
		{"unreachable", errors.Mark(errors.New("timeout"), resolve.ErrResolution), unavailableNotice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := "https://twitter.com/nasa/status/8/video/1"
			e := newTestExtractor(fakeMedia{link: tt.err}, nil)
			src := page("", post{id: "8", body: "Watch pic.twitter.com/v", links: [][2]string{{"pic.twitter.com/v", link}}})

			batch, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{})
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if len(batch.Items) != 1 {
				t.Fatalf("items = %d, want 1 (resolution failure must not drop the post)", len(batch.Items))
			}
			it := batch.Items[0]
			if it.HasMedia() {
				t.Errorf("media = %q, want none", it.MediaURL)
			}
			want := "Watch " + link + "\n" + tt.notice
			if it.Text != want {
				t.Errorf("text = %q, want %q", it.Text, want)
			}
		})
	}
}

func TestExtract_QuotedPost(t *testing.T) {
	link := "https://twitter.com/esa/status/55"
	ctxRes := &fakeContext{posts: map[string]resolve.Post{link: {Author: "ESA", Text: "We launched"}}}
	e := newTestExtractor(nil, ctxRes)
	src := page("", post{id: "60", body: "Congrats twitter.com/esa/…", links: [][2]string{{"twitter.com/esa/…", link}}})

	batch, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := "Retweeted and replied to ESA's post\n(We launched)\nAbove is original post\nCongrats"
	if got := batch.Items[0].Text; got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestExtract_QuotedPostUnresolvedKeepsLink(t *testing.T) {
	link := "https://twitter.com/esa/status/56"
	e := newTestExtractor(nil, &fakeContext{})
	src := page("", post{id: "61", body: "See twitter.com/esa/…", links: [][2]string{{"twitter.com/esa/…", link}}})

	batch, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := batch.Items[0].Text; got != "See "+link {
		t.Errorf("text = %q", got)
	}
}

func TestExtract_Retweet(t *testing.T) {
	e := newTestExtractor(nil, nil)
	src := page("", post{id: "70", body: "Big news", meta: `<span class="context">retweeted</span><strong class="fullname">ESA</strong>`})

	batch, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := batch.Items[0].Text; got != "Retweeted ESA's post:\nBig news" {
		t.Errorf("text = %q", got)
	}
}

func TestExtract_ReplyWithResolvedOriginal(t *testing.T) {
	link := "https://twitter.com/jpl/status/80"
	ctxRes := &fakeContext{posts: map[string]resolve.Post{link: {Author: "JPL", Text: "Is it Mars?"}}}
	e := newTestExtractor(nil, ctxRes)
	src := page("", post{
		id:    "81",
		body:  "Yes twitter.com/jpl/…",
		meta:  `<div class="tweet-reply-context">Replying to @jpl</div>`,
		links: [][2]string{{"twitter.com/jpl/…", link}},
	})

	batch, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := "Replying to @jpl\n(Is it Mars?)\nAbove is original post\nYes"
	if got := batch.Items[0].Text; got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
	if len(ctxRes.calls) != 1 {
		t.Errorf("context resolved %d times, want once", len(ctxRes.calls))
	}
}

func TestExtract_ReplyWithUnresolvableOriginal(t *testing.T) {
	link := "https://twitter.com/jpl/status/90"
	e := newTestExtractor(nil, &fakeContext{})
	src := page("", post{
		id:    "91",
		body:  "Sure twitter.com/jpl/…",
		meta:  `<div class="tweet-reply-context">Replying to @jpl</div>`,
		links: [][2]string{{"twitter.com/jpl/…", link}},
	})

	batch, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(batch.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(batch.Items))
	}
	want := "Replying to @jpl\nSure " + link
	if got := batch.Items[0].Text; got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestExtract_ReplyWithoutLink(t *testing.T) {
	ctxRes := &fakeContext{}
	e := newTestExtractor(nil, ctxRes)
	src := page("", post{id: "95", body: "Thanks!", meta: `<div class="tweet-reply-context">Replying to @esa</div>`})

	batch, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := batch.Items[0].Text; got != "Replying to @esa\nThanks!" {
		t.Errorf("text = %q", got)
	}
	if len(ctxRes.calls) != 0 {
		t.Errorf("unexpected context lookups: %v", ctxRes.calls)
	}
}

func TestExtract_LinkStateDoesNotCrossPosts(t *testing.T) {
	link := "https://twitter.com/esa/status/1"
	ctxRes := &fakeContext{posts: map[string]resolve.Post{link: {Author: "ESA", Text: "orig"}}}
	e := newTestExtractor(nil, ctxRes)
	// The newer post is a reply without a link; the older post carries one.
	// Document order puts the linked post first.
	src := page("",
		post{id: "10", body: "Quote twitter.com/esa/…", links: [][2]string{{"twitter.com/esa/…", link}}},
		post{id: "11", body: "Reply", meta: `<div class="tweet-reply-context">Replying to @esa</div>`},
	)

	batch, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := batch.Items[0].Text; got != "Replying to @esa\nReply" {
		t.Errorf("reply text = %q, link leaked from previous post", got)
	}
}

func TestExtract_FanInLabel(t *testing.T) {
	e := newTestExtractor(nil, nil)
	src := page("NASA", post{id: "1", body: "hi"}, post{id: "2", body: "there"})

	labelled, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{FanIn: true})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for _, it := range labelled.Items {
		if !strings.HasPrefix(it.Text, "NASA said:\n") {
			t.Errorf("fan-in item %s text = %q", it.ID, it.Text)
		}
	}

	plain, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for _, it := range plain.Items {
		if strings.Contains(it.Text, "said:") {
			t.Errorf("item %s should not be labelled: %q", it.ID, it.Text)
		}
	}
}

func TestExtract_FanInWithoutAuthorFailsItems(t *testing.T) {
	e := newTestExtractor(nil, nil)
	batch, err := e.Extract(context.Background(), strings.NewReader(page("", post{id: "1", body: "hi"})), 0, Options{FanIn: true})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(batch.Items) != 0 || len(batch.Failures) != 1 {
		t.Fatalf("batch = %+v", batch)
	}
}

func TestExtract_MalformedPostSkipped(t *testing.T) {
	e := newTestExtractor(nil, nil)
	src := page("", post{id: "abc", body: "bad id"}, post{id: "5", body: "good"})

	batch, err := e.Extract(context.Background(), strings.NewReader(src), 0, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(batch.Items) != 1 || batch.Items[0].ID != "5" {
		t.Fatalf("items = %+v", batch.Items)
	}
	if len(batch.Failures) != 1 || batch.Failures[0].ID != "abc" {
		t.Fatalf("failures = %+v", batch.Failures)
	}
	if !errors.Is(batch.Failures[0].Err, ErrItem) {
		t.Errorf("failure not marked ErrItem: %v", batch.Failures[0].Err)
	}
}

func TestExtract_OldMalformedPostIgnored(t *testing.T) {
	e := newTestExtractor(nil, nil)
	// Old post without a body: below the watermark, so not a failure.
	src := `<table class="tweet"><tr><td><div class="tweet-text" data-id="3">no body</div></td></tr></table>`

	batch, err := e.Extract(context.Background(), strings.NewReader(src), 10, Options{})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(batch.Items) != 0 || len(batch.Failures) != 0 {
		t.Errorf("batch = %+v, want empty", batch)
	}
}

func TestExtract_CanceledContext(t *testing.T) {
	e := newTestExtractor(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Extract(ctx, strings.NewReader(page("", post{id: "1", body: "x"})), 0, Options{}); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
