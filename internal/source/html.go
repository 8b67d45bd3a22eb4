package source

import (
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/cockroachdb/errors"
)

// Selectors for the mobile rendering of the source site.
var (
	selPostText      = cascadia.MustCompile("div.tweet-text")
	selPostMeta      = cascadia.MustCompile("table.tweet")
	selPostBody      = cascadia.MustCompile("div > div")
	selExternalLink  = cascadia.MustCompile("a.twitter_external_link")
	selRetweetMarker = cascadia.MustCompile("span.context")
	selRetweetAuthor = cascadia.MustCompile("strong.fullname")
	selReplyContext  = cascadia.MustCompile("div.tweet-reply-context")
	selProfileName   = cascadia.MustCompile("table.profile-details div.fullname")
	selFullname      = cascadia.MustCompile("div.fullname")
	selMedia         = cascadia.MustCompile("div.media")
	selMediaRef      = cascadia.MustCompile("[href], [src]")
)

const (
	attrPostID  = "data-id"
	attrLinkURL = "data-url"
)

var urlRe = regexp.MustCompile(`https?://[^\s"'<>]+`)

// HTMLParser parses the source's mobile markup with goquery.
type HTMLParser struct{}

// NewHTMLParser returns a parser for the mobile markup.
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{}
}

func (p *HTMLParser) ParseTimeline(r io.Reader) (*Timeline, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "parse timeline")
	}

	texts := doc.FindMatcher(selPostText)
	if texts.Length() == 0 {
		return nil, ErrNoEntries
	}
	metas := doc.FindMatcher(selPostMeta)

	tl := &Timeline{
		Author:  singleLine(doc.FindMatcher(selProfileName).First().Text()),
		Entries: make([]Entry, 0, texts.Length()),
	}
	texts.Each(func(i int, s *goquery.Selection) {
		tl.Entries = append(tl.Entries, parseEntry(s, metas.Eq(i)))
	})
	return tl, nil
}

// parseEntry reads one post. meta is the metadata container at the same
// document position as the text container.
func parseEntry(text, meta *goquery.Selection) Entry {
	var e Entry

	id, ok := text.Attr(attrPostID)
	if !ok || strings.TrimSpace(id) == "" {
		e.Err = errors.Newf("post container has no %s attribute", attrPostID)
		return e
	}
	e.RawID = strings.TrimSpace(id)

	body := text.FindMatcher(selPostBody).First()
	if body.Length() == 0 {
		e.Err = errors.Newf("post %s: missing body", e.RawID)
		return e
	}
	e.Text = strings.TrimSpace(body.Text())

	text.FindMatcher(selExternalLink).Each(func(_ int, a *goquery.Selection) {
		target, ok := a.Attr(attrLinkURL)
		if !ok || target == "" {
			return
		}
		e.Links = append(e.Links, Link{Anchor: a.Text(), URL: target})
	})

	if meta.Length() == 0 {
		e.Err = errors.Newf("post %s: missing metadata container", e.RawID)
		return e
	}

	if meta.FindMatcher(selRetweetMarker).Length() > 0 {
		author := meta.FindMatcher(selRetweetAuthor).First()
		if author.Length() == 0 {
			e.Err = errors.Newf("post %s: retweet marker without author", e.RawID)
			return e
		}
		e.Retweet = true
		e.RetweetAuthor = singleLine(author.Text())
	}

	if reply := meta.FindMatcher(selReplyContext).First(); reply.Length() > 0 {
		e.Reply = true
		e.ReplyContext = singleLine(reply.Text())
	}

	return e
}

func (p *HTMLParser) ParsePermalink(r io.Reader) (*Permalink, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "parse permalink")
	}

	pl := &Permalink{
		Author: singleLine(doc.FindMatcher(selFullname).First().Text()),
		Text:   singleLine(doc.FindMatcher(selPostText).First().Text()),
	}

	media := doc.FindMatcher(selMedia).First()
	if media.Length() == 0 {
		return pl, nil
	}
	pl.Media = firstURL(media)
	return pl, nil
}

// firstURL returns the first URL-shaped href or src inside container, in
// document order, falling back to any URL in its markup.
func firstURL(container *goquery.Selection) string {
	var found string
	container.FindMatcher(selMediaRef).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		for _, attr := range []string{"href", "src"} {
			if v, ok := el.Attr(attr); ok && urlRe.MatchString(v) {
				found = urlRe.FindString(v)
				return false
			}
		}
		return true
	})
	if found != "" {
		return found
	}
	raw, err := goquery.OuterHtml(container)
	if err != nil {
		return ""
	}
	return urlRe.FindString(raw)
}

// singleLine drops embedded newlines and surrounding space.
func singleLine(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", ""))
}
