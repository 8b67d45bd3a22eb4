package relay

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/ppiankov/tootrelay/internal/extract"
	"github.com/ppiankov/tootrelay/internal/publish"
	"github.com/ppiankov/tootrelay/internal/source"
)

type fakeGetter struct {
	body  string
	err   error
	calls int
}

func (g *fakeGetter) Get(_ context.Context, _ string) ([]byte, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return []byte(g.body), nil
}

type fakeExtractor struct {
	batch     extract.Batch
	watermark int64
	opts      extract.Options
}

func (e *fakeExtractor) Extract(_ context.Context, _ io.Reader, watermark int64, opts extract.Options) (extract.Batch, error) {
	e.watermark = watermark
	e.opts = opts
	return e.batch, nil
}

type fakePublisher struct {
	fail      map[string]bool
	degrade   map[string]bool
	published []string
}

func (p *fakePublisher) Publish(_ context.Context, it source.Item) (publish.Outcome, error) {
	p.published = append(p.published, it.ID)
	switch {
	case p.fail[it.ID]:
		return publish.Failed, errors.Mark(errors.New("HTTP 500"), publish.ErrPublish)
	case p.degrade[it.ID]:
		return publish.Degraded, nil
	}
	return publish.Published, nil
}

type memWatermarks struct {
	values map[string]int64
	writes int
}

func (m *memWatermarks) Read(_ context.Context, key string) (int64, error) {
	return m.values[key], nil
}

func (m *memWatermarks) Write(_ context.Context, key string, ts int64) error {
	m.writes++
	if ts > m.values[key] {
		m.values[key] = ts
	}
	return nil
}

func (m *memWatermarks) Close() error { return nil }

var testPair = Pair{
	AppName:          "tootrelay",
	SourceURL:        "https://mobile.twitter.com/nasa",
	DestinationURL:   "https://mastodon.example",
	DestinationToken: "secret",
}

type harness struct {
	getter    *fakeGetter
	extractor *fakeExtractor
	publisher *fakePublisher
	marks     *memWatermarks
}

func newHarness(items ...source.Item) *harness {
	return &harness{
		getter:    &fakeGetter{body: "<html></html>"},
		extractor: &fakeExtractor{batch: extract.Batch{Items: items}},
		publisher: &fakePublisher{},
		marks:     &memWatermarks{values: map[string]int64{}},
	}
}

func (h *harness) relayer(dryRun bool) *Relayer {
	return New(Deps{
		Getter:     h.getter,
		Extractor:  h.extractor,
		Watermarks: h.marks,
		Publishers: func(Pair) Publisher { return h.publisher },
		Log:        zerolog.Nop(),
	}, dryRun)
}

func TestRelay_MissingFieldsAbort(t *testing.T) {
	cases := map[string]func(*Pair){
		"app name":          func(p *Pair) { p.AppName = "" },
		"source URL":        func(p *Pair) { p.SourceURL = "" },
		"destination URL":   func(p *Pair) { p.DestinationURL = "" },
		"destination token": func(p *Pair) { p.DestinationToken = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(source.Item{ID: "1", Timestamp: 1})
			pair := testPair
			mutate(&pair)

			rep, err := h.relayer(false).Relay(context.Background(), pair)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("err = %v, want ErrConfiguration", err)
			}
			if !strings.Contains(err.Error(), name) {
				t.Errorf("err = %q, want naming %q", err, name)
			}
			if rep.Err == nil {
				t.Error("report should carry the error")
			}
			if h.getter.calls != 0 || len(h.publisher.published) != 0 || h.marks.writes != 0 {
				t.Errorf("work done despite invalid pair: gets=%d published=%d writes=%d",
					h.getter.calls, len(h.publisher.published), h.marks.writes)
			}
		})
	}
}

func TestRelay_PublishesNewestFirstAndAdvances(t *testing.T) {
	h := newHarness(
		source.Item{ID: "130", Timestamp: 130},
		source.Item{ID: "120", Timestamp: 120},
		source.Item{ID: "110", Timestamp: 110},
	)
	h.marks.values[testPair.Key()] = 100

	rep, err := h.relayer(false).Relay(context.Background(), testPair)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if h.extractor.watermark != 100 {
		t.Errorf("extractor got watermark %d, want 100", h.extractor.watermark)
	}
	if strings.Join(h.publisher.published, ",") != "130,120,110" {
		t.Errorf("publish order = %v", h.publisher.published)
	}
	if got := h.marks.values[testPair.Key()]; got != 130 {
		t.Errorf("watermark = %d, want 130", got)
	}
	if rep.OldWatermark != 100 || rep.NewWatermark != 130 || rep.Extracted != 3 || rep.Published != 3 {
		t.Errorf("report = %+v", rep)
	}
}

func TestRelay_FailedPublishesStillAdvanceWatermark(t *testing.T) {
	h := newHarness(
		source.Item{ID: "30", Timestamp: 30},
		source.Item{ID: "20", Timestamp: 20},
		source.Item{ID: "10", Timestamp: 10},
	)
	h.publisher.fail = map[string]bool{"30": true}
	h.publisher.degrade = map[string]bool{"20": true}

	rep, err := h.relayer(false).Relay(context.Background(), testPair)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if got := h.marks.values[testPair.Key()]; got != 30 {
		t.Errorf("watermark = %d, want 30 (at-most-once)", got)
	}
	if rep.Published != 1 || rep.Degraded != 1 || rep.Failed != 1 {
		t.Errorf("counts = %d/%d/%d", rep.Published, rep.Degraded, rep.Failed)
	}
	if len(rep.Failures) != 1 || rep.Failures[0].ID != "30" || rep.Failures[0].Stage != StagePublish {
		t.Errorf("failures = %+v", rep.Failures)
	}
}

func TestRelay_WatermarkNeverDecreases(t *testing.T) {
	// An extractor misbehaving with an older batch must not lower the cursor.
	h := newHarness(source.Item{ID: "50", Timestamp: 50})
	h.marks.values[testPair.Key()] = 100

	rep, err := h.relayer(false).Relay(context.Background(), testPair)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if rep.NewWatermark != 100 || h.marks.values[testPair.Key()] != 100 {
		t.Errorf("watermark = %d / %d, want 100", rep.NewWatermark, h.marks.values[testPair.Key()])
	}
}

func TestRelay_NoItems(t *testing.T) {
	h := newHarness()
	h.extractor.batch.Failures = []extract.Failure{{ID: "9", Err: errors.New("bad")}}

	rep, err := h.relayer(false).Relay(context.Background(), testPair)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if h.marks.writes != 0 {
		t.Errorf("watermark written %d times for an empty batch", h.marks.writes)
	}
	if len(rep.Failures) != 1 || rep.Failures[0].Stage != StageExtract {
		t.Errorf("extract failures not reported: %+v", rep.Failures)
	}
}

func TestRelay_FetchError(t *testing.T) {
	h := newHarness(source.Item{ID: "1", Timestamp: 1})
	h.getter.err = errors.New("dial tcp: connection refused")

	rep, err := h.relayer(false).Relay(context.Background(), testPair)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrConfiguration) {
		t.Error("fetch failure is not a configuration error")
	}
	if rep.Err == nil || h.marks.writes != 0 || len(h.publisher.published) != 0 {
		t.Errorf("report=%+v writes=%d published=%v", rep, h.marks.writes, h.publisher.published)
	}
}

func TestRelay_DryRun(t *testing.T) {
	h := newHarness(source.Item{ID: "5", Timestamp: 5})

	rep, err := h.relayer(true).Relay(context.Background(), testPair)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if len(h.publisher.published) != 0 || h.marks.writes != 0 {
		t.Errorf("dry run published %v, wrote %d", h.publisher.published, h.marks.writes)
	}
	if !rep.DryRun || rep.Extracted != 1 || rep.NewWatermark != 0 {
		t.Errorf("report = %+v", rep)
	}
}

func TestRelay_PassesFanIn(t *testing.T) {
	h := newHarness()
	pair := testPair
	pair.FanIn = true

	if _, err := h.relayer(false).Relay(context.Background(), pair); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if !h.extractor.opts.FanIn {
		t.Error("fan-in option not passed to extractor")
	}
}

func TestPairKeyDependsOnEndpoints(t *testing.T) {
	other := testPair
	other.DestinationToken = "rotated"
	if other.Key() != testPair.Key() {
		t.Error("token must not affect the pair key")
	}
	other.DestinationURL = "https://other.example"
	if other.Key() == testPair.Key() {
		t.Error("destination must affect the pair key")
	}
}
