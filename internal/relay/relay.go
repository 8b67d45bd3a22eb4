// Package relay moves new posts from one source page to one destination.
//
// Delivery is at-most-once: after a batch the watermark advances to the
// newest extracted post even if some of its posts failed to publish, and
// those are not retried.
package relay

import (
	"bytes"
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ppiankov/tootrelay/internal/extract"
	"github.com/ppiankov/tootrelay/internal/publish"
	"github.com/ppiankov/tootrelay/internal/source"
	"github.com/ppiankov/tootrelay/internal/store"
)

// ErrConfiguration marks a pair that cannot be relayed at all.
var ErrConfiguration = errors.New("configuration error")

// Pair binds one source page to one destination.
type Pair struct {
	AppName          string
	SourceURL        string
	DestinationURL   string
	DestinationToken string

	// FanIn is set when the destination receives several sources.
	FanIn bool
}

// Key is the watermark record key of the pair.
func (p Pair) Key() string {
	return store.PairKey(p.SourceURL, p.DestinationURL)
}

func (p Pair) validate() error {
	for _, f := range []struct{ name, value string }{
		{"app name", p.AppName},
		{"source URL", p.SourceURL},
		{"destination URL", p.DestinationURL},
		{"destination token", p.DestinationToken},
	} {
		if f.value == "" {
			return errors.Mark(errors.Newf("%s is empty", f.name), ErrConfiguration)
		}
	}
	return nil
}

// Getter fetches the source page.
type Getter interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Extractor turns a source page into new items.
type Extractor interface {
	Extract(ctx context.Context, page io.Reader, watermark int64, opts extract.Options) (extract.Batch, error)
}

// Publisher posts one item to the pair's destination.
type Publisher interface {
	Publish(ctx context.Context, item source.Item) (publish.Outcome, error)
}

// PublisherFactory builds the publisher for a pair's destination.
type PublisherFactory func(Pair) Publisher

// Deps are the collaborators of a Relayer.
type Deps struct {
	Getter     Getter
	Extractor  Extractor
	Watermarks store.Watermarks
	Publishers PublisherFactory
	Log        zerolog.Logger
}

// Relayer runs relay passes. Pairs are relayed one after the other; a
// Relayer is not meant for concurrent use.
type Relayer struct {
	deps   Deps
	dryRun bool
}

// New creates a Relayer. With dryRun set it extracts and reports but does
// not publish or advance watermarks.
func New(deps Deps, dryRun bool) *Relayer {
	return &Relayer{deps: deps, dryRun: dryRun}
}

// Relay performs one pass for pair. The returned report is filled as far as
// the pass got, also when an error is returned.
func (r *Relayer) Relay(ctx context.Context, pair Pair) (Report, error) {
	rep := Report{
		Source:      pair.SourceURL,
		Destination: pair.DestinationURL,
		PairKey:     pair.Key(),
		DryRun:      r.dryRun,
	}
	log := r.deps.Log.With().
		Str("relay_id", uuid.NewString()).
		Str("source", pair.SourceURL).
		Str("destination", pair.DestinationURL).
		Logger()

	if err := pair.validate(); err != nil {
		log.Error().Err(err).Msg("Refusing to relay")
		return rep.fail(err)
	}

	watermark, err := r.deps.Watermarks.Read(ctx, rep.PairKey)
	if err != nil {
		return rep.fail(errors.Wrap(err, "read watermark"))
	}
	rep.OldWatermark, rep.NewWatermark = watermark, watermark
	log.Info().Int64("watermark", watermark).Str("pair_key", rep.PairKey).Msg("Starting relay")

	page, err := r.deps.Getter.Get(ctx, pair.SourceURL)
	if err != nil {
		return rep.fail(errors.Wrap(err, "fetch source page"))
	}

	batch, err := r.deps.Extractor.Extract(ctx, bytes.NewReader(page), watermark, extract.Options{FanIn: pair.FanIn})
	if err != nil {
		return rep.fail(err)
	}
	rep.Extracted = len(batch.Items)
	for _, f := range batch.Failures {
		rep.addFailure(f.ID, StageExtract, f.Err)
	}
	if len(batch.Items) == 0 {
		log.Info().Msg("No new posts")
		return rep, nil
	}

	if r.dryRun {
		for _, it := range batch.Items {
			log.Info().Str("item_id", it.ID).Bool("media", it.HasMedia()).Msg("Would publish")
		}
		return rep, nil
	}

	pub := r.deps.Publishers(pair)
	for _, it := range batch.Items {
		outcome, err := pub.Publish(ctx, it)
		rep.count(outcome)
		if err != nil {
			rep.addFailure(it.ID, StagePublish, err)
		}
	}

	next := batch.MaxTimestamp()
	if next < watermark {
		next = watermark
	}
	if err := r.deps.Watermarks.Write(ctx, rep.PairKey, next); err != nil {
		return rep.fail(errors.Wrap(err, "write watermark"))
	}
	rep.NewWatermark = next
	log.Info().
		Int64("watermark", next).
		Int("published", rep.Published).
		Int("degraded", rep.Degraded).
		Int("failed", rep.Failed).
		Msg("Relay complete")

	return rep, nil
}
