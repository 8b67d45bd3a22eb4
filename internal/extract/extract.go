// Package extract turns a parsed timeline page into the ordered batch of new,
// enriched items for one relay pair.
package extract

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/ppiankov/tootrelay/internal/resolve"
	"github.com/ppiankov/tootrelay/internal/source"
)

// ErrItem marks a failure confined to a single post.
var ErrItem = errors.New("extraction item error")

// MediaResolver resolves photo and video permalinks.
type MediaResolver interface {
	ResolveMedia(ctx context.Context, permalink string) (string, error)
}

// ContextResolver resolves permalinks of quoted or replied-to posts.
type ContextResolver interface {
	ResolveContext(ctx context.Context, permalink string) (resolve.Post, error)
}

// Options vary per relay pair.
type Options struct {
	// FanIn prefixes every item with the page author, for destinations
	// receiving more than one source.
	FanIn bool
}

// Failure records a post that was dropped from the batch.
type Failure struct {
	ID  string
	Err error
}

// Batch is the result of one extraction.
type Batch struct {
	Items    []source.Item // newest first
	Failures []Failure
}

// MaxTimestamp returns the highest item timestamp, or 0 for an empty batch.
func (b Batch) MaxTimestamp() int64 {
	var highest int64
	for _, it := range b.Items {
		if it.Timestamp > highest {
			highest = it.Timestamp
		}
	}
	return highest
}

// Extractor builds items from a source page.
type Extractor struct {
	parser  source.Parser
	site    source.Site
	media   MediaResolver
	context ContextResolver
	log     zerolog.Logger
}

// New creates an Extractor.
func New(parser source.Parser, site source.Site, media MediaResolver, ctxResolver ContextResolver, log zerolog.Logger) *Extractor {
	return &Extractor{
		parser:  parser,
		site:    site,
		media:   media,
		context: ctxResolver,
		log:     log,
	}
}

// Extract parses page and returns every post newer than watermark. A page
// without post containers yields an empty batch, not an error. Failures of
// single posts are collected in Batch.Failures and do not stop the batch.
func (e *Extractor) Extract(ctx context.Context, page io.Reader, watermark int64, opts Options) (Batch, error) {
	tl, err := e.parser.ParseTimeline(page)
	if errors.Is(err, source.ErrNoEntries) {
		e.log.Error().Msg("No posts found on source page, check the source URL")
		return Batch{}, nil
	}
	if err != nil {
		return Batch{}, errors.Wrap(err, "extract")
	}
	e.log.Info().Int("count", len(tl.Entries)).Msg("Fetched posts")

	var batch Batch
	byTimestamp := make(map[int64]source.Item)

	for _, entry := range tl.Entries {
		if err := ctx.Err(); err != nil {
			return Batch{}, errors.Wrap(err, "extract")
		}

		item, fresh, err := e.build(ctx, entry, tl.Author, watermark, opts)
		if err != nil {
			err = errors.Mark(err, ErrItem)
			e.log.Warn().Err(err).Str("item_id", entry.RawID).Msg("Skipping post")
			batch.Failures = append(batch.Failures, Failure{ID: entry.RawID, Err: err})
			continue
		}
		if !fresh {
			continue
		}
		byTimestamp[item.Timestamp] = item
	}

	batch.Items = make([]source.Item, 0, len(byTimestamp))
	for _, it := range byTimestamp {
		batch.Items = append(batch.Items, it)
	}
	sort.Slice(batch.Items, func(i, j int) bool {
		return batch.Items[i].Timestamp > batch.Items[j].Timestamp
	})
	return batch, nil
}

// build returns fresh=false for posts at or below the watermark.
func (e *Extractor) build(ctx context.Context, entry source.Entry, pageAuthor string, watermark int64, opts Options) (source.Item, bool, error) {
	if entry.RawID == "" {
		return source.Item{}, false, entry.Err
	}
	ts, err := strconv.ParseInt(entry.RawID, 10, 64)
	if err != nil {
		return source.Item{}, false, errors.Wrapf(err, "post %q: timestamp", entry.RawID)
	}
	if ts <= watermark {
		return source.Item{}, false, nil
	}
	if entry.Err != nil {
		return source.Item{}, false, entry.Err
	}

	log := e.log.With().Str("item_id", entry.RawID).Logger()
	d := draft{text: entry.Text}
	e.rewriteLinks(ctx, &d, entry, log)

	if entry.Retweet {
		d.prefix(retweetPrefix(entry.RetweetAuthor))
	}
	if entry.Reply {
		e.attachReplyContext(ctx, &d, entry.ReplyContext, log)
	}
	if opts.FanIn {
		if pageAuthor == "" {
			return source.Item{}, false, errors.Newf("post %s: no page author for fan-in label", entry.RawID)
		}
		d.prefix(saidPrefix(pageAuthor))
	}

	return source.Item{
		ID:        entry.RawID,
		Timestamp: ts,
		Text:      strings.TrimSpace(d.text),
		MediaURL:  d.media,
	}, true, nil
}
