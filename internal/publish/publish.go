// Package publish posts items to a destination instance: an optional media
// upload followed by the status post that references it.
package publish

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/ppiankov/tootrelay/internal/privacy"
	"github.com/ppiankov/tootrelay/internal/source"
)

// ErrPublish marks a non-200 answer or transport failure from a destination
// endpoint.
var ErrPublish = errors.New("publish failed")

const visibility = "unlisted"

// Outcome is the result of publishing one item.
type Outcome int

const (
	Published Outcome = iota
	Degraded          // status posted without the media that failed to upload
	Failed            // status post rejected
)

func (o Outcome) String() string {
	switch o {
	case Published:
		return "published"
	case Degraded:
		return "degraded"
	default:
		return "failed"
	}
}

// Destination is an instance URL and the bearer token to post with.
type Destination struct {
	URL   string
	Token string
}

// Downloader saves a remote file locally.
type Downloader interface {
	Download(ctx context.Context, rawURL, path string) error
}

// Publisher posts to a single destination.
type Publisher struct {
	client     *http.Client
	downloader Downloader
	dest       Destination
	cacheDir   string
	redact     *privacy.Redactor
	log        zerolog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRedactor masks every status with r before posting.
func WithRedactor(r *privacy.Redactor) Option {
	return func(p *Publisher) { p.redact = r }
}

// New creates a Publisher. Media is downloaded into cacheDir and removed
// after each upload attempt.
func New(client *http.Client, downloader Downloader, dest Destination, cacheDir string, log zerolog.Logger, opts ...Option) *Publisher {
	if client == nil {
		client = http.DefaultClient
	}
	dest.URL = strings.TrimRight(dest.URL, "/")
	p := &Publisher{
		client:     client,
		downloader: downloader,
		dest:       dest,
		cacheDir:   cacheDir,
		log:        log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish posts item. A failed media phase degrades to a text-only status;
// only a failed status post returns an error. Nothing is retried.
func (p *Publisher) Publish(ctx context.Context, item source.Item) (Outcome, error) {
	log := p.log.With().Str("item_id", item.ID).Str("destination", p.dest.URL).Logger()

	var mediaID string
	degraded := false
	if item.HasMedia() {
		id, err := p.uploadMedia(ctx, item)
		if err != nil {
			log.Error().Err(err).Msg("Could not upload media, posting text only")
			degraded = true
		} else {
			log.Info().Str("media_id", id).Msg("Uploaded media")
			mediaID = id
		}
	}

	if err := p.postStatus(ctx, item.ID, p.redact.Apply(item.Text), mediaID); err != nil {
		log.Error().Err(err).Msg("Could not post status")
		return Failed, err
	}
	log.Info().Msg("Posted status")

	if degraded {
		return Degraded, nil
	}
	return Published, nil
}

func (p *Publisher) mediaPath(itemID string) string {
	return filepath.Join(p.cacheDir, "img_"+itemID)
}
