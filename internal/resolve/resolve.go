// Package resolve follows permalinks found inside posts: media permalinks to
// a downloadable media URL, post permalinks to the referenced post.
package resolve

import (
	"bytes"
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ppiankov/tootrelay/internal/source"
)

var (
	// ErrResolution marks every recoverable media or context lookup failure.
	ErrResolution = errors.New("resolution failed")

	// ErrSensitiveMedia is returned when the media container points at the
	// source's sensitive-content gate instead of the media itself.
	ErrSensitiveMedia = errors.New("media is marked as sensitive")
)

// Getter fetches a page body.
type Getter interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// page loads a permalink through the mobile host and parses it.
type page struct {
	getter Getter
	parser source.Parser
	site   source.Site
}

func (p page) load(ctx context.Context, permalink string) (*source.Permalink, error) {
	target := p.site.Mobile(permalink)
	body, err := p.getter.Get(ctx, target)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "fetch permalink %s", target), ErrResolution)
	}
	pl, err := p.parser.ParsePermalink(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse permalink %s", target), ErrResolution)
	}
	return pl, nil
}
