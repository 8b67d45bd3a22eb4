package resolve

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/ppiankov/tootrelay/internal/source"
)

// MediaResolver turns a photo or video permalink into the URL of the media
// file itself.
type MediaResolver struct {
	page page
}

// NewMediaResolver creates a MediaResolver.
func NewMediaResolver(g Getter, p source.Parser, site source.Site) *MediaResolver {
	return &MediaResolver{page: page{getter: g, parser: p, site: site}}
}

// ResolveMedia returns the media URL behind permalink. It returns
// ErrSensitiveMedia when the source only links to its help pages, and an
// error marked ErrResolution for any other failure.
func (r *MediaResolver) ResolveMedia(ctx context.Context, permalink string) (string, error) {
	pl, err := r.page.load(ctx, permalink)
	if err != nil {
		return "", err
	}
	if pl.Media == "" {
		return "", errors.Mark(errors.Newf("no media container on %s", permalink), ErrResolution)
	}
	if r.isGate(pl.Media) {
		return "", ErrSensitiveMedia
	}
	return pl.Media, nil
}

// isGate reports whether raw points at the source's support or help site.
func (r *MediaResolver) isGate(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	base := r.page.site.Host
	return host == "support."+base || host == "help."+base
}
