package resolve

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ppiankov/tootrelay/internal/source"
)

// Post is the author and text of a referenced post, newlines removed.
type Post struct {
	Author string
	Text   string
}

// ContextResolver fetches quoted and replied-to posts.
type ContextResolver struct {
	page page
}

// NewContextResolver creates a ContextResolver.
func NewContextResolver(g Getter, p source.Parser, site source.Site) *ContextResolver {
	return &ContextResolver{page: page{getter: g, parser: p, site: site}}
}

// ResolveContext loads the post behind permalink. All failures are marked
// ErrResolution.
func (r *ContextResolver) ResolveContext(ctx context.Context, permalink string) (Post, error) {
	pl, err := r.page.load(ctx, permalink)
	if err != nil {
		return Post{}, err
	}
	if pl.Text == "" || pl.Author == "" {
		return Post{}, errors.Mark(errors.Newf("no post on %s", permalink), ErrResolution)
	}
	return Post{Author: pl.Author, Text: pl.Text}, nil
}
