package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/ppiankov/tootrelay/internal/resolve"
	"github.com/ppiankov/tootrelay/internal/source"
)

const (
	sensitiveNotice   = "This media is marked as sensitive, follow the link above to view."
	unavailableNotice = "This media could not be retrieved, follow the link above to view."
)

// draft is the state of one post while it is being enriched. It never
// outlives the post.
type draft struct {
	text  string
	media string

	// lastLink is the most recent permalink back to the source site, used
	// to resolve the post a reply refers to.
	lastLink string
}

func (d *draft) prefix(p string) {
	d.text = p + d.text
}

func (d *draft) strip(s string) {
	d.text = strings.ReplaceAll(d.text, s, "")
}

// inline is how a link appears in the body once its anchor was rewritten.
func inline(link string) string {
	return link + " "
}

// rewriteLinks replaces each anchor with its full URL, then resolves media
// and quoted posts. Quoted posts of replies are left to attachReplyContext.
func (e *Extractor) rewriteLinks(ctx context.Context, d *draft, entry source.Entry, log zerolog.Logger) {
	for _, link := range entry.Links {
		if link.Anchor != "" {
			d.text = strings.ReplaceAll(d.text, link.Anchor, inline(link.URL))
		}

		switch e.site.Classify(link.URL) {
		case source.LinkMedia:
			d.lastLink = link.URL
			e.attachMedia(ctx, d, link.URL, log)
		case source.LinkPost:
			d.lastLink = link.URL
			if !entry.Reply {
				e.attachQuote(ctx, d, link.URL, log)
			}
		}
	}
}

func (e *Extractor) attachMedia(ctx context.Context, d *draft, link string, log zerolog.Logger) {
	mediaURL, err := e.media.ResolveMedia(ctx, link)
	d.strip(inline(link))

	switch {
	case err == nil:
		d.media = mediaURL
	case errors.Is(err, resolve.ErrSensitiveMedia):
		log.Info().Str("link", link).Msg("Media is marked as sensitive, posting link instead")
		d.media = ""
		d.text += link + "\n" + sensitiveNotice
	default:
		log.Warn().Err(err).Str("link", link).Msg("Could not resolve media, posting link instead")
		d.media = ""
		d.text += link + "\n" + unavailableNotice
	}
}

// attachQuote leaves the inline link in place when the quoted post cannot be
// loaded.
func (e *Extractor) attachQuote(ctx context.Context, d *draft, link string, log zerolog.Logger) {
	post, err := e.context.ResolveContext(ctx, link)
	if err != nil {
		log.Warn().Err(err).Str("link", link).Msg("Could not resolve quoted post, keeping link")
		return
	}
	d.strip(inline(link))
	d.prefix(quotePrefix(post))
}

func (e *Extractor) attachReplyContext(ctx context.Context, d *draft, replyContext string, log zerolog.Logger) {
	if d.lastLink == "" {
		d.prefix(replyContext + "\n")
		return
	}

	post, err := e.context.ResolveContext(ctx, d.lastLink)
	if err != nil {
		log.Warn().Err(err).Str("link", d.lastLink).Msg("Could not resolve replied-to post, using reply context only")
		d.prefix(replyContext + "\n")
		return
	}
	d.strip(inline(d.lastLink))
	d.prefix(fmt.Sprintf("%s\n(%s)\nAbove is original post\n", replyContext, post.Text))
}

func quotePrefix(post resolve.Post) string {
	return fmt.Sprintf("Retweeted and replied to %s's post\n(%s)\nAbove is original post\n", post.Author, post.Text)
}

func retweetPrefix(author string) string {
	return fmt.Sprintf("Retweeted %s's post:\n", author)
}

func saidPrefix(author string) string {
	return fmt.Sprintf("%s said:\n", author)
}
