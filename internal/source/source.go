package source

import (
	"io"

	"github.com/cockroachdb/errors"
)

// ErrNoEntries reports a page without any post containers. An empty feed and
// broken markup look the same from here.
var ErrNoEntries = errors.New("source: no post containers on page")

// Item is one normalized post ready to publish. Items are not modified after
// extraction.
type Item struct {
	ID        string // source-native identifier, also the idempotency key
	Timestamp int64  // ordering and dedup key, parsed from ID
	Text      string // composed status body
	MediaURL  string // resolved media; empty when the post carries none
}

// HasMedia reports whether the item should go through the media upload phase.
func (it Item) HasMedia() bool {
	return it.MediaURL != ""
}

// Link is an outbound anchor inside a post.
type Link struct {
	Anchor string // visible (shortened) text
	URL    string // true destination carried by the anchor
}

// Entry is one raw post candidate as it appears on a timeline page.
type Entry struct {
	RawID         string
	Text          string
	Links         []Link
	Retweet       bool
	RetweetAuthor string
	Reply         bool
	ReplyContext  string

	// Err is set when the entry's markup is unusable. The other fields are
	// then incomplete.
	Err error
}

// Timeline is a parsed source page.
type Timeline struct {
	Author  string // page-level profile name
	Entries []Entry
}

// Permalink is a parsed single-post page.
type Permalink struct {
	Author string
	Text   string
	Media  string // first URL found in the media container
}

// Parser holds all knowledge of the source markup.
type Parser interface {
	// ParseTimeline returns the entries of a timeline page in document
	// order. It returns ErrNoEntries when no post container matches.
	ParseTimeline(r io.Reader) (*Timeline, error)

	// ParsePermalink extracts author, text and media of a single post page.
	// Missing parts are left empty.
	ParsePermalink(r io.Reader) (*Permalink, error)
}
