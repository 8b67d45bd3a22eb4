// Package topology expands configured sources and destinations into the
// ordered list of relay pairs for one run.
package topology

import (
	"fmt"

	"github.com/ppiankov/tootrelay/internal/relay"
)

// Mode names how sources map onto destinations.
type Mode string

const (
	OneToOne   Mode = "one-to-one"   // source i goes to destination i
	OneToMany  Mode = "one-to-many"  // the single source goes everywhere
	ManyToOne  Mode = "many-to-one"  // every source goes to the single destination
	ManyToMany Mode = "many-to-many" // every source goes everywhere
)

// Modes lists the valid modes.
var Modes = []Mode{OneToOne, OneToMany, ManyToOne, ManyToMany}

// ParseMode validates s.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q (want one-to-one, one-to-many, many-to-one or many-to-many)", s)
}

// FanIn reports whether one destination receives several sources, so posts
// need their author's name to stay attributable.
func (m Mode) FanIn() bool {
	return m == ManyToOne || m == ManyToMany
}

// Destination is an instance URL with its token.
type Destination struct {
	URL   string
	Token string
}

// Plan returns the pairs to relay, sources in the outer loop. Cardinality
// mismatches for the mode are errors.
func Plan(mode Mode, appName string, sources []string, dests []Destination) ([]relay.Pair, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%s: at least one source is required", mode)
	}
	if len(dests) == 0 {
		return nil, fmt.Errorf("%s: at least one destination is required", mode)
	}

	pair := func(src string, d Destination) relay.Pair {
		return relay.Pair{
			AppName:          appName,
			SourceURL:        src,
			DestinationURL:   d.URL,
			DestinationToken: d.Token,
			FanIn:            mode.FanIn(),
		}
	}

	var pairs []relay.Pair
	switch mode {
	case OneToOne:
		if len(sources) != len(dests) {
			return nil, fmt.Errorf("%s: %d sources but %d destinations", mode, len(sources), len(dests))
		}
		for i, src := range sources {
			pairs = append(pairs, pair(src, dests[i]))
		}
		return pairs, nil
	case OneToMany:
		if len(sources) != 1 {
			return nil, fmt.Errorf("%s: exactly one source allowed, got %d", mode, len(sources))
		}
	case ManyToOne:
		if len(dests) != 1 {
			return nil, fmt.Errorf("%s: exactly one destination allowed, got %d", mode, len(dests))
		}
	case ManyToMany:
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	for _, src := range sources {
		for _, d := range dests {
			pairs = append(pairs, pair(src, d))
		}
	}
	return pairs, nil
}
