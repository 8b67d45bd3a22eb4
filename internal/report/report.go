// Package report renders the outcome of a run for people and scripts.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/ppiankov/tootrelay/internal/relay"
)

// Input is everything a formatter renders.
type Input struct {
	Reports  []relay.Report
	DryRun   bool
	Duration time.Duration
}

// Formatter writes a formatted run report to w.
type Formatter interface {
	Format(w io.Writer, input Input) error
}

// Formats lists the accepted --format values.
var Formats = []string{"terminal", "json", "markdown"}

// ForName returns the formatter for a --format value. color only affects
// the terminal formatter.
func ForName(name string, color bool) (Formatter, error) {
	switch name {
	case "terminal", "":
		return NewTerminal(color), nil
	case "json":
		return NewJSON(), nil
	case "markdown":
		return NewMarkdown(), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want terminal, json, or markdown)", name)
	}
}

type totals struct {
	extracted, published, degraded, failed, errored int
}

func sum(reports []relay.Report) totals {
	var t totals
	for _, r := range reports {
		t.extracted += r.Extracted
		t.published += r.Published
		t.degraded += r.Degraded
		t.failed += r.Failed
		if r.Err != nil {
			t.errored++
		}
	}
	return t
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(100 * time.Millisecond).String()
}
