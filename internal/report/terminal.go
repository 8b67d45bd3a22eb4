package report

import (
	"fmt"
	"io"

	"github.com/ppiankov/tootrelay/internal/relay"
)

// TerminalFormatter formats a run report for terminal output.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Format writes one block per pair followed by totals.
func (f *TerminalFormatter) Format(w io.Writer, input Input) error {
	t := sum(input.Reports)

	header := fmt.Sprintf("tootrelay: %d pairs, %d new posts, %s", len(input.Reports), t.extracted, formatDuration(input.Duration))
	if input.DryRun {
		header += " (dry run)"
	}
	fmt.Fprintln(w, f.bold(header))
	fmt.Fprintln(w)

	if len(input.Reports) == 0 {
		fmt.Fprintln(w, "No pairs to relay.")
		return nil
	}

	for _, r := range input.Reports {
		f.writePair(w, r)
	}

	fmt.Fprintf(w, "Published %d, degraded %d, failed %d", t.published, t.degraded, t.failed)
	if t.errored > 0 {
		fmt.Fprint(w, f.red(fmt.Sprintf(", %d pairs stopped early", t.errored)))
	}
	fmt.Fprintln(w)
	return nil
}

func (f *TerminalFormatter) writePair(w io.Writer, r relay.Report) {
	title := fmt.Sprintf("%s -> %s", r.Source, r.Destination)
	switch {
	case r.Err != nil:
		fmt.Fprintln(w, f.red(f.bold(title)))
	case r.Failed > 0 || len(r.Failures) > 0:
		fmt.Fprintln(w, f.yellow(f.bold(title)))
	default:
		fmt.Fprintln(w, f.green(f.bold(title)))
	}

	fmt.Fprintf(w, "  %s\n", f.dim(fmt.Sprintf("key %s, watermark %d -> %d", r.PairKey, r.OldWatermark, r.NewWatermark)))
	fmt.Fprintf(w, "  extracted %d, published %d, degraded %d, failed %d\n", r.Extracted, r.Published, r.Degraded, r.Failed)
	for _, fl := range r.Failures {
		fmt.Fprintf(w, "    %s %s: %s\n", fl.Stage, fl.ID, f.dim(errString(fl.Err)))
	}
	if r.Err != nil {
		fmt.Fprintf(w, "  %s\n", f.red("error: "+r.Err.Error()))
	}
	fmt.Fprintln(w)
}

// ANSI helpers, no-op when color=false.

func (f *TerminalFormatter) paint(code, s string) string {
	if !f.color {
		return s
	}
	return code + s + "\033[0m"
}

func (f *TerminalFormatter) bold(s string) string   { return f.paint("\033[1m", s) }
func (f *TerminalFormatter) green(s string) string  { return f.paint("\033[32m", s) }
func (f *TerminalFormatter) yellow(s string) string { return f.paint("\033[33m", s) }
func (f *TerminalFormatter) red(s string) string    { return f.paint("\033[31m", s) }
func (f *TerminalFormatter) dim(s string) string    { return f.paint("\033[2m", s) }
