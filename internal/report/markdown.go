package report

import (
	"fmt"
	"io"

	"github.com/ppiankov/tootrelay/internal/relay"
)

// MarkdownFormatter formats a run report as Markdown.
type MarkdownFormatter struct{}

// NewMarkdown creates a Markdown formatter.
func NewMarkdown() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

// Format writes a summary table and the per pair failures as Markdown.
func (f *MarkdownFormatter) Format(w io.Writer, input Input) error {
	t := sum(input.Reports)

	fmt.Fprintf(w, "# tootrelay run\n\n")
	fmt.Fprintf(w, "%d pairs, %d new posts, %s", len(input.Reports), t.extracted, formatDuration(input.Duration))
	if input.DryRun {
		fmt.Fprint(w, " (dry run)")
	}
	fmt.Fprint(w, "\n\n")

	if len(input.Reports) == 0 {
		fmt.Fprintln(w, "No pairs to relay.")
		return nil
	}

	fmt.Fprintln(w, "| source | destination | watermark | extracted | published | degraded | failed |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|")
	for _, r := range input.Reports {
		fmt.Fprintf(w, "| %s | %s | %d → %d | %d | %d | %d | %d |\n",
			r.Source, r.Destination, r.OldWatermark, r.NewWatermark,
			r.Extracted, r.Published, r.Degraded, r.Failed)
	}
	fmt.Fprintln(w)

	for _, r := range input.Reports {
		if r.Err == nil && len(r.Failures) == 0 {
			continue
		}
		f.writeProblems(w, r)
	}
	return nil
}

func (f *MarkdownFormatter) writeProblems(w io.Writer, r relay.Report) {
	fmt.Fprintf(w, "## %s → %s\n\n", r.Source, r.Destination)
	if r.Err != nil {
		fmt.Fprintf(w, "**Stopped:** %s\n\n", r.Err)
	}
	for _, fl := range r.Failures {
		fmt.Fprintf(w, "- `%s` %s: %s\n", fl.ID, fl.Stage, errString(fl.Err))
	}
	if len(r.Failures) > 0 {
		fmt.Fprintln(w)
	}
}
