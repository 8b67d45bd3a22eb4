package report

import (
	"encoding/json"
	"io"
)

type jsonReport struct {
	Meta  jsonMeta   `json:"meta"`
	Pairs []jsonPair `json:"pairs"`
}

type jsonMeta struct {
	Pairs     int    `json:"pairs"`
	Extracted int    `json:"extracted"`
	Published int    `json:"published"`
	Degraded  int    `json:"degraded"`
	Failed    int    `json:"failed"`
	DryRun    bool   `json:"dry_run"`
	Duration  string `json:"duration"`
}

type jsonPair struct {
	Source       string        `json:"source"`
	Destination  string        `json:"destination"`
	PairKey      string        `json:"pair_key"`
	OldWatermark int64         `json:"old_watermark"`
	NewWatermark int64         `json:"new_watermark"`
	Extracted    int           `json:"extracted"`
	Published    int           `json:"published"`
	Degraded     int           `json:"degraded"`
	Failed       int           `json:"failed"`
	Failures     []jsonFailure `json:"failures,omitempty"`
	Error        string        `json:"error,omitempty"`
}

type jsonFailure struct {
	ID    string `json:"id"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// JSONFormatter formats a run report as JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Format writes the report as JSON to w.
func (f *JSONFormatter) Format(w io.Writer, input Input) error {
	t := sum(input.Reports)
	out := jsonReport{
		Meta: jsonMeta{
			Pairs:     len(input.Reports),
			Extracted: t.extracted,
			Published: t.published,
			Degraded:  t.degraded,
			Failed:    t.failed,
			DryRun:    input.DryRun,
			Duration:  formatDuration(input.Duration),
		},
		Pairs: make([]jsonPair, 0, len(input.Reports)),
	}

	for _, r := range input.Reports {
		jp := jsonPair{
			Source:       r.Source,
			Destination:  r.Destination,
			PairKey:      r.PairKey,
			OldWatermark: r.OldWatermark,
			NewWatermark: r.NewWatermark,
			Extracted:    r.Extracted,
			Published:    r.Published,
			Degraded:     r.Degraded,
			Failed:       r.Failed,
			Error:        errString(r.Err),
		}
		for _, fl := range r.Failures {
			jp.Failures = append(jp.Failures, jsonFailure{ID: fl.ID, Stage: fl.Stage, Error: errString(fl.Err)})
		}
		out.Pairs = append(out.Pairs, jp)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
