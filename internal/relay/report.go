package relay

import (
	"github.com/ppiankov/tootrelay/internal/publish"
)

// Stages at which an item can be dropped or fail.
const (
	StageExtract = "extract"
	StagePublish = "publish"
)

// ItemFailure is one entry of a report's failure side channel.
type ItemFailure struct {
	ID    string
	Stage string
	Err   error
}

// Report summarizes one relay pass for one pair.
type Report struct {
	Source       string
	Destination  string
	PairKey      string
	OldWatermark int64
	NewWatermark int64
	Extracted    int
	Published    int
	Degraded     int
	Failed       int
	Failures     []ItemFailure
	DryRun       bool

	// Err is the reason the pass stopped early, if it did.
	Err error
}

func (r *Report) count(o publish.Outcome) {
	switch o {
	case publish.Published:
		r.Published++
	case publish.Degraded:
		r.Degraded++
	default:
		r.Failed++
	}
}

func (r *Report) addFailure(id, stage string, err error) {
	r.Failures = append(r.Failures, ItemFailure{ID: id, Stage: stage, Err: err})
}

func (r Report) fail(err error) (Report, error) {
	r.Err = err
	return r, err
}
