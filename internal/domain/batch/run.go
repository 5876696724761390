package batch

import (
	"fmt"
	"time"
)

// CompletionMarkers are the scorer outputs whose joint presence marks a run as
// complete. A run directory containing both is never re-executed.
var CompletionMarkers = []string{"scored_notes.tsv", "helpfulness_scores.tsv"}

// Status classifies the outcome of one scorer invocation.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Run identifies one repetition of the scorer against a dataset.
type Run struct {
	Dataset Dataset
	Index   int
	OutDir  string
}

// Label returns a short identifier used for logging and memory-sample rows.
func (r Run) Label() string {
	return fmt.Sprintf("%s/%s", r.Dataset.Name, RunDirName(r.Index))
}

// RunDirName returns the deterministic output directory name for a run index.
func RunDirName(index int) string {
	return fmt.Sprintf("run_%d", index)
}

// Result captures the outcome of executing a single Run.
type Result struct {
	Status     Status
	ExitCode   int64
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// RunReport pairs a Run with its result or the error that prevented one.
type RunReport struct {
	Run    Run
	Result *Result
	Err    error
}

// Failed reports whether the run produced neither a skip nor a clean exit.
func (r RunReport) Failed() bool {
	if r.Err != nil {
		return true
	}
	return r.Result != nil && r.Result.Status == StatusFailed
}
