package model

import "time"

// RunKind identifies the scheduled unit of work a JobRun tracks.
type RunKind string

const (
	RunKindCrawl   RunKind = "crawl"
	RunKindExtract RunKind = "extract"
)

// RunState is the lifecycle state of a JobRun. Transitions are monotonic:
// running -> succeeded or running -> failed, nothing else.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
)

// JobRun records one execution attempt of a scheduled unit of work: a single
// source crawl (SubjectID = source id) or an extraction batch (SubjectID nil).
// An open run doubles as the per-subject execution lock: the store refuses a
// second running row for the same (kind, subject).
type JobRun struct {
	ID             string     `json:"id"`
	Kind           RunKind    `json:"kind"`
	SubjectID      *string    `json:"subject_id,omitempty"`
	State          RunState   `json:"state"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	ItemsProcessed int        `json:"items_processed"`
	ItemsFailed    int        `json:"items_failed"`
	Error          string     `json:"error,omitempty"`
}

// Duration returns the run's wall time, or time-since-start for open runs.
func (r JobRun) Duration(now time.Time) time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}
