package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-scout/internal/model"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrRunInFlight is returned by BeginRun when a running job run already holds
// the lock for the same kind and subject. Callers treat it as "someone else is
// working on this", not as a failure.
var ErrRunInFlight = eris.New("store: run already in flight")

// SourceFilter specifies criteria for listing sources.
type SourceFilter struct {
	OwnerID string           `json:"owner_id,omitempty"`
	Kind    model.SourceKind `json:"kind,omitempty"`
	Active  *bool            `json:"active,omitempty"`
	Limit   int              `json:"limit,omitempty"`
	Offset  int              `json:"offset,omitempty"`
}

// SignalFilter specifies criteria for listing signals.
type SignalFilter struct {
	SourceID   string     `json:"source_id,omitempty"`
	EventType  string     `json:"event_type,omitempty"`
	EventsOnly bool       `json:"events_only,omitempty"`
	MinScore   float64    `json:"min_score,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing job runs.
type RunFilter struct {
	Kind      model.RunKind  `json:"kind,omitempty"`
	State     model.RunState `json:"state,omitempty"`
	SubjectID string         `json:"subject_id,omitempty"`
	Limit     int            `json:"limit,omitempty"`
	Offset    int            `json:"offset,omitempty"`
}

// Summary aggregates corpus counts for the API and CLI.
type Summary struct {
	Sources       int `json:"sources"`
	ActiveSources int `json:"active_sources"`
	Posts         int `json:"posts"`
	PendingPosts  int `json:"pending_posts"`
	Signals       int `json:"signals"`
	EventSignals  int `json:"event_signals"`
	RunningJobs   int `json:"running_jobs"`
}

// Store defines the persistence interface for the monitoring pipeline.
type Store interface {
	// Sources
	CreateSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id string) (*model.Source, error)
	UpdateSource(ctx context.Context, src *model.Source) error
	DeleteSource(ctx context.Context, id string) error
	ListSources(ctx context.Context, filter SourceFilter) ([]model.Source, error)
	ListDueSources(ctx context.Context, now time.Time) ([]model.Source, error)
	TouchCrawled(ctx context.Context, sourceID string, at time.Time) error

	// Posts
	InsertPosts(ctx context.Context, posts []model.Post) (int, error)
	GetPost(ctx context.Context, id string) (*model.Post, error)
	ListUnsignaledPosts(ctx context.Context, limit int) ([]model.Post, error)

	// Signals
	InsertSignal(ctx context.Context, sig *model.Signal) (bool, error)
	ListSignals(ctx context.Context, filter SignalFilter) ([]model.Signal, error)

	// Job runs
	BeginRun(ctx context.Context, kind model.RunKind, subjectID *string) (*model.JobRun, error)
	CompleteRun(ctx context.Context, runID string, state model.RunState, processed, failed int, runErr string) error
	GetRun(ctx context.Context, runID string) (*model.JobRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.JobRun, error)
	ReconcileStaleRuns(ctx context.Context, olderThan time.Duration) (int, error)

	// Reporting. An empty ownerID reports across all owners.
	Summary(ctx context.Context, ownerID string) (*Summary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
