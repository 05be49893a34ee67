// Package stores persists run history: which runs happened, what each
// action did, and the events emitted along the way.
package stores

import (
	"context"
	"time"
)

// Run is one engine run.
type Run struct {
	// ID identifies the run.
	ID string `json:"id"`

	// DryRun records whether the run applied anything.
	DryRun bool `json:"dry_run"`

	// Status is the run outcome.
	Status string `json:"status"`

	// ActionCount is the number of plan actions.
	ActionCount int `json:"action_count"`

	// Applied, Satisfied, Skipped, Failed are the terminal counts.
	Applied   int `json:"applied"`
	Satisfied int `json:"satisfied"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ActionRecord is the stored terminal state of one action.
type ActionRecord struct {
	// RunID is the owning run.
	RunID string `json:"run_id"`

	// Position is the action's index in plan order.
	Position int `json:"position"`

	// Kind, ResourceID, and ActionType describe the action.
	Kind       string `json:"kind"`
	ResourceID string `json:"resource_id"`
	ActionType string `json:"action_type"`

	// Key is the action's idempotency key.
	Key string `json:"key"`

	// Status is the terminal status.
	Status string `json:"status"`

	// SkipReason is set for skipped and satisfied actions.
	SkipReason string `json:"skip_reason,omitempty"`

	// Error is the backend's failure reason, if any.
	Error string `json:"error,omitempty"`

	// StartedAt and FinishedAt bound the backend call, nil when the
	// action was never attempted.
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Event is one run lifecycle event.
type Event struct {
	// ID is assigned by the store.
	ID int64 `json:"id"`

	// RunID is the owning run.
	RunID string `json:"run_id"`

	// Resource is the kind/id the event concerns, if any.
	Resource string `json:"resource,omitempty"`

	// Level is info, warning, or error.
	Level string `json:"level"`

	// Message describes the event.
	Message string `json:"message"`

	// CreatedAt is when the event was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists run history.
type Store interface {
	// Init opens the database and runs migrations.
	Init(ctx context.Context) error

	// Close releases the database.
	Close() error

	// CreateRun inserts a new run.
	CreateRun(ctx context.Context, run *Run) error

	// FinishRun records the run's terminal status and counts.
	FinishRun(ctx context.Context, run *Run) error

	// GetRun returns one run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// AppendActionRecord inserts a terminal action record.
	AppendActionRecord(ctx context.Context, record *ActionRecord) error

	// ListActionRecords returns a run's action records in plan order.
	ListActionRecords(ctx context.Context, runID string) ([]*ActionRecord, error)

	// AppendEvent inserts an event.
	AppendEvent(ctx context.Context, event *Event) error

	// ListEvents returns a run's events oldest first.
	ListEvents(ctx context.Context, runID string, limit int) ([]*Event, error)
}
