package stores

import (
	"context"
	"sync"
	"time"

	"github.com/alpenglow/alpenglow/pkg/engine"
	"github.com/alpenglow/alpenglow/pkg/telemetry"
)

// RunRecorder bridges engine events into the store. It implements
// engine.EventSink; persistence failures are logged but never fail the
// run, history is advisory.
type RunRecorder struct {
	store  Store
	logger *telemetry.Logger

	mu        sync.Mutex
	positions map[string]int // resource ref -> plan position
}

// NewRunRecorder creates a recorder over the given store.
func NewRunRecorder(store Store, logger *telemetry.Logger) *RunRecorder {
	return &RunRecorder{
		store:  store,
		logger: logger.NewComponentLogger("recorder"),
	}
}

// RunStarted implements engine.EventSink.
func (r *RunRecorder) RunStarted(ctx context.Context, runID string, plan *engine.Plan) {
	r.mu.Lock()
	r.positions = make(map[string]int, len(plan.Actions))
	for i := range plan.Actions {
		r.positions[plan.Actions[i].Ref()] = i
	}
	r.mu.Unlock()

	run := &Run{
		ID:          runID,
		Status:      string(engine.RunStatusRunning),
		ActionCount: len(plan.Actions),
		StartedAt:   time.Now(),
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		r.logger.WithError(err).Warn("failed to persist run start")
	}
}

// ActionFinished implements engine.EventSink.
func (r *RunRecorder) ActionFinished(ctx context.Context, runID string, result *engine.ActionResult) {
	r.mu.Lock()
	position := r.positions[result.Action.Ref()]
	r.mu.Unlock()

	record := &ActionRecord{
		RunID:      runID,
		Position:   position,
		Kind:       string(result.Action.Kind),
		ResourceID: result.Action.ID,
		ActionType: string(result.Action.Type),
		Key:        result.Action.Key,
		Status:     string(result.Status),
		SkipReason: string(result.SkipReason),
		Error:      result.Error,
	}
	if !result.StartedAt.IsZero() {
		started := result.StartedAt
		record.StartedAt = &started
	}
	if !result.FinishedAt.IsZero() {
		finished := result.FinishedAt
		record.FinishedAt = &finished
	}
	if err := r.store.AppendActionRecord(ctx, record); err != nil {
		r.logger.WithError(err).Warnf("failed to persist action record for %s", result.Action.Ref())
	}

	if result.Status == engine.StatusFailed {
		event := &Event{
			RunID:    runID,
			Resource: result.Action.Ref(),
			Level:    "error",
			Message:  result.Error,
		}
		if err := r.store.AppendEvent(ctx, event); err != nil {
			r.logger.WithError(err).Warn("failed to persist failure event")
		}
	}
}

// RunFinished implements engine.EventSink.
func (r *RunRecorder) RunFinished(ctx context.Context, result *engine.RunResult) {
	report := engine.Summarize(result)
	finished := result.FinishedAt
	run := &Run{
		ID:          result.RunID,
		DryRun:      result.DryRun,
		Status:      string(result.Status),
		ActionCount: len(result.Results),
		Applied:     report.Applied,
		Satisfied:   report.Satisfied,
		Skipped:     report.SkippedDependency + report.SkippedAborted,
		Failed:      report.Failed,
		StartedAt:   result.StartedAt,
		FinishedAt:  &finished,
	}
	if err := r.store.FinishRun(ctx, run); err != nil {
		r.logger.WithError(err).Warn("failed to persist run completion")
	}
}
