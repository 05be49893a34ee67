package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alpenglow/alpenglow/pkg/telemetry"
)

// Executor applies a plan level by level: actions within a level are
// independent and run in parallel across a bounded worker pool, while
// actions connected by a dependency edge run strictly in topological
// order. A dependent never starts until every dependency has reached a
// terminal status.
type Executor struct {
	resolver BackendResolver
	sink     EventSink
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer

	mu      sync.Mutex
	status  map[string]ActionStatus // keyed by action ref
	results map[string]*ActionResult
	seen    map[string]bool // idempotency keys already executed
	aborted bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorTracer attaches a tracer; the run and each backend apply
// get their own spans.
func WithExecutorTracer(t *telemetry.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = t
	}
}

// NewExecutor creates an executor over the given backend resolver.
func NewExecutor(resolver BackendResolver, sink EventSink, logger *telemetry.Logger, metrics *telemetry.Metrics, opts ...ExecutorOption) *Executor {
	if sink == nil {
		sink = NopSink{}
	}
	exec := &Executor{
		resolver: resolver,
		sink:     sink,
		logger:   logger.NewComponentLogger("executor"),
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(exec)
	}
	return exec
}

// Apply executes the plan under the given policy and returns one terminal
// result per action, in plan order.
//
// Cancellation of ctx stops issuing new actions; actions already in
// flight run to completion or to their own timeout, so no action is ever
// abandoned in an unknown state. Remaining actions are recorded as
// skipped with a run-aborted reason.
func (e *Executor) Apply(ctx context.Context, plan *Plan, policy Policy) (*RunResult, error) {
	if plan == nil {
		return nil, NewPlanError("plan is nil", nil)
	}

	run := &RunResult{
		RunID:     uuid.New().String(),
		DryRun:    policy.DryRun,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}
	log := e.logger.WithRunID(run.RunID)
	log.Infof("starting run: %d actions, %d mutations, dry_run=%v",
		len(plan.Actions), plan.MutationCount(), policy.DryRun)

	ctx, span := e.tracer.StartRunSpan(ctx, run.RunID)
	defer span.End()

	e.mu.Lock()
	e.status = make(map[string]ActionStatus, len(plan.Actions))
	e.results = make(map[string]*ActionResult, len(plan.Actions))
	e.seen = make(map[string]bool, len(plan.Actions))
	e.aborted = false
	for i := range plan.Actions {
		e.status[plan.Actions[i].Ref()] = StatusPending
	}
	e.mu.Unlock()

	e.metrics.RecordRunStarted(policy.DryRun)
	e.sink.RunStarted(ctx, run.RunID, plan)

	for _, level := range plan.Levels {
		if ctx.Err() != nil || e.isAborted() {
			break
		}
		e.executeLevel(ctx, run.RunID, plan, level, policy)
	}

	// Everything still pending was never attempted: the run was canceled
	// or stopped on first failure.
	for i := range plan.Actions {
		action := &plan.Actions[i]
		e.mu.Lock()
		pending := e.status[action.Ref()] == StatusPending
		e.mu.Unlock()
		if pending {
			e.finish(ctx, run.RunID, &ActionResult{
				Action:     *action,
				Status:     StatusSkipped,
				SkipReason: SkipRunAborted,
			})
		}
	}

	run.Results = e.collect(plan)
	run.FinishedAt = time.Now()
	run.Status = e.runStatus(ctx, run.Results)
	e.metrics.RecordRunCompleted(string(run.Status), run.FinishedAt.Sub(run.StartedAt))
	e.sink.RunFinished(ctx, run)
	if run.Status == RunStatusSucceeded {
		telemetry.RecordSuccess(span)
	} else {
		telemetry.RecordError(span, errors.New("run "+string(run.Status)))
	}
	log.Infof("run finished: status=%s", run.Status)
	return run, nil
}

// executeLevel runs one plan level through a bounded worker pool.
func (e *Executor) executeLevel(ctx context.Context, runID string, plan *Plan, level []int, policy Policy) {
	workers := policy.EffectiveConcurrency()
	if len(level) < workers {
		workers = len(level)
	}

	queue := make(chan *Action, len(level))
	for _, idx := range level {
		queue <- &plan.Actions[idx]
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for action := range queue {
				if ctx.Err() != nil || e.isAborted() {
					return
				}
				e.executeAction(ctx, runID, action, policy)
			}
		}()
	}
	wg.Wait()
}

// executeAction drives one action to a terminal status.
func (e *Executor) executeAction(ctx context.Context, runID string, action *Action, policy Policy) {
	log := e.logger.WithRunID(runID).WithResource(action.Ref())

	// No-ops are satisfied without touching the backend.
	if action.Type == ActionNoop {
		e.finish(ctx, runID, &ActionResult{
			Action:     *action,
			Status:     StatusSatisfied,
			SkipReason: SkipAlreadySatisfied,
		})
		return
	}

	// Dependency gate: every dependency must have converged.
	if failedDep := e.failedDependency(action); failedDep != "" {
		log.Warnf("skipping: dependency %s did not converge", failedDep)
		e.finish(ctx, runID, &ActionResult{
			Action:     *action,
			Status:     StatusSkipped,
			SkipReason: SkipDependencyFailed,
			Error:      "dependency " + failedDep + " did not converge",
		})
		return
	}

	// At most one execution per idempotency key per run. A duplicate key
	// means the same logical mutation already ran; record it as
	// satisfied rather than re-executing.
	e.mu.Lock()
	if e.seen[action.Key] {
		e.mu.Unlock()
		e.finish(ctx, runID, &ActionResult{
			Action:     *action,
			Status:     StatusSatisfied,
			SkipReason: SkipAlreadySatisfied,
		})
		return
	}
	e.seen[action.Key] = true
	e.status[action.Ref()] = StatusRunning
	e.mu.Unlock()

	result := &ActionResult{Action: *action, StartedAt: time.Now()}

	if policy.DryRun {
		// Preview: record success without invoking any backend.
		result.Status = StatusApplied
		result.FinishedAt = time.Now()
		log.Infof("dry-run: would %s", action.Type)
		e.finish(ctx, runID, result)
		return
	}

	actionCtx, span := e.tracer.StartActionSpan(ctx, action.Ref(), string(action.Type))
	err := e.applyOnce(actionCtx, action, policy.EffectiveTimeout())
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	span.End()

	result.FinishedAt = time.Now()
	duration := result.FinishedAt.Sub(result.StartedAt)

	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		result.TimedOut = IsTimeout(err)
		log.WithError(err).Errorf("%s failed after %s", action.Type, duration.Round(time.Millisecond))
		if policy.StopOnFirstFailure {
			e.abort()
		}
	} else {
		result.Status = StatusApplied
		log.Infof("%s applied in %s", action.Type, duration.Round(time.Millisecond))
	}
	e.metrics.RecordAction(string(action.Kind), string(action.Type), string(result.Status), duration)
	e.finish(ctx, runID, result)
}

// applyOnce performs the backend call with its own deadline. The deadline
// is detached from run-level cancellation so a canceled run still lets
// the in-flight action finish or time out instead of leaving the system
// half-mutated.
func (e *Executor) applyOnce(ctx context.Context, action *Action, timeout time.Duration) error {
	backend, err := e.resolver.BackendFor(action.Kind)
	if err != nil {
		return NewBackendError("no backend for kind", err).WithResource(action.Ref())
	}

	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err = backend.Apply(applyCtx, action)
	if err == nil {
		return nil
	}
	e.metrics.RecordBackendError(backend.Name(), string(action.Type))
	if errors.Is(err, context.DeadlineExceeded) || applyCtx.Err() != nil {
		return NewTimeoutError("backend call exceeded deadline", err).WithResource(action.Ref())
	}
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr
	}
	return NewBackendError("apply failed", err).WithResource(action.Ref())
}

// failedDependency returns the ref of the first dependency that did not
// converge, or empty when all dependencies are applied or satisfied.
func (e *Executor) failedDependency(action *Action) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dep := range action.DependsOn {
		if !e.status[dep].Converged() {
			return dep
		}
	}
	return ""
}

func (e *Executor) finish(ctx context.Context, runID string, result *ActionResult) {
	e.mu.Lock()
	e.status[result.Action.Ref()] = result.Status
	e.results[result.Action.Ref()] = result
	e.mu.Unlock()
	e.sink.ActionFinished(ctx, runID, result)
}

func (e *Executor) abort() {
	e.mu.Lock()
	e.aborted = true
	e.mu.Unlock()
}

func (e *Executor) isAborted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

// collect assembles results in plan order.
func (e *Executor) collect(plan *Plan) []ActionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ActionResult, 0, len(plan.Actions))
	for i := range plan.Actions {
		if r, ok := e.results[plan.Actions[i].Ref()]; ok {
			out = append(out, *r)
		}
	}
	return out
}

func (e *Executor) runStatus(ctx context.Context, results []ActionResult) RunStatus {
	if ctx.Err() != nil {
		return RunStatusCanceled
	}
	for i := range results {
		if results[i].Status == StatusFailed {
			return RunStatusFailed
		}
		if results[i].Status == StatusSkipped && results[i].SkipReason != SkipAlreadySatisfied {
			return RunStatusFailed
		}
	}
	return RunStatusSucceeded
}
