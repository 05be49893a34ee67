package engine

import "context"

// Backend performs the actual inspection and mutation of system state for
// one or more resource kinds, e.g. a package manager or a service manager.
//
// Query must be strictly read-only. Backends that cannot guarantee
// read-only inspection are rejected when they register.
type Backend interface {
	// Name identifies the backend in logs and reports.
	Name() string

	// Kinds lists the resource kinds this backend handles.
	Kinds() []Kind

	// Query inspects the current state of a resource. A backend that
	// cannot determine state returns an observation with Unknown set
	// rather than guessing. The caller supplies the timeout via ctx.
	Query(ctx context.Context, kind Kind, id string) (*Observation, error)

	// Apply performs the mutation an action names. The caller supplies
	// the timeout via ctx.
	Apply(ctx context.Context, action *Action) error
}

// BackendResolver maps a resource kind to the backend handling it.
type BackendResolver interface {
	// BackendFor returns the backend registered for the kind.
	BackendFor(kind Kind) (Backend, error)
}

// EventSink receives run lifecycle events for persistence or display.
// Implementations must tolerate concurrent calls.
type EventSink interface {
	// RunStarted is called once before the first action is issued.
	RunStarted(ctx context.Context, runID string, plan *Plan)

	// ActionFinished is called once per action when it reaches a
	// terminal status.
	ActionFinished(ctx context.Context, runID string, result *ActionResult)

	// RunFinished is called once after every action is terminal.
	RunFinished(ctx context.Context, result *RunResult)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RunStarted(context.Context, string, *Plan)             {}
func (NopSink) ActionFinished(context.Context, string, *ActionResult) {}
func (NopSink) RunFinished(context.Context, *RunResult)               {}
