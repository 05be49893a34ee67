package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Resource is a named unit of declared desired state.
type Resource struct {
	// Kind identifies the resource type.
	Kind Kind `json:"kind"`

	// ID is the resource identifier (package name, service name, file path).
	// Unique within a kind.
	ID string `json:"id"`

	// Desired is the kind-specific desired state, encoded as JSON and
	// decoded by the planner through the typed state structs.
	Desired json.RawMessage `json:"desired"`

	// DependsOn lists resource references (kind/id) that must converge
	// before this resource is acted on.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Ref returns the canonical kind/id reference for the resource.
func (r *Resource) Ref() string {
	return string(r.Kind) + "/" + r.ID
}

// Observation is the inspector's read of one resource's current state at
// plan time. It is an immutable snapshot; re-querying means re-running the
// inspector.
type Observation struct {
	// Kind and ID identify the observed resource.
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`

	// Unknown is set when the backend could not determine the current
	// state. Unknown observations force the mutating action for the
	// desired state instead of a no-op.
	Unknown bool `json:"unknown,omitempty"`

	// Current is the kind-specific observed state. Empty when Unknown.
	Current json.RawMessage `json:"current,omitempty"`

	// ObservedAt is when the snapshot was captured.
	ObservedAt time.Time `json:"observed_at"`
}

// Action is a single imperative step derived from comparing a Resource to
// its Observation.
type Action struct {
	// Type is the operation to perform.
	Type ActionType `json:"type"`

	// Kind and ID identify the owning resource.
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`

	// Desired is the target state the action converges toward, copied
	// from the resource declaration.
	Desired json.RawMessage `json:"desired"`

	// DependsOn lists the resource refs whose actions must converge first.
	DependsOn []string `json:"depends_on,omitempty"`

	// Key is the idempotency key: a digest of kind, identifier, and
	// target state. The executor runs at most one action per key per run
	// even if the plan carries a redundant entry.
	Key string `json:"key"`

	// Reason is a short human-readable explanation of why this action
	// type was chosen (current vs desired).
	Reason string `json:"reason,omitempty"`
}

// Ref returns the canonical kind/id reference for the action's resource.
func (a *Action) Ref() string {
	return string(a.Kind) + "/" + a.ID
}

// IdempotencyKey computes the digest identifying one logical mutation:
// the same kind, identifier, and target state always hash to the same key.
func IdempotencyKey(kind Kind, id string, desired json.RawMessage) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00", kind, id)
	h.Write(desired)
	return hex.EncodeToString(h.Sum(nil))
}

// Plan is an ordered sequence of actions, topologically sorted by
// dependencies with declaration order breaking ties. Built fresh each run
// and never persisted across runs.
type Plan struct {
	// Actions in execution order.
	Actions []Action `json:"actions"`

	// Levels groups action indices into execution waves: every action in
	// level N depends only on actions in levels < N. Actions within a
	// level are independent and may run in parallel.
	Levels [][]int `json:"levels"`

	// BuiltAt is when the plan was computed.
	BuiltAt time.Time `json:"built_at"`
}

// MutationCount returns the number of actions that would change the system.
func (p *Plan) MutationCount() int {
	n := 0
	for i := range p.Actions {
		if p.Actions[i].Type.Mutates() {
			n++
		}
	}
	return n
}

// IsConverged reports whether the plan consists entirely of no-ops.
func (p *Plan) IsConverged() bool {
	return p.MutationCount() == 0
}

// SkipReason explains why an action reached the skipped status.
type SkipReason string

const (
	// SkipAlreadySatisfied marks a no-op: the resource was already in its
	// desired state.
	SkipAlreadySatisfied SkipReason = "already-satisfied"

	// SkipDependencyFailed marks an action never attempted because one of
	// its dependencies did not converge.
	SkipDependencyFailed SkipReason = "dependency-failed"

	// SkipRunAborted marks an action never attempted because the run
	// stopped early, either on first failure or on cancellation.
	SkipRunAborted SkipReason = "run-aborted"
)

// ActionResult is the terminal record of one action in a run.
type ActionResult struct {
	// Action is the plan entry this result belongs to.
	Action Action `json:"action"`

	// Status is the terminal status.
	Status ActionStatus `json:"status"`

	// SkipReason is set when Status is skipped or satisfied.
	SkipReason SkipReason `json:"skip_reason,omitempty"`

	// Error is the backend's raw failure reason when Status is failed.
	Error string `json:"error,omitempty"`

	// TimedOut is set when the failure was caused by the action deadline.
	TimedOut bool `json:"timed_out,omitempty"`

	// StartedAt and FinishedAt bound the backend call. Zero for actions
	// that were never attempted.
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// RunResult holds one entry per plan action. Owned by the report once the
// run completes; read-only from then on.
type RunResult struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// DryRun records whether the run applied anything.
	DryRun bool `json:"dry_run"`

	// Results holds one entry per action, in plan order.
	Results []ActionResult `json:"results"`

	// Status is the overall run outcome.
	Status RunStatus `json:"status"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Policy configures executor behavior for one run.
type Policy struct {
	// StopOnFirstFailure stops issuing new actions after the first
	// failure. Default false: continue past independent failures,
	// converging best-effort.
	StopOnFirstFailure bool `json:"stop_on_first_failure"`

	// DryRun computes the plan and populates the run result as if every
	// action would succeed, without invoking any backend apply.
	DryRun bool `json:"dry_run"`

	// Concurrency bounds the number of actions applied in parallel
	// within a plan level. Zero or negative means 1.
	Concurrency int `json:"concurrency"`

	// ActionTimeout bounds each backend call. Zero means DefaultActionTimeout.
	ActionTimeout time.Duration `json:"action_timeout"`
}

// DefaultActionTimeout bounds a single backend call when the policy does
// not set one.
const DefaultActionTimeout = 5 * time.Minute

// EffectiveConcurrency returns the worker count to use.
func (p Policy) EffectiveConcurrency() int {
	if p.Concurrency < 1 {
		return 1
	}
	return p.Concurrency
}

// EffectiveTimeout returns the per-action timeout to use.
func (p Policy) EffectiveTimeout() time.Duration {
	if p.ActionTimeout <= 0 {
		return DefaultActionTimeout
	}
	return p.ActionTimeout
}
