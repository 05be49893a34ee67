package engine

import "fmt"

// Kind identifies a resource type understood by the engine.
type Kind string

const (
	KindPackage      Kind = "package"
	KindService      Kind = "service"
	KindRepository   Kind = "repository"
	KindFile         Kind = "file"
	KindFirewallRule Kind = "firewall-rule"
)

// AllKinds lists every supported kind in a stable order.
var AllKinds = []Kind{KindPackage, KindService, KindRepository, KindFile, KindFirewallRule}

// Validate checks that the kind is one the engine understands.
func (k Kind) Validate() error {
	switch k {
	case KindPackage, KindService, KindRepository, KindFile, KindFirewallRule:
		return nil
	default:
		return fmt.Errorf("unknown resource kind: %q", k)
	}
}

// ActionType is the operation an action performs against the system.
type ActionType string

const (
	// ActionNoop records that the resource is already in its desired state.
	// Noop actions are carried in the plan so a converged system yields a
	// plan consisting entirely of no-ops.
	ActionNoop ActionType = "no-op"

	ActionInstall ActionType = "install"
	ActionUpgrade ActionType = "upgrade"
	ActionRemove  ActionType = "remove"
	ActionEnable  ActionType = "enable"
	ActionDisable ActionType = "disable"
	ActionWrite   ActionType = "write"
)

// Mutates reports whether the action type changes system state.
func (a ActionType) Mutates() bool {
	return a != ActionNoop
}

// Validate checks that the action type is known.
func (a ActionType) Validate() error {
	switch a {
	case ActionNoop, ActionInstall, ActionUpgrade, ActionRemove, ActionEnable, ActionDisable, ActionWrite:
		return nil
	default:
		return fmt.Errorf("unknown action type: %q", a)
	}
}

// ActionStatus tracks an action through a run.
type ActionStatus string

const (
	// StatusPending means the action has not been scheduled yet.
	StatusPending ActionStatus = "pending"

	// StatusRunning means the action is currently being applied.
	StatusRunning ActionStatus = "running"

	// StatusApplied means the action mutated the system successfully.
	StatusApplied ActionStatus = "applied"

	// StatusSatisfied means no mutation was needed; the resource was
	// already in its desired state.
	StatusSatisfied ActionStatus = "satisfied"

	// StatusSkipped means the action was never attempted, either because a
	// dependency did not converge or because the run stopped early.
	StatusSkipped ActionStatus = "skipped"

	// StatusFailed means the action was attempted and did not succeed.
	StatusFailed ActionStatus = "failed"
)

// IsTerminal reports whether the status is final for this run.
func (s ActionStatus) IsTerminal() bool {
	switch s {
	case StatusApplied, StatusSatisfied, StatusSkipped, StatusFailed:
		return true
	default:
		return false
	}
}

// Converged reports whether the action left its resource in the desired
// state. Dependents may proceed only when every dependency converged.
func (s ActionStatus) Converged() bool {
	return s == StatusApplied || s == StatusSatisfied
}

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Validate checks that the run status is known.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return nil
	default:
		return fmt.Errorf("unknown run status: %q", s)
	}
}
