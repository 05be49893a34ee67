// Package policy gates plans through Rego rules before the executor
// touches the system. Built-in policies protect base packages and the
// firewall; operators add their own .rego files alongside.
package policy

import (
	"encoding/json"
	"time"

	"github.com/alpenglow/alpenglow/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block the run.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block the run.
	SeverityError Severity = "error"
)

// Policy is one Rego rule set.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from; empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is a single policy finding.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Resource is the kind/id of the offending action's resource.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy against a plan.
type Result struct {
	// Allowed is false when any violation carries error severity.
	Allowed bool `json:"allowed"`

	// Violations lists every finding, warnings included.
	Violations []Violation `json:"violations,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Errors returns only the blocking violations.
func (r *Result) Errors() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies evaluate, one action at a time.
type Input struct {
	// Action is the plan entry under evaluation.
	Action ActionInput `json:"action"`

	// Plan summarizes the whole plan for cross-action rules.
	Plan PlanInput `json:"plan"`
}

// ActionInput is the policy view of one action.
type ActionInput struct {
	Type      string                 `json:"type"`
	Kind      string                 `json:"kind"`
	ID        string                 `json:"id"`
	Desired   map[string]interface{} `json:"desired"`
	DependsOn []string               `json:"depends_on,omitempty"`
}

// PlanInput is the policy view of the whole plan.
type PlanInput struct {
	ActionCount   int `json:"action_count"`
	MutationCount int `json:"mutation_count"`
}

// NewInput converts a plan action into the policy input document.
func NewInput(plan *engine.Plan, action *engine.Action) (*Input, error) {
	desired := map[string]interface{}{}
	if len(action.Desired) > 0 {
		if err := json.Unmarshal(action.Desired, &desired); err != nil {
			return nil, err
		}
	}
	return &Input{
		Action: ActionInput{
			Type:      string(action.Type),
			Kind:      string(action.Kind),
			ID:        action.ID,
			Desired:   desired,
			DependsOn: action.DependsOn,
		},
		Plan: PlanInput{
			ActionCount:   len(plan.Actions),
			MutationCount: plan.MutationCount(),
		},
	}, nil
}
