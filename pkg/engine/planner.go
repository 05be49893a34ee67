package engine

import (
	"fmt"
	"time"

	"github.com/alpenglow/alpenglow/pkg/telemetry"
)

// Planner diffs desired state against observations and produces an
// ordered, deterministic plan.
type Planner struct {
	logger *telemetry.Logger
}

// NewPlanner creates a planner.
func NewPlanner(logger *telemetry.Logger) *Planner {
	return &Planner{logger: logger.NewComponentLogger("planner")}
}

// Build produces a plan for the model against the given observations.
// Each resource yields exactly one action: a no-op when the observation
// already matches the desired state, otherwise the mutation derived from
// the kind and transition. A missing observation counts as unknown.
//
// Actions are topologically sorted by dependencies; independent actions
// keep declaration order, so a fixed model and fixed observations always
// produce the same plan.
func (p *Planner) Build(model *Model, observations map[string]*Observation) (*Plan, error) {
	actions := make([]Action, 0, len(model.Resources))

	for i := range model.Resources {
		res := &model.Resources[i]
		obs, ok := observations[res.Ref()]
		if !ok {
			obs = unknownObservation(res)
		}

		actionType, reason, err := Classify(res, obs)
		if err != nil {
			return nil, NewPlanError("classifying resource", err).WithResource(res.Ref())
		}

		deps, err := canonicalDeps(model, res)
		if err != nil {
			return nil, NewPlanError("resolving dependencies", err).WithResource(res.Ref())
		}

		actions = append(actions, Action{
			Type:      actionType,
			Kind:      res.Kind,
			ID:        res.ID,
			Desired:   res.Desired,
			DependsOn: deps,
			Key:       IdempotencyKey(res.Kind, res.ID, res.Desired),
			Reason:    reason,
		})
	}

	ordered, levels, err := sortActions(actions)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Actions: ordered,
		Levels:  levels,
		BuiltAt: time.Now(),
	}
	p.logger.Debugf("built plan: %d actions, %d mutations, %d levels",
		len(plan.Actions), plan.MutationCount(), len(plan.Levels))
	return plan, nil
}

// canonicalDeps normalizes a resource's dependency references to kind/id
// form so the graph and the executor agree on edge identity.
func canonicalDeps(model *Model, res *Resource) ([]string, error) {
	if len(res.DependsOn) == 0 {
		return nil, nil
	}
	deps := make([]string, 0, len(res.DependsOn))
	for _, ref := range res.DependsOn {
		dep, err := model.ResolveRef(ref)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", res.Ref(), err)
		}
		deps = append(deps, dep.Ref())
	}
	return deps, nil
}
