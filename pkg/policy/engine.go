package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/alpenglow/alpenglow/pkg/engine"
	"github.com/alpenglow/alpenglow/pkg/telemetry"
)

// Engine evaluates Rego policies against plans.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   *telemetry.Logger
}

// compiledPolicy is a parsed policy with its package path.
type compiledPolicy struct {
	policy  *Policy
	module  *ast.Module
	pkgPath string
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger *telemetry.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.NewComponentLogger("policy"),
	}
	for _, p := range BuiltinPolicies() {
		if err := e.add(p); err != nil {
			return nil, fmt.Errorf("compiling built-in policy %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// LoadPaths loads operator policies from .rego files and directories and
// adds them to the engine, replacing same-named policies.
func (e *Engine) LoadPaths(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	for i := range policies {
		if err := e.add(policies[i]); err != nil {
			return fmt.Errorf("compiling policy %s: %w", policies[i].Name, err)
		}
	}
	e.logger.Infof("loaded %d operator policies", len(policies))
	return nil
}

// Replace swaps the full operator policy set, keeping built-ins. Used by
// the watch loop on reload.
func (e *Engine) Replace(policies []Policy) error {
	e.mu.Lock()
	for name, cp := range e.policies {
		if cp.policy.Source != "" {
			delete(e.policies, name)
		}
	}
	e.mu.Unlock()

	for i := range policies {
		if err := e.add(policies[i]); err != nil {
			return fmt.Errorf("compiling policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

func (e *Engine) add(p Policy) error {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return fmt.Errorf("parsing rego: %w", err)
	}
	e.mu.Lock()
	e.policies[p.Name] = &compiledPolicy{
		policy:  &p,
		module:  module,
		pkgPath: packagePath(p.Rego),
	}
	e.mu.Unlock()
	return nil
}

// EvaluatePlan runs every enabled policy against every mutating action of
// the plan. The result blocks the run when any violation has error
// severity.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *engine.Plan) (*Result, error) {
	e.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			compiled = append(compiled, cp)
		}
	}
	e.mu.RUnlock()
	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].policy.Name < compiled[j].policy.Name
	})

	result := &Result{Allowed: true, EvaluatedAt: time.Now()}
	for _, cp := range compiled {
		for i := range plan.Actions {
			action := &plan.Actions[i]
			if !action.Type.Mutates() {
				continue
			}
			input, err := NewInput(plan, action)
			if err != nil {
				return nil, fmt.Errorf("building policy input for %s: %w", action.Ref(), err)
			}
			violations, err := e.evaluate(ctx, cp, input)
			if err != nil {
				e.logger.WithError(err).Warnf("policy %s failed on %s", cp.policy.Name, action.Ref())
				continue
			}
			result.Violations = append(result.Violations, violations...)
		}
	}

	for i := range result.Violations {
		if result.Violations[i].Severity == SeverityError {
			result.Allowed = false
			break
		}
	}
	return result, nil
}

func (e *Engine) evaluate(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", cp.pkgPath)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, res := range results {
		for _, expr := range res.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, e.toViolation(cp.policy, d, input))
			}
		}
	}
	return violations, nil
}

func (e *Engine) toViolation(p *Policy, result interface{}, input *Input) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
		Resource: input.Action.Kind + "/" + input.Action.ID,
	}
	switch val := result.(type) {
	case string:
		v.Message = val
	case map[string]interface{}:
		if msg, ok := val["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := val["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if res, ok := val["resource"].(string); ok {
			v.Resource = res
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// ListPolicies returns every policy, built-ins included, sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, *cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// packagePath extracts the package path from Rego source.
func packagePath(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			if parts := strings.Fields(trimmed); len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "alpenglow.policies"
}
