package engine

import (
	"fmt"
	"strings"
)

// Model is a validated set of resources. Immutable once built; the planner
// and executor only ever read it.
type Model struct {
	// Resources in declaration order. Declaration order breaks ties
	// during topological sorting, so it is preserved exactly as loaded.
	Resources []Resource

	// byRef indexes resources by canonical kind/id reference.
	byRef map[string]int

	// byID indexes resources by bare identifier, across kinds.
	byID map[string][]int
}

// Load validates declarations and builds a model. Every violation found is
// reported, not just the first: duplicate identifiers, undeclared or
// ambiguous dependency references, malformed desired state, and dependency
// cycles all surface in a single ValidationError.
func Load(declarations []Resource) (*Model, error) {
	var violations []Violation

	byRef := make(map[string]int, len(declarations))
	byID := make(map[string][]int)
	for i := range declarations {
		r := &declarations[i]
		if err := r.Kind.Validate(); err != nil {
			violations = append(violations, Violation{
				Kind: r.Kind, Resource: r.ID, Message: err.Error(),
			})
			continue
		}
		if strings.TrimSpace(r.ID) == "" {
			violations = append(violations, Violation{
				Kind: r.Kind, Message: "missing resource identifier",
			})
			continue
		}
		if prev, dup := byRef[r.Ref()]; dup {
			violations = append(violations, Violation{
				Kind: r.Kind, Resource: r.ID,
				Message: fmt.Sprintf("duplicate identifier (first declared at position %d)", prev),
			})
			continue
		}
		byRef[r.Ref()] = i
		byID[r.ID] = append(byID[r.ID], i)

		if _, err := DecodeState(r.Kind, r.Desired); err != nil {
			violations = append(violations, Violation{
				Kind: r.Kind, Resource: r.ID,
				Message: fmt.Sprintf("invalid desired state: %v", err),
			})
		}
	}

	m := &Model{Resources: declarations, byRef: byRef, byID: byID}

	// Resolve dependency references before cycle detection so that a
	// dangling edge reports as undeclared, not as a broken graph.
	edges := make(map[int][]int, len(declarations))
	for i := range declarations {
		r := &declarations[i]
		if _, ok := byRef[r.Ref()]; !ok {
			continue
		}
		for _, dep := range r.DependsOn {
			j, err := m.resolve(dep, byID)
			if err != nil {
				violations = append(violations, Violation{
					Kind: r.Kind, Resource: r.ID, Message: err.Error(),
				})
				continue
			}
			if j == i {
				violations = append(violations, Violation{
					Kind: r.Kind, Resource: r.ID, Message: "resource depends on itself",
				})
				continue
			}
			edges[i] = append(edges[i], j)
		}
	}

	if len(violations) == 0 {
		violations = append(violations, detectCycles(declarations, edges)...)
	}

	if len(violations) > 0 {
		return nil, NewValidationError(violations)
	}
	return m, nil
}

// Lookup returns the resource for a canonical kind/id reference.
func (m *Model) Lookup(ref string) (*Resource, bool) {
	i, ok := m.byRef[ref]
	if !ok {
		return nil, false
	}
	return &m.Resources[i], true
}

// ResolveRef resolves a dependency reference, either canonical "kind/id"
// or a bare identifier that is unique across kinds, to its resource.
func (m *Model) ResolveRef(ref string) (*Resource, error) {
	i, err := m.resolve(ref, m.byID)
	if err != nil {
		return nil, err
	}
	return &m.Resources[i], nil
}

func (m *Model) resolve(ref string, byID map[string][]int) (int, error) {
	if i, ok := m.byRef[ref]; ok {
		return i, nil
	}
	matches := byID[ref]
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return 0, fmt.Errorf("depends on undeclared resource %q", ref)
	default:
		kinds := make([]string, len(matches))
		for i, j := range matches {
			kinds[i] = string(m.Resources[j].Kind)
		}
		return 0, fmt.Errorf("ambiguous dependency %q matches kinds %s; use kind/id",
			ref, strings.Join(kinds, ", "))
	}
}

// detectCycles runs a DFS over the dependency edges and reports every
// cycle found as a violation.
func detectCycles(resources []Resource, edges map[int][]int) []Violation {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(resources))
	var violations []Violation

	var stack []int
	var visit func(i int)
	visit = func(i int) {
		color[i] = gray
		stack = append(stack, i)
		for _, j := range edges[i] {
			switch color[j] {
			case white:
				visit(j)
			case gray:
				// Found a back edge: the cycle is the stack suffix
				// starting at j.
				start := 0
				for k, v := range stack {
					if v == j {
						start = k
						break
					}
				}
				refs := make([]string, 0, len(stack)-start+1)
				for _, v := range stack[start:] {
					refs = append(refs, resources[v].Ref())
				}
				refs = append(refs, resources[j].Ref())
				violations = append(violations, Violation{
					Kind:     resources[j].Kind,
					Resource: resources[j].ID,
					Message:  "dependency cycle: " + strings.Join(refs, " -> "),
				})
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
	}

	for i := range resources {
		if color[i] == white {
			visit(i)
		}
	}
	return violations
}
