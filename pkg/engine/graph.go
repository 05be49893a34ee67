package engine

import (
	"fmt"
	"strings"
)

// sortActions topologically orders actions by their dependency edges using
// Kahn's algorithm. Actions with no ordering constraint between them keep
// declaration order, so the result is deterministic for a fixed input.
// Returns the ordered actions plus the level grouping: indices into the
// ordered slice, where every action in level N depends only on actions in
// earlier levels.
//
// Cycles are rejected at model load; a cycle reaching this point is an
// internal invariant violation and fails with a plan error.
func sortActions(actions []Action) ([]Action, [][]int, error) {
	n := len(actions)
	byRef := make(map[string]int, n)
	for i := range actions {
		byRef[actions[i].Ref()] = i
	}

	indegree := make([]int, n)
	dependents := make(map[int][]int, n)
	for i := range actions {
		for _, dep := range actions[i].DependsOn {
			j, ok := byRef[dep]
			if !ok {
				return nil, nil, NewPlanError(
					fmt.Sprintf("action depends on unknown resource %q", dep), nil,
				).WithResource(actions[i].Ref())
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	ordered := make([]Action, 0, n)
	levels := make([][]int, 0)
	emitted := make([]bool, n)
	placed := 0

	// Frontier scan walks declaration order each round, so independent
	// actions keep their declared relative position within a level.
	frontier := make([]int, 0, n)
	for placed < n {
		frontier = frontier[:0]
		for i := 0; i < n; i++ {
			if !emitted[i] && indegree[i] == 0 {
				frontier = append(frontier, i)
			}
		}
		if len(frontier) == 0 {
			return nil, nil, NewPlanError(
				"dependency cycle survived validation: "+strings.Join(remainingRefs(actions, emitted), ", "),
				nil,
			)
		}

		level := make([]int, 0, len(frontier))
		for _, i := range frontier {
			emitted[i] = true
			level = append(level, len(ordered))
			ordered = append(ordered, actions[i])
			placed++
		}
		for _, i := range frontier {
			for _, j := range dependents[i] {
				indegree[j]--
			}
		}
		levels = append(levels, level)
	}

	return ordered, levels, nil
}

func remainingRefs(actions []Action, emitted []bool) []string {
	var refs []string
	for i := range actions {
		if !emitted[i] {
			refs = append(refs, actions[i].Ref())
		}
	}
	return refs
}
