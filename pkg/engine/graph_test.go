package engine

import (
	"encoding/json"
	"testing"
)

func action(id string, deps ...string) Action {
	return Action{
		Type:      ActionInstall,
		Kind:      KindPackage,
		ID:        id,
		Desired:   json.RawMessage(`{"present":true}`),
		DependsOn: deps,
		Key:       IdempotencyKey(KindPackage, id, json.RawMessage(`{"present":true}`)),
	}
}

func orderOf(actions []Action) []string {
	ids := make([]string, len(actions))
	for i := range actions {
		ids[i] = actions[i].ID
	}
	return ids
}

func TestSortActions_KeepsDeclarationOrderWithoutEdges(t *testing.T) {
	ordered, levels, err := sortActions([]Action{action("c"), action("a"), action("b")})
	if err != nil {
		t.Fatalf("sortActions: %v", err)
	}
	got := orderOf(ordered)
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("independent actions must keep declaration order: got %v, want %v", got, want)
		}
	}
	if len(levels) != 1 || len(levels[0]) != 3 {
		t.Errorf("independent actions should share one level, got %v", levels)
	}
}

func TestSortActions_RespectsDependencies(t *testing.T) {
	ordered, levels, err := sortActions([]Action{
		action("app", "package/lib"),
		action("lib", "package/base"),
		action("base"),
	})
	if err != nil {
		t.Fatalf("sortActions: %v", err)
	}
	got := orderOf(ordered)
	want := []string{"base", "lib", "app"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got order %v, want %v", got, want)
		}
	}
	if len(levels) != 3 {
		t.Errorf("chain of 3 should produce 3 levels, got %d", len(levels))
	}
}

func TestSortActions_LevelsGroupIndependentActions(t *testing.T) {
	ordered, levels, err := sortActions([]Action{
		action("base"),
		action("left", "package/base"),
		action("right", "package/base"),
		action("top", "package/left", "package/right"),
	})
	if err != nil {
		t.Fatalf("sortActions: %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %d: %v", len(levels), levels)
	}
	if len(levels[1]) != 2 {
		t.Errorf("left and right should share level 1, got %v", levels[1])
	}
	for _, idx := range levels[1] {
		id := ordered[idx].ID
		if id != "left" && id != "right" {
			t.Errorf("unexpected action %q in level 1", id)
		}
	}
	if ordered[levels[2][0]].ID != "top" {
		t.Errorf("top should land in the last level")
	}
}

func TestSortActions_Deterministic(t *testing.T) {
	input := []Action{
		action("base"),
		action("web", "package/base"),
		action("db", "package/base"),
		action("cache", "package/base"),
		action("app", "package/web", "package/db", "package/cache"),
	}
	first, _, err := sortActions(input)
	if err != nil {
		t.Fatalf("sortActions: %v", err)
	}
	for run := 0; run < 10; run++ {
		again, _, err := sortActions(input)
		if err != nil {
			t.Fatalf("sortActions: %v", err)
		}
		for i := range first {
			if again[i].ID != first[i].ID {
				t.Fatalf("run %d produced a different order: %v vs %v",
					run, orderOf(again), orderOf(first))
			}
		}
	}
}

func TestSortActions_CycleIsPlanError(t *testing.T) {
	_, _, err := sortActions([]Action{
		action("a", "package/b"),
		action("b", "package/a"),
	})
	if err == nil {
		t.Fatal("expected plan error for a cycle")
	}
	if !IsPlan(err) {
		t.Errorf("cycle should classify as a plan error, got %v", err)
	}
}

func TestSortActions_UnknownDependencyIsPlanError(t *testing.T) {
	_, _, err := sortActions([]Action{action("a", "package/ghost")})
	if err == nil {
		t.Fatal("expected plan error for an unknown dependency ref")
	}
	if !IsPlan(err) {
		t.Errorf("unknown dependency should classify as a plan error, got %v", err)
	}
}
