package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alpenglow/alpenglow/pkg/telemetry"
)

// memorySystem is a stateful in-memory machine: queries read its maps,
// applies mutate them. It lets full inspect/plan/apply cycles run
// without touching the host.
type memorySystem struct {
	mu       sync.Mutex
	packages map[string]string
	repos    map[string]RepositoryState
	services map[string]bool
	applied  []string
}

func newMemorySystem() *memorySystem {
	return &memorySystem{
		packages: make(map[string]string),
		repos:    make(map[string]RepositoryState),
		services: make(map[string]bool),
	}
}

func (s *memorySystem) Name() string  { return "memory" }
func (s *memorySystem) Kinds() []Kind { return AllKinds }

func (s *memorySystem) Query(ctx context.Context, kind Kind, id string) (*Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state any
	switch kind {
	case KindPackage:
		version, ok := s.packages[id]
		state = PackageState{Present: ok, Version: version}
	case KindRepository:
		state = s.repos[id]
	case KindService:
		state = ServiceState{Enabled: s.services[id]}
	default:
		return nil, fmt.Errorf("memory system does not track kind %q", kind)
	}

	raw, err := EncodeState(state)
	if err != nil {
		return nil, err
	}
	return &Observation{Kind: kind, ID: id, Current: raw, ObservedAt: time.Now()}, nil
}

func (s *memorySystem) Apply(ctx context.Context, action *Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, string(action.Type)+" "+action.Ref())

	switch action.Kind {
	case KindPackage:
		if action.Type == ActionRemove {
			delete(s.packages, action.ID)
			return nil
		}
		s.packages[action.ID] = "1.0.0-r0"
	case KindRepository:
		desired, err := DecodeState(KindRepository, action.Desired)
		if err != nil {
			return err
		}
		d := desired.(RepositoryState)
		if action.Type == ActionDisable {
			d.Enabled = false
		}
		s.repos[action.ID] = d
	case KindService:
		s.services[action.ID] = action.Type == ActionEnable
	default:
		return fmt.Errorf("memory system does not apply kind %q", action.Kind)
	}
	return nil
}

func (s *memorySystem) appliedLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.applied...)
}

// converge runs one full inspect, plan, apply cycle.
func converge(t *testing.T, system *memorySystem, model *Model) (*Plan, *RunResult) {
	t.Helper()
	logger := telemetry.NewTestLogger()
	resolver := fakeResolver{system}

	observations, err := NewInspector(resolver, logger).InspectAll(context.Background(), model)
	if err != nil {
		t.Fatalf("InspectAll: %v", err)
	}
	plan, err := NewPlanner(logger).Build(model, observations)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	run, err := NewExecutor(resolver, nil, logger, nil).Apply(context.Background(), plan, Policy{Concurrency: 2})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return plan, run
}

func TestConvergence_InstallGitThenNoop(t *testing.T) {
	system := newMemorySystem()
	model, err := Load([]Resource{
		{Kind: KindPackage, ID: "git", Desired: pkgDesired(t, true, "")},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	plan, run := converge(t, system, model)
	if plan.MutationCount() != 1 {
		t.Fatalf("first cycle should plan one install, got %d mutations", plan.MutationCount())
	}
	if run.Status != RunStatusSucceeded {
		t.Fatalf("first run status %s", run.Status)
	}
	if _, ok := system.packages["git"]; !ok {
		t.Fatal("git should be installed after the first run")
	}

	// Second cycle against the mutated system: nothing left to do.
	plan, run = converge(t, system, model)
	if !plan.IsConverged() {
		t.Errorf("second cycle should plan only no-ops, got %d mutations", plan.MutationCount())
	}
	if run.Status != RunStatusSucceeded {
		t.Errorf("second run status %s", run.Status)
	}
	for _, res := range run.Results {
		if res.Status != StatusSatisfied {
			t.Errorf("%s: second run should satisfy without applying, got %s", res.Action.Ref(), res.Status)
		}
	}
}

func TestConvergence_CommunityRepoBeforeNmap(t *testing.T) {
	system := newMemorySystem()
	model, err := Load([]Resource{
		{Kind: KindPackage, ID: "nmap", Desired: pkgDesired(t, true, ""), DependsOn: []string{"repository/community"}},
		{Kind: KindRepository, ID: "community", Desired: mustEncode(t, RepositoryState{
			Enabled: true,
			URL:     "https://dl-cdn.alpinelinux.org/alpine/v3.22/community",
		})},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	plan, run := converge(t, system, model)
	if run.Status != RunStatusSucceeded {
		t.Fatalf("run status %s, results %+v", run.Status, run.Results)
	}
	if plan.MutationCount() != 2 {
		t.Fatalf("expected enable plus install, got %d mutations", plan.MutationCount())
	}

	log := system.appliedLog()
	if len(log) != 2 || log[0] != "enable repository/community" || log[1] != "install package/nmap" {
		t.Errorf("repository must activate before the package installs, got %v", log)
	}
	if !system.repos["community"].Enabled {
		t.Error("community repository should be enabled")
	}

	plan, _ = converge(t, system, model)
	if !plan.IsConverged() {
		t.Errorf("second cycle should be a no-op, got %d mutations", plan.MutationCount())
	}
}

func TestConvergence_DesktopProfile(t *testing.T) {
	system := newMemorySystem()
	system.packages["vim"] = "9.1.0-r0"

	model, err := Load([]Resource{
		{Kind: KindRepository, ID: "community", Desired: mustEncode(t, RepositoryState{
			Enabled: true,
			URL:     "https://dl-cdn.alpinelinux.org/alpine/v3.22/community",
		})},
		{Kind: KindPackage, ID: "vim", Desired: pkgDesired(t, true, "")},
		{Kind: KindPackage, ID: "firefox", Desired: pkgDesired(t, true, ""), DependsOn: []string{"repository/community"}},
		{Kind: KindService, ID: "dbus", Desired: svcDesired(t, true), DependsOn: []string{"package/firefox"}},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	plan, run := converge(t, system, model)
	if run.Status != RunStatusSucceeded {
		t.Fatalf("run status %s", run.Status)
	}
	// vim was already present, the rest mutates.
	if plan.MutationCount() != 3 {
		t.Errorf("expected 3 mutations, got %d", plan.MutationCount())
	}
	vim := resultByRef(run, "package/vim")
	if vim == nil || vim.Status != StatusSatisfied {
		t.Errorf("pre-installed package should satisfy, got %+v", vim)
	}
	if !system.services["dbus"] {
		t.Error("dbus should be enabled after the run")
	}

	plan, _ = converge(t, system, model)
	if !plan.IsConverged() {
		t.Errorf("second cycle should be a no-op, got %d mutations", plan.MutationCount())
	}
}

func TestInspector_QueryFailureDegradesToUnknown(t *testing.T) {
	system := newMemorySystem()
	model, err := Load([]Resource{
		{Kind: KindFile, ID: "/etc/motd", Desired: mustEncode(t, FileState{Present: true, Content: "hi\n"})},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// The memory system rejects file queries, so inspection degrades.
	observations, err := NewInspector(fakeResolver{system}, telemetry.NewTestLogger()).
		InspectAll(context.Background(), model)
	if err != nil {
		t.Fatalf("InspectAll: %v", err)
	}
	obs := observations["file//etc/motd"]
	if obs == nil || !obs.Unknown {
		t.Fatalf("failed query should record unknown, got %+v", obs)
	}

	plan, err := NewPlanner(telemetry.NewTestLogger()).Build(model, observations)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.Actions[0].Type != ActionWrite {
		t.Errorf("unknown file state should plan a write, got %s", plan.Actions[0].Type)
	}
}
