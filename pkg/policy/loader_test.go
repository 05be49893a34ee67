package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alpenglow/alpenglow/pkg/telemetry"
)

const customRego = `# Blocks installing telnet anywhere
package alpenglow.policies.telnet

import rego.v1

deny contains msg if {
	input.action.type == "install"
	input.action.id == "telnet"
	msg := "telnet is not allowed"
}
`

func TestLoadFromPaths_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no-telnet.rego")
	if err := os.WriteFile(path, []byte(customRego), 0644); err != nil {
		t.Fatalf("writing policy: %v", err)
	}

	policies, err := NewLoader(telemetry.NewTestLogger()).LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}
	p := policies[0]
	if p.Name != "no-telnet" {
		t.Errorf("name %q, want no-telnet", p.Name)
	}
	if p.Description != "Blocks installing telnet anywhere" {
		t.Errorf("description %q", p.Description)
	}
	if p.Severity != SeverityError || !p.Enabled {
		t.Errorf("operator policies default to enabled error severity, got %+v", p)
	}
	if p.Source != path {
		t.Errorf("source %q, want %q", p.Source, path)
	}
}

func TestLoadFromPaths_DirectorySkipsNonRego(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.rego"), []byte(customRego), 0644); err != nil {
		t.Fatalf("writing policy: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a policy"), 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	policies, err := NewLoader(telemetry.NewTestLogger()).LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 {
		t.Errorf("only .rego files should load, got %d policies", len(policies))
	}
}

func TestLoadFromPaths_MissingPath(t *testing.T) {
	loader := NewLoader(telemetry.NewTestLogger())
	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/policies"}); err == nil {
		t.Error("missing path should fail")
	}
}

func TestExtractDescription(t *testing.T) {
	if got := extractDescription("# first comment\npackage x\n"); got != "first comment" {
		t.Errorf("got %q", got)
	}
	if got := extractDescription("package x\n# later comment\n"); got != "" {
		t.Errorf("comments after code should not count, got %q", got)
	}
	if got := extractDescription(""); got != "" {
		t.Errorf("empty source should have no description, got %q", got)
	}
}

func TestLoadPaths_IntoEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no-telnet.rego")
	if err := os.WriteFile(path, []byte(customRego), 0644); err != nil {
		t.Fatalf("writing policy: %v", err)
	}

	e, err := NewEngine(telemetry.NewTestLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.LoadPaths(context.Background(), []string{path}); err != nil {
		t.Fatalf("LoadPaths: %v", err)
	}

	found := false
	for _, p := range e.ListPolicies() {
		if p.Name == "no-telnet" {
			found = true
		}
	}
	if !found {
		t.Error("operator policy should appear in the engine")
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 1)
	done := make(chan error, 1)
	go func() {
		done <- NewLoader(telemetry.NewTestLogger()).Watch(ctx, []string{dir}, func(policies []Policy) error {
			select {
			case reloaded <- policies:
			default:
			}
			return nil
		})
	}()

	// Give the watcher a moment to register before the write.
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(dir, "no-telnet.rego")
	if err := os.WriteFile(path, []byte(customRego), 0644); err != nil {
		t.Fatalf("writing policy: %v", err)
	}

	select {
	case policies := <-reloaded:
		if len(policies) != 1 || policies[0].Name != "no-telnet" {
			t.Errorf("unexpected reload payload: %+v", policies)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reloaded after the write")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Watch returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}

func TestLoadFromPaths_JSONPolicy(t *testing.T) {
	doc := `{
  "name": "no-telnet",
  "description": "Blocks installing telnet anywhere",
  "rego": "package alpenglow.policies.telnet\n\nimport rego.v1\n\ndeny contains msg if {\n\tinput.action.id == \"telnet\"\n\tmsg := \"telnet is not allowed\"\n}\n",
  "severity": "error",
  "enabled": true
}`
	path := filepath.Join(t.TempDir(), "no-telnet.json")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("writing policy: %v", err)
	}

	policies, err := NewLoader(telemetry.NewTestLogger()).LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}
	p := policies[0]
	if p.Name != "no-telnet" || p.Severity != SeverityError || !p.Enabled {
		t.Errorf("unexpected policy: %+v", p)
	}
	if p.Source != path {
		t.Errorf("source %q, want %q", p.Source, path)
	}
}

func TestLoadFromPaths_JSONPolicyWithoutRegoFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(path, []byte(`{"name":"empty"}`), 0644); err != nil {
		t.Fatalf("writing policy: %v", err)
	}
	if _, err := NewLoader(telemetry.NewTestLogger()).LoadFromPaths(context.Background(), []string{path}); err == nil {
		t.Error("a JSON policy without a rego body should fail to load")
	}
}
