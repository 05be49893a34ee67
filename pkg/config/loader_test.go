package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alpenglow/alpenglow/pkg/engine"
)

func writeDeclaration(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

const yamlDoc = `resources:
  - kind: repository
    id: community
    desired:
      enabled: true
      url: https://dl-cdn.alpinelinux.org/alpine/v3.22/community
  - kind: package
    id: nmap
    desired:
      present: true
    depends_on:
      - repository/community
`

func TestLoad_YAML(t *testing.T) {
	path := writeDeclaration(t, "base.yaml", yamlDoc)

	resources, err := NewLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(resources))
	}
	if resources[0].Kind != engine.KindRepository || resources[0].ID != "community" {
		t.Errorf("first resource %s/%s, want repository/community", resources[0].Kind, resources[0].ID)
	}
	if resources[1].Kind != engine.KindPackage || resources[1].ID != "nmap" {
		t.Errorf("second resource %s/%s, want package/nmap", resources[1].Kind, resources[1].ID)
	}
	if len(resources[1].DependsOn) != 1 || resources[1].DependsOn[0] != "repository/community" {
		t.Errorf("dependency not carried: %v", resources[1].DependsOn)
	}

	// The desired map must round-trip into the typed engine state.
	state, err := engine.DecodeState(engine.KindPackage, resources[1].Desired)
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if !state.(engine.PackageState).Present {
		t.Error("desired present flag lost in conversion")
	}
}

func TestLoad_RejectsUnknownKind(t *testing.T) {
	path := writeDeclaration(t, "bad.yaml", `resources:
  - kind: container
    id: nginx
    desired:
      present: true
`)
	_, err := NewLoader().Load(context.Background(), path)
	if err == nil {
		t.Fatal("unknown kind should fail validation")
	}
	if !engine.IsValidation(err) {
		t.Errorf("declaration problems must surface as a ValidationError, got %T", err)
	}
}

func TestLoad_AggregatesViolationsAcrossFiles(t *testing.T) {
	badKind := writeDeclaration(t, "a.yaml", `resources:
  - kind: container
    id: nginx
    desired:
      present: true
`)
	missingID := writeDeclaration(t, "b.yaml", `resources:
  - kind: package
    desired:
      present: true
`)

	_, err := NewLoader().Load(context.Background(), badKind, missingID)
	if err == nil {
		t.Fatal("both files are invalid, Load must fail")
	}
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected a ValidationError, got %T: %v", err, err)
	}
	if len(verr.Violations) != 2 {
		t.Fatalf("expected one violation per bad file, got %d: %v", len(verr.Violations), verr.Violations)
	}
	for _, want := range []string{"a.yaml", "b.yaml"} {
		found := false
		for _, v := range verr.Violations {
			if strings.Contains(v.Message, want) {
				found = true
			}
		}
		if !found {
			t.Errorf("no violation mentions %s: %v", want, verr.Violations)
		}
	}
}

func TestLoad_RejectsMissingID(t *testing.T) {
	path := writeDeclaration(t, "bad.yaml", `resources:
  - kind: package
    desired:
      present: true
`)
	if _, err := NewLoader().Load(context.Background(), path); err == nil {
		t.Error("missing id should fail validation")
	}
}

func TestLoad_RejectsEmptyDocument(t *testing.T) {
	path := writeDeclaration(t, "empty.yaml", "resources: []\n")
	if _, err := NewLoader().Load(context.Background(), path); err == nil {
		t.Error("empty resource list should fail validation")
	}
}

func TestLoad_RejectsUnsupportedExtension(t *testing.T) {
	path := writeDeclaration(t, "decl.toml", "resources = []\n")
	if _, err := NewLoader().Load(context.Background(), path); err == nil {
		t.Error("unsupported extension should fail")
	}
}

func TestLoad_NoFiles(t *testing.T) {
	if _, err := NewLoader().Load(context.Background()); err == nil {
		t.Error("loading with no files should fail")
	}
}

func TestLoad_CombinesFilesInArgumentOrder(t *testing.T) {
	first := writeDeclaration(t, "a.yaml", `resources:
  - kind: package
    id: git
    desired:
      present: true
`)
	second := writeDeclaration(t, "b.yaml", `resources:
  - kind: package
    id: vim
    desired:
      present: true
`)
	resources, err := NewLoader().Load(context.Background(), first, second)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(resources) != 2 || resources[0].ID != "git" || resources[1].ID != "vim" {
		t.Errorf("files should concatenate in argument order, got %v", resources)
	}
}

func TestLoad_CUE(t *testing.T) {
	path := writeDeclaration(t, "base.cue", `
resources: [
	{
		kind: "package"
		id:   "git"
		desired: present: true
	},
	{
		kind: "service"
		id:   "sshd"
		desired: enabled: true
		depends_on: ["package/git"]
	},
]
`)
	resources, err := NewLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(resources))
	}
	if resources[1].Kind != engine.KindService || resources[1].DependsOn[0] != "package/git" {
		t.Errorf("CUE declarations not carried: %+v", resources[1])
	}
}

func TestLoad_Starlark(t *testing.T) {
	path := writeDeclaration(t, "gen.star", `
packages = ["git", "curl", "vim"]

resources = [
    {"kind": "package", "id": p, "desired": {"present": True}}
    for p in packages
]
`)
	resources, err := NewLoader().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(resources) != 3 {
		t.Fatalf("expected 3 generated resources, got %d", len(resources))
	}
	for i, id := range []string{"git", "curl", "vim"} {
		if resources[i].ID != id {
			t.Errorf("resource %d: got %s, want %s", i, resources[i].ID, id)
		}
	}
}
