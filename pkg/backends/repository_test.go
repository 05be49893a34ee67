package backends

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alpenglow/alpenglow/pkg/engine"
)

const communityURL = "https://dl-cdn.alpinelinux.org/alpine/v3.22/community"

func repoFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repositories")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing repositories file: %v", err)
	}
	return path
}

func decodeRepository(t *testing.T, obs *engine.Observation) engine.RepositoryState {
	t.Helper()
	var state engine.RepositoryState
	if err := json.Unmarshal(obs.Current, &state); err != nil {
		t.Fatalf("decoding observation: %v", err)
	}
	return state
}

func TestRepositoryQuery_Enabled(t *testing.T) {
	path := repoFile(t, "https://dl-cdn.alpinelinux.org/alpine/v3.22/main\n"+communityURL+"\n")
	backend := NewRepositoryBackend(newFakeRunner(), path)

	obs, err := backend.Query(context.Background(), engine.KindRepository, "community")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	state := decodeRepository(t, obs)
	if !state.Enabled {
		t.Error("uncommented repository should report enabled")
	}
	if state.URL != communityURL {
		t.Errorf("URL %q, want %q", state.URL, communityURL)
	}
}

func TestRepositoryQuery_CommentedOut(t *testing.T) {
	path := repoFile(t, "https://dl-cdn.alpinelinux.org/alpine/v3.22/main\n#"+communityURL+"\n")
	backend := NewRepositoryBackend(newFakeRunner(), path)

	obs, err := backend.Query(context.Background(), engine.KindRepository, "community")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	state := decodeRepository(t, obs)
	if state.Enabled {
		t.Error("commented repository should report disabled")
	}
	if state.URL != communityURL {
		t.Errorf("commented line should still surface the URL, got %q", state.URL)
	}
}

func TestRepositoryQuery_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repositories")
	backend := NewRepositoryBackend(newFakeRunner(), path)

	obs, err := backend.Query(context.Background(), engine.KindRepository, "community")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if decodeRepository(t, obs).Enabled {
		t.Error("missing repositories file should report disabled")
	}
}

func TestRepositoryApply_EnableUncommentsExistingLine(t *testing.T) {
	path := repoFile(t, "https://dl-cdn.alpinelinux.org/alpine/v3.22/main\n#"+communityURL+"\n")
	runner := newFakeRunner()
	backend := NewRepositoryBackend(runner, path)

	action := &engine.Action{
		Type:    engine.ActionEnable,
		Kind:    engine.KindRepository,
		ID:      "community",
		Desired: json.RawMessage(`{"enabled":true,"url":"` + communityURL + `"}`),
	}
	if err := backend.Apply(context.Background(), action); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading repositories file: %v", err)
	}
	if strings.Contains(string(data), "#"+communityURL) {
		t.Errorf("line should be uncommented:\n%s", data)
	}
	if !strings.Contains(string(data), communityURL) {
		t.Errorf("URL should survive:\n%s", data)
	}
	if !runner.calledWith("apk update") {
		t.Error("enabling a repository should refresh the index")
	}
}

func TestRepositoryApply_EnableAppendsWhenAbsent(t *testing.T) {
	path := repoFile(t, "https://dl-cdn.alpinelinux.org/alpine/v3.22/main\n")
	backend := NewRepositoryBackend(newFakeRunner(), path)

	action := &engine.Action{
		Type:    engine.ActionEnable,
		Kind:    engine.KindRepository,
		ID:      "community",
		Desired: json.RawMessage(`{"enabled":true,"url":"` + communityURL + `"}`),
	}
	if err := backend.Apply(context.Background(), action); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading repositories file: %v", err)
	}
	if !strings.Contains(string(data), communityURL) {
		t.Errorf("URL should be appended:\n%s", data)
	}
}

func TestRepositoryApply_EnableWithoutURLFails(t *testing.T) {
	path := repoFile(t, "https://dl-cdn.alpinelinux.org/alpine/v3.22/main\n")
	backend := NewRepositoryBackend(newFakeRunner(), path)

	action := &engine.Action{
		Type:    engine.ActionEnable,
		Kind:    engine.KindRepository,
		ID:      "community",
		Desired: json.RawMessage(`{"enabled":true}`),
	}
	if err := backend.Apply(context.Background(), action); err == nil {
		t.Error("enabling an unlisted repository without a URL should fail")
	}
}

func TestRepositoryApply_DisableCommentsOut(t *testing.T) {
	path := repoFile(t, "https://dl-cdn.alpinelinux.org/alpine/v3.22/main\n"+communityURL+"\n")
	runner := newFakeRunner()
	backend := NewRepositoryBackend(runner, path)

	action := &engine.Action{
		Type:    engine.ActionDisable,
		Kind:    engine.KindRepository,
		ID:      "community",
		Desired: json.RawMessage(`{"enabled":false}`),
	}
	if err := backend.Apply(context.Background(), action); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading repositories file: %v", err)
	}
	if !strings.Contains(string(data), "#"+communityURL) {
		t.Errorf("line should be commented, not removed:\n%s", data)
	}
	if !strings.Contains(string(data), "alpine/v3.22/main") {
		t.Errorf("other repositories must be untouched:\n%s", data)
	}
	if !runner.calledWith("apk update") {
		t.Error("disabling a repository should refresh the index")
	}
}

const flathubURL = "https://dl.flathub.org/repo/"

func TestRepositoryQuery_FlatpakRemote(t *testing.T) {
	runner := newFakeRunner()
	runner.out["flatpak remotes --columns=name,url"] = "flathub\t" + flathubURL + "\n"
	backend := NewRepositoryBackend(runner, filepath.Join(t.TempDir(), "repositories"))

	obs, err := backend.Query(context.Background(), engine.KindRepository, "flatpak:flathub")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	state := decodeRepository(t, obs)
	if !state.Enabled {
		t.Error("configured remote should report enabled")
	}
	if state.URL != flathubURL {
		t.Errorf("URL %q, want %q", state.URL, flathubURL)
	}
}

func TestRepositoryQuery_FlatpakRemoteAbsent(t *testing.T) {
	runner := newFakeRunner()
	runner.out["flatpak remotes --columns=name,url"] = ""
	backend := NewRepositoryBackend(runner, filepath.Join(t.TempDir(), "repositories"))

	obs, err := backend.Query(context.Background(), engine.KindRepository, "flatpak:flathub")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if decodeRepository(t, obs).Enabled {
		t.Error("missing remote should report disabled")
	}
}

func TestRepositoryApply_FlatpakEnable(t *testing.T) {
	runner := newFakeRunner()
	backend := NewRepositoryBackend(runner, filepath.Join(t.TempDir(), "repositories"))

	action := &engine.Action{
		Type:    engine.ActionEnable,
		Kind:    engine.KindRepository,
		ID:      "flatpak:flathub",
		Desired: json.RawMessage(`{"enabled":true,"url":"` + flathubURL + `"}`),
	}
	if err := backend.Apply(context.Background(), action); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !runner.calledWith("flatpak remote-add --if-not-exists flathub " + flathubURL) {
		t.Errorf("unexpected calls: %v", runner.calls)
	}
	if runner.calledWith("apk update") {
		t.Error("flatpak remote changes must not touch the apk index")
	}
}

func TestRepositoryApply_FlatpakEnableWithoutURLFails(t *testing.T) {
	backend := NewRepositoryBackend(newFakeRunner(), filepath.Join(t.TempDir(), "repositories"))

	action := &engine.Action{
		Type:    engine.ActionEnable,
		Kind:    engine.KindRepository,
		ID:      "flatpak:flathub",
		Desired: json.RawMessage(`{"enabled":true}`),
	}
	if err := backend.Apply(context.Background(), action); err == nil {
		t.Error("adding a remote without a URL should fail")
	}
}

func TestRepositoryApply_FlatpakDisableToleratesAbsentRemote(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["flatpak remote-delete --force flathub"] = realExitError(t, 1)
	backend := NewRepositoryBackend(runner, filepath.Join(t.TempDir(), "repositories"))

	action := &engine.Action{
		Type:    engine.ActionDisable,
		Kind:    engine.KindRepository,
		ID:      "flatpak:flathub",
		Desired: json.RawMessage(`{"enabled":false}`),
	}
	if err := backend.Apply(context.Background(), action); err != nil {
		t.Fatalf("deleting an absent remote should succeed, got %v", err)
	}
}
