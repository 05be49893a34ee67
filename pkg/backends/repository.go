package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alpenglow/alpenglow/pkg/engine"
)

// DefaultRepositoriesFile is where apk lists its active repositories.
const DefaultRepositoriesFile = "/etc/apk/repositories"

// RepositoryBackend manages apk repository channels through the
// repositories file. A repository is enabled when its URL appears
// uncommented; disabling comments the line out rather than deleting it,
// so the URL survives for re-enabling.
//
// Identifiers prefixed with "flatpak:" refer to flatpak remotes instead
// and are managed through the flatpak CLI.
type RepositoryBackend struct {
	runner Runner
	path   string
}

// flatpakPrefix namespaces repository identifiers that name flatpak
// remotes rather than apk channels.
const flatpakPrefix = "flatpak:"

// flatpakRemote extracts the remote name from a namespaced identifier.
func flatpakRemote(id string) (string, bool) {
	if strings.HasPrefix(id, flatpakPrefix) {
		return strings.TrimPrefix(id, flatpakPrefix), true
	}
	return "", false
}

// NewRepositoryBackend creates the repository backend. An empty path uses
// DefaultRepositoriesFile.
func NewRepositoryBackend(runner Runner, path string) *RepositoryBackend {
	if path == "" {
		path = DefaultRepositoriesFile
	}
	return &RepositoryBackend{runner: runner, path: path}
}

func (b *RepositoryBackend) Name() string { return "repository" }

func (b *RepositoryBackend) Kinds() []engine.Kind {
	return []engine.Kind{engine.KindRepository}
}

// ReadOnlyInspection reports that queries only read the repositories file.
func (b *RepositoryBackend) ReadOnlyInspection() bool { return true }

// Query reports whether a repository matching the identifier is active.
// The identifier matches a line containing it as a substring, so both
// full URLs and channel names like "community" work.
func (b *RepositoryBackend) Query(ctx context.Context, kind engine.Kind, id string) (*engine.Observation, error) {
	if remote, ok := flatpakRemote(id); ok {
		return b.queryFlatpak(ctx, kind, id, remote)
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			current, encErr := engine.EncodeState(engine.RepositoryState{Enabled: false})
			if encErr != nil {
				return nil, encErr
			}
			return &engine.Observation{Kind: kind, ID: id, Current: current, ObservedAt: time.Now()}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}

	state := engine.RepositoryState{}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		commented := strings.HasPrefix(trimmed, "#")
		url := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if !strings.Contains(url, id) {
			continue
		}
		state.URL = url
		if !commented {
			state.Enabled = true
			break
		}
	}

	current, err := engine.EncodeState(state)
	if err != nil {
		return nil, err
	}
	return &engine.Observation{Kind: kind, ID: id, Current: current, ObservedAt: time.Now()}, nil
}

// Apply enables or disables the repository. apk channel changes refresh
// the package index afterwards; flatpak remote changes do not need to.
func (b *RepositoryBackend) Apply(ctx context.Context, action *engine.Action) error {
	var desired engine.RepositoryState
	if err := json.Unmarshal(action.Desired, &desired); err != nil {
		return fmt.Errorf("decoding desired state: %w", err)
	}

	if remote, ok := flatpakRemote(action.ID); ok {
		return b.applyFlatpak(ctx, action.Type, remote, desired.URL)
	}

	switch action.Type {
	case engine.ActionEnable:
		if err := b.enable(action.ID, desired.URL); err != nil {
			return err
		}
	case engine.ActionDisable:
		if err := b.disable(action.ID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("repository backend cannot apply action %q", action.Type)
	}

	_, err := b.runner.Run(ctx, "apk", "update")
	if err != nil {
		return fmt.Errorf("refreshing package index: %w", err)
	}
	return nil
}

// queryFlatpak reports whether the named flatpak remote is configured.
func (b *RepositoryBackend) queryFlatpak(ctx context.Context, kind engine.Kind, id, remote string) (*engine.Observation, error) {
	out, err := b.runner.Run(ctx, "flatpak", "remotes", "--columns=name,url")
	if err != nil {
		return nil, fmt.Errorf("listing flatpak remotes: %w", err)
	}

	state := engine.RepositoryState{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != remote {
			continue
		}
		state.Enabled = true
		if len(fields) > 1 {
			state.URL = fields[1]
		}
		break
	}

	current, err := engine.EncodeState(state)
	if err != nil {
		return nil, err
	}
	return &engine.Observation{Kind: kind, ID: id, Current: current, ObservedAt: time.Now()}, nil
}

func (b *RepositoryBackend) applyFlatpak(ctx context.Context, actionType engine.ActionType, remote, url string) error {
	switch actionType {
	case engine.ActionEnable:
		if url == "" {
			return fmt.Errorf("flatpak remote %q needs a url to be added", remote)
		}
		// --if-not-exists keeps re-adding an existing remote harmless.
		if _, err := b.runner.Run(ctx, "flatpak", "remote-add", "--if-not-exists", remote, url); err != nil {
			return fmt.Errorf("adding flatpak remote %s: %w", remote, err)
		}
		return nil
	case engine.ActionDisable:
		_, err := b.runner.Run(ctx, "flatpak", "remote-delete", "--force", remote)
		if err != nil && exitCode(err) > 0 {
			// Remote absent already.
			return nil
		}
		return err
	default:
		return fmt.Errorf("repository backend cannot apply action %q", actionType)
	}
}

func (b *RepositoryBackend) enable(id, url string) error {
	data, err := os.ReadFile(b.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", b.path, err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		uncommented := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if strings.Contains(uncommented, id) {
			lines[i] = uncommented
			return writeFileAtomic(b.path, strings.Join(lines, "\n"), 0644)
		}
	}

	if url == "" {
		return fmt.Errorf("repository %q not found in %s and no url declared", id, b.path)
	}
	content := strings.TrimRight(string(data), "\n")
	if content != "" {
		content += "\n"
	}
	content += url + "\n"
	return writeFileAtomic(b.path, content, 0644)
}

func (b *RepositoryBackend) disable(id string) error {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", b.path, err)
	}

	lines := strings.Split(string(data), "\n")
	changed := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.Contains(trimmed, id) {
			lines[i] = "#" + trimmed
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return writeFileAtomic(b.path, strings.Join(lines, "\n"), 0644)
}
