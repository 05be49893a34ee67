package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alpenglow/alpenglow/pkg/telemetry"
)

// Loader reads .rego policy files from disk and optionally watches them
// for changes.
type Loader struct {
	logger  *telemetry.Logger
	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader(logger *telemetry.Logger) *Loader {
	return &Loader{logger: logger.NewComponentLogger("policy-loader")}
}

// LoadFromPaths loads policies from files and directories. Directories
// are walked non-recursively for .rego files and .json policy
// definitions.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", path, err)
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				if ext := filepath.Ext(entry.Name()); ext != ".rego" && ext != ".json" {
					continue
				}
				p, err := l.loadFile(filepath.Join(path, entry.Name()))
				if err != nil {
					return nil, err
				}
				policies = append(policies, *p)
			}
		} else {
			p, err := l.loadFile(path)
			if err != nil {
				return nil, err
			}
			policies = append(policies, *p)
		}
	}
	return policies, nil
}

func (l *Loader) loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if filepath.Ext(path) == ".json" {
		return parseJSONPolicy(path, data)
	}

	content := string(data)
	name := strings.TrimSuffix(filepath.Base(path), ".rego")
	return &Policy{
		Name:        name,
		Description: extractDescription(content),
		Rego:        content,
		Severity:    SeverityError,
		Enabled:     true,
		Source:      path,
	}, nil
}

// parseJSONPolicy decodes a full policy definition, Rego body included.
func parseJSONPolicy(path string, data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if p.Rego == "" {
		return nil, fmt.Errorf("policy %s declares no rego body", path)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	p.Source = path
	return &p, nil
}

// extractDescription takes the first comment line as the description.
func extractDescription(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		}
		if trimmed != "" {
			break
		}
	}
	return ""
}

// Watch reloads policies whenever a watched file or directory changes.
// Blocks until ctx is canceled.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	l.watcher = watcher
	defer watcher.Close()

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
	}

	// Debounce: editors fire several events per save.
	var timer *time.Timer
	reload := func() {
		policies, err := l.LoadFromPaths(ctx, paths)
		if err != nil {
			l.logger.WithError(err).Warn("policy reload failed")
			return
		}
		if err := reloadFn(policies); err != nil {
			l.logger.WithError(err).Warn("policy reload rejected")
			return
		}
		l.logger.Infof("reloaded %d policies", len(policies))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.WithError(err).Warn("policy watcher error")
		}
	}
}
