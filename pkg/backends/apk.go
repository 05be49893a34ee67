package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alpenglow/alpenglow/pkg/engine"
)

// ApkBackend manages packages through the apk package manager.
type ApkBackend struct {
	runner Runner
}

// NewApkBackend creates the apk package backend.
func NewApkBackend(runner Runner) *ApkBackend {
	return &ApkBackend{runner: runner}
}

func (b *ApkBackend) Name() string { return "apk" }

func (b *ApkBackend) Kinds() []engine.Kind {
	return []engine.Kind{engine.KindPackage}
}

// ReadOnlyInspection reports that queries only ever call apk's informational
// subcommands.
func (b *ApkBackend) ReadOnlyInspection() bool { return true }

// Query reports whether the package is installed, its version, and
// whether a newer version is available in the active repositories.
func (b *ApkBackend) Query(ctx context.Context, kind engine.Kind, id string) (*engine.Observation, error) {
	state := engine.PackageState{}

	// "apk info --installed" exits 0 only when the package is present.
	_, err := b.runner.Run(ctx, "apk", "info", "--installed", id)
	switch {
	case err == nil:
		state.Present = true
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case exitCode(err) > 0:
		state.Present = false
	default:
		return nil, fmt.Errorf("querying package %s: %w", id, err)
	}

	if state.Present {
		// "apk version pkg" prints "pkg-1.2.3-r0 < 1.2.4-r0" when an
		// upgrade is available and "= ..." when current.
		out, err := b.runner.Run(ctx, "apk", "version", id)
		if err != nil {
			return nil, fmt.Errorf("querying package version %s: %w", id, err)
		}
		version, upgrade := parseApkVersion(out, id)
		state.Version = version
		state.UpgradeAvailable = upgrade
	}

	current, err := engine.EncodeState(state)
	if err != nil {
		return nil, err
	}
	return &engine.Observation{
		Kind:       kind,
		ID:         id,
		Current:    current,
		ObservedAt: time.Now(),
	}, nil
}

// Apply installs, upgrades, or removes the package.
func (b *ApkBackend) Apply(ctx context.Context, action *engine.Action) error {
	var desired engine.PackageState
	if err := json.Unmarshal(action.Desired, &desired); err != nil {
		return fmt.Errorf("decoding desired state: %w", err)
	}

	switch action.Type {
	case engine.ActionInstall:
		spec := action.ID
		if desired.Version != "" && desired.Version != engine.VersionLatest {
			spec = fmt.Sprintf("%s=%s", action.ID, desired.Version)
		}
		_, err := b.runner.Run(ctx, "apk", "add", "--no-progress", spec)
		return err
	case engine.ActionUpgrade:
		if desired.Version != "" && desired.Version != engine.VersionLatest {
			_, err := b.runner.Run(ctx, "apk", "add", "--no-progress",
				fmt.Sprintf("%s=%s", action.ID, desired.Version))
			return err
		}
		_, err := b.runner.Run(ctx, "apk", "upgrade", "--no-progress", action.ID)
		return err
	case engine.ActionRemove:
		_, err := b.runner.Run(ctx, "apk", "del", "--no-progress", action.ID)
		return err
	default:
		return fmt.Errorf("apk backend cannot apply action %q", action.Type)
	}
}

// parseApkVersion extracts the installed version and upgrade flag from
// "apk version pkg" output. The line of interest looks like
// "pkg-1.2.3-r0 = 1.2.3-r0" or "pkg-1.2.3-r0 < 1.2.4-r0".
func parseApkVersion(out, id string) (version string, upgradeAvailable bool) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], id+"-") {
			continue
		}
		version = strings.TrimPrefix(fields[0], id+"-")
		upgradeAvailable = fields[1] == "<"
		return version, upgradeAvailable
	}
	return "", false
}
