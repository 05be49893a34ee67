package backends

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpenglow/alpenglow/pkg/engine"
)

// OpenRCBackend manages services through OpenRC. A service counts as
// enabled when it is added to its runlevel and currently started;
// enabling both adds and starts, disabling both removes and stops.
type OpenRCBackend struct {
	runner   Runner
	runlevel string
}

// NewOpenRCBackend creates the OpenRC service backend on the default
// runlevel.
func NewOpenRCBackend(runner Runner) *OpenRCBackend {
	return &OpenRCBackend{runner: runner, runlevel: "default"}
}

func (b *OpenRCBackend) Name() string { return "openrc" }

func (b *OpenRCBackend) Kinds() []engine.Kind {
	return []engine.Kind{engine.KindService}
}

// ReadOnlyInspection reports that queries only call rc-update show and
// rc-service status.
func (b *OpenRCBackend) ReadOnlyInspection() bool { return true }

// Query reports whether the service is enabled in the runlevel and running.
func (b *OpenRCBackend) Query(ctx context.Context, kind engine.Kind, id string) (*engine.Observation, error) {
	out, err := b.runner.Run(ctx, "rc-update", "show", b.runlevel)
	if err != nil {
		return nil, fmt.Errorf("querying runlevel %s: %w", b.runlevel, err)
	}
	inRunlevel := serviceInRunlevel(out, id)

	// "rc-service <name> status" exits 0 when started, 3 when stopped.
	running := false
	_, err = b.runner.Run(ctx, "rc-service", id, "status")
	switch {
	case err == nil:
		running = true
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case exitCode(err) > 0:
		running = false
	default:
		return nil, fmt.Errorf("querying service %s: %w", id, err)
	}

	current, err := engine.EncodeState(engine.ServiceState{Enabled: inRunlevel && running})
	if err != nil {
		return nil, err
	}
	return &engine.Observation{Kind: kind, ID: id, Current: current, ObservedAt: time.Now()}, nil
}

// Apply enables or disables the service.
func (b *OpenRCBackend) Apply(ctx context.Context, action *engine.Action) error {
	switch action.Type {
	case engine.ActionEnable:
		if _, err := b.runner.Run(ctx, "rc-update", "add", action.ID, b.runlevel); err != nil {
			// Exit 1 with "already installed" is fine; treat a
			// pre-existing runlevel entry as success.
			if !strings.Contains(err.Error(), "already") {
				return fmt.Errorf("adding %s to runlevel: %w", action.ID, err)
			}
		}
		if _, err := b.runner.Run(ctx, "rc-service", action.ID, "start"); err != nil {
			return fmt.Errorf("starting %s: %w", action.ID, err)
		}
		return nil
	case engine.ActionDisable:
		if _, err := b.runner.Run(ctx, "rc-service", action.ID, "stop"); err != nil {
			return fmt.Errorf("stopping %s: %w", action.ID, err)
		}
		if _, err := b.runner.Run(ctx, "rc-update", "del", action.ID, b.runlevel); err != nil {
			return fmt.Errorf("removing %s from runlevel: %w", action.ID, err)
		}
		return nil
	default:
		return fmt.Errorf("openrc backend cannot apply action %q", action.Type)
	}
}

// serviceInRunlevel parses "rc-update show <level>" output, lines like
// "  sshd | default".
func serviceInRunlevel(out, id string) bool {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == id {
			return true
		}
	}
	return false
}
