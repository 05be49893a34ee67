package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alpenglow/alpenglow/pkg/engine"
)

// UfwBackend manages firewall state through ufw. Identifier conventions:
//
//   - "ufw" is the firewall itself; enable/disable toggles it.
//   - "default-incoming" and "default-outgoing" are the default policies;
//     the desired policy is "allow" or "deny".
//   - anything else is a rule spec like "22/tcp"; the desired policy is
//     the ufw verdict for it.
type UfwBackend struct {
	runner Runner
}

// NewUfwBackend creates the ufw firewall backend.
func NewUfwBackend(runner Runner) *UfwBackend {
	return &UfwBackend{runner: runner}
}

func (b *UfwBackend) Name() string { return "ufw" }

func (b *UfwBackend) Kinds() []engine.Kind {
	return []engine.Kind{engine.KindFirewallRule}
}

// ReadOnlyInspection reports that queries only call ufw status.
func (b *UfwBackend) ReadOnlyInspection() bool { return true }

// Query parses "ufw status verbose" for the identifier's current state.
func (b *UfwBackend) Query(ctx context.Context, kind engine.Kind, id string) (*engine.Observation, error) {
	out, err := b.runner.Run(ctx, "ufw", "status", "verbose")
	if err != nil {
		return nil, fmt.Errorf("querying firewall status: %w", err)
	}

	state := parseUfwStatus(out, id)
	current, err := engine.EncodeState(state)
	if err != nil {
		return nil, err
	}
	return &engine.Observation{Kind: kind, ID: id, Current: current, ObservedAt: time.Now()}, nil
}

// Apply reconciles the firewall entry the identifier names.
func (b *UfwBackend) Apply(ctx context.Context, action *engine.Action) error {
	var desired engine.FirewallState
	if err := json.Unmarshal(action.Desired, &desired); err != nil {
		return fmt.Errorf("decoding desired state: %w", err)
	}

	switch {
	case action.ID == "ufw":
		switch action.Type {
		case engine.ActionEnable:
			_, err := b.runner.Run(ctx, "ufw", "--force", "enable")
			return err
		case engine.ActionDisable:
			_, err := b.runner.Run(ctx, "ufw", "disable")
			return err
		}
	case strings.HasPrefix(action.ID, "default-"):
		direction := strings.TrimPrefix(action.ID, "default-")
		policy := desired.Policy
		if action.Type == engine.ActionDisable {
			policy = "allow"
		}
		_, err := b.runner.Run(ctx, "ufw", "default", policy, direction)
		return err
	default:
		switch action.Type {
		case engine.ActionEnable, engine.ActionWrite:
			policy := desired.Policy
			if policy == "" {
				policy = "allow"
			}
			if _, err := b.runner.Run(ctx, "ufw", "delete", "allow", action.ID); err != nil && exitCode(err) < 0 {
				return err
			}
			_, err := b.runner.Run(ctx, "ufw", policy, action.ID)
			return err
		case engine.ActionDisable:
			_, err := b.runner.Run(ctx, "ufw", "--force", "delete", "allow", action.ID)
			if err != nil && exitCode(err) > 0 {
				// Rule absent already.
				return nil
			}
			return err
		}
	}
	return fmt.Errorf("ufw backend cannot apply action %q to %q", action.Type, action.ID)
}

// parseUfwStatus extracts the state of one identifier from ufw's verbose
// status output.
func parseUfwStatus(out, id string) engine.FirewallState {
	state := engine.FirewallState{}
	lines := strings.Split(out, "\n")

	active := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "Status:") {
			active = strings.Contains(line, "active")
			break
		}
	}

	switch {
	case id == "ufw":
		state.Enabled = active
	case strings.HasPrefix(id, "default-"):
		direction := strings.TrimPrefix(id, "default-")
		// "Default: deny (incoming), allow (outgoing), ..."
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if !strings.HasPrefix(trimmed, "Default:") {
				continue
			}
			for _, part := range strings.Split(strings.TrimPrefix(trimmed, "Default:"), ",") {
				fields := strings.Fields(strings.TrimSpace(part))
				if len(fields) == 2 && strings.Trim(fields[1], "()") == direction {
					state.Enabled = active
					state.Policy = fields[0]
				}
			}
		}
	default:
		// Rule lines look like "22/tcp   ALLOW IN   Anywhere".
		for _, line := range lines {
			fields := strings.Fields(line)
			if len(fields) >= 2 && fields[0] == id {
				state.Enabled = true
				state.Policy = strings.ToLower(fields[1])
			}
		}
	}
	return state
}
