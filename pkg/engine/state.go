package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashContent returns the hex SHA-256 digest of a file body, matching the
// digests backends report in file observations.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// VersionLatest is the package version constraint that tracks the newest
// version the configured repositories offer.
const VersionLatest = "latest"

// PackageState describes a package resource. Desired and observed states
// share the struct; UpgradeAvailable is only meaningful on observations.
type PackageState struct {
	// Present declares or reports installation.
	Present bool `json:"present"`

	// Version is a constraint on the desired side (empty means any,
	// VersionLatest means track newest) and the installed version on the
	// observed side.
	Version string `json:"version,omitempty"`

	// UpgradeAvailable reports that the repositories carry a newer
	// version than the installed one. Observation only.
	UpgradeAvailable bool `json:"upgrade_available,omitempty"`
}

// ServiceState describes a service resource.
type ServiceState struct {
	// Enabled declares or reports whether the service starts at boot and
	// is running.
	Enabled bool `json:"enabled"`
}

// RepositoryState describes a package repository channel.
type RepositoryState struct {
	// Enabled declares or reports whether the repository is active.
	Enabled bool `json:"enabled"`

	// URL is the repository location. Required on the desired side when
	// Enabled is true.
	URL string `json:"url,omitempty"`
}

// FileState describes a managed file.
type FileState struct {
	// Present declares or reports existence.
	Present bool `json:"present"`

	// Content is the desired file body. Desired side only; observations
	// carry the hash instead.
	Content string `json:"content,omitempty"`

	// SHA256 is the hex digest of the file body. Set on observations and
	// derivable on the desired side from Content.
	SHA256 string `json:"sha256,omitempty"`

	// Mode is the octal permission string, e.g. "0644". Empty means
	// unmanaged.
	Mode string `json:"mode,omitempty"`
}

// FirewallState describes a firewall rule or default policy.
type FirewallState struct {
	// Enabled declares or reports whether the rule is active.
	Enabled bool `json:"enabled"`

	// Policy is the rule verdict, e.g. "allow" or "deny".
	Policy string `json:"policy,omitempty"`
}

// DecodeState decodes a kind-specific state payload into its typed struct.
func DecodeState(kind Kind, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty state payload for kind %q", kind)
	}
	var (
		out any
		err error
	)
	switch kind {
	case KindPackage:
		var s PackageState
		err = json.Unmarshal(raw, &s)
		out = s
	case KindService:
		var s ServiceState
		err = json.Unmarshal(raw, &s)
		out = s
	case KindRepository:
		var s RepositoryState
		err = json.Unmarshal(raw, &s)
		out = s
	case KindFile:
		var s FileState
		err = json.Unmarshal(raw, &s)
		out = s
	case KindFirewallRule:
		var s FirewallState
		err = json.Unmarshal(raw, &s)
		out = s
	default:
		return nil, fmt.Errorf("unknown resource kind: %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s state: %w", kind, err)
	}
	return out, nil
}

// EncodeState marshals a typed state struct for transport and hashing.
func EncodeState(state any) (json.RawMessage, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return raw, nil
}

// Classify derives the action type reconciling the observation with the
// desired state. An unknown observation yields the mutating action for the
// desired state rather than a no-op, failing safe toward convergence.
func Classify(res *Resource, obs *Observation) (ActionType, string, error) {
	desired, err := DecodeState(res.Kind, res.Desired)
	if err != nil {
		return "", "", err
	}

	if obs.Unknown {
		t := mutationFor(res.Kind, desired)
		return t, "current state unknown", nil
	}

	current, err := DecodeState(res.Kind, obs.Current)
	if err != nil {
		return "", "", err
	}

	switch res.Kind {
	case KindPackage:
		return classifyPackage(desired.(PackageState), current.(PackageState))
	case KindService:
		d, c := desired.(ServiceState), current.(ServiceState)
		if d.Enabled == c.Enabled {
			return ActionNoop, "already in desired state", nil
		}
		if d.Enabled {
			return ActionEnable, "service disabled, desired enabled", nil
		}
		return ActionDisable, "service enabled, desired disabled", nil
	case KindRepository:
		d, c := desired.(RepositoryState), current.(RepositoryState)
		if d.Enabled == c.Enabled && (!d.Enabled || d.URL == "" || d.URL == c.URL) {
			return ActionNoop, "already in desired state", nil
		}
		if d.Enabled {
			return ActionEnable, "repository not active", nil
		}
		return ActionDisable, "repository active, desired disabled", nil
	case KindFile:
		return classifyFile(desired.(FileState), current.(FileState))
	case KindFirewallRule:
		d, c := desired.(FirewallState), current.(FirewallState)
		if d.Enabled == c.Enabled && (!d.Enabled || d.Policy == "" || d.Policy == c.Policy) {
			return ActionNoop, "already in desired state", nil
		}
		if !d.Enabled {
			return ActionDisable, "rule active, desired disabled", nil
		}
		if !c.Enabled {
			return ActionEnable, "rule not active", nil
		}
		return ActionWrite, fmt.Sprintf("policy %q, desired %q", c.Policy, d.Policy), nil
	default:
		return "", "", fmt.Errorf("unknown resource kind: %q", res.Kind)
	}
}

func classifyPackage(d, c PackageState) (ActionType, string, error) {
	switch {
	case d.Present && !c.Present:
		return ActionInstall, "package absent, desired present", nil
	case !d.Present && c.Present:
		return ActionRemove, "package present, desired absent", nil
	case !d.Present && !c.Present:
		return ActionNoop, "already absent", nil
	case d.Version == VersionLatest && c.UpgradeAvailable:
		return ActionUpgrade, "newer version available", nil
	case d.Version != "" && d.Version != VersionLatest && d.Version != c.Version:
		return ActionUpgrade, fmt.Sprintf("version %q, desired %q", c.Version, d.Version), nil
	default:
		return ActionNoop, "already in desired state", nil
	}
}

func classifyFile(d, c FileState) (ActionType, string, error) {
	if !d.Present {
		if c.Present {
			return ActionRemove, "file present, desired absent", nil
		}
		return ActionNoop, "already absent", nil
	}
	if !c.Present {
		return ActionWrite, "file absent", nil
	}
	want := d.SHA256
	if want == "" && d.Content != "" {
		want = HashContent(d.Content)
	}
	if want != "" && want != c.SHA256 {
		return ActionWrite, "content differs", nil
	}
	if d.Mode != "" && c.Mode != "" && d.Mode != c.Mode {
		return ActionWrite, fmt.Sprintf("mode %s, desired %s", c.Mode, d.Mode), nil
	}
	return ActionNoop, "already in desired state", nil
}

// mutationFor picks the action that drives an unknown state toward the
// desired one.
func mutationFor(kind Kind, desired any) ActionType {
	switch kind {
	case KindPackage:
		if desired.(PackageState).Present {
			return ActionInstall
		}
		return ActionRemove
	case KindService:
		if desired.(ServiceState).Enabled {
			return ActionEnable
		}
		return ActionDisable
	case KindRepository:
		if desired.(RepositoryState).Enabled {
			return ActionEnable
		}
		return ActionDisable
	case KindFile:
		if desired.(FileState).Present {
			return ActionWrite
		}
		return ActionRemove
	case KindFirewallRule:
		if desired.(FirewallState).Enabled {
			return ActionEnable
		}
		return ActionDisable
	default:
		return ActionWrite
	}
}
