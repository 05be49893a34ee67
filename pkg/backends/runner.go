// Package backends provides the system adapters the engine inspects and
// mutates state through: the apk package manager, apk repositories,
// OpenRC services, files, and ufw firewall rules.
package backends

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes external commands. Backends never call the exec package
// directly; going through Runner keeps them testable without a live
// system.
type Runner interface {
	// Run executes the command and returns its stdout. A non-zero exit
	// produces an error carrying the command's stderr.
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands on the local system.
type ExecRunner struct{}

// Run implements Runner via exec.CommandContext.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg != "" {
			return "", fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return stdout.String(), nil
}

// exitCode extracts the process exit code from a Runner error, or -1 when
// the command did not run.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
