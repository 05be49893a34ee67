package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/alpenglow/alpenglow/pkg/engine"
)

const rcUpdateShow = ` crond | default
 networking | boot
 sshd | default
`

func decodeService(t *testing.T, obs *engine.Observation) engine.ServiceState {
	t.Helper()
	var state engine.ServiceState
	if err := json.Unmarshal(obs.Current, &state); err != nil {
		t.Fatalf("decoding observation: %v", err)
	}
	return state
}

func TestOpenRCQuery_EnabledAndRunning(t *testing.T) {
	runner := newFakeRunner()
	runner.out["rc-update show default"] = rcUpdateShow
	runner.out["rc-service sshd status"] = " * status: started\n"

	obs, err := NewOpenRCBackend(runner).Query(context.Background(), engine.KindService, "sshd")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !decodeService(t, obs).Enabled {
		t.Error("service in runlevel and started should report enabled")
	}
}

func TestOpenRCQuery_InRunlevelButStopped(t *testing.T) {
	runner := newFakeRunner()
	runner.out["rc-update show default"] = rcUpdateShow
	runner.errs["rc-service sshd status"] = realExitError(t, 3)

	obs, err := NewOpenRCBackend(runner).Query(context.Background(), engine.KindService, "sshd")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if decodeService(t, obs).Enabled {
		t.Error("stopped service should not report enabled")
	}
}

func TestOpenRCQuery_NotInRunlevel(t *testing.T) {
	runner := newFakeRunner()
	runner.out["rc-update show default"] = rcUpdateShow
	runner.out["rc-service dbus status"] = " * status: started\n"

	obs, err := NewOpenRCBackend(runner).Query(context.Background(), engine.KindService, "dbus")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if decodeService(t, obs).Enabled {
		t.Error("running service outside the runlevel should not report enabled")
	}
}

func TestOpenRCApply_Enable(t *testing.T) {
	runner := newFakeRunner()
	action := &engine.Action{
		Type:    engine.ActionEnable,
		Kind:    engine.KindService,
		ID:      "sshd",
		Desired: json.RawMessage(`{"enabled":true}`),
	}
	if err := NewOpenRCBackend(runner).Apply(context.Background(), action); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !runner.calledWith("rc-update add sshd default") {
		t.Errorf("expected rc-update add, calls: %v", runner.calls)
	}
	if !runner.calledWith("rc-service sshd start") {
		t.Errorf("expected rc-service start, calls: %v", runner.calls)
	}
}

func TestOpenRCApply_EnableToleratesExistingRunlevelEntry(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["rc-update add sshd default"] = fmt.Errorf(
		"rc-update: %w: sshd already installed in runlevel `default'", realExitError(t, 1))

	action := &engine.Action{
		Type:    engine.ActionEnable,
		Kind:    engine.KindService,
		ID:      "sshd",
		Desired: json.RawMessage(`{"enabled":true}`),
	}
	if err := NewOpenRCBackend(runner).Apply(context.Background(), action); err != nil {
		t.Fatalf("pre-existing runlevel entry should not fail the enable: %v", err)
	}
	if !runner.calledWith("rc-service sshd start") {
		t.Error("service should still be started")
	}
}

func TestOpenRCApply_Disable(t *testing.T) {
	runner := newFakeRunner()
	action := &engine.Action{
		Type:    engine.ActionDisable,
		Kind:    engine.KindService,
		ID:      "telnetd",
		Desired: json.RawMessage(`{"enabled":false}`),
	}
	if err := NewOpenRCBackend(runner).Apply(context.Background(), action); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !runner.calledWith("rc-service telnetd stop") || !runner.calledWith("rc-update del telnetd default") {
		t.Errorf("expected stop then del, calls: %v", runner.calls)
	}
}

func TestServiceInRunlevel(t *testing.T) {
	if !serviceInRunlevel(rcUpdateShow, "sshd") {
		t.Error("sshd should be found")
	}
	if serviceInRunlevel(rcUpdateShow, "ssh") {
		t.Error("prefix of a service name should not match")
	}
	if serviceInRunlevel("", "sshd") {
		t.Error("empty output should match nothing")
	}
}
