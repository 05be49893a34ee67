package engine

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestSummarize_Counts(t *testing.T) {
	now := time.Now()
	run := &RunResult{
		RunID:      "run-1",
		Status:     RunStatusFailed,
		StartedAt:  now,
		FinishedAt: now.Add(3 * time.Second),
		Results: []ActionResult{
			{Action: action("a"), Status: StatusApplied},
			{Action: action("b"), Status: StatusSatisfied, SkipReason: SkipAlreadySatisfied},
			{Action: action("c"), Status: StatusFailed, Error: "boom", TimedOut: true},
			{Action: action("d"), Status: StatusSkipped, SkipReason: SkipDependencyFailed},
			{Action: action("e"), Status: StatusSkipped, SkipReason: SkipRunAborted},
		},
	}

	rep := Summarize(run)
	if rep.Applied != 1 || rep.Satisfied != 1 || rep.Failed != 1 {
		t.Errorf("counts applied=%d satisfied=%d failed=%d, want 1/1/1",
			rep.Applied, rep.Satisfied, rep.Failed)
	}
	if rep.SkippedDependency != 1 || rep.SkippedAborted != 1 {
		t.Errorf("skip counts dependency=%d aborted=%d, want 1/1",
			rep.SkippedDependency, rep.SkippedAborted)
	}
	if len(rep.Failures) != 1 {
		t.Fatalf("expected 1 failure entry, got %d", len(rep.Failures))
	}
	f := rep.Failures[0]
	if f.Ref != "package/c" || f.Reason != "boom" || !f.TimedOut {
		t.Errorf("failure entry %+v", f)
	}
	if rep.Converged() {
		t.Error("a run with failures must not report converged")
	}
	if rep.Duration != 3*time.Second {
		t.Errorf("duration %s, want 3s", rep.Duration)
	}
}

func TestSummarize_ConvergedRun(t *testing.T) {
	now := time.Now()
	rep := Summarize(&RunResult{
		RunID:      "run-2",
		Status:     RunStatusSucceeded,
		StartedAt:  now,
		FinishedAt: now,
		Results: []ActionResult{
			{Action: action("a"), Status: StatusApplied},
			{Action: action("b"), Status: StatusSatisfied, SkipReason: SkipAlreadySatisfied},
		},
	})
	if !rep.Converged() {
		t.Error("applied and satisfied actions should report converged")
	}
}

func TestReport_Write(t *testing.T) {
	now := time.Now()
	rep := Summarize(&RunResult{
		RunID:      "run-3",
		DryRun:     true,
		Status:     RunStatusSucceeded,
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
		Results: []ActionResult{
			{Action: action("git"), Status: StatusApplied},
		},
	})

	var buf bytes.Buffer
	if err := rep.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "dry run run-3") {
		t.Errorf("report should label dry runs:\n%s", out)
	}
	if !strings.Contains(out, "applied") {
		t.Errorf("report should list the applied count:\n%s", out)
	}
}
