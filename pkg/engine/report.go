package engine

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Failure describes one failed action for the report.
type Failure struct {
	// Ref is the kind/id of the failed action's resource.
	Ref string `json:"ref"`

	// ActionType is the operation that failed.
	ActionType ActionType `json:"action_type"`

	// Reason is the backend's raw failure reason.
	Reason string `json:"reason"`

	// TimedOut marks deadline failures.
	TimedOut bool `json:"timed_out,omitempty"`
}

// Report aggregates a run result into operator-facing counts. Pure
// aggregation: deterministic for a given run result, no side effects.
type Report struct {
	RunID    string        `json:"run_id"`
	DryRun   bool          `json:"dry_run"`
	Status   RunStatus     `json:"status"`
	Duration time.Duration `json:"duration"`

	// Applied counts actions that mutated the system.
	Applied int `json:"applied"`

	// Satisfied counts resources already in their desired state.
	Satisfied int `json:"satisfied"`

	// SkippedDependency counts actions never attempted because a
	// dependency did not converge.
	SkippedDependency int `json:"skipped_dependency"`

	// SkippedAborted counts actions never attempted because the run
	// stopped early.
	SkippedAborted int `json:"skipped_aborted"`

	// Failed counts actions that were attempted and did not succeed.
	Failed int `json:"failed"`

	// Failures lists every failed action with its raw reason, in plan
	// order.
	Failures []Failure `json:"failures,omitempty"`
}

// Converged reports whether every resource reached its desired state.
func (r *Report) Converged() bool {
	return r.Failed == 0 && r.SkippedDependency == 0 && r.SkippedAborted == 0
}

// Summarize aggregates a run result into a report.
func Summarize(run *RunResult) *Report {
	rep := &Report{
		RunID:    run.RunID,
		DryRun:   run.DryRun,
		Status:   run.Status,
		Duration: run.FinishedAt.Sub(run.StartedAt),
	}
	for i := range run.Results {
		res := &run.Results[i]
		switch res.Status {
		case StatusApplied:
			rep.Applied++
		case StatusSatisfied:
			rep.Satisfied++
		case StatusSkipped:
			if res.SkipReason == SkipDependencyFailed {
				rep.SkippedDependency++
			} else {
				rep.SkippedAborted++
			}
		case StatusFailed:
			rep.Failed++
			rep.Failures = append(rep.Failures, Failure{
				Ref:        res.Action.Ref(),
				ActionType: res.Action.Type,
				Reason:     res.Error,
				TimedOut:   res.TimedOut,
			})
		}
	}
	return rep
}

// Write renders the report for a terminal.
func (r *Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	label := "run"
	if r.DryRun {
		label = "dry run"
	}
	fmt.Fprintf(tw, "%s %s\tstatus=%s\tduration=%s\n",
		label, r.RunID, r.Status, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(tw, "applied\t%d\n", r.Applied)
	fmt.Fprintf(tw, "already satisfied\t%d\n", r.Satisfied)
	if r.SkippedDependency > 0 {
		fmt.Fprintf(tw, "skipped (dependency failed)\t%d\n", r.SkippedDependency)
	}
	if r.SkippedAborted > 0 {
		fmt.Fprintf(tw, "skipped (run aborted)\t%d\n", r.SkippedAborted)
	}
	fmt.Fprintf(tw, "failed\t%d\n", r.Failed)
	for _, f := range r.Failures {
		suffix := ""
		if f.TimedOut {
			suffix = " (timeout)"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s%s\n", f.Ref, f.ActionType, f.Reason, suffix)
	}
	return tw.Flush()
}
