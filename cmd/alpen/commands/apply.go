package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/alpenglow/alpenglow/pkg/engine"
	"github.com/alpenglow/alpenglow/pkg/stores"
)

func newApplyCommand() *cobra.Command {
	var (
		files         []string
		dryRun        bool
		stopOnFailure bool
		concurrency   int
		actionTimeout time.Duration
		noHistory     bool
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge the system toward the declared state",
		Long: `Inspect current state, plan the minimal set of changes, and apply
them through the system backends. Independent actions run in
parallel; dependents wait for their dependencies and are skipped if
a dependency fails. The exit code is 0 only when every resource
converged.`,
		Example: `  # Converge
  alpen apply -f desktop.yaml

  # Preview without side effects
  alpen apply -f desktop.yaml --dry-run

  # Serial, stop at the first failure
  alpen apply -f desktop.yaml --concurrency 1 --stop-on-failure`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)
			model, err := rt.loadModel(ctx, files)
			if err != nil {
				return err
			}
			registry, err := newRegistry()
			if err != nil {
				return err
			}
			plan, err := rt.buildPlan(ctx, model, registry)
			if err != nil {
				return err
			}
			if err := rt.gatePlan(ctx, plan); err != nil {
				return err
			}

			var sink engine.EventSink = engine.NopSink{}
			if !noHistory {
				store, err := openStore(ctx)
				if err != nil {
					rt.logger.WithError(err).Warn("run history disabled")
				} else {
					defer store.Close()
					sink = stores.NewRunRecorder(store, rt.logger)
				}
			}

			executor := engine.NewExecutor(registry, sink, rt.logger, rt.metrics,
				engine.WithExecutorTracer(rt.tracer))
			result, err := executor.Apply(ctx, plan, engine.Policy{
				DryRun:             dryRun,
				StopOnFirstFailure: stopOnFailure,
				Concurrency:        concurrency,
				ActionTimeout:      actionTimeout,
			})
			if err != nil {
				return err
			}

			report := engine.Summarize(result)
			if jsonOutput {
				if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
					return err
				}
			} else if err := report.Write(os.Stdout); err != nil {
				return err
			}
			if !report.Converged() {
				return &notConvergedError{report: report}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "declaration file (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan and report without applying anything")
	cmd.Flags().BoolVar(&stopOnFailure, "stop-on-failure", false, "stop issuing actions after the first failure")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "max parallel actions")
	cmd.Flags().DurationVar(&actionTimeout, "timeout", engine.DefaultActionTimeout, "per-action backend timeout")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the run in the history database")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the report as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func openStore(ctx context.Context) (stores.Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
