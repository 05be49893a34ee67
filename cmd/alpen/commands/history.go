package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alpenglow/alpenglow/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past runs",
		Long: `List recorded runs, or show the per-action detail of one run when a
run ID is given.`,
		Example: `  alpen history
  alpen history 2f1c9a4e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				return showRun(cmd, args[0], store)
			}

			runs, err := store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "RUN\tSTATUS\tDRY\tAPPLIED\tSATISFIED\tSKIPPED\tFAILED\tSTARTED\n")
			for _, run := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%v\t%d\t%d\t%d\t%d\t%s\n",
					run.ID, run.Status, run.DryRun,
					run.Applied, run.Satisfied, run.Skipped, run.Failed,
					run.StartedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	return cmd
}

func showRun(cmd *cobra.Command, runID string, store stores.Store) error {
	ctx := cmd.Context()
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	finished := "-"
	if run.FinishedAt != nil {
		finished = run.FinishedAt.Format(time.RFC3339)
	}
	fmt.Printf("run %s\nstatus: %s  dry_run: %v\nstarted: %s  finished: %s\n\n",
		run.ID, run.Status, run.DryRun,
		run.StartedAt.Format(time.RFC3339), finished)

	records, err := store.ListActionRecords(ctx, runID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tACTION\tRESOURCE\tSTATUS\tDETAIL\n")
	for _, rec := range records {
		detail := rec.SkipReason
		if rec.Error != "" {
			detail = rec.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s/%s\t%s\t%s\n",
			rec.Position, rec.ActionType, rec.Kind, rec.ResourceID, rec.Status, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	events, err := store.ListEvents(ctx, runID, 0)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Println()
		for _, ev := range events {
			fmt.Printf("[%s] %s %s: %s\n",
				ev.CreatedAt.Format(time.RFC3339), ev.Level, ev.Resource, ev.Message)
		}
	}
	return nil
}
