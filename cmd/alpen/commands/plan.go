package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alpenglow/alpenglow/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		files      []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would change",
		Long: `Inspect current system state, diff it against the declarations,
and print the ordered action plan. Inspection is read-only; nothing
is changed.`,
		Example: `  alpen plan -f desktop.yaml
  alpen plan -f desktop.yaml --json`,
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

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(plan)
			}
			return printPlan(plan)
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "declaration file (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the plan as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func printPlan(plan *engine.Plan) error {
	if plan.IsConverged() {
		fmt.Printf("no changes: all %d resources already in desired state\n", len(plan.Actions))
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ACTION\tRESOURCE\tREASON\n")
	for i := range plan.Actions {
		a := &plan.Actions[i]
		if !a.Type.Mutates() {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Type, a.Ref(), a.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d to change, %d already satisfied\n",
		plan.MutationCount(), len(plan.Actions)-plan.MutationCount())
	return nil
}
