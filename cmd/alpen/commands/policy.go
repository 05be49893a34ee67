package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test plan policies",
	}
	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyTestCommand())
	return cmd
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active policies, built-ins included",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "NAME\tSEVERITY\tSOURCE\tDESCRIPTION\n")
			for _, p := range rt.policy.ListPolicies() {
				source := p.Source
				if source == "" {
					source = "built-in"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Severity, source, p.Description)
			}
			return tw.Flush()
		},
	}
}

func newPolicyTestCommand() *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Evaluate policies against the plan for the given declarations",
		Long: `Build the plan the same way apply would and run every policy
against it, reporting all findings without applying anything.`,
		Example: `  alpen policy test -f desktop.yaml --policy ./policies`,
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
			result, err := rt.policy.EvaluatePlan(ctx, plan)
			if err != nil {
				return err
			}
			if len(result.Violations) == 0 {
				fmt.Println("ok: no policy findings")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "SEVERITY\tPOLICY\tRESOURCE\tMESSAGE\n")
			for _, v := range result.Violations {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Severity, v.Policy, v.Resource, v.Message)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if !result.Allowed {
				return &policyBlockedError{violations: result.Errors()}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "declaration file (repeatable)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
