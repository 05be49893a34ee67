package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate declaration files without touching the system",
		Long: `Load and validate declaration files: identifier uniqueness,
dependency resolution, cycle detection, and desired-state shape.
Reports every violation, not just the first. No backend is queried.`,
		Example: `  alpen validate -f desktop.yaml
  alpen validate -f base.yaml -f apps.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())
			model, err := rt.loadModel(cmd.Context(), files)
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d resources validated\n", len(model.Resources))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "declaration file (repeatable)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
