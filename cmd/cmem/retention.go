package main

import (
	"github.com/spf13/cobra"

	"github.com/iammorganparry/cmem/internal/models"
)

func newRetentionCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Inspect and run retention",
	}

	var dryRun bool
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Expire idle projects and purge old soft-deleted rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Sweeper.Cleanup(cmd.Context(), models.CleanupRequest{DryRun: dryRun})
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cleanup.Flags().BoolVar(&dryRun, "dry-run", false, "Report decisions and counts without deleting")

	policies := &cobra.Command{
		Use:   "policies",
		Short: "List per-project retention policies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.Sweeper.ListPolicies(cmd.Context())
			if err != nil {
				return err
			}
			if list == nil {
				list = []*models.RetentionPolicy{}
			}
			return printJSON(cmd, list)
		},
	}

	cmd.AddCommand(cleanup, policies)
	return cmd
}
