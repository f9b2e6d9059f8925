package main

import (
	"github.com/spf13/cobra"
)

func newQueueCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Operate the durable work queue",
	}

	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Reset stale processing items and drain every session with pending work",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Processor.RecoverAll(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	var sessionID string
	retry := &cobra.Command{
		Use:   "retry-failed",
		Short: "Re-arm terminally failed items and drain them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Processor.RetryFailed(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"retried": n})
		},
	}
	retry.Flags().StringVar(&sessionID, "session", "", "Only retry items of this session")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print queue counts by status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.Processor.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, s)
		},
	}

	cmd.AddCommand(recoverCmd, retry, stats)
	return cmd
}
