package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/cmem/internal/logging"
	"github.com/iammorganparry/cmem/internal/mcp"
)

const version = "0.1.0"

func newMCPCmd(g *globalFlags) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve memory tools over MCP stdio, backed by a running cmem server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = os.Getenv("CMEM_SERVER_URL")
			}
			if serverURL == "" {
				serverURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
			}

			// stdout carries the protocol, so logs go to stderr.
			logger := logging.New(logging.WithLevel(cfg.LogLevel), logging.WithWriter(os.Stderr))
			s := mcp.NewServer(serverURL, cfg.APIKey, version, logger)
			return s.RunStdio(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "cmem HTTP server URL (default: $CMEM_SERVER_URL or localhost:<port>)")
	return cmd
}
