package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/cmem/internal/app"
	"github.com/iammorganparry/cmem/internal/config"
	"github.com/iammorganparry/cmem/internal/logging"
)

const rootLongDesc string = `cmem keeps durable memory for coding-agent sessions.

Hooks post prompts, tool events and closing messages; cmem queues them,
turns them into observations and summaries, and serves hybrid search.

  cmem serve                       Run the HTTP service
  cmem retention cleanup --dry-run Report what retention would delete
  cmem queue recover               Reset stale work and drain every session
  cmem queue retry-failed          Re-arm terminally failed items
  cmem mcp                         Serve memory tools over MCP stdio`

type globalFlags struct {
	configPath string
	dbPath     string
	debug      bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:          "cmem",
		Short:        "cmem - durable session memory",
		Long:         rootLongDesc,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "YAML config file (default: $CMEM_CONFIG)")
	cmd.PersistentFlags().StringVar(&g.dbPath, "db", "", "SQLite database path (overrides config)")
	cmd.PersistentFlags().BoolVarP(&g.debug, "debug", "d", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newRetentionCmd(g))
	cmd.AddCommand(newQueueCmd(g))
	cmd.AddCommand(newMCPCmd(g))

	return cmd
}

// load resolves configuration for a subcommand.
func (g *globalFlags) load() (*config.Config, error) {
	path := g.configPath
	if path == "" {
		path = os.Getenv("CMEM_CONFIG")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if g.dbPath != "" {
		cfg.DBPath = g.dbPath
	}
	if g.debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// open builds the application for one-shot commands. Logs go to stderr so
// stdout carries only the JSON result.
func (g *globalFlags) open() (*app.App, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(
		logging.WithLevel(cfg.LogLevel),
		logging.WithFormat(logging.FormatPretty),
		logging.WithWriter(os.Stderr),
	)
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return a, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
