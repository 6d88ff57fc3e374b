package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentbus/logging"
)

type globalFlags struct {
	logLevel  string
	logFormat string
}

func (g *globalFlags) logger(w io.Writer) *logging.StructuredLogger {
	return logging.New(logging.Config{
		Level:     logging.ParseLevel(g.logLevel),
		Format:    g.logFormat,
		Output:    w,
		Component: "cli",
	})
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "agentbus",
		Short:         "Run agent pipelines and inspect MCP servers",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(newRunCmd(g), newMCPCmd(g))

	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
