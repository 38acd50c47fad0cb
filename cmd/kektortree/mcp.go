package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektortree/internal/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP tool server over stdio",
		Long: `Run an MCP server on stdin/stdout exposing the tools "remember",
"recall" and "memory_stats". Logs are written to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := a.openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			defer saveOnExit(eng)

			return mcp.ServeStdio(ctx, eng, mcp.Defaults{
				Threshold:  a.cfg.Search.Threshold,
				MaxResults: a.cfg.Search.MaxResults,
				Rewrite:    a.cfg.Search.Rewrite,
			})
		},
	}
}
