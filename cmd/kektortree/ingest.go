package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektortree/pkg/ingest"
)

func newIngestCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Chunk, embed and insert files",
		Long: `Load the text of a file or of every supported file under a directory
(text, markdown, source code, PDF), split it into overlapping chunks,
embed each chunk and insert it with the label "<path>#<chunk>".

With --server the server host reads the path and the command waits for
the ingestion task. --watch keeps running and re-ingests changed files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if c := a.remote(); c != nil {
				if watch {
					return fmt.Errorf("--watch is not supported with --server; use serve --watch")
				}
				task, err := c.Ingest(ctx, root)
				if err != nil {
					return err
				}
				if err := task.Wait(ctx, 500*time.Millisecond); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "task %s: %s\n", task.ID, task.ProgressMessage)
				return nil
			}

			eng, err := a.openEngine()
			if err != nil {
				return err
			}
			defer eng.Close()
			defer saveOnExit(eng)

			p := ingest.NewPipeline(a.cfg.Ingest, a.embedder, eng)
			rep, err := p.Run(ctx, root)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d files, %d chunks, %d unchanged, %d failed\n",
				rep.Files, rep.Chunks, rep.Unchanged, rep.Failed)
			if watch {
				return p.Watch(ctx, root)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and re-ingest files as they change")
	a.addServerFlag(cmd)
	return cmd
}
