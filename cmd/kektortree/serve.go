package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sanonone/kektortree/internal/server"
	"github.com/sanonone/kektortree/pkg/engine"
	"github.com/sanonone/kektortree/pkg/ingest"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr  string
		watch string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API on the configured data directory.

With --watch, the directory is ingested at startup and re-ingested as
files change.

Examples:
  kektortree serve -c kektortree.yaml
  kektortree serve --addr :8080 --watch ./docs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, watch)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Override server.addr")
	cmd.Flags().StringVar(&watch, "watch", "", "Directory to ingest and watch for changes")
	return cmd
}

// serve runs the HTTP server, and the watcher when watch is set, until ctx
// is canceled or one of them fails.
func (a *app) serve(ctx context.Context, watch string) error {
	eng, err := a.openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	pipeline := ingest.NewPipeline(a.cfg.Ingest, a.embedder, eng)
	srv := server.NewServer(eng, server.Options{
		Addr:            a.cfg.Server.Addr,
		AuthToken:       a.cfg.Server.AuthToken,
		Threshold:       a.cfg.Search.Threshold,
		MaxResults:      a.cfg.Search.MaxResults,
		Rewrite:         a.cfg.Search.Rewrite,
		Pipeline:        pipeline,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})
	if watch != "" {
		g.Go(func() error {
			if _, err := pipeline.Run(gctx, watch); err != nil {
				return err
			}
			return pipeline.Watch(gctx, watch)
		})
	}

	err = g.Wait()
	saveOnExit(eng)
	return err
}

// saveOnExit writes a snapshot when inserts are pending so the next start
// does not replay them from the journal.
func saveOnExit(eng *engine.Engine) {
	if eng.Stats().UnsavedCount == 0 {
		return
	}
	if err := eng.Save(); err != nil {
		slog.Error("final snapshot failed", "error", err)
	}
}
