package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektortree/internal/config"
	"github.com/sanonone/kektortree/pkg/client"
	"github.com/sanonone/kektortree/pkg/embeddings"
	"github.com/sanonone/kektortree/pkg/engine"
	"github.com/sanonone/kektortree/pkg/llm"
)

// app holds the persistent flags and the loaded configuration shared by
// every subcommand.
type app struct {
	configPath string
	dataDir    string
	logLevel   string
	serverURL  string

	cfg      config.Config
	embedder embeddings.Embedder
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "kektortree",
		Short: "kektortree - a cosine similarity tree for semantic search",
		Long: `kektortree stores labeled embeddings in a binary tree ordered by cosine
similarity and answers threshold queries by a bounded depth-first descent.

It runs as an HTTP server, as an MCP tool server, or directly on a data
directory from the command line.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "Path to the YAML configuration file")
	pf.StringVar(&a.dataDir, "data-dir", "", "Override engine.data_dir")
	pf.StringVar(&a.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(a),
		newMCPCmd(a),
		newInsertCmd(a),
		newSearchCmd(a),
		newIngestCmd(a),
		newDumpCmd(a),
		newExportCmd(a),
	)
	return root
}

// load reads the configuration, applies flag overrides and installs the
// default logger. Logs go to stderr so stdout stays clean for output and
// for the MCP stdio transport.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.Engine.DataDir = a.dataDir
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg
	slog.SetDefault(cfg.Log.NewLogger(cmd.ErrOrStderr()))
	return nil
}

// openEngine opens the engine on the configured data directory with the
// configured embedder and query rewriter. The embedder is kept on a for
// the ingestion pipeline.
func (a *app) openEngine() (*engine.Engine, error) {
	opts := a.cfg.EngineOptions()

	emb, err := embeddings.New(a.cfg.Embeddings)
	if err != nil {
		return nil, err
	}
	opts.Embedder = emb
	a.embedder = emb
	opts.Rewriter = llm.NewRewriter(llm.NewClient(a.cfg.LLM), a.cfg.LLM.RewritePrompt)

	return engine.Open(opts)
}

// remote returns a client when --server is set, nil otherwise.
func (a *app) remote() *client.Client {
	if a.serverURL == "" {
		return nil
	}
	return client.New(a.serverURL, a.cfg.Server.AuthToken)
}

// addServerFlag lets a command talk to a running server instead of
// opening the data directory.
func (a *app) addServerFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.serverURL, "server", "", "Base URL of a running kektortree server (e.g. http://localhost:9091)")
}

// parseVector parses a comma or space separated list of numbers.
func parseVector(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty vector")
	}
	vec := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		vec[i] = v
	}
	return vec, nil
}
