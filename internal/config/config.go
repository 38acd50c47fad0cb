// Package config defines the YAML configuration of the kektortree binary.
//
// Loading starts from DefaultConfig, expands ${VAR} references in the file,
// decodes it in strict mode (unknown keys are errors) and finally applies
// the KEKTORTREE_* environment overrides for secrets.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/kektortree/pkg/core/distance"
	"github.com/sanonone/kektortree/pkg/embeddings"
	"github.com/sanonone/kektortree/pkg/engine"
	"github.com/sanonone/kektortree/pkg/ingest"
	"github.com/sanonone/kektortree/pkg/llm"
)

// Environment variables that override secrets from the file.
const (
	EnvAuthToken      = "KEKTORTREE_AUTH_TOKEN"
	EnvEmbeddingsKey  = "KEKTORTREE_EMBEDDINGS_API_KEY"
	EnvLLMKey         = "KEKTORTREE_LLM_API_KEY"
	EnvOpenAIFallback = "OPENAI_API_KEY"
)

// Config is the top-level structure of the configuration file.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Engine     EngineConfig      `yaml:"engine"`
	Search     SearchConfig      `yaml:"search"`
	Embeddings embeddings.Config `yaml:"embeddings"`
	LLM        llm.Config        `yaml:"llm"`
	Ingest     ingest.Config     `yaml:"ingest"`
	Log        LogConfig         `yaml:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// AuthToken enables bearer authentication when set.
	AuthToken string `yaml:"auth_token"`
	// ShutdownTimeout bounds the graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EngineConfig mirrors engine.Options.
type EngineConfig struct {
	DataDir           string        `yaml:"data_dir"`
	Precision         string        `yaml:"precision"`   // "float64" or "float16"
	SyncPolicy        string        `yaml:"sync_policy"` // "always" or "batched"
	AutoSaveInterval  time.Duration `yaml:"auto_save_interval"`
	AutoSaveThreshold int64         `yaml:"auto_save_threshold"`
	Dimension         int           `yaml:"dimension"`
}

// SearchConfig holds the defaults for requests that omit them.
type SearchConfig struct {
	Threshold  float64 `yaml:"threshold"`
	MaxResults int     `yaml:"max_results"`
	// Rewrite enables LLM query rewriting for text searches.
	Rewrite bool `yaml:"rewrite"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns a working configuration for a local Ollama.
func DefaultConfig() Config {
	def := engine.DefaultOptions("kektor_data")
	return Config{
		Server: ServerConfig{
			Addr:            ":9091",
			ShutdownTimeout: 5 * time.Second,
		},
		Engine: EngineConfig{
			DataDir:           def.DataDir,
			Precision:         string(def.Precision),
			SyncPolicy:        string(def.SyncPolicy),
			AutoSaveInterval:  def.AutoSaveInterval,
			AutoSaveThreshold: def.AutoSaveThreshold,
		},
		Search: SearchConfig{
			Threshold:  0.5,
			MaxResults: 5,
		},
		Embeddings: embeddings.DefaultConfig(),
		LLM:        llm.DefaultConfig(),
		Ingest:     ingest.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML configuration file using strict parsing. An empty
// path returns the defaults with the environment overrides applied.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("could not read configuration file '%s': %w", path, err)
		}

		decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAuthToken); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv(EnvEmbeddingsKey); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv(EnvLLMKey); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(EnvOpenAIFallback); v != "" {
		if c.Embeddings.APIKey == "" && c.Embeddings.Provider == "openai" {
			c.Embeddings.APIKey = v
		}
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = v
		}
	}
}

// Validate checks the values that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	if c.Engine.DataDir == "" {
		errs = append(errs, errors.New("engine.data_dir is required"))
	}
	if _, err := distance.ParsePrecision(c.Engine.Precision); err != nil {
		errs = append(errs, fmt.Errorf("engine.precision: %w", err))
	}
	switch engine.SyncPolicy(c.Engine.SyncPolicy) {
	case "", engine.SyncAlways, engine.SyncBatched:
	default:
		errs = append(errs, fmt.Errorf("engine.sync_policy: unknown value %q", c.Engine.SyncPolicy))
	}
	if c.Engine.Dimension < 0 {
		errs = append(errs, errors.New("engine.dimension must not be negative"))
	}
	if c.Search.MaxResults < 0 {
		errs = append(errs, errors.New("search.max_results must not be negative"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := c.Log.Format; f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format: unknown value %q", f))
	}
	return errors.Join(errs...)
}

// EngineOptions converts the engine section. The embedder and rewriter
// are attached by the caller.
func (c Config) EngineOptions() engine.Options {
	opts := engine.DefaultOptions(c.Engine.DataDir)
	if p, err := distance.ParsePrecision(c.Engine.Precision); err == nil {
		opts.Precision = p
	}
	if c.Engine.SyncPolicy != "" {
		opts.SyncPolicy = engine.SyncPolicy(c.Engine.SyncPolicy)
	}
	opts.AutoSaveInterval = c.Engine.AutoSaveInterval
	opts.AutoSaveThreshold = c.Engine.AutoSaveThreshold
	opts.Dimension = c.Engine.Dimension
	return opts
}

// NewLogger builds the slog logger described by the log section.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Level)
	hopts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
