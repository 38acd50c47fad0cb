package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektortree/pkg/core/distance"
	"github.com/sanonone/kektortree/pkg/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kektortree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9091", cfg.Server.Addr)
	assert.Equal(t, "kektor_data", cfg.Engine.DataDir)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TEST_DATA_DIR", "/var/lib/kt")
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:8080"
engine:
  data_dir: ${TEST_DATA_DIR}
  precision: float16
  sync_policy: always
  auto_save_interval: 30s
  dimension: 768
search:
  threshold: 0.8
  rewrite: true
ingest:
  chunk_size: 500
  debounce: 1s
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, "/var/lib/kt", cfg.Engine.DataDir)
	assert.Equal(t, 0.8, cfg.Search.Threshold)
	assert.True(t, cfg.Search.Rewrite)
	// Unset keys keep their defaults.
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 500, cfg.Ingest.ChunkSize)
	assert.Equal(t, time.Second, cfg.Ingest.Debounce)

	opts := cfg.EngineOptions()
	assert.Equal(t, distance.Float16, opts.Precision)
	assert.Equal(t, engine.SyncAlways, opts.SyncPolicy)
	assert.Equal(t, 30*time.Second, opts.AutoSaveInterval)
	assert.Equal(t, 768, opts.Dimension)
	assert.Equal(t, "/var/lib/kt", opts.DataDir)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"unknown key", "engine:\n  data_dirr: x\n", "YAML syntax error"},
		{"bad precision", "engine:\n  precision: int8\n", "engine.precision"},
		{"bad sync policy", "engine:\n  sync_policy: never\n", "engine.sync_policy"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
		{"negative max results", "search:\n  max_results: -1\n", "search.max_results"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorContains(t, err, tt.msg)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvAuthToken, "secret")
	t.Setenv(EnvLLMKey, "llm-key")
	t.Setenv(EnvOpenAIFallback, "sk-fallback")

	cfg, err := Load(writeConfig(t, "server:\n  auth_token: from-file\nembeddings:\n  provider: openai\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Server.AuthToken)
	assert.Equal(t, "llm-key", cfg.LLM.APIKey)
	assert.Equal(t, "sk-fallback", cfg.Embeddings.APIKey)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf).Debug("shown", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
