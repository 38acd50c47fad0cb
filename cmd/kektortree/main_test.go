package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektortree/internal/server"
	"github.com/sanonone/kektortree/pkg/core/types"
	"github.com/sanonone/kektortree/pkg/engine"
)

// fakeOllama answers embedding requests: texts mentioning "socket" map to
// [1,0], everything else to [0,1].
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vec := []float64{0, 1}
		if strings.Contains(req.Prompt, "socket") {
			vec = []float64{1, 0}
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
	t.Cleanup(ts.Close)
	return ts
}

// testEnv writes a configuration pointing at a fresh data dir and a fake
// embedding provider.
func testEnv(t *testing.T) (configPath, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	configPath = filepath.Join(dir, "kektortree.yaml")
	cfg := fmt.Sprintf(`
engine:
  data_dir: %s
  sync_policy: always
embeddings:
  provider: ollama
  url: %s
  cache_size: 0
search:
  threshold: 0.5
log:
  level: error
`, dataDir, fakeOllama(t).URL)
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))
	return configPath, dataDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Definition(t *testing.T) {
	cmd := newRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "mcp", "insert", "search", "ingest", "dump", "export"})

	search, _, err := cmd.Find([]string{"search"})
	require.NoError(t, err)
	threshold := search.Flags().Lookup("threshold")
	require.NotNil(t, threshold)
	assert.Equal(t, "t", threshold.Shorthand)
	assert.NotNil(t, search.Flags().Lookup("server"))
}

func TestInsertSearchDumpExport(t *testing.T) {
	cfg, dataDir := testEnv(t)

	for _, in := range [][2]string{{"1,0", "a"}, {"0,1", "b"}, {"0.9,0.1", "c"}} {
		out, err := run(t, "-c", cfg, "insert", "--vector", in[0], "--url", in[1])
		require.NoError(t, err)
		assert.Equal(t, in[1]+"\n", out)
	}

	out, err := run(t, "-c", cfg, "search", "--vector", "1,0", "--json")
	require.NoError(t, err)
	var report types.SearchReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Results, 2)
	assert.Equal(t, "c", report.Results[0].Label)
	assert.Equal(t, "a", report.Results[1].Label)

	out, err = run(t, "-c", cfg, "search", "--vector", "1,0", "-t", "0.995")
	require.NoError(t, err)
	assert.Contains(t, out, "SCORE")
	assert.Contains(t, out, "1 results, 3 nodes visited")

	out, err = run(t, "-c", cfg, "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "a")

	exported := filepath.Join(t.TempDir(), "model.json")
	out, err = run(t, "-c", cfg, "export", exported)
	require.NoError(t, err)
	assert.Equal(t, exported+"\n", out)
	assert.FileExists(t, exported)

	// The data dir flag overrides the configuration.
	other := t.TempDir()
	_, err = run(t, "-c", cfg, "--data-dir", other, "insert", "--vector", "1,2,3")
	require.NoError(t, err)
	assert.DirExists(t, dataDir)
	assert.FileExists(t, filepath.Join(other, engine.DefaultOptions(other).JournalFilename))
}

func TestTextCommands(t *testing.T) {
	cfg, _ := testEnv(t)
	docs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(docs, "net.md"), []byte("socket handling"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "fs.txt"), []byte("file handling"), 0o644))

	out, err := run(t, "-c", cfg, "ingest", docs)
	require.NoError(t, err)
	assert.Equal(t, "2 files, 2 chunks, 0 unchanged, 0 failed\n", out)

	_, err = run(t, "-c", cfg, "insert", "--text", "socket pool", "--url", "pool")
	require.NoError(t, err)

	out, err = run(t, "-c", cfg, "search", "socket", "--json")
	require.NoError(t, err)
	var res struct {
		Query   string               `json:"query"`
		Results []types.SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "socket", res.Query)
	var labels []string
	for _, r := range res.Results {
		labels = append(labels, r.Label)
	}
	assert.ElementsMatch(t, []string{filepath.ToSlash(filepath.Join(docs, "net.md")) + "#0", "pool"}, labels)
}

func TestRemoteCommands(t *testing.T) {
	cfg, _ := testEnv(t)

	opts := engine.DefaultOptions(t.TempDir())
	opts.AutoSaveInterval = 0
	eng, err := engine.Open(opts)
	require.NoError(t, err)
	defer eng.Close()
	ts := httptest.NewServer(server.NewServer(eng, server.Options{MaxResults: 5}).Handler())
	defer ts.Close()

	out, err := run(t, "-c", cfg, "insert", "--server", ts.URL, "--vector", "1,0", "--url", "remote")
	require.NoError(t, err)
	assert.Equal(t, "remote\n", out)
	assert.Len(t, eng.Labels("remote", 0), 1)

	out, err = run(t, "-c", cfg, "search", "--server", ts.URL, "--vector", "1,0")
	require.NoError(t, err)
	assert.Contains(t, out, "remote")

	_, err = run(t, "-c", cfg, "export", "--server", ts.URL, "somewhere.json")
	assert.Error(t, err)
}

func TestCommandErrors(t *testing.T) {
	cfg, _ := testEnv(t)
	tests := [][]string{
		{"insert"},
		{"insert", "--vector", "1,x"},
		{"insert", "--vector", "1,0", "--text", "both"},
		{"search"},
		{"search", "q", "--vector", "1,0"},
		{"ingest"},
		{"--log-level", "loud", "dump"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, err := run(t, append([]string{"-c", cfg}, args...)...)
			assert.Error(t, err)
		})
	}

	_, err := run(t, "-c", filepath.Join(t.TempDir(), "missing.yaml"), "dump")
	assert.Error(t, err)
}

func TestParseVector(t *testing.T) {
	v, err := parseVector("1, -0.5 2e3")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -0.5, 2000}, v)

	_, err = parseVector(" , ")
	assert.Error(t, err)
}
