// Package ingest turns files into labeled vectors: Load -> Split -> Embed -> Insert.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sanonone/kektortree/pkg/embeddings"
	"github.com/sanonone/kektortree/pkg/metrics"
)

// Sink stores one embedded chunk. *engine.Engine satisfies it.
type Sink interface {
	Insert(vector []float64, label string) (string, error)
}

// Config holds the parameters of a Pipeline.
type Config struct {
	// Chunk size and overlap, in runes.
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`

	// Concurrency bounds the embedding requests in flight for one file.
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// Glob patterns matched against the file name. Empty includes all
	// supported files.
	IncludePatterns []string `yaml:"include_patterns" json:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns" json:"exclude_patterns"`

	// Debounce delays re-ingestion in Watch until a file stops changing.
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Concurrency:  4,
		Debounce:     400 * time.Millisecond,
	}
}

// Report summarizes a Run.
type Report struct {
	Files     int `json:"files"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	Chunks    int `json:"chunks"`
}

// Pipeline orchestrates the ingestion process.
type Pipeline struct {
	cfg      Config
	loader   Loader
	embedder embeddings.Embedder
	sink     Sink

	// fileMu serializes files so the chunks of one file are inserted together.
	fileMu sync.Mutex
	// files holds the ingestion state of every file seen so far.
	files map[string]fileState
}

// fileState records how far the content with the given hash got. inserted
// counts the leading chunks already in the sink.
type fileState struct {
	hash     string
	inserted int
	complete bool
}

// NewPipeline creates a ready-to-run pipeline.
func NewPipeline(cfg Config, embedder embeddings.Embedder, sink Sink) *Pipeline {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	return &Pipeline{
		cfg:      cfg,
		loader:   NewAutoLoader(),
		embedder: embedder,
		sink:     sink,
		files:    make(map[string]fileState),
	}
}

// Run ingests root, a file or a directory walked recursively. Files that
// fail are logged and counted; Run stops early only when ctx is done.
func (p *Pipeline) Run(ctx context.Context, root string) (Report, error) {
	var rep Report
	slog.Info("[Ingest] Scanning", "root", root)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // Skip unreadable entries
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !p.accepts(path) {
			return nil
		}

		rep.Files++
		n, err := p.IngestFile(ctx, path)
		switch {
		case errors.Is(err, ErrUnchanged):
			rep.Unchanged++
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rep.Failed++
			slog.Error("[Ingest] Error processing file", "path", path, "error", err)
		default:
			rep.Chunks += n
		}
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("ingest %s: %w", root, err)
	}

	slog.Info("[Ingest] Scan complete", "root", root, "files", rep.Files, "chunks", rep.Chunks,
		"unchanged", rep.Unchanged, "failed", rep.Failed)
	return rep, nil
}

// ErrUnchanged is returned by IngestFile when the file content matches the
// last ingested version.
var ErrUnchanged = errors.New("file unchanged")

// IngestFile loads, chunks, embeds and inserts a single file, labeling each
// chunk "path#n". It returns the number of chunks inserted.
//
// The tree cannot delete, so a changed file adds a new set of chunks next
// to the old ones. When an insert fails partway, the chunks already stored
// are remembered and a retry of the same content inserts only the rest.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (int, error) {
	p.fileMu.Lock()
	defer p.fileMu.Unlock()

	n, err := p.ingestFile(ctx, path)
	switch {
	case errors.Is(err, ErrUnchanged):
		metrics.IngestFilesTotal.WithLabelValues("unchanged").Inc()
	case err != nil:
		metrics.IngestFilesTotal.WithLabelValues("failed").Inc()
	default:
		metrics.IngestFilesTotal.WithLabelValues("ingested").Inc()
	}
	metrics.IngestChunksTotal.Add(float64(n))
	return n, err
}

func (p *Pipeline) ingestFile(ctx context.Context, path string) (int, error) {
	text, err := p.loader.Load(path)
	if err != nil {
		return 0, err
	}
	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])
	prev, seen := p.files[path]
	start := 0
	if seen && prev.hash == hash {
		if prev.complete {
			return 0, ErrUnchanged
		}
		start = prev.inserted
	}

	chunks := FixedSizeChunker(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if start > len(chunks) {
		start = 0
	}
	pending := chunks[start:]
	if len(pending) == 0 {
		p.files[path] = fileState{hash: hash, inserted: len(chunks), complete: true}
		return 0, nil
	}

	vectors, err := p.embedChunks(ctx, pending)
	if err != nil {
		return 0, err
	}

	label := filepath.ToSlash(path)
	for i, c := range pending {
		if _, err := p.sink.Insert(vectors[i], fmt.Sprintf("%s#%d", label, c.ChunkNumber)); err != nil {
			p.files[path] = fileState{hash: hash, inserted: start + i}
			return i, fmt.Errorf("insert chunk %d: %w", c.ChunkNumber, err)
		}
	}
	p.files[path] = fileState{hash: hash, inserted: len(chunks), complete: true}
	slog.Info("[Ingest] File processed", "path", path, "chunks", len(pending), "resumed_at", start)
	return len(pending), nil
}

// embedChunks embeds every chunk with at most cfg.Concurrency requests in
// flight. The result is in chunk order.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []Chunk) ([][]float64, error) {
	vectors := make([][]float64, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, c.Content)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", c.ChunkNumber, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// accepts applies the supported extensions, the dot-file rule and the
// include and exclude patterns to the file name.
func (p *Pipeline) accepts(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !Supported(path) {
		return false
	}
	if len(p.cfg.IncludePatterns) > 0 {
		matched := false
		for _, pattern := range p.cfg.IncludePatterns {
			if ok, _ := filepath.Match(pattern, name); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, pattern := range p.cfg.ExcludePatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return false
		}
	}
	return true
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
