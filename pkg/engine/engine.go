// Package engine provides the high-level, embedded interface for kektortree.
//
// It owns one similarity tree and keeps it durable: every insert is written
// to an insert journal before it is applied, the whole tree is periodically
// written to a binary snapshot, and on Open the snapshot is loaded and the
// journal replayed on top of it.
//
// Basic usage:
//
//	opts := engine.DefaultOptions("./data")
//	eng, err := engine.Open(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sanonone/kektortree/pkg/core/distance"
	"github.com/sanonone/kektortree/pkg/core/tree"
	"github.com/sanonone/kektortree/pkg/embeddings"
	"github.com/sanonone/kektortree/pkg/persistence"
)

// SyncPolicy controls when journaled inserts reach the disk.
type SyncPolicy string

const (
	// SyncAlways flushes every insert to the OS before it is applied.
	SyncAlways SyncPolicy = "always"
	// SyncBatched buffers inserts and syncs them in the background.
	SyncBatched SyncPolicy = "batched"
)

// QueryRewriter turns a free-form question into a search query.
type QueryRewriter interface {
	Rewrite(ctx context.Context, raw string) (string, error)
}

// Options configures the behavior of the Engine, including persistence paths
// and automatic maintenance policies.
type Options struct {
	// DataDir is where the snapshot and journal live.
	// It is created automatically if it does not exist.
	DataDir string

	// SnapshotFilename is the binary snapshot inside DataDir.
	SnapshotFilename string

	// JournalFilename is the insert journal inside DataDir.
	JournalFilename string

	// ModelFilename is a JSON tree document inside DataDir. It is loaded
	// when no snapshot exists and is the default target of ExportJSON.
	ModelFilename string

	// Precision of embeddings in the snapshot. Float16 halves the file size
	// at the cost of a lossy round trip.
	Precision distance.PrecisionType

	// SyncPolicy selects the journal writer.
	SyncPolicy SyncPolicy

	// AutoSaveInterval defines how much time must pass since the last save
	// before a new snapshot is written (if AutoSaveThreshold is also met).
	// Set to 0 to disable auto-saving.
	AutoSaveInterval time.Duration

	// AutoSaveThreshold defines how many inserts must occur before a new
	// snapshot is written (if AutoSaveInterval is also met).
	// Set to 0 to disable auto-saving.
	AutoSaveThreshold int64

	// Dimension, when positive, is enforced on every vector. Otherwise it is
	// taken from the first vector the tree holds.
	Dimension int

	// Embedder is required by the text operations.
	Embedder embeddings.Embedder

	// Rewriter is optional; without it text searches embed the raw query.
	Rewriter QueryRewriter
}

// DefaultOptions returns a standard configuration suitable for most use cases.
//
// Defaults:
//   - SnapshotFilename: "kektortree.snap"
//   - JournalFilename: "kektortree.journal"
//   - ModelFilename: "search_model.json"
//   - AutoSave: every 60s if at least 1000 inserts occurred
//   - Journal: batched
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:           dataDir,
		SnapshotFilename:  "kektortree.snap",
		JournalFilename:   "kektortree.journal",
		ModelFilename:     persistence.DefaultModelPath,
		Precision:         distance.Float64,
		SyncPolicy:        SyncBatched,
		AutoSaveInterval:  60 * time.Second,
		AutoSaveThreshold: 1000,
	}
}

// Engine is the main entry point for kektortree.
//
// Use Open() to initialize an Engine and Close() to shut it down gracefully.
type Engine struct {
	opts Options

	tree    *tree.Tree
	labels  *labelRegistry
	journal persistence.JournalWriter

	snapPath    string
	journalPath string
	modelPath   string

	// writeMu serializes inserts and saves so the journal holds inserts in
	// the order they were applied, and a snapshot never races an insert.
	// Searches do not take it.
	writeMu      sync.Mutex
	dimension    atomic.Int64
	dirtyCounter atomic.Int64
	lastSaveTime time.Time

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open initializes a new Engine instance using the provided options.
//
// It performs the following actions:
// 1. Creates DataDir if missing.
// 2. Loads the snapshot, or the JSON model when there is no snapshot.
// 3. Replays the journal to recover inserts made after the last save.
// 4. Starts the background auto-save loop.
func Open(opts Options) (*Engine, error) {
	def := DefaultOptions(opts.DataDir)
	if opts.SnapshotFilename == "" {
		opts.SnapshotFilename = def.SnapshotFilename
	}
	if opts.JournalFilename == "" {
		opts.JournalFilename = def.JournalFilename
	}
	if opts.ModelFilename == "" {
		opts.ModelFilename = def.ModelFilename
	}
	if opts.Precision == "" {
		opts.Precision = def.Precision
	}
	if opts.SyncPolicy == "" {
		opts.SyncPolicy = def.SyncPolicy
	}
	if opts.SyncPolicy != SyncAlways && opts.SyncPolicy != SyncBatched {
		return nil, fmt.Errorf("unknown sync policy %q", opts.SyncPolicy)
	}

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	e := &Engine{
		opts:         opts,
		labels:       newLabelRegistry(),
		snapPath:     filepath.Join(opts.DataDir, opts.SnapshotFilename),
		journalPath:  filepath.Join(opts.DataDir, opts.JournalFilename),
		modelPath:    filepath.Join(opts.DataDir, opts.ModelFilename),
		lastSaveTime: time.Now(),
		closed:       make(chan struct{}),
	}
	if opts.Dimension > 0 {
		e.dimension.Store(int64(opts.Dimension))
	}

	// 1. Load the persisted tree, if any.
	if err := e.load(); err != nil {
		return nil, err
	}

	// 2. Replay the journal before it is reopened for appending.
	if err := e.replayJournal(); err != nil {
		return nil, fmt.Errorf("failed to replay journal: %w", err)
	}

	// 3. Open the journal.
	j, err := persistence.OpenJournal(e.journalPath)
	if err != nil {
		return nil, err
	}
	if opts.SyncPolicy == SyncBatched {
		e.journal = persistence.NewLazyJournal(j)
	} else {
		e.journal = j
	}

	e.refreshGauges()
	slog.Info("engine opened",
		"data_dir", opts.DataDir,
		"nodes", e.tree.Len(),
		"dimension", e.dimension.Load(),
		"sync_policy", opts.SyncPolicy,
	)

	// 4. Start background tasks.
	e.wg.Add(1)
	go e.backgroundTasks()

	return e, nil
}

// Close performs a clean shutdown of the Engine.
//
// It stops the background loop and closes the journal. It does not force a
// final snapshot: every insert is already in the journal and is replayed on
// the next Open.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.wg.Wait()

		e.writeMu.Lock()
		defer e.writeMu.Unlock()
		if e.journal != nil {
			err = e.journal.Close()
		}
	})
	return err
}

func (e *Engine) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

// backgroundTasks runs the auto-save policy once per second.
func (e *Engine) backgroundTasks() {
	defer e.wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.checkMaintenance()
		}
	}
}

// checkMaintenance writes a snapshot when both auto-save conditions hold.
func (e *Engine) checkMaintenance() {
	if e.opts.AutoSaveThreshold <= 0 || e.opts.AutoSaveInterval <= 0 {
		return
	}
	dirty := e.dirtyCounter.Load()
	e.writeMu.Lock()
	since := time.Since(e.lastSaveTime)
	e.writeMu.Unlock()

	if dirty >= e.opts.AutoSaveThreshold && since >= e.opts.AutoSaveInterval {
		if err := e.Save(); err != nil {
			// Log error but continue (background task)
			slog.Error("background snapshot failed", "error", err)
		}
	}
}
