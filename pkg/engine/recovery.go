package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sanonone/kektortree/pkg/core/tree"
	"github.com/sanonone/kektortree/pkg/metrics"
	"github.com/sanonone/kektortree/pkg/persistence"
)

// load restores the tree from the snapshot, or from the JSON model when no
// snapshot exists, or starts an empty tree.
func (e *Engine) load() error {
	switch {
	case fileExists(e.snapPath):
		t, hdr, err := persistence.LoadSnapshotFile(e.snapPath)
		if err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
		slog.Info("snapshot loaded", "path", e.snapPath, "nodes", hdr.Nodes, "precision", hdr.Precision)
		e.tree = t
	case fileExists(e.modelPath):
		t, err := persistence.LoadFile(e.modelPath)
		if err != nil {
			return fmt.Errorf("failed to load model: %w", err)
		}
		slog.Info("model loaded", "path", e.modelPath, "nodes", t.Len())
		e.tree = t
	default:
		e.tree = tree.New()
	}

	if dim := e.tree.Dimension(); dim > 0 {
		if want := e.dimension.Load(); want > 0 && int64(dim) != want {
			return fmt.Errorf("%w: stored tree has %d, configured %d", ErrDimensionMismatch, dim, want)
		}
		e.dimension.Store(int64(dim))
	}

	e.tree.Walk(func(v tree.NodeView) bool {
		if len(v.Embedding) > 0 {
			e.labels.add(v.Label)
		}
		return true
	})
	return nil
}

// replayJournal applies every journaled insert on top of the loaded tree.
// Replayed inserts count as unsaved changes.
func (e *Engine) replayJournal() error {
	n, err := persistence.ReplayJournal(e.journalPath, func(rec persistence.InsertRecord) error {
		if err := e.validateVector(rec.Embedding); err != nil {
			return fmt.Errorf("journaled insert %q: %w", rec.Label, err)
		}
		e.apply(rec.Embedding, rec.Label)
		return nil
	})
	if err != nil {
		return err
	}
	if n > 0 {
		e.dirtyCounter.Add(int64(n))
		slog.Info("journal replayed", "path", e.journalPath, "records", n)
	}
	return nil
}

// Save writes a snapshot of the tree and empties the journal.
func (e *Engine) Save() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.isClosed() {
		return ErrClosed
	}

	start := time.Now()
	if err := persistence.SaveSnapshotFile(e.snapPath, e.tree, e.opts.Precision); err != nil {
		return err
	}
	// A crash between the rename above and the truncate below replays the
	// journal on top of a snapshot that already holds it.
	if err := e.journal.Truncate(); err != nil {
		return err
	}

	saved := e.dirtyCounter.Swap(0)
	e.lastSaveTime = time.Now()
	metrics.SaveDuration.Observe(time.Since(start).Seconds())
	e.refreshGauges()
	slog.Info("snapshot saved", "path", e.snapPath, "inserts", saved, "took", time.Since(start))
	return nil
}

// ExportJSON writes the tree as a JSON tree document to path, or to the
// configured model file when path is empty. It returns the path written.
func (e *Engine) ExportJSON(path string) (string, error) {
	if path == "" {
		path = e.modelPath
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.isClosed() {
		return "", ErrClosed
	}
	if err := persistence.SaveFile(path, e.tree); err != nil {
		return "", err
	}
	slog.Info("model exported", "path", path)
	return path, nil
}

func (e *Engine) refreshGauges() {
	st := e.tree.Stats()
	metrics.TreeNodes.Set(float64(st.Nodes))
	metrics.TreeMaxDepth.Set(float64(st.MaxDepth))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
