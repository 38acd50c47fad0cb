package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-ingests files under root when they are created or written,
// once they have been quiet for cfg.Debounce. New directories are watched
// as they appear. It blocks until ctx is done.
//
// Watch does not ingest what already exists; call Run first for that.
func (p *Pipeline) Watch(ctx context.Context, root string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := addTree(w, root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	slog.Info("[Ingest] Watching", "root", root, "debounce", p.cfg.Debounce)

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
		wg      sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for path, t := range pending {
			if t.Stop() {
				wg.Done()
			}
			delete(pending, path)
		}
		mu.Unlock()
		wg.Wait()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok && t.Stop() {
			wg.Done()
		}
		wg.Add(1)
		var t *time.Timer
		t = time.AfterFunc(p.cfg.Debounce, func() {
			defer wg.Done()
			mu.Lock()
			if pending[path] == t {
				delete(pending, path)
			}
			mu.Unlock()

			n, err := p.IngestFile(ctx, path)
			switch {
			case err == nil:
				slog.Debug("[Ingest] Re-ingested", "path", path, "chunks", n)
			case errors.Is(err, ErrUnchanged), ctx.Err() != nil:
			default:
				slog.Error("[Ingest] Error processing file", "path", path, "error", err)
			}
		})
		pending[path] = t
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if isDir(ev.Name) {
				if !strings.HasPrefix(filepath.Base(ev.Name), ".") {
					if err := addTree(w, ev.Name); err != nil {
						slog.Warn("[Ingest] Failed to watch directory", "path", ev.Name, "error", err)
					}
					// Files moved in with the directory raise no events of their own.
					_ = filepath.WalkDir(ev.Name, func(path string, d fs.DirEntry, err error) error {
						if err != nil {
							return nil
						}
						if d.IsDir() {
							if path != ev.Name && strings.HasPrefix(d.Name(), ".") {
								return filepath.SkipDir
							}
							return nil
						}
						if p.accepts(path) {
							schedule(path)
						}
						return nil
					})
				}
				continue
			}
			if p.accepts(ev.Name) {
				schedule(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("[Ingest] Watcher error", "error", err)
		}
	}
}

// addTree watches dir and every non-hidden directory below it.
func addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
