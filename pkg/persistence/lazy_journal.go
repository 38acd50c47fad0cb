package persistence

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrJournalClosed is returned by LazyJournal after Close.
var ErrJournalClosed = errors.New("journal closed")

// LazyJournal batches records in memory and hands them to a Journal
// periodically or when the batch is full.
//
// Durability: records reach the OS every FlushInterval and the disk every
// SyncInterval. A crash can lose up to SyncInterval of inserts. Close
// flushes and syncs everything still pending.
type LazyJournal struct {
	underlying *Journal

	mu      sync.Mutex
	pending []InsertRecord
	stopped bool

	flushInterval time.Duration
	syncInterval  time.Duration
	maxPending    int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

const (
	// DefaultLazyFlushInterval is the time between batch flushes.
	DefaultLazyFlushInterval = 100 * time.Millisecond
	// DefaultForceSyncInterval is the time between forced fsyncs.
	DefaultForceSyncInterval = 1 * time.Second
	// DefaultMaxPending is the batch size that triggers an early flush.
	DefaultMaxPending = 1000
)

// NewLazyJournal wraps j with the default intervals. j must not be used
// directly afterwards.
func NewLazyJournal(j *Journal) *LazyJournal {
	return NewLazyJournalWithConfig(j, DefaultLazyFlushInterval, DefaultForceSyncInterval, DefaultMaxPending)
}

// NewLazyJournalWithConfig wraps j with custom intervals. Zero values fall
// back to the defaults.
func NewLazyJournalWithConfig(j *Journal, flushInterval, syncInterval time.Duration, maxPending int) *LazyJournal {
	if flushInterval <= 0 {
		flushInterval = DefaultLazyFlushInterval
	}
	if syncInterval <= 0 {
		syncInterval = DefaultForceSyncInterval
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	lj := &LazyJournal{
		underlying:    j,
		pending:       make([]InsertRecord, 0, maxPending),
		flushInterval: flushInterval,
		syncInterval:  syncInterval,
		maxPending:    maxPending,
		stopCh:        make(chan struct{}),
	}
	lj.wg.Add(1)
	go lj.loop()

	slog.Debug("lazy journal started",
		"path", j.Path(),
		"flush_interval", flushInterval,
		"sync_interval", syncInterval,
		"max_pending", maxPending,
	)
	return lj
}

// Append queues a record. It flushes inline when the batch is full.
func (lj *LazyJournal) Append(rec InsertRecord) error {
	lj.mu.Lock()
	defer lj.mu.Unlock()

	if lj.stopped {
		return wrap("journal", lj.underlying.Path(), ErrJournalClosed)
	}
	lj.pending = append(lj.pending, rec)
	if len(lj.pending) >= lj.maxPending {
		return lj.flushLocked()
	}
	return nil
}

// Flush writes every queued record to the OS.
func (lj *LazyJournal) Flush() error {
	lj.mu.Lock()
	defer lj.mu.Unlock()
	return lj.flushLocked()
}

func (lj *LazyJournal) flushLocked() error {
	if len(lj.pending) == 0 {
		return nil
	}
	if err := lj.underlying.appendBatch(lj.pending); err != nil {
		return err
	}
	lj.pending = lj.pending[:0]
	return nil
}

// Sync flushes queued records and fsyncs the file.
func (lj *LazyJournal) Sync() error {
	lj.mu.Lock()
	defer lj.mu.Unlock()
	if err := lj.flushLocked(); err != nil {
		return err
	}
	return lj.underlying.Sync()
}

// Truncate drops queued records and empties the file.
func (lj *LazyJournal) Truncate() error {
	lj.mu.Lock()
	defer lj.mu.Unlock()
	lj.pending = lj.pending[:0]
	return lj.underlying.Truncate()
}

// Path returns the journal file path.
func (lj *LazyJournal) Path() string {
	return lj.underlying.Path()
}

// Close stops the background loop, writes what is pending and closes the
// file.
func (lj *LazyJournal) Close() error {
	lj.mu.Lock()
	if lj.stopped {
		lj.mu.Unlock()
		return wrap("journal", lj.underlying.Path(), ErrJournalClosed)
	}
	lj.stopped = true
	lj.mu.Unlock()

	close(lj.stopCh)
	lj.wg.Wait()

	lj.mu.Lock()
	defer lj.mu.Unlock()
	if err := lj.flushLocked(); err != nil {
		slog.Error("lazy journal: final flush failed", "error", err)
	}
	if err := lj.underlying.Sync(); err != nil {
		slog.Error("lazy journal: final sync failed", "error", err)
	}
	return lj.underlying.Close()
}

func (lj *LazyJournal) loop() {
	defer lj.wg.Done()
	flush := time.NewTicker(lj.flushInterval)
	defer flush.Stop()
	syncT := time.NewTicker(lj.syncInterval)
	defer syncT.Stop()

	for {
		select {
		case <-flush.C:
			if err := lj.Flush(); err != nil {
				slog.Error("lazy journal: periodic flush failed", "error", err)
			}
		case <-syncT.C:
			if err := lj.Sync(); err != nil {
				slog.Error("lazy journal: periodic sync failed", "error", err)
			}
		case <-lj.stopCh:
			return
		}
	}
}
