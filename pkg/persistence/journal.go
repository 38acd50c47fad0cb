package persistence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// JournalWriter is implemented by Journal and LazyJournal.
type JournalWriter interface {
	Append(rec InsertRecord) error
	Sync() error
	Truncate() error
	Close() error
	Path() string
}

// Journal appends insert records to a file, one frame per record.
// Each Append is flushed to the OS but only Sync reaches the disk.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	fw   *FrameWriter
	path string
}

// OpenJournal opens or creates the journal at path for appending.
func OpenJournal(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, wrap("journal", path, err)
	}
	buf := bufio.NewWriter(file)
	return &Journal{
		file: file,
		buf:  buf,
		fw:   NewFrameWriter(buf),
		path: path,
	}, nil
}

// Append writes one record.
func (j *Journal) Append(rec InsertRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendLocked(rec)
}

func (j *Journal) appendLocked(rec InsertRecord) error {
	if err := j.fw.WriteFrame(OpCodeInsert, encodeInsert(rec)); err != nil {
		return wrap("journal", j.path, err)
	}
	if err := j.buf.Flush(); err != nil {
		return wrap("journal", j.path, err)
	}
	return nil
}

// appendBatch writes several records with a single flush.
func (j *Journal) appendBatch(recs []InsertRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, rec := range recs {
		if err := j.fw.WriteFrame(OpCodeInsert, encodeInsert(rec)); err != nil {
			return wrap("journal", j.path, err)
		}
	}
	if err := j.buf.Flush(); err != nil {
		return wrap("journal", j.path, err)
	}
	return nil
}

// Sync flushes buffered frames and fsyncs the file.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.buf.Flush(); err != nil {
		return wrap("journal", j.path, err)
	}
	if err := j.file.Sync(); err != nil {
		return wrap("journal", j.path, err)
	}
	return nil
}

// Truncate empties the journal. It is called once a snapshot covering
// every journaled record has been written.
func (j *Journal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.buf.Reset(j.file)
	if err := j.file.Truncate(0); err != nil {
		return wrap("journal", j.path, err)
	}
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return wrap("journal", j.path, err)
	}
	return nil
}

// Size returns the current file size in bytes.
func (j *Journal) Size() (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.buf.Flush(); err != nil {
		return 0, wrap("journal", j.path, err)
	}
	fi, err := j.file.Stat()
	if err != nil {
		return 0, wrap("journal", j.path, err)
	}
	return fi.Size(), nil
}

// Close flushes and closes the file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.buf.Flush(); err != nil {
		_ = j.file.Close()
		return wrap("journal", j.path, err)
	}
	if err := j.file.Close(); err != nil {
		return wrap("journal", j.path, err)
	}
	return nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// ReplayJournal reads the journal at path and calls fn for every record in
// order. A missing file replays nothing. A torn final frame, left by a crash
// during a write, is logged and ignored; a checksum mismatch anywhere else
// is an error. It returns the number of records replayed.
func ReplayJournal(path string, fn func(InsertRecord) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, wrap("replay", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var n int
	var offset int64
	for {
		frame, size, err := ReadFrame(r)
		if err == io.EOF {
			return n, nil
		}
		if errors.Is(err, ErrIncompleteFrame) {
			slog.Warn("journal ends with an incomplete frame, ignoring tail",
				"path", path, "offset", offset, "records", n)
			return n, nil
		}
		if err != nil {
			return n, wrap("replay", path, fmt.Errorf("at offset %d: %w", offset, err))
		}
		offset += int64(size)

		if frame.OpCode != OpCodeInsert {
			return n, wrap("replay", path, fmt.Errorf("%w: unexpected opcode 0x%02x at offset %d", ErrMalformed, frame.OpCode, offset))
		}
		rec, err := decodeInsert(frame.Payload)
		if err != nil {
			return n, wrap("replay", path, err)
		}
		if err := fn(rec); err != nil {
			return n, wrap("replay", path, err)
		}
		n++
	}
}
