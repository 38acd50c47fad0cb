// Package persistence stores similarity trees on disk.
//
// Three formats are provided:
//   - the JSON tree document, a nested object per node with the fields
//     depth, embedding, url, node_a_dist, node_b_dist, node_a and node_b;
//   - a binary snapshot made of CRC32-checked frames, one per node in
//     pre-order, optionally storing embeddings in half precision;
//   - an append-only insert journal, replayed on top of a snapshot to
//     recover inserts made after it was written.
//
// Every failure is reported as an *Error naming the operation and, when
// relevant, the file path.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed indicates a document or snapshot that decodes but does
	// not describe a valid tree.
	ErrMalformed = errors.New("malformed tree data")
	// ErrUnsupportedVersion indicates a snapshot written by a newer format.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)

// Error is a labeled persistence failure.
type Error struct {
	// Op is the failed operation, e.g. "save", "load", "decode".
	Op string
	// Path is the file involved, empty for in-memory operations.
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Op: op, Path: path, Err: err}
}
