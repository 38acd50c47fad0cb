package persistence

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/sanonone/kektortree/pkg/core/tree"
)

// DefaultModelPath is the conventional file name of a saved model. It is
// only a default for callers; LoadFile and SaveFile always use the path
// they are given.
const DefaultModelPath = "search_model.json"

// SaveFile writes t as a JSON tree document to path. The document is
// written to a temporary file in the same directory and renamed over path,
// so readers never observe a partially written model.
func SaveFile(path string, t *tree.Tree) error {
	return writeAtomic(path, "save", func(w *bufio.Writer) error {
		return Encode(w, t)
	})
}

// LoadFile reads the JSON tree document at path.
func LoadFile(path string) (*tree.Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrap("load", path, err)
	}
	defer f.Close()

	t, err := Decode(bufio.NewReader(f))
	if err != nil {
		// Relabel the decode failure with the file it came from.
		if pe, ok := err.(*Error); ok {
			return nil, &Error{Op: "load", Path: path, Err: pe.Err}
		}
		return nil, wrap("load", path, err)
	}
	return t, nil
}

// writeAtomic writes through fn into a temporary sibling of path, syncs it
// and renames it over path.
func writeAtomic(path, op string, fn func(w *bufio.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return wrap(op, path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	bw := bufio.NewWriter(tmp)
	if err := fn(bw); err != nil {
		cleanup()
		return wrap(op, path, err)
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return wrap(op, path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return wrap(op, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return wrap(op, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return wrap(op, path, err)
	}
	return nil
}
