// This file implements the operational methods of the Engine. Inserts are
// written to the journal before they are applied to the in-memory tree.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"

	"github.com/sanonone/kektortree/pkg/core/distance"
	"github.com/sanonone/kektortree/pkg/core/types"
	"github.com/sanonone/kektortree/pkg/metrics"
	"github.com/sanonone/kektortree/pkg/persistence"
)

var (
	// ErrClosed is returned by operations on a closed Engine.
	ErrClosed = errors.New("engine closed")
	// ErrInvalidVector is returned for empty, non-finite or zero vectors.
	ErrInvalidVector = errors.New("invalid vector")
	// ErrDimensionMismatch is returned when a vector does not match the tree.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidArgument is returned for a NaN threshold or a negative limit.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoEmbedder is returned by text operations when no Embedder is set.
	ErrNoEmbedder = errors.New("no embedder configured")
)

// labelPrefix is prepended to generated labels.
const labelPrefix = "urn:uuid:"

// TextSearchResult is the outcome of SearchText.
type TextSearchResult struct {
	// Query is the text that was embedded, after rewriting.
	Query string `json:"query"`
	types.SearchReport
}

// Stats describes the engine state.
type Stats struct {
	types.TreeStats
	Labels       int   `json:"labels"`
	UnsavedCount int64 `json:"unsaved"`
}

// --- Vector Operations ---

// Insert adds a vector under label and returns the label used. An empty
// label is replaced by a generated "urn:uuid:" label.
func (e *Engine) Insert(vector []float64, label string) (string, error) {
	if err := e.validateVector(vector); err != nil {
		return "", err
	}
	if label == "" {
		label = labelPrefix + uuid.NewString()
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.isClosed() {
		return "", ErrClosed
	}
	// Checked again under the lock: the first insert fixes the dimension.
	if err := e.checkDimension(len(vector)); err != nil {
		return "", err
	}

	if err := e.journal.Append(persistence.InsertRecord{Label: label, Embedding: vector}); err != nil {
		return "", fmt.Errorf("persistence error (journal write failed): %w", err)
	}
	e.apply(vector, label)
	e.dirtyCounter.Add(1)
	return label, nil
}

// apply inserts into the tree and updates the side indexes.
func (e *Engine) apply(vector []float64, label string) {
	e.tree.Insert(vector, label)
	e.labels.add(label)
	e.dimension.CompareAndSwap(0, int64(len(vector)))
	metrics.InsertsTotal.Inc()
	metrics.TreeNodes.Inc()
}

// InsertText embeds text and inserts the result.
func (e *Engine) InsertText(ctx context.Context, text, label string) (string, error) {
	vec, err := e.embed(ctx, text)
	if err != nil {
		return "", err
	}
	return e.Insert(vec, label)
}

// Search runs a tree search. threshold is a strict lower bound on the
// cosine similarity; maxResults bounds the descent (see tree.Search).
func (e *Engine) Search(vector []float64, threshold float64, maxResults int) (types.SearchReport, error) {
	if math.IsNaN(threshold) {
		return types.SearchReport{}, fmt.Errorf("%w: threshold is NaN", ErrInvalidArgument)
	}
	if maxResults < 0 {
		return types.SearchReport{}, fmt.Errorf("%w: negative max results", ErrInvalidArgument)
	}
	if len(vector) == 0 {
		return types.SearchReport{}, fmt.Errorf("%w: empty query", ErrInvalidVector)
	}
	if err := e.checkDimension(len(vector)); err != nil {
		return types.SearchReport{}, err
	}
	return e.search(vector, threshold, maxResults, "vector"), nil
}

func (e *Engine) search(vector []float64, threshold float64, maxResults int, kind string) types.SearchReport {
	report := e.tree.SearchReport(vector, threshold, maxResults)
	if report.Results == nil {
		report.Results = []types.SearchResult{}
	}
	metrics.SearchesTotal.WithLabelValues(kind).Inc()
	metrics.SearchVisitedNodes.Observe(float64(report.Visited))
	return report
}

// SearchText rewrites the query when rewrite is true and a Rewriter is
// configured, embeds it and searches.
func (e *Engine) SearchText(ctx context.Context, text string, threshold float64, maxResults int, rewrite bool) (TextSearchResult, error) {
	if math.IsNaN(threshold) || maxResults < 0 {
		return TextSearchResult{}, fmt.Errorf("%w: threshold %v, max results %d", ErrInvalidArgument, threshold, maxResults)
	}
	query := text
	if rewrite && e.opts.Rewriter != nil {
		q, err := e.opts.Rewriter.Rewrite(ctx, text)
		if err != nil {
			return TextSearchResult{}, err
		}
		query = q
	}
	vec, err := e.embed(ctx, query)
	if err != nil {
		return TextSearchResult{}, err
	}
	if err := e.checkDimension(len(vec)); err != nil {
		return TextSearchResult{}, err
	}
	return TextSearchResult{Query: query, SearchReport: e.search(vec, threshold, maxResults, "text")}, nil
}

func (e *Engine) embed(ctx context.Context, text string) ([]float64, error) {
	if e.opts.Embedder == nil {
		return nil, ErrNoEmbedder
	}
	vec, err := e.opts.Embedder.Embed(ctx, text)
	if err != nil {
		metrics.EmbedErrorsTotal.Inc()
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	return vec, nil
}

// Stats walks the tree and reports its shape.
func (e *Engine) Stats() Stats {
	return Stats{
		TreeStats:    e.tree.Stats(),
		Labels:       e.labels.len(),
		UnsavedCount: e.dirtyCounter.Load(),
	}
}

// Labels lists stored labels in lexical order, starting at prefix.
// limit <= 0 means no limit.
func (e *Engine) Labels(prefix string, limit int) []LabelCount {
	return e.labels.list(prefix, limit)
}

// Dump writes the compact indented outline of the tree to w.
func (e *Engine) Dump(w io.Writer) error {
	return e.tree.WriteCompact(w)
}

// Dimension returns the enforced vector length, 0 while the tree is empty
// and no dimension was configured.
func (e *Engine) Dimension() int {
	return int(e.dimension.Load())
}

func (e *Engine) validateVector(v []float64) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidVector)
	}
	for i, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: component %d is %v", ErrInvalidVector, i, c)
		}
	}
	if distance.Norm(v) == 0 {
		return fmt.Errorf("%w: zero vector", ErrInvalidVector)
	}
	return e.checkDimension(len(v))
}

func (e *Engine) checkDimension(n int) error {
	if dim := e.dimension.Load(); dim > 0 && int64(n) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, n, dim)
	}
	return nil
}
