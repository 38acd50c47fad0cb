package tree

import (
	"cmp"
	"slices"

	"github.com/sanonone/kektortree/pkg/core/distance"
	"github.com/sanonone/kektortree/pkg/core/types"
)

// Search returns the nodes whose cosine similarity to query exceeds
// threshold, sorted by ascending score.
//
// The traversal is depth-first and pre-order (node, subtree A, subtree B).
// Each visited node increments a counter that is recorded with its match
// and reported as the cost of the search. After scoring a node, its
// children are explored only if fewer than maxResults matches have been
// collected so far; maxResults therefore bounds the descent, not the
// result: the returned slice may hold more than maxResults entries. The
// root is always visited and scored, even with maxResults == 0.
//
// Non-comparable (NaN) scores never match.
func (t *Tree) Search(query []float64, threshold float64, maxResults int) []types.SearchResult {
	return t.SearchReport(query, threshold, maxResults).Results
}

// SearchReport is Search that also returns the number of visited nodes.
func (t *Tree) SearchReport(query []float64, threshold float64, maxResults int) types.SearchReport {
	var (
		visited uint32
		results []types.SearchResult
	)

	// Explicit stack instead of recursion: degenerate trees can be as deep
	// as the number of inserted vectors. Pushing B before A keeps the
	// visiting order of the recursive formulation.
	stack := []Handle{t.root}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var (
			embedding []float64
			label     string
			a, b      Handle
		)
		if !t.arena.with(h, func(n *node) {
			embedding, label, a, b = n.embedding, n.label, n.childA, n.childB
		}) {
			continue
		}

		visited++
		score := distance.CosineSimilarity(embedding, query)
		if distance.IsComparable(score) && score > threshold {
			results = append(results, types.SearchResult{Score: score, Label: label, Visit: visited})
		}

		if len(results) < maxResults {
			if b.Valid() {
				stack = append(stack, b)
			}
			if a.Valid() {
				stack = append(stack, a)
			}
		}
	}

	// A single stable sort gives the same order as re-sorting the
	// accumulated list after every subtree.
	slices.SortStableFunc(results, func(x, y types.SearchResult) int {
		return cmp.Compare(x.Score, y.Score)
	})

	return types.SearchReport{Results: results, Visited: visited}
}
