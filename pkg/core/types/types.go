// Package types holds the plain data structures shared between the tree,
// the engine and the API layers.
package types

// SearchResult is a single match produced by a tree search.
type SearchResult struct {
	// Score is the cosine similarity between the query and the node.
	Score float64 `json:"score"`
	// Label identifies the source of the vector (e.g. a document url).
	Label string `json:"url"`
	// Visit is the traversal counter at the moment the node matched.
	Visit uint32 `json:"visit"`
}

// SearchReport bundles the results of a search with its traversal cost.
type SearchReport struct {
	Results []SearchResult `json:"results"`
	Visited uint32         `json:"visited"`
}

// TreeStats summarizes the shape of a tree.
type TreeStats struct {
	Nodes     int    `json:"nodes"`
	Leaves    int    `json:"leaves"`
	MaxDepth  uint32 `json:"max_depth"`
	Dimension int    `json:"dimension"`
}
