package mcp

// --- Tool Arguments ---

type RememberArgs struct {
	Content string `json:"content" jsonschema:"The text content/fact to remember"`
	URL     string `json:"url,omitempty" jsonschema:"Optional label to store the memory under, e.g. a source URL. Generated when empty."`
}

type RememberResult struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

type RecallArgs struct {
	Query     string   `json:"query" jsonschema:"The semantic query to search for"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"Minimum cosine similarity, exclusive (default from server configuration)"`
	Limit     int      `json:"limit,omitempty" jsonschema:"Stop descending once this many matches are found (default 5)"`
	Rewrite   *bool    `json:"rewrite,omitempty" jsonschema:"Rewrite the query with the LLM before embedding it"`
}

type Memory struct {
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

type RecallResult struct {
	Query   string   `json:"query"`
	Results []Memory `json:"results"` // Best match last
}

type StatsArgs struct{}

type StatsResult struct {
	Nodes     int    `json:"nodes"`
	MaxDepth  uint32 `json:"max_depth"`
	Dimension int    `json:"dimension"`
	Labels    int    `json:"labels"`
}
