package server

import (
	"github.com/sanonone/kektortree/pkg/core/types"
	"github.com/sanonone/kektortree/pkg/engine"
)

// InsertRequest defines the body of POST /tree/insert.
type InsertRequest struct {
	Vector []float64 `json:"vector"`
	// URL is the label; empty generates a "urn:uuid:" label.
	URL string `json:"url,omitempty"`
}

// InsertTextRequest defines the body of POST /tree/insert-text.
type InsertTextRequest struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

// InsertResponse returns the label the vector was stored under.
type InsertResponse struct {
	URL string `json:"url"`
}

// SearchRequest defines the body of POST /tree/search. Omitted
// parameters take the server defaults.
type SearchRequest struct {
	Vector     []float64 `json:"vector"`
	Threshold  *float64  `json:"threshold,omitempty"`
	MaxResults *int      `json:"max_results,omitempty"`
}

// SearchTextRequest defines the body of POST /tree/search-text.
type SearchTextRequest struct {
	Query      string   `json:"query"`
	Threshold  *float64 `json:"threshold,omitempty"`
	MaxResults *int     `json:"max_results,omitempty"`
	Rewrite    *bool    `json:"rewrite,omitempty"`
}

// SearchResponse is types.SearchReport; SearchTextResponse adds the
// embedded query.
type (
	SearchResponse     = types.SearchReport
	SearchTextResponse = engine.TextSearchResult
)

// LabelsResponse is the body of GET /tree/labels.
type LabelsResponse struct {
	Labels []engine.LabelCount `json:"labels"`
}

// IngestRequest defines the body of POST /system/ingest.
type IngestRequest struct {
	Path string `json:"path"`
}

// ExportResponse reports where POST /system/export wrote the JSON model.
type ExportResponse struct {
	Path string `json:"path"`
}
