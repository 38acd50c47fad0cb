package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/kektortree/pkg/engine"
)

// Defaults applied to recall calls that omit them.
type Defaults struct {
	Threshold  float64
	MaxResults int
	Rewrite    bool
}

type Service struct {
	engine   *engine.Engine
	defaults Defaults
}

func NewService(eng *engine.Engine, defaults Defaults) *Service {
	if defaults.MaxResults <= 0 {
		defaults.MaxResults = 5
	}
	return &Service{
		engine:   eng,
		defaults: defaults,
	}
}

// --- Tool Handlers ---

func (s *Service) Remember(ctx context.Context, req *mcp.CallToolRequest, args RememberArgs) (*mcp.CallToolResult, RememberResult, error) {
	if args.Content == "" {
		return nil, RememberResult{}, errors.New("content is required")
	}
	url, err := s.engine.InsertText(ctx, args.Content, args.URL)
	if err != nil {
		return nil, RememberResult{}, fmt.Errorf("remember failed: %w", err)
	}
	return nil, RememberResult{URL: url, Status: "saved"}, nil
}

func (s *Service) Recall(ctx context.Context, req *mcp.CallToolRequest, args RecallArgs) (*mcp.CallToolResult, RecallResult, error) {
	if args.Query == "" {
		return nil, RecallResult{}, errors.New("query is required")
	}
	threshold := s.defaults.Threshold
	if args.Threshold != nil {
		threshold = *args.Threshold
	}
	limit := args.Limit
	if limit <= 0 {
		limit = s.defaults.MaxResults
	}
	rewrite := s.defaults.Rewrite
	if args.Rewrite != nil {
		rewrite = *args.Rewrite
	}

	res, err := s.engine.SearchText(ctx, args.Query, threshold, limit, rewrite)
	if err != nil {
		return nil, RecallResult{}, fmt.Errorf("recall failed: %w", err)
	}

	out := RecallResult{Query: res.Query, Results: make([]Memory, 0, len(res.Results))}
	for _, r := range res.Results {
		out.Results = append(out.Results, Memory{URL: r.Label, Score: r.Score})
	}
	return nil, out, nil
}

func (s *Service) Stats(ctx context.Context, req *mcp.CallToolRequest, args StatsArgs) (*mcp.CallToolResult, StatsResult, error) {
	st := s.engine.Stats()
	return nil, StatsResult{
		Nodes:     st.Nodes,
		MaxDepth:  st.MaxDepth,
		Dimension: st.Dimension,
		Labels:    st.Labels,
	}, nil
}
