// Package mcp exposes the tree as long-term memory to MCP clients.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/kektortree/pkg/engine"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

func NewMCPServer(eng *engine.Engine, defaults Defaults) *mcp.Server {
	service := NewService(eng, defaults)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "KektorTree Memory",
		Version: Version,
	}, nil)

	// The generic AddTool derives the input and output schemas from the structs.

	mcp.AddTool(s, &mcp.Tool{
		Name:        "remember",
		Description: "Save text/facts into long-term memory under an optional URL label.",
	}, service.Remember)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "recall",
		Description: "Search memories semantically by query. Results are ordered from weakest to strongest match.",
	}, service.Recall)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "memory_stats",
		Description: "Report the size and shape of the memory tree.",
	}, service.Stats)

	return s
}

// ServeStdio runs the MCP server over stdin/stdout until ctx is done or
// the client disconnects.
func ServeStdio(ctx context.Context, eng *engine.Engine, defaults Defaults) error {
	return NewMCPServer(eng, defaults).Run(ctx, &mcp.StdioTransport{})
}
