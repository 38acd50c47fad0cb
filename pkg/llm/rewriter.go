package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultRewritePrompt asks the model to turn a question into a search query.
const DefaultRewritePrompt = "rewrite the following into a good search query to search the api reference documents: "

// Rewriter turns free-form questions into search queries before they are
// embedded.
type Rewriter struct {
	client Client
	prompt string
}

// NewRewriter returns a Rewriter using prompt as system prompt, or
// DefaultRewritePrompt when prompt is empty.
func NewRewriter(client Client, prompt string) *Rewriter {
	if prompt == "" {
		prompt = DefaultRewritePrompt
	}
	return &Rewriter{client: client, prompt: prompt}
}

// Rewrite returns the model's rewrite of raw, trimmed of surrounding
// whitespace and quotes. An empty rewrite falls back to raw.
func (r *Rewriter) Rewrite(ctx context.Context, raw string) (string, error) {
	out, err := r.client.Chat(ctx, r.prompt, raw)
	if err != nil {
		return "", fmt.Errorf("query rewrite failed: %w", err)
	}
	out = strings.Trim(strings.TrimSpace(out), `"`)
	if out == "" {
		slog.Warn("query rewrite returned nothing, using original query")
		return raw, nil
	}
	slog.Debug("query rewritten", "original", raw, "rewritten", out)
	return out, nil
}
