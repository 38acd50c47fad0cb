// Package client provides a Go client for the kektortree HTTP API.
//
// It covers inserting and searching vectors and texts, listing labels,
// snapshot and export administration, and ingestion tasks. Every non-2xx
// answer is returned as an *APIError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sanonone/kektortree/pkg/core/types"
)

// --- Custom Errors ---

// APIError represents an error returned by the API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an *APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// --- JSON Structs ---

// SearchOptions holds the optional search parameters. Nil fields take
// the server defaults.
type SearchOptions struct {
	Threshold  *float64
	MaxResults *int
	Rewrite    *bool // text searches only
}

// TextSearchResult is a search report with the query that was embedded.
type TextSearchResult struct {
	Query string `json:"query"`
	types.SearchReport
}

// Stats describes the tree held by the server.
type Stats struct {
	types.TreeStats
	Labels  int   `json:"labels"`
	Unsaved int64 `json:"unsaved"`
}

// Label is a stored label and the number of vectors carrying it.
type Label struct {
	URL   string `json:"url"`
	Count int    `json:"count"`
}

// Task represents an asynchronous operation on the server.
type Task struct {
	ID              string          `json:"id"`
	Kind            string          `json:"kind"`
	Status          string          `json:"status"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Error           string          `json:"error,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`

	client *Client // Reference to the client for polling.
}

type insertRequest struct {
	Vector []float64 `json:"vector,omitempty"`
	Text   string    `json:"text,omitempty"`
	URL    string    `json:"url,omitempty"`
}

type searchRequest struct {
	Vector     []float64 `json:"vector,omitempty"`
	Query      string    `json:"query,omitempty"`
	Threshold  *float64  `json:"threshold,omitempty"`
	MaxResults *int      `json:"max_results,omitempty"`
	Rewrite    *bool     `json:"rewrite,omitempty"`
}

// --- Client ---

// Client is the Go client for the kektortree HTTP API.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// New creates a client for the server at baseURL, e.g.
// "http://localhost:9091". An empty authToken sends no Authorization header.
func New(baseURL, authToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// jsonRequest executes a request against the API. It handles JSON
// serialization, authentication and error decoding.
func (c *Client) jsonRequest(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out any) error {
	body, err := c.jsonRequest(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// --- Tree Methods ---

// Insert stores vector under url and returns the label used. An empty url
// lets the server generate one.
func (c *Client) Insert(ctx context.Context, vector []float64, url string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	err := c.do(ctx, http.MethodPost, "/tree/insert", insertRequest{Vector: vector, URL: url}, &out)
	return out.URL, err
}

// InsertText embeds text on the server and stores it under url.
func (c *Client) InsertText(ctx context.Context, text, url string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	err := c.do(ctx, http.MethodPost, "/tree/insert-text", insertRequest{Text: text, URL: url}, &out)
	return out.URL, err
}

// Search runs a vector search. Results are ordered by ascending score.
func (c *Client) Search(ctx context.Context, vector []float64, opts SearchOptions) (*types.SearchReport, error) {
	var out types.SearchReport
	req := searchRequest{Vector: vector, Threshold: opts.Threshold, MaxResults: opts.MaxResults}
	if err := c.do(ctx, http.MethodPost, "/tree/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchText embeds query on the server, optionally rewriting it first,
// and searches.
func (c *Client) SearchText(ctx context.Context, query string, opts SearchOptions) (*TextSearchResult, error) {
	var out TextSearchResult
	req := searchRequest{Query: query, Threshold: opts.Threshold, MaxResults: opts.MaxResults, Rewrite: opts.Rewrite}
	if err := c.do(ctx, http.MethodPost, "/tree/search-text", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns the shape of the tree.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/tree/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Labels lists labels starting with prefix. limit <= 0 means no limit.
func (c *Client) Labels(ctx context.Context, prefix string, limit int) ([]Label, error) {
	q := url.Values{}
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "/tree/labels"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var out struct {
		Labels []Label `json:"labels"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Labels, nil
}

// Dump returns the indented outline of the tree.
func (c *Client) Dump(ctx context.Context) (string, error) {
	body, err := c.jsonRequest(ctx, http.MethodGet, "/tree/dump", nil)
	return string(body), err
}

// --- System Methods ---

// Save asks the server to write a snapshot.
func (c *Client) Save(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/system/save", nil, nil)
}

// Export asks the server to write its JSON model file and returns its path.
func (c *Client) Export(ctx context.Context) (string, error) {
	var out struct {
		Path string `json:"path"`
	}
	err := c.do(ctx, http.MethodPost, "/system/export", nil, &out)
	return out.Path, err
}

// Ingest starts ingesting path, a file or directory on the server host.
func (c *Client) Ingest(ctx context.Context, path string) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodPost, "/system/ingest", map[string]string{"path": path}, &task); err != nil {
		return nil, err
	}
	task.client = c
	return &task, nil
}

// GetTaskStatus retrieves the current state of a task.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, "/system/tasks/"+url.PathEscape(taskID), nil, &task); err != nil {
		return nil, err
	}
	task.client = c
	return &task, nil
}

// Refresh updates the task's status by querying the server.
func (t *Task) Refresh(ctx context.Context) error {
	if t.client == nil {
		return fmt.Errorf("client is not associated with the task")
	}
	updated, err := t.client.GetTaskStatus(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Status = updated.Status
	t.ProgressMessage = updated.ProgressMessage
	t.Error = updated.Error
	t.Result = updated.Result
	return nil
}

// Wait blocks until the task is finished or ctx is done, checking its
// status at regular intervals.
func (t *Task) Wait(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		switch t.Status {
		case "completed":
			return nil
		case "failed":
			return fmt.Errorf("task %s failed with error: %s", t.ID, t.Error)
		case "running", "started":
			// Continue waiting.
		default:
			return fmt.Errorf("unknown task status: %s", t.Status)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for task %s: %w", t.ID, ctx.Err())
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				return err
			}
		}
	}
}
