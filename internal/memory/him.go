package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sel-agent/sel/internal/httpkit"
)

// HIMClient talks to the HIM memory service over HTTP.
type HIMClient struct {
	baseURL    string
	limit      int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHIMClient creates a client for the service at baseURL. limit caps
// the number of memories requested per query.
func NewHIMClient(baseURL string, limit int, logger *slog.Logger) *HIMClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HIMClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   limit,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10*time.Second),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type himQuery struct {
	StreamID string `json:"stream_id"`
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
}

type himQueryResponse struct {
	Memories []Memory `json:"memories"`
}

type himTile struct {
	StreamID string  `json:"stream_id"`
	Content  string  `json:"content"`
	Summary  string  `json:"summary"`
	Salience float64 `json:"salience"`
}

// Retrieve queries memories relevant to query. A non-2xx answer means
// the service is not ready and yields an empty result, not an error.
func (c *HIMClient) Retrieve(ctx context.Context, streamID, query string) ([]Memory, error) {
	resp, err := c.post(ctx, "/v1/query", himQuery{StreamID: streamID, Query: query, Limit: c.limit})
	if err != nil {
		return nil, fmt.Errorf("memory query: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("memory service unavailable",
			"status", resp.StatusCode,
			"body", httpkit.ReadErrorBody(resp.Body, 512),
		)
		return nil, nil
	}

	var out himQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("memory query: decode response: %w", err)
	}
	if c.limit > 0 && len(out.Memories) > c.limit {
		out.Memories = out.Memories[:c.limit]
	}
	return out.Memories, nil
}

// Store writes one memory tile.
func (c *HIMClient) Store(ctx context.Context, streamID, content, summary string, salience float64) error {
	resp, err := c.post(ctx, "/v1/tiles", himTile{
		StreamID: streamID,
		Content:  content,
		Summary:  summary,
		Salience: salience,
	})
	if err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("memory store: status %d: %s", resp.StatusCode, body)
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

func (c *HIMClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}
