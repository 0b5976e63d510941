package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ledgerchat/ledgerchat/internal/log"
)

// maxSearchResponseSize bounds the search service's JSON reply.
const maxSearchResponseSize = 1 << 20

// SearchResult is one hit from the search service.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Client queries a SearXNG-compatible search service.
type Client struct {
	baseURL    string
	maxResults int
	httpc      *http.Client
	logger     log.Logger
}

// NewClient creates a search client against baseURL.
func NewClient(baseURL string, maxResults int, logger log.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		maxResults: maxResults,
		httpc:      &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "websearch_client"),
	}
}

// Search runs the query and returns at most maxResults hits.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	u, err := url.Parse(c.baseURL + "/search")
	if err != nil {
		return nil, fmt.Errorf("invalid search base url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search service returned status %d", resp.StatusCode)
	}

	var payload struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSearchResponseSize)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	if len(payload.Results) > c.maxResults {
		payload.Results = payload.Results[:c.maxResults]
	}
	return payload.Results, nil
}
