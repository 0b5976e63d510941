// Package prompts provides named prompt templates for the agents.
//
// Templates are fetched from a remote prompt-management service when
// one is configured, with compiled-in defaults as fallback, so prompt
// wording can change without a redeploy. Fetched templates are cached
// in memory for a fixed interval.
package prompts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ledgerchat/ledgerchat/internal/log"
)

// ErrUnknownPrompt indicates no template exists under the given name.
var ErrUnknownPrompt = errors.New("unknown prompt")

// Template names used by the agents.
const (
	NameRouting         = "routing"
	NameGreeting        = "greeting"
	NameRAGAnswer       = "rag_answer"
	NameRAGReferential  = "rag_referential"
	NameSQLDraft        = "sql_draft"
	NameSQLCheck        = "sql_check"
	NameRowsSummary     = "rows_summary"
	NameWebAnswer       = "web_answer"
	NameClassifyPage    = "classify_page"
	NameClassifyRemap   = "classify_remap"
	NameConfirmDecision = "confirm_decision"
	NameSplitQuery      = "split_query"
	NameCompileResponse = "compile_response"
)

const cacheInterval = 5 * time.Minute

// Registry resolves prompt templates by name.
type Registry struct {
	baseURL string
	client  *http.Client
	logger  log.Logger

	mu        sync.Mutex
	cache     map[string]string
	fetchedAt time.Time

	// group collapses concurrent fetches of the same prompt into one
	// request to the prompt service.
	group singleflight.Group
}

// NewRegistry creates a registry. An empty baseURL disables remote
// fetching; every lookup then uses the built-in defaults.
func NewRegistry(baseURL string, logger log.Logger) *Registry {
	return &Registry{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		logger:  logger.With("component", "prompts"),
		cache:   make(map[string]string),
	}
}

// Get returns the template for name: the remote version when
// available, otherwise the built-in default. Remote failures degrade
// to the default and never propagate.
func (r *Registry) Get(ctx context.Context, name string) (string, error) {
	fallback, ok := defaults[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrompt, name)
	}

	if r.baseURL == "" {
		return fallback, nil
	}

	if tpl, ok := r.cached(name); ok {
		return tpl, nil
	}

	fetched, err, _ := r.group.Do(name, func() (any, error) {
		tpl, err := r.fetch(ctx, name)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.cache[name] = tpl
		r.fetchedAt = time.Now()
		r.mu.Unlock()
		return tpl, nil
	})
	if err != nil {
		r.logger.Warn("prompt fetch failed, using built-in default",
			"prompt", name, "error", err)
		return fallback, nil
	}

	return fetched.(string), nil
}

func (r *Registry) cached(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.fetchedAt) > cacheInterval {
		return "", false
	}
	tpl, ok := r.cache[name]
	return tpl, ok
}

func (r *Registry) fetch(ctx context.Context, name string) (string, error) {
	endpoint := fmt.Sprintf("%s/prompts/%s", r.baseURL, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var payload struct {
		Template string `json:"template"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if payload.Template == "" {
		return "", fmt.Errorf("empty template in response")
	}
	return payload.Template, nil
}
