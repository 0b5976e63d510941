// Package websearch answers questions needing current public
// information via an external search service, enriching the top hit by
// fetching its page through the SSRF validator.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/ledgerchat/ledgerchat/internal/agent"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/prompts"
)

const (
	// NoResultsReply is returned when search produced nothing or the
	// answer call failed. The response compiler suppresses resources
	// when the reply equals it.
	NoResultsReply = "I could not find current information on that. Please try rephrasing your question."

	// maxPageText caps the text extracted from a fetched result page.
	maxPageText = 2000
)

// SearchProvider is the search surface the agent needs; *Client
// satisfies it.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// Fetcher validates and fetches untrusted result URLs; *security.HTTP
// satisfies it.
type Fetcher interface {
	ValidateURL(urlStr string) error
	Client() *http.Client
	MaxResponseSize() int64
}

// Agent answers from web search results.
type Agent struct {
	g       *genkit.Genkit
	model   string
	search  SearchProvider
	fetcher Fetcher
	prompts *prompts.Registry
	logger  log.Logger
}

// New creates the web-search agent.
func New(g *genkit.Genkit, model string, search SearchProvider, fetcher Fetcher,
	registry *prompts.Registry, logger log.Logger) *Agent {
	return &Agent{
		g:       g,
		model:   model,
		search:  search,
		fetcher: fetcher,
		prompts: registry,
		logger:  logger.With("component", "websearch"),
	}
}

// Kind implements agent.Agent.
func (a *Agent) Kind() agent.Kind { return agent.KindWebSearch }

// Run searches, enriches the top hit with its page text, and answers.
// Search and fetch failures degrade; the turn never fails.
func (a *Agent) Run(ctx context.Context, state *agent.State) (agent.Envelope, error) {
	env := agent.Envelope{Agent: agent.KindWebSearch, Rationale: state.RouteReason}

	results, err := a.search.Search(ctx, state.Query)
	if err != nil {
		a.logger.Warn("search failed, answering without results", "error", err)
		results = nil
	}

	if len(results) > 0 {
		if text := a.fetchPageText(ctx, results[0].URL); text != "" {
			results[0].Content = text
		}
	}

	answer, err := a.answer(ctx, state.Query, results)
	if err != nil || strings.TrimSpace(answer) == "" {
		a.logger.Warn("answer call failed, using canned reply", "error", err)
		env.Text = NoResultsReply
		return env, nil
	}

	env.Text = answer
	for _, r := range results {
		env.Resources = append(env.Resources, agent.Resource{
			Agent: agent.KindWebSearch,
			ID:    r.URL,
			Title: r.Title,
		})
	}
	return env, nil
}

// fetchPageText fetches the page behind a search hit and extracts its
// paragraph text. The URL is untrusted and validated first; any
// failure returns "" and the snippet stands.
func (a *Agent) fetchPageText(ctx context.Context, pageURL string) string {
	if err := a.fetcher.ValidateURL(pageURL); err != nil {
		a.logger.Warn("result url rejected", "url", pageURL, "error", err)
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}

	resp, err := a.fetcher.Client().Do(req)
	if err != nil {
		a.logger.Debug("page fetch failed", "url", pageURL, "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, a.fetcher.MaxResponseSize()))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return true
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(text)
		return sb.Len() < maxPageText
	})

	text := sb.String()
	if len(text) > maxPageText {
		text = text[:maxPageText]
	}
	return text
}

func (a *Agent) answer(ctx context.Context, query string, results []SearchResult) (string, error) {
	tpl, err := a.prompts.Get(ctx, prompts.NameWebAnswer)
	if err != nil {
		return "", err
	}

	resultsText := "(no results)"
	if len(results) > 0 {
		var sb strings.Builder
		for i, r := range results {
			if i > 0 {
				sb.WriteString("\n---\n")
			}
			fmt.Fprintf(&sb, "%s\n%s\n%s", r.Title, r.URL, r.Content)
		}
		resultsText = sb.String()
	}

	response, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.model),
		ai.WithPrompt(fmt.Sprintf(tpl, resultsText, query)),
	)
	if err != nil {
		return "", err
	}
	return response.Text(), nil
}
