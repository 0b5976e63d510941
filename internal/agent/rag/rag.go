// Package rag answers questions from ingested documents using vector
// retrieval over the knowledge store.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/ledgerchat/ledgerchat/internal/agent"
	"github.com/ledgerchat/ledgerchat/internal/knowledge"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/prompts"
	"github.com/ledgerchat/ledgerchat/internal/session"
)

// NoContextReply is returned when retrieval produced nothing to answer
// from. The response compiler suppresses resources when the reply
// equals it.
const NoContextReply = "I could not find anything in your documents that answers this question."

// ChunkSearcher is the retrieval surface the agent needs from the
// knowledge store.
type ChunkSearcher interface {
	Search(ctx context.Context, companyID, query string, topK int) ([]knowledge.Result, error)
	DocumentChunks(ctx context.Context, documentKey, query string) ([]knowledge.Result, error)
}

// referentialDecision is the structured output of the follow-up check.
type referentialDecision struct {
	Reference string `json:"reference" jsonschema_description:"Either \"previous\" or \"new\""`
}

// Agent answers document questions.
type Agent struct {
	g       *genkit.Genkit
	model   string
	store   ChunkSearcher
	budget  *ContextBudget
	prompts *prompts.Registry
	cache   *session.Cache
	topK    int
	logger  log.Logger
}

// New creates the RAG agent.
func New(g *genkit.Genkit, model string, store ChunkSearcher, budget *ContextBudget,
	registry *prompts.Registry, cache *session.Cache, topK int, logger log.Logger) *Agent {
	return &Agent{
		g:       g,
		model:   model,
		store:   store,
		budget:  budget,
		prompts: registry,
		cache:   cache,
		topK:    topK,
		logger:  logger.With("component", "rag"),
	}
}

// Kind implements agent.Agent.
func (a *Agent) Kind() agent.Kind { return agent.KindRAG }

// Run retrieves context and answers the query.
//
// Retrieval scope, in priority order: an explicit document key on the
// request; the thread's last document key when the query is a
// referential follow-up; otherwise company-wide similarity search.
// Retrieval failures degrade to an empty context, never to an error.
func (a *Agent) Run(ctx context.Context, state *agent.State) (agent.Envelope, error) {
	env := agent.Envelope{Agent: agent.KindRAG, Rationale: state.RouteReason}

	docKey := state.DocumentKey
	ts := a.cache.GetOrInit(state.ThreadID)
	if docKey == "" && ts.LastDocumentKey != "" && a.isReferential(ctx, ts.LastDocumentKey, state.Query) {
		docKey = ts.LastDocumentKey
		a.logger.Debug("follow-up references previous document", "document_key", docKey)
	}

	results := a.retrieve(ctx, state, docKey)
	results = a.budget.Fit(results)

	answer, err := a.answer(ctx, state, results)
	if err != nil {
		a.logger.Warn("answer call failed", "error", err)
		env.Text = NoContextReply
		return env, nil
	}
	env.Text = answer
	env.Resources = resourcesFrom(results)

	// Remember the document for referential follow-ups
	if len(env.Resources) > 0 {
		ts.LastDocumentKey = env.Resources[0].ID
		ts.LastResources = env.Resources
		a.cache.Put(state.ThreadID, ts)
	}

	return env, nil
}

func (a *Agent) retrieve(ctx context.Context, state *agent.State, docKey string) []knowledge.Result {
	var (
		results []knowledge.Result
		err     error
	)
	if docKey != "" {
		results, err = a.store.DocumentChunks(ctx, docKey, state.Query)
	} else {
		results, err = a.store.Search(ctx, state.CompanyID, state.Query, a.topK)
	}
	if err != nil {
		a.logger.Warn("retrieval failed, answering without context", "error", err)
		return nil
	}
	return results
}

// isReferential asks the model whether the query refers back to the
// previously discussed document. Errors count as "new" so a failed
// check can only widen the search, not hijack it.
func (a *Agent) isReferential(ctx context.Context, lastDocKey, query string) bool {
	tpl, err := a.prompts.Get(ctx, prompts.NameRAGReferential)
	if err != nil {
		return false
	}

	response, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.model),
		ai.WithPrompt(fmt.Sprintf(tpl, lastDocKey, query)),
		ai.WithOutputType(referentialDecision{}),
	)
	if err != nil {
		a.logger.Debug("referential check failed, treating query as new", "error", err)
		return false
	}

	var decision referentialDecision
	if err := response.Output(&decision); err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(decision.Reference), "previous")
}

func (a *Agent) answer(ctx context.Context, state *agent.State, results []knowledge.Result) (string, error) {
	tpl, err := a.prompts.Get(ctx, prompts.NameRAGAnswer)
	if err != nil {
		return "", err
	}

	contextText := "(no matching documents)"
	if len(results) > 0 {
		var sb strings.Builder
		for i, r := range results {
			if i > 0 {
				sb.WriteString("\n---\n")
			}
			sb.WriteString(r.Content)
		}
		contextText = sb.String()
	}

	response, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.model),
		ai.WithPrompt(fmt.Sprintf(tpl, contextText, agent.FormatHistory(state.History), state.Query)),
	)
	if err != nil {
		return "", err
	}
	return response.Text(), nil
}

// resourcesFrom collapses chunks to one resource per document key,
// carrying the highest similarity seen for that document. The first
// entry is the best-scoring document.
func resourcesFrom(results []knowledge.Result) []agent.Resource {
	best := make(map[string]float64)
	var order []string
	for _, r := range results {
		if score, ok := best[r.DocumentKey]; !ok || r.Similarity > score {
			if !ok {
				order = append(order, r.DocumentKey)
			}
			best[r.DocumentKey] = r.Similarity
		}
	}

	resources := make([]agent.Resource, 0, len(order))
	for _, key := range order {
		resources = append(resources, agent.Resource{
			Agent: agent.KindRAG,
			ID:    key,
			Score: best[key],
		})
	}
	// Highest-similarity document first
	for i := 1; i < len(resources); i++ {
		for j := i; j > 0 && resources[j].Score > resources[j-1].Score; j-- {
			resources[j], resources[j-1] = resources[j-1], resources[j]
		}
	}
	return resources
}
