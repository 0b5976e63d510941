// Package orchestrator routes user queries to exactly one specialized
// agent.
//
// Routing never hard-fails: degenerate queries skip the LLM entirely,
// an LLM error falls back to the greeting agent, and an active
// document context overrides the LLM's choice in favor of RAG.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/ledgerchat/ledgerchat/internal/agent"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/prompts"
	"github.com/ledgerchat/ledgerchat/internal/session"
)

// Decision is the structured output of the routing LLM call.
type Decision struct {
	Agent  string `json:"agent" jsonschema_description:"Name of the agent to route to"`
	Reason string `json:"reason" jsonschema_description:"One-sentence rationale for the choice"`
}

// Orchestrator selects the agent for a query.
type Orchestrator struct {
	g       *genkit.Genkit
	model   string
	prompts *prompts.Registry
	cache   *session.Cache
	logger  log.Logger
}

// New creates an Orchestrator.
func New(g *genkit.Genkit, model string, registry *prompts.Registry, cache *session.Cache, logger log.Logger) *Orchestrator {
	return &Orchestrator{
		g:       g,
		model:   model,
		prompts: registry,
		cache:   cache,
		logger:  logger.With("component", "orchestrator"),
	}
}

// Route decides which agent handles the query and records the decision
// on the state.
//
// Policy, in priority order:
//  1. Degenerate query (too short or no letters) routes to greeting
//     without an LLM call.
//  2. One structured-output LLM call constrained to the routable
//     agent names, with recent conversation context.
//  3. A document key on the request, or a document uploaded earlier in
//     the thread, overrides any non-database choice to RAG.
//  4. Any LLM failure or invalid label falls back to greeting.
func (o *Orchestrator) Route(ctx context.Context, state *agent.State) {
	if IsDegenerate(state.Query) {
		state.Selected = agent.KindGreeting
		state.RouteReason = "query too short to route"
		return
	}

	selected, reason := o.routeLLM(ctx, state)

	if override, why := o.documentOverride(state, selected); override != "" {
		o.logger.Debug("routing overridden",
			"from", selected, "to", override, "reason", why)
		selected, reason = override, why
	}

	state.Selected = selected
	state.RouteReason = reason
	o.logger.Info("routed query", "agent", selected, "reason", reason)
}

func (o *Orchestrator) routeLLM(ctx context.Context, state *agent.State) (agent.Kind, string) {
	tpl, err := o.prompts.Get(ctx, prompts.NameRouting)
	if err != nil {
		return agent.KindGreeting, "routing unavailable"
	}

	prompt := fmt.Sprintf(tpl, agent.FormatHistory(state.History), state.Query)

	response, err := genkit.Generate(ctx, o.g,
		ai.WithModelName(o.model),
		ai.WithPrompt(prompt),
		ai.WithOutputType(Decision{}),
	)
	if err != nil {
		o.logger.Warn("routing call failed, falling back to greeting", "error", err)
		return agent.KindGreeting, "routing failed, defaulting to greeting"
	}

	var decision Decision
	if err := response.Output(&decision); err != nil {
		o.logger.Warn("routing output unparseable, falling back to greeting", "error", err)
		return agent.KindGreeting, "routing failed, defaulting to greeting"
	}

	kind := agent.Kind(decision.Agent)
	if !kind.Valid() {
		o.logger.Warn("routing returned unknown agent, falling back to greeting",
			"agent", decision.Agent)
		return agent.KindGreeting, "routing ambiguous, defaulting to greeting"
	}

	return kind, decision.Reason
}

// documentOverride returns the RAG override when a document context is
// active and the LLM chose a non-database agent for it.
func (o *Orchestrator) documentOverride(state *agent.State, selected agent.Kind) (agent.Kind, string) {
	if selected == agent.KindRAG || selected == agent.KindSplitter {
		return "", ""
	}

	if state.DocumentKey != "" {
		return agent.KindRAG, "document key present, answering from the document"
	}

	// A document uploaded earlier in this thread makes follow-up
	// questions document questions unless the router picked a details
	// agent explicitly.
	if isDetailsAgent(selected) {
		return "", ""
	}
	if ts := o.cache.Get(state.ThreadID); ts != nil && ts.DocumentUploaded {
		return agent.KindRAG, "thread has an uploaded document, answering from it"
	}

	return "", ""
}

func isDetailsAgent(k agent.Kind) bool {
	switch k {
	case agent.KindInvoice, agent.KindLoan, agent.KindBankStatement, agent.KindDocumentQuery:
		return true
	}
	return false
}

// IsDegenerate reports whether a query is too malformed to route: at
// most three characters after trimming, or no letters at all.
func IsDegenerate(query string) bool {
	trimmed := strings.TrimSpace(query)
	if len([]rune(trimmed)) <= 3 {
		return true
	}
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
