// Package splitter decomposes compound queries into independent
// sub-queries and runs each through the graph's routing step.
package splitter

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/ledgerchat/ledgerchat/internal/agent"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/prompts"
)

// maxSubQueries caps the fan-out of one compound query.
const maxSubQueries = 5

// ExecFunc routes and runs a single sub-query, returning its envelope.
// The graph supplies it; it must never route back to the splitter.
type ExecFunc func(ctx context.Context, state *agent.State) (agent.Envelope, error)

// decomposition is the structured output of the split call.
type decomposition struct {
	SubQueries []string `json:"sub_queries" jsonschema_description:"The independent sub-questions, in the order asked"`
}

// Agent splits compound queries.
type Agent struct {
	g       *genkit.Genkit
	model   string
	prompts *prompts.Registry
	exec    ExecFunc
	logger  log.Logger
}

// New creates the splitter. exec runs one sub-query end to end.
func New(g *genkit.Genkit, model string, registry *prompts.Registry, exec ExecFunc, logger log.Logger) *Agent {
	return &Agent{
		g:       g,
		model:   model,
		prompts: registry,
		exec:    exec,
		logger:  logger.With("component", "splitter"),
	}
}

// Kind implements agent.Agent.
func (a *Agent) Kind() agent.Kind { return agent.KindSplitter }

// Run decomposes the query and executes the sub-queries one after
// another, accumulating their envelopes on the state in the order the
// questions were asked. Execution is sequential on purpose: agents
// read and write the shared per-thread session state, which is not
// safe under concurrent sub-queries. The returned envelope carries no
// text of its own; the response compiler works from the accumulated
// sub-envelopes. When decomposition fails or yields a single question,
// the original query runs through exec once.
func (a *Agent) Run(ctx context.Context, state *agent.State) (agent.Envelope, error) {
	env := agent.Envelope{Agent: agent.KindSplitter, Rationale: state.RouteReason}

	subQueries := a.split(ctx, state.Query)
	if len(subQueries) < 2 {
		a.logger.Debug("query did not decompose, running as one", "query", state.Query)
		subQueries = []string{state.Query}
	}
	if len(subQueries) > maxSubQueries {
		subQueries = subQueries[:maxSubQueries]
	}
	state.SubQueries = subQueries

	// A failed sub-query is skipped; the others still answer.
	for _, sub := range subQueries {
		subState := &agent.State{
			Query:       sub,
			CompanyID:   state.CompanyID,
			DocumentKey: state.DocumentKey,
			ThreadID:    state.ThreadID,
			History:     state.History,
		}
		subEnv, err := a.exec(ctx, subState)
		if err != nil {
			a.logger.Warn("sub-query failed, skipping", "sub_query", sub, "error", err)
			continue
		}
		state.AddEnvelope(subEnv)
	}
	return env, nil
}

func (a *Agent) split(ctx context.Context, query string) []string {
	tpl, err := a.prompts.Get(ctx, prompts.NameSplitQuery)
	if err != nil {
		return nil
	}

	response, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.model),
		ai.WithPrompt(fmt.Sprintf(tpl, query)),
		ai.WithOutputType(decomposition{}),
	)
	if err != nil {
		a.logger.Warn("split call failed", "error", err)
		return nil
	}

	var result decomposition
	if err := response.Output(&result); err != nil {
		return nil
	}

	cleaned := make([]string, 0, len(result.SubQueries))
	for _, q := range result.SubQueries {
		if q = strings.TrimSpace(q); q != "" {
			cleaned = append(cleaned, q)
		}
	}
	return cleaned
}
