// Package greeting handles small talk and anything the router could
// not place. It is the graph's safe default: it must always produce a
// usable reply.
package greeting

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/ledgerchat/ledgerchat/internal/agent"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/prompts"
)

// fallbackReply is returned when even the greeting LLM call fails.
const fallbackReply = "Hello! I can answer questions about your uploaded documents, invoices, loans and bank statements. How can I help?"

// Agent replies to greetings and unroutable queries.
type Agent struct {
	g       *genkit.Genkit
	model   string
	prompts *prompts.Registry
	logger  log.Logger
}

// New creates the greeting agent.
func New(g *genkit.Genkit, model string, registry *prompts.Registry, logger log.Logger) *Agent {
	return &Agent{
		g:       g,
		model:   model,
		prompts: registry,
		logger:  logger.With("component", "greeting"),
	}
}

// Kind implements agent.Agent.
func (a *Agent) Kind() agent.Kind { return agent.KindGreeting }

// Run produces a short friendly reply. Errors degrade to a canned
// greeting; this agent never fails.
func (a *Agent) Run(ctx context.Context, state *agent.State) (agent.Envelope, error) {
	env := agent.Envelope{Agent: agent.KindGreeting, Rationale: state.RouteReason}

	tpl, err := a.prompts.Get(ctx, prompts.NameGreeting)
	if err != nil {
		env.Text = fallbackReply
		return env, nil
	}

	response, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.model),
		ai.WithPrompt(fmt.Sprintf(tpl, state.Query)),
	)
	if err != nil {
		a.logger.Warn("greeting call failed, using canned reply", "error", err)
		env.Text = fallbackReply
		return env, nil
	}

	env.Text = response.Text()
	if env.Text == "" {
		env.Text = fallbackReply
	}
	return env, nil
}
