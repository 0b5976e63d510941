// Package graph wires the orchestrator, the specialized agents and the
// response compiler into one engine that executes a chat turn.
package graph

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/ledgerchat/ledgerchat/internal/agent"
	"github.com/ledgerchat/ledgerchat/internal/agent/orchestrator"
	"github.com/ledgerchat/ledgerchat/internal/agent/respond"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/session"
)

// Request is one chat turn.
type Request struct {
	CompanyID   string    `json:"company_id"`
	Query       string    `json:"query"`
	ThreadID    uuid.UUID `json:"thread_id,omitempty"`
	DocumentKey string    `json:"document_key,omitempty"`
}

// Result is the outcome of one chat turn.
type Result struct {
	ThreadID  uuid.UUID       `json:"thread_id"`
	Agent     agent.Kind      `json:"agent"`
	Text      string          `json:"response"`
	Summary   string          `json:"summary,omitempty"`
	Resources respond.Buckets `json:"resources"`
}

// ThreadStore is the persistence surface the engine needs;
// *session.Store satisfies it.
type ThreadStore interface {
	GetOrCreate(ctx context.Context, threadID uuid.UUID, companyID string) (*session.Thread, bool, error)
	History(ctx context.Context, threadID uuid.UUID, window int) ([]session.Message, error)
	Append(ctx context.Context, threadID uuid.UUID, messages []session.Message) error
}

// Engine runs chat turns through the agent graph.
type Engine struct {
	orchestrator  *orchestrator.Orchestrator
	compiler      *respond.Compiler
	agents        map[agent.Kind]agent.Agent
	store         ThreadStore
	cache         *session.Cache
	historyWindow int
	logger        log.Logger
}

// NewEngine creates the engine. Agents register afterwards via
// Register; the splitter in particular needs the engine's SubExec
// before it can be built.
func NewEngine(orch *orchestrator.Orchestrator, compiler *respond.Compiler,
	store ThreadStore, cache *session.Cache, historyWindow int, logger log.Logger) *Engine {
	return &Engine{
		orchestrator:  orch,
		compiler:      compiler,
		agents:        make(map[agent.Kind]agent.Agent),
		store:         store,
		cache:         cache,
		historyWindow: historyWindow,
		logger:        logger.With("component", "graph"),
	}
}

// Register adds an agent to the graph, keyed by its kind.
func (e *Engine) Register(agents ...agent.Agent) {
	for _, a := range agents {
		e.agents[a.Kind()] = a
	}
}

// Run executes one chat turn: resolve the thread, load history, route,
// run the selected agent, compile the reply, persist the exchange.
//
// A pending upload confirmation short-circuits routing: the user's
// message is the answer to the classifier's question.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	thread, created, err := e.store.GetOrCreate(ctx, req.ThreadID, req.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve thread: %w", err)
	}
	if created {
		e.logger.Info("started thread", "thread_id", thread.ID, "company_id", req.CompanyID)
	}

	state := &agent.State{
		Query:       req.Query,
		CompanyID:   req.CompanyID,
		DocumentKey: req.DocumentKey,
		ThreadID:    thread.ID,
		History:     e.loadHistory(ctx, thread.ID),
	}

	if e.confirmationPending(thread.ID) {
		state.Selected = agent.KindClassifier
		state.RouteReason = "upload confirmation pending"
	} else {
		e.orchestrator.Route(ctx, state)
	}

	e.runSelected(ctx, state)
	compiled := e.compiler.Compile(ctx, state)

	e.persist(ctx, thread.ID, req.Query, compiled.Text)

	return &Result{
		ThreadID:  thread.ID,
		Agent:     state.Selected,
		Text:      compiled.Text,
		Summary:   compiled.Summary,
		Resources: compiled.Resources,
	}, nil
}

// SubExec routes and runs one of the splitter's sub-queries. A nested
// splitter selection is redirected to RAG so decomposition cannot
// recurse.
func (e *Engine) SubExec(ctx context.Context, state *agent.State) (agent.Envelope, error) {
	e.orchestrator.Route(ctx, state)
	if state.Selected == agent.KindSplitter {
		state.Selected = agent.KindRAG
		state.RouteReason = "nested decomposition suppressed"
	}

	a, ok := e.agents[state.Selected]
	if !ok {
		return agent.Envelope{}, fmt.Errorf("no agent registered for %q", state.Selected)
	}
	return a.Run(ctx, state)
}

// DefineFlow registers the engine as a genkit flow, making chat turns
// observable in the developer UI and traceable end to end.
func (e *Engine) DefineFlow(g *genkit.Genkit) {
	genkit.DefineFlow(g, "chat", func(ctx context.Context, req Request) (*Result, error) {
		return e.Run(ctx, req)
	})
}

func (e *Engine) runSelected(ctx context.Context, state *agent.State) {
	a, ok := e.agents[state.Selected]
	if !ok {
		e.logger.Error("no agent registered for selection", "agent", state.Selected)
		return
	}

	env, err := a.Run(ctx, state)
	if err != nil {
		// Agents degrade internally; an error here means the turn
		// produced nothing. The compiler turns that into a no-answer
		// reply.
		e.logger.Error("agent run failed", "agent", state.Selected, "error", err)
		return
	}
	state.AddEnvelope(env)
}

func (e *Engine) loadHistory(ctx context.Context, threadID uuid.UUID) []agent.Turn {
	messages, err := e.store.History(ctx, threadID, e.historyWindow)
	if err != nil {
		e.logger.Warn("failed to load history, running without it", "thread_id", threadID, "error", err)
		return nil
	}

	turns := make([]agent.Turn, 0, len(messages))
	for _, msg := range messages {
		turns = append(turns, agent.Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}

func (e *Engine) confirmationPending(threadID uuid.UUID) bool {
	ts := e.cache.Get(threadID)
	return ts != nil && ts.Upload != nil && ts.Upload.Stage == session.StageAwaitingConfirmation
}

// persist writes the user/model exchange. The reply was already
// computed, so persistence failures are logged, not surfaced.
func (e *Engine) persist(ctx context.Context, threadID uuid.UUID, query, reply string) {
	err := e.store.Append(ctx, threadID, []session.Message{
		{Role: session.RoleUser, Content: query},
		{Role: session.RoleModel, Content: reply},
	})
	if err != nil {
		e.logger.Error("failed to persist exchange", "thread_id", threadID, "error", err)
	}
}
