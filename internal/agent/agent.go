// Package agent defines the shared vocabulary of the orchestration
// graph: agent kinds, the per-invocation state threaded through the
// graph, and the envelopes and resources agents produce.
package agent

import (
	"context"

	"github.com/google/uuid"
)

// Kind identifies an agent in the graph. The string values double as
// the closed label set the orchestrator's routing LLM call is
// constrained to.
type Kind string

const (
	KindOrchestrator  Kind = "orchestrator"
	KindGreeting      Kind = "greeting_agent"
	KindRAG           Kind = "rag_agent"
	KindWebSearch     Kind = "web_search_agent"
	KindDocumentQuery Kind = "document_query_agent"
	KindInvoice       Kind = "invoice_agent"
	KindLoan          Kind = "loan_agent"
	KindBankStatement Kind = "bank_statement_agent"
	KindClassifier    Kind = "document_classifier_agent"
	KindSplitter      Kind = "query_splitter_agent"
	KindRespond       Kind = "response_agent"
)

// RoutableKinds are the targets the orchestrator may select for a
// user query.
var RoutableKinds = []Kind{
	KindGreeting,
	KindRAG,
	KindWebSearch,
	KindDocumentQuery,
	KindInvoice,
	KindLoan,
	KindBankStatement,
	KindSplitter,
}

// Valid reports whether k names a routable agent.
func (k Kind) Valid() bool {
	for _, rk := range RoutableKinds {
		if k == rk {
			return true
		}
	}
	return false
}

// Resource is a source citation attached to an answer: a document
// key, an invoice number, a URL. Score carries the similarity for RAG
// chunks and is zero elsewhere.
type Resource struct {
	Agent Kind    `json:"agent"`
	ID    string  `json:"id"`
	Title string  `json:"title,omitempty"`
	Score float64 `json:"score,omitempty"`
}

// Envelope is one agent's contribution to the final answer: the text
// it produced, which agent produced it, why, and the resources it
// consulted.
type Envelope struct {
	Agent     Kind       `json:"agent"`
	Text      string     `json:"text"`
	Rationale string     `json:"rationale,omitempty"`
	Resources []Resource `json:"resources,omitempty"`
}

// Turn is one prior message of the conversation, in a form agents can
// embed into prompts.
type Turn struct {
	Role    string
	Content string
}

// State is the per-invocation state threaded through one graph run.
// It is created fresh per request and never shared between requests;
// cross-turn state lives in the session cache.
type State struct {
	Query       string
	CompanyID   string
	DocumentKey string
	ThreadID    uuid.UUID

	// History is the recent conversation window, oldest first.
	History []Turn

	// Selected is the agent the orchestrator routed to.
	Selected Kind
	// RouteReason is the orchestrator's rationale for the selection.
	RouteReason string

	// Envelopes accumulates agent outputs in execution order.
	Envelopes []Envelope

	// SubQueries records the splitter's decomposition, when used.
	SubQueries []string
}

// AddEnvelope appends an agent's output to the state.
func (s *State) AddEnvelope(env Envelope) {
	s.Envelopes = append(s.Envelopes, env)
}

// Resources returns all resources accumulated across envelopes.
func (s *State) Resources() []Resource {
	var all []Resource
	for _, env := range s.Envelopes {
		all = append(all, env.Resources...)
	}
	return all
}

// Agent is one node of the orchestration graph. Run consumes the
// state and returns the envelope to accumulate; errors are handled by
// each agent internally (degrading to canned text), so Run returning
// an error means the graph itself cannot continue.
type Agent interface {
	Kind() Kind
	Run(ctx context.Context, state *State) (Envelope, error)
}
