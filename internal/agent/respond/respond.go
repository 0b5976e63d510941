// Package respond compiles the envelopes accumulated during a graph
// run into the final reply and its categorized resources.
package respond

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/ledgerchat/ledgerchat/internal/agent"
	"github.com/ledgerchat/ledgerchat/internal/agent/details"
	"github.com/ledgerchat/ledgerchat/internal/agent/rag"
	"github.com/ledgerchat/ledgerchat/internal/agent/websearch"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/prompts"
)

// NoAnswerReply is the reply when no agent produced usable text. When
// the compiled reply equals it, resources are suppressed so the user
// is not shown citations for an answer that does not exist.
const NoAnswerReply = "I'm sorry, I could not put together an answer to that. Please try again."

// fallbackReplies are the canned replies that mean no answer was
// found; none of them may carry citations.
var fallbackReplies = map[string]bool{
	NoAnswerReply:            true,
	rag.NoContextReply:       true,
	websearch.NoResultsReply: true,
	details.InvalidSQLReply:  true,
	details.QueryErrorReply:  true,
	details.NoRowsReply:      true,
}

// summaryMarker separates the compiled reply from its optional
// one-line summary.
const summaryMarker = "[SUMMARY]"

// Buckets groups the final resources by the agent category that
// produced them.
type Buckets struct {
	RAG            []agent.Resource `json:"rag,omitempty"`
	Documents      []agent.Resource `json:"documents,omitempty"`
	Invoices       []agent.Resource `json:"invoices,omitempty"`
	Loans          []agent.Resource `json:"loans,omitempty"`
	BankStatements []agent.Resource `json:"bank_statements,omitempty"`
	WebSearch      []agent.Resource `json:"web_search,omitempty"`
}

// Empty reports whether no bucket holds a resource.
func (b Buckets) Empty() bool {
	return len(b.RAG) == 0 && len(b.Documents) == 0 && len(b.Invoices) == 0 &&
		len(b.Loans) == 0 && len(b.BankStatements) == 0 && len(b.WebSearch) == 0
}

// Compiled is the final output of a graph run.
type Compiled struct {
	Text      string
	Summary   string
	Resources Buckets
}

// Compiler produces the final reply from accumulated envelopes.
type Compiler struct {
	g       *genkit.Genkit
	model   string
	prompts *prompts.Registry
	logger  log.Logger
}

// New creates the response compiler.
func New(g *genkit.Genkit, model string, registry *prompts.Registry, logger log.Logger) *Compiler {
	return &Compiler{
		g:       g,
		model:   model,
		prompts: registry,
		logger:  logger.With("component", "respond"),
	}
}

// Kind identifies the compiler in the agent vocabulary.
func (c *Compiler) Kind() agent.Kind { return agent.KindRespond }

// Compile merges the state's envelopes into one reply. A single
// envelope passes through without a model call; several are combined
// by the model, falling back to simple concatenation. Envelopes with
// empty text are ignored.
func (c *Compiler) Compile(ctx context.Context, state *agent.State) Compiled {
	var parts []agent.Envelope
	for _, env := range state.Envelopes {
		if strings.TrimSpace(env.Text) != "" {
			parts = append(parts, env)
		}
	}

	if len(parts) == 0 {
		return Compiled{Text: NoAnswerReply}
	}

	var text string
	if len(parts) == 1 {
		text = parts[0].Text
	} else {
		text = c.combine(ctx, state.Query, parts)
	}

	text, summary := splitSummary(text)
	out := Compiled{Text: text, Summary: summary}
	if !fallbackReplies[text] {
		out.Resources = bucketResources(state.Resources())
	}
	return out
}

// combine asks the model to merge the partial answers; on failure the
// partials are concatenated as-is.
func (c *Compiler) combine(ctx context.Context, query string, parts []agent.Envelope) string {
	joined := joinParts(parts)

	tpl, err := c.prompts.Get(ctx, prompts.NameCompileResponse)
	if err != nil {
		return joined
	}

	response, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.model),
		ai.WithPrompt(fmt.Sprintf(tpl, query, joined)),
	)
	if err != nil {
		c.logger.Warn("compile call failed, concatenating answers", "error", err)
		return joined
	}
	if text := strings.TrimSpace(response.Text()); text != "" {
		return text
	}
	return joined
}

func joinParts(parts []agent.Envelope) string {
	var sb strings.Builder
	for i, env := range parts {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(env.Text)
	}
	return sb.String()
}

// splitSummary extracts the optional trailing summary.
func splitSummary(text string) (string, string) {
	idx := strings.Index(text, summaryMarker)
	if idx < 0 {
		return strings.TrimSpace(text), ""
	}
	return strings.TrimSpace(text[:idx]), strings.TrimSpace(text[idx+len(summaryMarker):])
}

// bucketResources distributes resources into per-category lists,
// deduplicated by ID (falling back to title). The RAG bucket collapses
// to the single highest-similarity document.
func bucketResources(resources []agent.Resource) Buckets {
	var b Buckets
	seen := make(map[string]bool)

	for _, r := range resources {
		key := string(r.Agent) + "/" + r.ID
		if r.ID == "" {
			key = string(r.Agent) + "/" + r.Title
		}
		if key == string(r.Agent)+"/" || seen[key] {
			continue
		}
		seen[key] = true

		switch r.Agent {
		case agent.KindRAG:
			if len(b.RAG) == 0 || r.Score > b.RAG[0].Score {
				b.RAG = []agent.Resource{r}
			}
		case agent.KindDocumentQuery, agent.KindClassifier:
			b.Documents = append(b.Documents, r)
		case agent.KindInvoice:
			b.Invoices = append(b.Invoices, r)
		case agent.KindLoan:
			b.Loans = append(b.Loans, r)
		case agent.KindBankStatement:
			b.BankStatements = append(b.BankStatements, r)
		case agent.KindWebSearch:
			b.WebSearch = append(b.WebSearch, r)
		}
	}
	return b
}
