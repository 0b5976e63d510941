// Package details answers questions about structured financial records
// by drafting SQL with the model, validating it, and executing it
// read-only against Postgres. One Agent instance per schema covers the
// invoice, loan, bank-statement and document-query agents.
package details

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ledgerchat/ledgerchat/internal/agent"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/prompts"
	"github.com/ledgerchat/ledgerchat/internal/security"
	"github.com/ledgerchat/ledgerchat/internal/session"
)

// The canned replies are exported so the response compiler can
// recognize them and suppress resources.
const (
	// InvalidSQLReply is returned when the drafted SQL fails security
	// validation. The draft is discarded, never retried.
	InvalidSQLReply = "Invalid SQL query: security validation failed."

	// QueryErrorReply is returned when drafting or execution fails.
	QueryErrorReply = "There was an error retrieving details. Please try again."

	// NoRowsReply is returned for an empty result set.
	NoRowsReply = "No matching records were found."
)

const queryTimeout = 15 * time.Second

// Querier is the read surface the agent needs; *pgxpool.Pool satisfies
// it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Agent turns a natural-language question into a validated SELECT over
// its schema and summarizes the rows.
type Agent struct {
	g         *genkit.Genkit
	model     string
	pool      Querier
	schema    Schema
	validator *security.SQLValidator
	prompts   *prompts.Registry
	cache     *session.Cache
	maxRows   int
	logger    log.Logger
}

// New creates a details agent for the given schema.
func New(g *genkit.Genkit, model string, pool Querier, schema Schema,
	registry *prompts.Registry, cache *session.Cache, maxRows int, logger log.Logger) *Agent {
	return &Agent{
		g:         g,
		model:     model,
		pool:      pool,
		schema:    schema,
		validator: security.NewSQLValidator(schema.Tables...),
		prompts:   registry,
		cache:     cache,
		maxRows:   maxRows,
		logger:    logger.With("component", "details", "agent", string(schema.Kind)),
	}
}

// Kind implements agent.Agent.
func (a *Agent) Kind() agent.Kind { return a.schema.Kind }

// Run executes the pipeline: draft SQL, check it with a second model
// call, validate, execute, summarize. Every failure degrades to a
// canned reply; the turn never fails.
func (a *Agent) Run(ctx context.Context, state *agent.State) (agent.Envelope, error) {
	env := agent.Envelope{Agent: a.schema.Kind, Rationale: state.RouteReason}

	query, err := a.draftSQL(ctx, state)
	if err != nil {
		a.logger.Warn("sql draft failed", "error", err)
		env.Text = QueryErrorReply
		return env, nil
	}

	query = a.checkSQL(ctx, query)

	if err := a.validator.Validate(query); err != nil {
		a.logger.Warn("drafted sql rejected", "error", err, "sql", query)
		env.Text = InvalidSQLReply
		return env, nil
	}
	query = security.EnsureLimit(query, a.maxRows)

	rows, err := a.execute(ctx, query)
	if err != nil {
		a.logger.Warn("sql execution failed", "error", err, "sql", query)
		env.Text = QueryErrorReply
		return env, nil
	}
	if len(rows) == 0 {
		env.Text = NoRowsReply
		return env, nil
	}

	env.Text = a.summarize(ctx, state.Query, rows)
	env.Resources = a.resourcesFrom(rows)

	if len(env.Resources) > 0 {
		ts := a.cache.GetOrInit(state.ThreadID)
		ts.LastResources = env.Resources
		a.cache.Put(state.ThreadID, ts)
	}
	return env, nil
}

func (a *Agent) draftSQL(ctx context.Context, state *agent.State) (string, error) {
	tpl, err := a.prompts.Get(ctx, prompts.NameSQLDraft)
	if err != nil {
		return "", err
	}

	response, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.model),
		ai.WithPrompt(fmt.Sprintf(tpl, a.schema.Description, state.CompanyID, a.maxRows, state.Query)),
	)
	if err != nil {
		return "", err
	}

	query := stripCodeFence(response.Text())
	if query == "" {
		return "", fmt.Errorf("model returned empty sql")
	}
	return query, nil
}

// checkSQL runs the drafted statement past the model once more to fix
// column names and a missing company_id filter. A failed check keeps
// the original draft; the validator is the real gate.
func (a *Agent) checkSQL(ctx context.Context, query string) string {
	tpl, err := a.prompts.Get(ctx, prompts.NameSQLCheck)
	if err != nil {
		return query
	}

	response, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.model),
		ai.WithPrompt(fmt.Sprintf(tpl, a.schema.Description, query)),
	)
	if err != nil {
		a.logger.Debug("sql check failed, keeping draft", "error", err)
		return query
	}

	if checked := stripCodeFence(response.Text()); checked != "" {
		return checked
	}
	return query
}

func (a *Agent) execute(ctx context.Context, query string) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = formatValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return out, nil
}

// summarize turns the rows into prose. A failed call falls back to a
// deterministic count so the user still gets an answer.
func (a *Agent) summarize(ctx context.Context, question string, rows []map[string]any) string {
	fallback := fmt.Sprintf("Found %d matching record(s).", len(rows))

	tpl, err := a.prompts.Get(ctx, prompts.NameRowsSummary)
	if err != nil {
		return fallback
	}

	encoded, err := json.Marshal(rows)
	if err != nil {
		return fallback
	}

	response, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.model),
		ai.WithPrompt(fmt.Sprintf(tpl, question, string(encoded))),
	)
	if err != nil {
		a.logger.Warn("summary call failed, using row count", "error", err)
		return fallback
	}
	if text := strings.TrimSpace(response.Text()); text != "" {
		return text
	}
	return fallback
}

// resourcesFrom extracts the schema's identifier column from each row,
// deduplicated in row order.
func (a *Agent) resourcesFrom(rows []map[string]any) []agent.Resource {
	seen := make(map[string]bool)
	var resources []agent.Resource
	for _, row := range rows {
		id, ok := row[a.schema.IDColumn].(string)
		if !ok || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		title, _ := row[a.schema.TitleColumn].(string)
		resources = append(resources, agent.Resource{
			Agent: a.schema.Kind,
			ID:    id,
			Title: title,
		})
	}
	return resources
}

// formatValue normalizes driver types for JSON encoding and the
// summary prompt: dates become ISO strings, numerics become floats.
func formatValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format(time.RFC3339)
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case []byte:
		return string(val)
	default:
		return v
	}
}

// stripCodeFence removes a markdown code fence the model may wrap the
// SQL in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
