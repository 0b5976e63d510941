package details

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerchat/ledgerchat/internal/agent"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/prompts"
	"github.com/ledgerchat/ledgerchat/internal/session"
	"github.com/ledgerchat/ledgerchat/internal/testutil"
)

type fakeRows struct {
	fields []pgconn.FieldDescription
	rows   [][]any
	idx    int
}

func (f *fakeRows) Close()                                       {}
func (f *fakeRows) Err() error                                   { return nil }
func (f *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (f *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return f.fields }
func (f *fakeRows) RawValues() [][]byte                          { return nil }
func (f *fakeRows) Conn() *pgx.Conn                              { return nil }

func (f *fakeRows) Next() bool {
	if f.idx >= len(f.rows) {
		return false
	}
	f.idx++
	return true
}

func (f *fakeRows) Values() ([]any, error) { return f.rows[f.idx-1], nil }

func (f *fakeRows) Scan(...any) error { return errors.New("not implemented") }

type fakeQuerier struct {
	rows     *fakeRows
	err      error
	executed string
}

func (f *fakeQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.executed = sql
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func newTestAgent(t *testing.T, mock *testutil.MockLLM, pool Querier) (*Agent, *session.Cache) {
	t.Helper()

	g := genkit.Init(context.Background())
	mock.RegisterModel(g)

	cache := session.NewCache(time.Minute)
	registry := prompts.NewRegistry("", log.NewNop())
	return New(g, testutil.MockModelName, pool, Invoices, registry, cache, 50, log.NewNop()), cache
}

func invoiceRows() *fakeRows {
	return &fakeRows{
		fields: []pgconn.FieldDescription{
			{Name: "invoice_number"},
			{Name: "vendor_name"},
			{Name: "total_amount"},
			{Name: "invoice_date"},
		},
		rows: [][]any{
			{"INV-001", "Acme Corp", pgtype.Numeric{Int: big.NewInt(123450), Exp: -2, Valid: true},
				time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
			{"INV-002", "Globex", pgtype.Numeric{Int: big.NewInt(99900), Exp: -2, Valid: true},
				time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func TestRunAnswersFromRows(t *testing.T) {
	pool := &fakeQuerier{rows: invoiceRows()}
	mock := testutil.NewMockLLM("")
	mock.AddResponse("Write a single PostgreSQL SELECT",
		"SELECT invoice_number, vendor_name, total_amount, invoice_date FROM invoices WHERE company_id = 'company-1'")
	mock.AddResponse("Check the SQL statement",
		"SELECT invoice_number, vendor_name, total_amount, invoice_date FROM invoices WHERE company_id = 'company-1'")
	mock.AddResponse("Summarize the query results", "You have two open invoices totalling 2233.50.")
	a, _ := newTestAgent(t, mock, pool)

	state := &agent.State{Query: "which invoices are open?", CompanyID: "company-1", ThreadID: uuid.New()}
	env, err := a.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, "You have two open invoices totalling 2233.50.", env.Text)
	assert.Contains(t, pool.executed, "LIMIT 50", "a row cap must be injected when absent")

	require.Len(t, env.Resources, 2)
	assert.Equal(t, agent.KindInvoice, env.Resources[0].Agent)
	assert.Equal(t, "INV-001", env.Resources[0].ID)
	assert.Equal(t, "Acme Corp", env.Resources[0].Title)
}

func TestRunRecordsResourcesInThreadState(t *testing.T) {
	pool := &fakeQuerier{rows: invoiceRows()}
	mock := testutil.NewMockLLM("summary")
	mock.AddResponse("Write a single PostgreSQL SELECT",
		"SELECT invoice_number, vendor_name FROM invoices WHERE company_id = 'company-1'")
	mock.AddResponse("Check the SQL statement",
		"SELECT invoice_number, vendor_name FROM invoices WHERE company_id = 'company-1'")
	a, cache := newTestAgent(t, mock, pool)

	threadID := uuid.New()
	state := &agent.State{Query: "list invoices", CompanyID: "company-1", ThreadID: threadID}
	_, err := a.Run(context.Background(), state)
	require.NoError(t, err)

	ts := cache.Get(threadID)
	require.NotNil(t, ts)
	require.Len(t, ts.LastResources, 2)
	assert.Equal(t, "INV-001", ts.LastResources[0].ID)
}

func TestRunRejectsUnsafeSQL(t *testing.T) {
	pool := &fakeQuerier{rows: invoiceRows()}
	mock := testutil.NewMockLLM("")
	mock.AddResponse("Write a single PostgreSQL SELECT", "DELETE FROM invoices WHERE company_id = 'company-1'")
	mock.AddResponse("Check the SQL statement", "DELETE FROM invoices WHERE company_id = 'company-1'")
	a, _ := newTestAgent(t, mock, pool)

	state := &agent.State{Query: "delete everything", CompanyID: "company-1", ThreadID: uuid.New()}
	env, err := a.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, InvalidSQLReply, env.Text)
	assert.Empty(t, pool.executed, "rejected sql must never reach the database")
	assert.Empty(t, env.Resources)
}

func TestRunDraftFailureDegrades(t *testing.T) {
	pool := &fakeQuerier{rows: invoiceRows()}
	mock := testutil.NewMockLLM("")
	mock.FailWith(errors.New("model unavailable"))
	a, _ := newTestAgent(t, mock, pool)

	state := &agent.State{Query: "list invoices", CompanyID: "company-1", ThreadID: uuid.New()}
	env, err := a.Run(context.Background(), state)

	require.NoError(t, err, "model failures must not fail the turn")
	assert.Equal(t, QueryErrorReply, env.Text)
}

func TestRunExecutionFailureDegrades(t *testing.T) {
	pool := &fakeQuerier{err: errors.New("connection refused")}
	mock := testutil.NewMockLLM("")
	mock.AddResponse("Write a single PostgreSQL SELECT", "SELECT invoice_number FROM invoices WHERE company_id = 'c'")
	mock.AddResponse("Check the SQL statement", "SELECT invoice_number FROM invoices WHERE company_id = 'c'")
	a, _ := newTestAgent(t, mock, pool)

	state := &agent.State{Query: "list invoices", CompanyID: "c", ThreadID: uuid.New()}
	env, err := a.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, QueryErrorReply, env.Text)
}

func TestRunEmptyResultSet(t *testing.T) {
	pool := &fakeQuerier{rows: &fakeRows{fields: []pgconn.FieldDescription{{Name: "invoice_number"}}}}
	mock := testutil.NewMockLLM("")
	mock.AddResponse("Write a single PostgreSQL SELECT", "SELECT invoice_number FROM invoices WHERE company_id = 'c'")
	mock.AddResponse("Check the SQL statement", "SELECT invoice_number FROM invoices WHERE company_id = 'c'")
	a, _ := newTestAgent(t, mock, pool)

	state := &agent.State{Query: "list invoices", CompanyID: "c", ThreadID: uuid.New()}
	env, err := a.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, NoRowsReply, env.Text)
}

func TestFormatValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want any
	}{
		{
			name: "date at midnight",
			in:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			want: "2026-03-01",
		},
		{
			name: "timestamp",
			in:   time.Date(2026, 3, 1, 14, 30, 5, 0, time.UTC),
			want: "2026-03-01T14:30:05Z",
		},
		{
			name: "numeric",
			in:   pgtype.Numeric{Int: big.NewInt(12345), Exp: -2, Valid: true},
			want: 123.45,
		},
		{
			name: "invalid numeric",
			in:   pgtype.Numeric{},
			want: nil,
		},
		{
			name: "bytes",
			in:   []byte("hello"),
			want: "hello",
		},
		{
			name: "passthrough",
			in:   int64(7),
			want: int64(7),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if f, ok := tt.want.(float64); ok {
				assert.InDelta(t, f, formatValue(tt.in), 1e-9)
				return
			}
			assert.Equal(t, tt.want, formatValue(tt.in))
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", "SELECT 1", "SELECT 1"},
		{"fenced", "```sql\nSELECT 1\n```", "SELECT 1"},
		{"fenced no lang", "```\nSELECT 1\n```", "SELECT 1"},
		{"whitespace", "  SELECT 1  ", "SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, stripCodeFence(tt.in))
		})
	}
}
