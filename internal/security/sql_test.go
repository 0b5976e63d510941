package security

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLValidatorValidate(t *testing.T) {
	t.Parallel()

	v := NewSQLValidator("invoices")

	tests := []struct {
		name    string
		query   string
		wantErr error
	}{
		{
			name:  "simple select",
			query: "SELECT invoice_number, total_amount FROM invoices WHERE company_id = 'c1'",
		},
		{
			name:  "cte select",
			query: "WITH recent AS (SELECT * FROM invoices) SELECT * FROM recent",
		},
		{
			name: "multiple ctes",
			query: "WITH recent AS (SELECT * FROM invoices), totals AS (SELECT SUM(total_amount) FROM recent) " +
				"SELECT * FROM totals JOIN recent ON true",
		},
		{
			name:    "cte over disallowed table",
			query:   "WITH leaked AS (SELECT * FROM users) SELECT * FROM leaked",
			wantErr: ErrTableNotAllowed,
		},
		{
			name:  "lowercase select",
			query: "select * from invoices limit 5",
		},
		{
			name:    "empty",
			query:   "   ",
			wantErr: ErrEmptyQuery,
		},
		{
			name:    "delete statement",
			query:   "DELETE FROM users",
			wantErr: ErrNotSelect,
		},
		{
			name:    "insert statement",
			query:   "INSERT INTO invoices VALUES (1)",
			wantErr: ErrNotSelect,
		},
		{
			name:    "embedded drop",
			query:   "SELECT * FROM invoices; DROP TABLE invoices",
			wantErr: ErrForbiddenKeyword,
		},
		{
			name:    "union exfiltration",
			query:   "SELECT id FROM invoices UNION SELECT password FROM users",
			wantErr: ErrForbiddenKeyword,
		},
		{
			name:    "comment marker",
			query:   "SELECT * FROM invoices -- hidden",
			wantErr: ErrForbiddenKeyword,
		},
		{
			name:    "block comment",
			query:   "SELECT /* sneaky */ * FROM invoices",
			wantErr: ErrForbiddenKeyword,
		},
		{
			name:    "no from clause",
			query:   "SELECT 1",
			wantErr: ErrMissingFrom,
		},
		{
			name:    "table outside allow-list",
			query:   "SELECT * FROM users",
			wantErr: ErrTableNotAllowed,
		},
		{
			name:    "join to disallowed table",
			query:   "SELECT * FROM invoices JOIN users ON users.id = invoices.id",
			wantErr: ErrTableNotAllowed,
		},
		{
			name:  "column named created_at not mistaken for CREATE",
			query: "SELECT created_at FROM invoices",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := v.Validate(tt.query)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

// Table extraction is best-effort and deliberately fails open: a
// statement whose references the regex cannot pull out skips the
// allow-list check but still passes the keyword denylist.
func TestSQLValidatorFailsOpenOnUnparsedTables(t *testing.T) {
	t.Parallel()

	v := NewSQLValidator("invoices")

	err := v.Validate(`SELECT * FROM "Invoices!"`)
	assert.NoError(t, err)
}

func TestSQLValidatorSchemaQualifiedTable(t *testing.T) {
	t.Parallel()

	v := NewSQLValidator("invoices")

	assert.NoError(t, v.Validate("SELECT * FROM public.invoices"))
	assert.Error(t, v.Validate("SELECT * FROM public.users"))
}

func TestEnsureLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "appends limit",
			query: "SELECT * FROM invoices",
			want:  "SELECT * FROM invoices LIMIT 50",
		},
		{
			name:  "strips trailing semicolon",
			query: "SELECT * FROM invoices;",
			want:  "SELECT * FROM invoices LIMIT 50",
		},
		{
			name:  "existing limit preserved",
			query: "SELECT * FROM invoices LIMIT 5",
			want:  "SELECT * FROM invoices LIMIT 5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, EnsureLimit(tt.query, 50))
		})
	}
}
