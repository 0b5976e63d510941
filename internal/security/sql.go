// Package security provides validation for LLM-generated SQL and
// outbound URLs.
package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrEmptyQuery indicates an empty SQL statement.
	ErrEmptyQuery = errors.New("empty SQL query")

	// ErrNotSelect indicates the statement is not a SELECT or WITH query.
	ErrNotSelect = errors.New("only SELECT statements are allowed")

	// ErrForbiddenKeyword indicates the statement contains a write or
	// DDL keyword, or a comment marker.
	ErrForbiddenKeyword = errors.New("forbidden SQL keyword")

	// ErrMissingFrom indicates the statement has no FROM clause.
	ErrMissingFrom = errors.New("query must reference a table")

	// ErrTableNotAllowed indicates the statement references a table
	// outside the validator's allow-list.
	ErrTableNotAllowed = errors.New("table not allowed")
)

// forbiddenKeywords are rejected anywhere in the statement. UNION is
// included to block cross-table data exfiltration through the
// allow-listed table.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER",
	"TRUNCATE", "CREATE", "GRANT", "REVOKE", "UNION",
}

// tableRefPattern extracts table names following FROM or JOIN. This is
// a best-effort regex, not a SQL parser: statements whose table
// references it cannot extract pass the allow-list check unchecked
// (fail open). Known limitation, kept deliberately; the keyword
// denylist above is the primary guard.
var tableRefPattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)

// ctePattern extracts names defined in a WITH prologue. CTE names are
// not tables and must not be checked against the allow-list.
var ctePattern = regexp.MustCompile(`(?i)(?:\bWITH\s+|,\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s+AS\s*\(`)

var wordPattern = regexp.MustCompile(`[A-Z_]+`)

// SQLValidator validates LLM-generated SQL before execution. Only
// read-only SELECT statements over the allowed tables are accepted.
type SQLValidator struct {
	allowedTables map[string]bool
}

// NewSQLValidator creates a validator restricted to the given tables.
func NewSQLValidator(tables ...string) *SQLValidator {
	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		allowed[strings.ToLower(t)] = true
	}
	return &SQLValidator{allowedTables: allowed}
}

// Validate checks a SQL statement against the read-only policy:
// SELECT/WITH prefix, keyword denylist, no comment markers, FROM
// present, referenced tables in the allow-list.
func (v *SQLValidator) Validate(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return ErrEmptyQuery
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return ErrNotSelect
	}

	if strings.Contains(upper, "--") || strings.Contains(upper, "/*") {
		return fmt.Errorf("%w: comment marker", ErrForbiddenKeyword)
	}

	words := wordPattern.FindAllString(upper, -1)
	for _, w := range words {
		for _, kw := range forbiddenKeywords {
			if w == kw {
				return fmt.Errorf("%w: %s", ErrForbiddenKeyword, kw)
			}
		}
	}

	if !strings.Contains(upper, "FROM") {
		return ErrMissingFrom
	}

	cteNames := make(map[string]bool)
	for _, cte := range ctePattern.FindAllStringSubmatch(trimmed, -1) {
		cteNames[strings.ToLower(cte[1])] = true
	}

	// Fail open: no extracted references means no allow-list check.
	refs := tableRefPattern.FindAllStringSubmatch(trimmed, -1)
	for _, ref := range refs {
		table := strings.ToLower(ref[1])
		if cteNames[table] {
			continue
		}
		// strip schema qualifier
		if idx := strings.LastIndex(table, "."); idx >= 0 {
			table = table[idx+1:]
		}
		if !v.allowedTables[table] {
			return fmt.Errorf("%w: %s", ErrTableNotAllowed, table)
		}
	}

	return nil
}

// EnsureLimit appends a LIMIT clause when the statement has none,
// bounding result sets from LLM-generated queries.
func EnsureLimit(query string, max int) string {
	trimmed := strings.TrimRight(strings.TrimSpace(query), ";")
	if strings.Contains(strings.ToUpper(trimmed), "LIMIT") {
		return trimmed
	}
	return fmt.Sprintf("%s LIMIT %d", trimmed, max)
}
