package duckdb

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// dangerousKeywordPattern matches dangerous SQL keywords at word
// boundaries. This avoids false positives like "RESET" matching "SET".
// Used as defense-in-depth after comment stripping and semicolon
// rejection.
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET)\b`,
)

// blockCommentPattern matches C-style block comments (/* ... */).
var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// stripSQLComments removes -- line comments and /* */ block comments
// from a query.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// ExecuteQuery runs a read-only SQL query and returns results as maps.
// Only SELECT/WITH read queries are allowed; DDL/DML is rejected.
func (s *Store) ExecuteQuery(query string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)

	// Reject semicolons to prevent statement chaining.
	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("query must not contain semicolons")
	}

	// Strip SQL comments so keywords hidden in comments are still caught.
	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only SELECT/WITH queries are allowed")
	}

	// Defense-in-depth: reject dangerous keywords after comment stripping.
	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return nil, fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	maxRows := 1000

	for rows.Next() && len(results) < maxRows {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			s.log.Warn("ad-hoc query row scan failed", zap.Error(err))
			continue
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// GetSchemaDescription returns a human-readable schema description for
// the query surface.
func (s *Store) GetSchemaDescription() string {
	return `Table 'insight_snapshots': id (BIGINT), generated_at (TIMESTAMP), total_logs (BIGINT), ` +
		`metrics (JSON keyed by metric name, values hold computed aggregations). ` +
		`Table 'alert_events': id (BIGINT), metric (VARCHAR: errorRate/warningRate), ` +
		`observed_average (DOUBLE), threshold (DOUBLE), raised_at (TIMESTAMP). ` +
		`Table 'scheduler_state': key (VARCHAR), value (VARCHAR).`
}

// TableRowCounts returns the row count for each known table using a
// hardcoded allowlist.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	allowedTables := []string{"insight_snapshots", "alert_events", "scheduler_state"}
	counts := make(map[string]int64, len(allowedTables))

	for _, table := range allowedTables {
		var count int64
		// Table names are hardcoded constants, not user input.
		err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		counts[table] = count
	}
	return counts, nil
}
