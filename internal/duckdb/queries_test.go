package duckdb

import (
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/sage/internal/model"
)

func TestExecuteQuery_SelectAllowed(t *testing.T) {
	store := newTestStore(t)

	if err := store.InsertAlertBatch([]*model.AlertEvent{
		{Metric: "errorRate", ObservedAverage: 0.2, Threshold: 0.05, RaisedAt: time.Now().UTC()},
	}); err != nil {
		t.Fatalf("InsertAlertBatch: %v", err)
	}

	results, err := store.ExecuteQuery("SELECT COUNT(*) as cnt FROM alert_events")
	if err != nil {
		t.Fatalf("ExecuteQuery SELECT: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("ExecuteQuery returned %d rows, want 1", len(results))
	}
}

func TestExecuteQuery_WithAllowed(t *testing.T) {
	store := newTestStore(t)

	results, err := store.ExecuteQuery(
		"WITH c AS (SELECT COUNT(*) AS cnt FROM insight_snapshots) SELECT cnt FROM c")
	if err != nil {
		t.Fatalf("ExecuteQuery WITH: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("ExecuteQuery WITH returned %d rows, want 1", len(results))
	}
}

func TestExecuteQuery_DMLRejected(t *testing.T) {
	store := newTestStore(t)

	rejected := []string{
		"INSERT INTO alert_events (metric) VALUES ('hack')",
		"UPDATE alert_events SET metric = 'hacked'",
		"DELETE FROM insight_snapshots",
		"DROP TABLE insight_snapshots",
		"CREATE TABLE evil (id int)",
		"ALTER TABLE alert_events ADD COLUMN evil varchar",
		"TRUNCATE alert_events",
	}

	for _, sql := range rejected {
		_, err := store.ExecuteQuery(sql)
		if err == nil {
			t.Errorf("ExecuteQuery(%q) should have been rejected", sql)
		}
	}
}

func TestExecuteQuery_DuckDBKeywordsRejected(t *testing.T) {
	store := newTestStore(t)

	// Keyword rejection without semicolons (keyword denylist).
	rejected := []struct {
		sql     string
		keyword string
	}{
		{"SELECT COPY(alert_events, '/tmp/dump.csv') FROM alert_events", "COPY"},
		{"SELECT ATTACH FROM alert_events", "ATTACH"},
		{"SELECT LOAD FROM alert_events", "LOAD"},
		{"SELECT EXPORT FROM alert_events", "EXPORT"},
		{"SELECT IMPORT FROM alert_events", "IMPORT"},
		{"SELECT INSTALL FROM alert_events", "INSTALL"},
		{"SELECT CALL FROM alert_events", "CALL"},
		{"SELECT EXECUTE FROM alert_events", "EXECUTE"},
		{"SELECT PRAGMA FROM alert_events", "PRAGMA"},
		{"SELECT SET FROM alert_events", "SET"},
	}

	for _, tt := range rejected {
		_, err := store.ExecuteQuery(tt.sql)
		if err == nil {
			t.Errorf("ExecuteQuery should reject %s keyword", tt.keyword)
		}
		if err != nil && !strings.Contains(err.Error(), tt.keyword) {
			t.Errorf("ExecuteQuery error %q should mention keyword %s", err.Error(), tt.keyword)
		}
	}

	// Semicolon rejection (prevents statement chaining).
	semicolonCases := []string{
		"SELECT * FROM alert_events; DROP TABLE alert_events",
		"SELECT * FROM insight_snapshots; COPY insight_snapshots TO '/tmp/dump.csv'",
	}
	for _, sql := range semicolonCases {
		_, err := store.ExecuteQuery(sql)
		if err == nil {
			t.Errorf("ExecuteQuery should reject query with semicolons: %s", sql)
		}
		if err != nil && !strings.Contains(err.Error(), "semicolons") {
			t.Errorf("ExecuteQuery error %q should mention semicolons", err.Error())
		}
	}
}

func TestExecuteQuery_KeywordHiddenInComment(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ExecuteQuery("SELECT /* DROP */ metric FROM alert_events")
	if err == nil {
		t.Error("ExecuteQuery should reject keyword hidden in block comment")
	}
}

func TestTableRowCounts(t *testing.T) {
	store := newTestStore(t)

	counts, err := store.TableRowCounts()
	if err != nil {
		t.Fatalf("TableRowCounts: %v", err)
	}

	for _, table := range []string{"insight_snapshots", "alert_events", "scheduler_state"} {
		if _, ok := counts[table]; !ok {
			t.Errorf("TableRowCounts missing table %q", table)
		}
	}
}

func TestGetSchemaDescription(t *testing.T) {
	store := newTestStore(t)

	desc := store.GetSchemaDescription()
	for _, table := range []string{"insight_snapshots", "alert_events", "scheduler_state"} {
		if !strings.Contains(desc, table) {
			t.Errorf("schema description missing table %q", table)
		}
	}
}
