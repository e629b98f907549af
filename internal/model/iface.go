package model

// StateStore is the durable key-value contract the insight scheduler
// persists its bookkeeping through. Keys and values are plain strings;
// absent keys are reported via the boolean, not an error.
//
// Implementations used in a concurrent deployment must make the
// read-modify-write of a single key safe against concurrent callers; the
// coordinator additionally serializes all scheduler access behind its
// own mutex.
type StateStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Exists(key string) (bool, error)
}

// AlertWriter provides append-oriented persistence for raised alerts.
type AlertWriter interface {
	InsertAlertBatch(events []*AlertEvent) error
}

// SnapshotWriter provides persistence for materialized snapshots.
type SnapshotWriter interface {
	InsertSnapshot(snap *InsightSnapshot) error
}

// InsightQuerier provides read-only access to persisted insight history.
type InsightQuerier interface {
	RecentSnapshots(limit int) ([]InsightSnapshot, error)
	RecentAlerts(limit int) ([]AlertEvent, error)
}

// SchemaQuerier provides schema introspection and sanitized read-only
// SQL over the insight tables.
type SchemaQuerier interface {
	ExecuteQuery(query string) ([]map[string]interface{}, error)
	GetSchemaDescription() string
	TableRowCounts() (map[string]int64, error)
}

// ReadAPI is the unified read contract for the HTTP and socket surfaces.
type ReadAPI interface {
	InsightQuerier
	SchemaQuerier
}
