package duckdb

import "github.com/tinytelemetry/sage/internal/model"

// Store satisfies every persistence-facing interface the pipeline
// consumes.
var (
	_ model.StateStore     = (*Store)(nil)
	_ model.AlertWriter    = (*Store)(nil)
	_ model.SnapshotWriter = (*Store)(nil)
	_ model.InsightQuerier = (*Store)(nil)
	_ model.SchemaQuerier  = (*Store)(nil)
	_ model.ReadAPI        = (*Store)(nil)
)
