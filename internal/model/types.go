package model

import "time"

// LogEvent represents a single classified log entry flowing through the
// pipeline. It is the canonical type between ingestion and the insights
// coordinator.
type LogEvent struct {
	Timestamp     time.Time
	OrigTimestamp time.Time // Zero value = no timestamp found in the line
	Level         Level
	Message       string
	RawLine       string
	Service       string
	Attributes    map[string]string
	Source        string   // "tcp", "stdin", "otlp"
	ResponseTime  *float64 // milliseconds, nil when the line carries none
}

// AggregationResult holds the computed summaries for one metric stream at
// one point in time. Scalar kinds land in Scalars; mode and rollingWindow
// carry multi-valued results and get their own fields.
type AggregationResult struct {
	Scalars map[AggregationKind]float64 `json:"scalars,omitempty"`
	Mode    []float64                   `json:"mode,omitempty"`
	Windows [][]float64                 `json:"windows,omitempty"`
}

// Average returns the computed average and whether it was present.
func (r AggregationResult) Average() (float64, bool) {
	v, ok := r.Scalars[AggregationAverage]
	return v, ok
}

// AlertEvent reports that an aggregated rate crossed its configured
// threshold. Alerts are business events, never errors.
type AlertEvent struct {
	Metric          string    `json:"metric"`
	ObservedAverage float64   `json:"observedAverage"`
	Threshold       float64   `json:"threshold"`
	RaisedAt        time.Time `json:"raisedAt"`
}

// InsightSnapshot is one materialized aggregate view over all tracked
// metric streams, produced when the scheduling policy fires.
type InsightSnapshot struct {
	GeneratedAt time.Time                    `json:"generatedAt"`
	TotalLogs   int64                        `json:"totalLogs"`
	Metrics     map[string]AggregationResult `json:"metrics"`
}

// SchedulerState is the read-side view of the persisted scheduling
// bookkeeping, exposed on status surfaces.
type SchedulerState struct {
	LastGeneration    time.Time `json:"lastGeneration"`
	HasLastGeneration bool      `json:"hasLastGeneration"`
	TotalLogs         int64     `json:"totalLogs"`
	Policy            string    `json:"policy"`
}
