package model

import "time"

// PipelineMetrics is the self-instrumentation contract the pipeline
// components report through. The Prometheus-backed implementation lives
// in internal/telemetry; NopMetrics serves tests and disabled setups.
type PipelineMetrics interface {
	IncEventsIngested(source string)
	IncEventsRejected(reason string)
	IncAlertsRaised(metric string)
	IncSnapshotsGenerated()
	IncAggregationErrors()
	IncStateFailures()
	ObserveEventProcessing(d time.Duration)
	SetStreamSamples(metric string, n int)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) IncEventsIngested(string)            {}
func (NopMetrics) IncEventsRejected(string)            {}
func (NopMetrics) IncAlertsRaised(string)              {}
func (NopMetrics) IncSnapshotsGenerated()              {}
func (NopMetrics) IncAggregationErrors()               {}
func (NopMetrics) IncStateFailures()                   {}
func (NopMetrics) ObserveEventProcessing(time.Duration) {}
func (NopMetrics) SetStreamSamples(string, int)        {}
