package logsource

import "github.com/tinytelemetry/sage/internal/model"

// LogSource is the unified contract for log inputs (stdin, TCP, OTLP).
type LogSource interface {
	Lines() <-chan model.IngestEnvelope // read-only stream of ingest envelopes
	Stop()                              // graceful shutdown
	Name() string                       // "stdin", "tcp", "otlp"
}
