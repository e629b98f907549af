package ingest

import "github.com/tinytelemetry/sage/internal/model"

// EnvelopeProcessor consumes source-tagged ingest envelopes and reports
// what each one produced. Log sources depend on this contract rather
// than the concrete Processor.
type EnvelopeProcessor interface {
	Name() string
	ProcessEnvelope(model.IngestEnvelope) *ProcessResult
}

// EventPublisher fans pipeline outputs to the configured sinks. The
// processor calls it inline on the ingest path, so implementations must
// not block.
type EventPublisher interface {
	PublishAlert(*model.AlertEvent)
	PublishSnapshot(*model.InsightSnapshot)
}

// ProcessorNameClassify is the processor implementation name reported on
// status surfaces.
const ProcessorNameClassify = "classify"

var _ EnvelopeProcessor = (*Processor)(nil)

// Name identifies the processor implementation.
func (p *Processor) Name() string { return ProcessorNameClassify }
