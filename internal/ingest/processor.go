// Package ingest turns raw log lines into classified events and drives
// them through the telemetry pipeline: stream updates, threshold alerts,
// and scheduled insight snapshots.
package ingest

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/duckdb"
	"github.com/tinytelemetry/sage/internal/insight"
	"github.com/tinytelemetry/sage/internal/model"
)

// ProcessorConfig wires a Processor. Coordinator, Alerts, Snapshots and
// Publisher may each be nil; the corresponding step is skipped.
type ProcessorConfig struct {
	Coordinator *insight.Coordinator
	Alerts      *duckdb.InsertBuffer
	Snapshots   model.SnapshotWriter
	Publisher   EventPublisher
	Metrics     model.PipelineMetrics
	Logger      *zap.Logger
	SourceName  string
}

// Processor classifies log lines and routes the results. It is not safe
// for concurrent use; give each source or connection its own instance.
// The coordinator, insert buffer and publisher it wires to serialize
// internally, so processors may share them freely.
type Processor struct {
	extractor   *Extractor
	coordinator *insight.Coordinator
	alerts      *duckdb.InsertBuffer
	snapshots   model.SnapshotWriter
	publisher   EventPublisher
	metrics     model.PipelineMetrics
	log         *zap.Logger
	sourceName  string

	// Multi-line JSON accumulation state.
	jsonBuffer   strings.Builder
	jsonDepth    int
	inJSONObject bool
	lastResult   *ProcessResult
}

// NewProcessor builds a Processor from cfg.
func NewProcessor(cfg ProcessorConfig) *Processor {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = model.NopMetrics{}
	}
	return &Processor{
		extractor:   NewExtractor(),
		coordinator: cfg.Coordinator,
		alerts:      cfg.Alerts,
		snapshots:   cfg.Snapshots,
		publisher:   cfg.Publisher,
		metrics:     metrics,
		log:         log,
		sourceName:  cfg.SourceName,
	}
}

// ProcessResult reports everything one envelope produced. An envelope can
// carry several events (OTLP export payloads), and in rare configurations
// a single envelope can fire more than one snapshot.
type ProcessResult struct {
	Events    []*model.LogEvent
	Alerts    []model.AlertEvent
	Snapshots []*model.InsightSnapshot
}

// ProcessEnvelope handles one ingest envelope. Pre-classified envelopes
// skip line parsing entirely. A nil result means the line was absorbed
// into a multi-line JSON object still being accumulated.
func (p *Processor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	source := env.Source
	if source == "" {
		source = p.sourceName
	}
	if env.Event != nil {
		if env.Event.Source == "" {
			env.Event.Source = source
		}
		res := &ProcessResult{}
		p.processEvent(env.Event, res)
		return res
	}
	return p.processSourcedLine(env.Line, source)
}

// ProcessLine handles one raw line tagged with the processor's default
// source. A nil result means the line is part of a multi-line JSON object
// still being accumulated.
func (p *Processor) ProcessLine(line string) *ProcessResult {
	return p.processSourcedLine(line, p.sourceName)
}

func (p *Processor) processSourcedLine(line, source string) *ProcessResult {
	if p.tryAccumulateJSON(line, source) {
		if p.lastResult != nil {
			result := p.lastResult
			p.lastResult = nil
			return result
		}
		return nil
	}
	return p.processLine(line, source)
}

// processLine classifies a complete line and runs every extracted event
// through the pipeline.
func (p *Processor) processLine(line, source string) *ProcessResult {
	received := time.Now()
	res := &ProcessResult{}

	events, ok := p.extractor.ExtractLogEvents(line, source, received)
	if !ok {
		events = []*model.LogEvent{p.extractor.FallbackEvent(line, source, received)}
	}
	for _, event := range events {
		p.processEvent(event, res)
	}
	return res
}

// processEvent runs one classified event through telemetry tracking,
// persists and publishes any alerts, and materializes a snapshot when the
// scheduling policy fired.
func (p *Processor) processEvent(event *model.LogEvent, res *ProcessResult) {
	start := time.Now()
	res.Events = append(res.Events, event)
	p.metrics.IncEventsIngested(event.Source)

	if p.coordinator == nil {
		p.metrics.ObserveEventProcessing(time.Since(start))
		return
	}

	outcome, err := p.coordinator.OnLogEvent(string(event.Level), event.ResponseTime)
	if err != nil {
		p.log.Warn("telemetry update failed",
			zap.String("level", string(event.Level)),
			zap.String("source", event.Source),
			zap.Error(err))
	}

	for i := range outcome.Alerts {
		alert := outcome.Alerts[i]
		res.Alerts = append(res.Alerts, alert)
		p.metrics.IncAlertsRaised(alert.Metric)
		p.log.Warn("rate threshold crossed",
			zap.String("metric", alert.Metric),
			zap.Float64("observed", alert.ObservedAverage),
			zap.Float64("threshold", alert.Threshold))
		if p.alerts != nil {
			p.alerts.Add(&alert)
		}
		if p.publisher != nil {
			p.publisher.PublishAlert(&alert)
		}
	}

	if outcome.SnapshotReady {
		p.generateSnapshot(res)
	}
	p.metrics.ObserveEventProcessing(time.Since(start))
}

// generateSnapshot materializes, persists and publishes one insight
// snapshot. Persistence failures are logged and do not stop ingestion.
func (p *Processor) generateSnapshot(res *ProcessResult) {
	snap, err := p.coordinator.Snapshot()
	if err != nil {
		p.log.Warn("snapshot generation failed", zap.Error(err))
		return
	}
	res.Snapshots = append(res.Snapshots, snap)
	p.metrics.IncSnapshotsGenerated()

	if p.snapshots != nil {
		if err := p.snapshots.InsertSnapshot(snap); err != nil {
			p.log.Warn("snapshot persist failed", zap.Error(err))
		}
	}
	if p.publisher != nil {
		p.publisher.PublishSnapshot(snap)
	}
	p.log.Info("insight snapshot generated",
		zap.Int64("totalLogs", snap.TotalLogs),
		zap.Int("metrics", len(snap.Metrics)))
}

// tryAccumulateJSON buffers lines that open a JSON object until the
// braces balance, then runs the joined object through the normal path.
// It reports whether the line was consumed by accumulation.
func (p *Processor) tryAccumulateJSON(line, source string) bool {
	trimmed := strings.TrimSpace(line)

	if !p.inJSONObject {
		if !strings.HasPrefix(trimmed, "{") {
			return false
		}
		p.inJSONObject = true
		p.jsonBuffer.Reset()
		p.jsonDepth = 0
	}

	p.jsonBuffer.WriteString(line)
	p.jsonBuffer.WriteString("\n")
	p.jsonDepth += CountJSONDepth(line)

	if p.jsonDepth <= 0 {
		complete := strings.TrimSpace(p.jsonBuffer.String())
		p.resetJSONAccumulation()
		p.lastResult = p.processLine(complete, source)
	}
	return true
}

// CountJSONDepth counts the net change in JSON nesting depth for a line,
// ignoring braces inside string literals.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}
		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}
	return depth
}

func (p *Processor) resetJSONAccumulation() {
	p.inJSONObject = false
	p.jsonDepth = 0
	p.jsonBuffer.Reset()
}

// Flush processes any partially accumulated JSON as plain text. Sources
// call it at end of stream so an unterminated object is not silently
// dropped.
func (p *Processor) Flush() *ProcessResult {
	if !p.inJSONObject || p.jsonBuffer.Len() == 0 {
		return nil
	}
	pending := strings.TrimSpace(p.jsonBuffer.String())
	p.resetJSONAccumulation()
	if pending == "" {
		return nil
	}
	return p.processLine(pending, p.sourceName)
}

// SetSourceName updates the default source tag for subsequent lines.
func (p *Processor) SetSourceName(name string) {
	p.sourceName = name
}
