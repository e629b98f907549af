package insight

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/model"
)

// Stream names the coordinator writes. The rate streams receive a 0/1
// sample on every event so their average is the observed rate; level
// streams receive one 1 per occurrence; the response-time stream holds
// raw millisecond values.
const (
	StreamErrorRate    = "errorRate"
	StreamWarningRate  = "warningRate"
	StreamResponseTime = "responseTime"
	streamLevelPrefix  = "levels."
)

// Outcome is what one ingested event produced.
type Outcome struct {
	Tracked       []string           // streams touched by this event
	Alerts        []model.AlertEvent // threshold crossings observed after the update
	SnapshotReady bool               // true when the scheduling policy fired
}

// Coordinator is the façade tying streams, aggregation, thresholds, and
// scheduling together. One mutex serializes OnLogEvent and Snapshot: the
// processor goroutine ingests while HTTP and socket readers query, and
// stream mutation plus the scheduler's read-modify-write must never
// interleave.
type Coordinator struct {
	mu        sync.Mutex
	cfg       Config
	enabled   map[model.InsightType]bool
	streams   *streamSet
	engine    *Engine
	scheduler *Scheduler
	log       *zap.Logger
	metrics   model.PipelineMetrics
}

// NewCoordinator validates cfg and builds the engine and scheduler
// around the given state store.
func NewCoordinator(cfg Config, store model.StateStore, log *zap.Logger, metrics model.PipelineMetrics) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("insight config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = model.NopMetrics{}
	}
	return &Coordinator{
		cfg:       cfg,
		enabled:   cfg.typeSet(),
		streams:   newStreamSet(),
		engine:    NewEngine(cfg.Percentile, cfg.WindowSize, log),
		scheduler: NewScheduler(cfg.Policy, store, log),
		log:       log,
		metrics:   metrics,
	}, nil
}

// OnLogEvent ingests one classified log event: updates the enabled
// streams, advances the cumulative log count, aggregates the touched
// streams, checks thresholds, and asks the scheduler whether a snapshot
// is due. Unrecognized levels are reported and ignored without touching
// any stream. Scheduler bookkeeping failures follow the configured
// state-failure policy: skip logs and continues, fail returns the error
// with the streams already updated.
func (c *Coordinator) OnLogEvent(level string, responseTime *float64) (Outcome, error) {
	if !c.cfg.Enabled {
		return Outcome{}, nil
	}

	lv, ok := model.ParseLevel(level)
	if !ok {
		c.log.Warn("event with unrecognized level ignored", zap.String("level", level))
		c.metrics.IncEventsRejected("unknown_level")
		return Outcome{}, nil
	}
	if responseTime != nil && (math.IsNaN(*responseTime) || math.IsInf(*responseTime, 0)) {
		c.metrics.IncEventsRejected("invalid_sample")
		return Outcome{}, fmt.Errorf("response time: %w", ErrInvalidSample)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	outcome := Outcome{}

	touch := func(name string, value float64) error {
		if err := c.streams.record(name, value); err != nil {
			return err
		}
		outcome.Tracked = append(outcome.Tracked, name)
		if stream, ok := c.streams.get(name); ok {
			c.metrics.SetStreamSamples(name, stream.Len())
		}
		return nil
	}

	if c.enabled[model.InsightLogLevels] {
		if err := touch(streamLevelPrefix+lv.Lower(), 1); err != nil {
			return outcome, err
		}
	}
	if c.enabled[model.InsightResponseTimes] && responseTime != nil {
		if err := touch(StreamResponseTime, *responseTime); err != nil {
			return outcome, err
		}
	}
	if c.enabled[model.InsightErrorRate] {
		if err := touch(StreamErrorRate, rateSample(lv == model.LevelError || lv == model.LevelFatal)); err != nil {
			return outcome, err
		}
	}
	if c.enabled[model.InsightWarningRate] {
		if err := touch(StreamWarningRate, rateSample(lv == model.LevelWarn)); err != nil {
			return outcome, err
		}
	}

	if _, err := c.scheduler.RecordLog(); err != nil {
		if failed := c.handleStateFailure("record log", err); failed != nil {
			return outcome, failed
		}
	}

	results := c.aggregateStreams(outcome.Tracked)
	outcome.Alerts = CheckThresholds(results, c.cfg.Thresholds, now)

	due, err := c.scheduler.ShouldGenerate(now)
	if err != nil {
		if failed := c.handleStateFailure("schedule check", err); failed != nil {
			return outcome, failed
		}
		due = false
	}
	outcome.SnapshotReady = due

	return outcome, nil
}

// handleStateFailure applies the configured policy to a scheduler
// bookkeeping error. It returns nil when the event should continue.
func (c *Coordinator) handleStateFailure(op string, err error) error {
	c.metrics.IncStateFailures()
	if c.cfg.StateFailure == model.FailOnStateFailure {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.log.Warn("scheduler state unavailable, treating as not due",
		zap.String("op", op), zap.Error(err))
	return nil
}

// aggregateStreams computes the configured kinds for each named stream.
// A failing metric is logged and omitted; siblings are unaffected.
func (c *Coordinator) aggregateStreams(names []string) map[string]model.AggregationResult {
	results := make(map[string]model.AggregationResult, len(names))
	for _, name := range names {
		stream, ok := c.streams.get(name)
		if !ok {
			continue
		}
		result, err := c.engine.Aggregate(name, stream.Samples(), c.cfg.Aggregations)
		if err != nil {
			c.metrics.IncAggregationErrors()
			c.log.Warn("aggregation failed for metric", zap.String("metric", name), zap.Error(err))
			continue
		}
		results[name] = result
	}
	return results
}

// Snapshot materializes the current aggregate view over every stream.
func (c *Coordinator) Snapshot() (*model.InsightSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.scheduler.State()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &model.InsightSnapshot{
		GeneratedAt: time.Now(),
		TotalLogs:   state.TotalLogs,
		Metrics:     c.aggregateStreams(c.streams.names()),
	}, nil
}

// SchedulerState exposes the persisted bookkeeping for status surfaces.
func (c *Coordinator) SchedulerState() (model.SchedulerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduler.State()
}

// TrackedMetrics lists every stream created so far, sorted.
func (c *Coordinator) TrackedMetrics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams.names()
}

// Enabled reports whether the engine ingests events at all.
func (c *Coordinator) Enabled() bool { return c.cfg.Enabled }

func rateSample(match bool) float64 {
	if match {
		return 1
	}
	return 0
}
