package insight

import (
	"fmt"

	"github.com/tinytelemetry/sage/internal/model"
)

// Config is the complete, validated configuration of one coordinator.
// It is built once at construction with a single precedence rule applied
// upstream (defaults, file, environment, flags); nothing re-reads
// configuration per field afterwards.
type Config struct {
	// Enabled gates the whole engine; a disabled coordinator treats
	// every event as a no-op.
	Enabled bool

	// Types holds the enabled insight categories. Unknown names are
	// dropped with a diagnostic before construction.
	Types []model.InsightType

	// Aggregations holds the summary kinds computed per stream.
	Aggregations []model.AggregationKind

	// Thresholds holds the rate limits checked after each event.
	Thresholds Thresholds

	// Policy decides when a snapshot is due. nil degrades to never.
	Policy SchedulingPolicy

	// Percentile is the rank used by the percentile kind, in (0, 100].
	Percentile float64

	// WindowSize is the rollingWindow length, at least 1.
	WindowSize int

	// StateFailure picks the behavior when scheduler bookkeeping fails:
	// skip scheduling for the event, or fail the event.
	StateFailure model.StateFailurePolicy
}

// DefaultConfig returns the stock engine configuration: everything
// enabled, the basic five aggregations, 5% error and 10% warning limits.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Types:   model.AllInsightTypes(),
		Aggregations: []model.AggregationKind{
			model.AggregationAverage, model.AggregationSum, model.AggregationCount,
			model.AggregationMin, model.AggregationMax,
		},
		Thresholds:   Thresholds{ErrorRate: 0.05, WarningRate: 0.10},
		Percentile:   model.DefaultPercentile,
		WindowSize:   model.DefaultRollingWindow,
		StateFailure: model.SkipOnStateFailure,
	}
}

// Validate checks every field once. Infrastructure-grade mistakes
// (ranges, unknown failure policy) are errors; the softer degradations
// (unparseable policy, unknown kinds) happen upstream where the raw
// strings are still available.
func (c *Config) Validate() error {
	if c.Percentile <= 0 || c.Percentile > 100 {
		return fmt.Errorf("percentile %v outside (0, 100]", c.Percentile)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("rolling window size %d below 1", c.WindowSize)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	switch c.StateFailure {
	case model.SkipOnStateFailure, model.FailOnStateFailure:
	case "":
		c.StateFailure = model.SkipOnStateFailure
	default:
		return fmt.Errorf("state failure policy %q not recognized", c.StateFailure)
	}
	if c.Policy == nil {
		c.Policy = DisabledPolicy()
	}
	return nil
}

// typeSet returns the enabled insight types as a membership set,
// deduplicated.
func (c *Config) typeSet() map[model.InsightType]bool {
	set := make(map[model.InsightType]bool, len(c.Types))
	for _, t := range c.Types {
		set[t] = true
	}
	return set
}
