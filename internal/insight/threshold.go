package insight

import (
	"fmt"
	"sort"
	"time"

	"github.com/tinytelemetry/sage/internal/model"
)

// Thresholds holds the configured rate limits, each in [0, 1]. A metric
// whose observed average strictly exceeds its limit raises an alert.
type Thresholds struct {
	ErrorRate   float64
	WarningRate float64
}

// Validate checks that both rates are within [0, 1].
func (t Thresholds) Validate() error {
	if t.ErrorRate < 0 || t.ErrorRate > 1 {
		return fmt.Errorf("errorRate threshold %v outside [0, 1]", t.ErrorRate)
	}
	if t.WarningRate < 0 || t.WarningRate > 1 {
		return fmt.Errorf("warningRate threshold %v outside [0, 1]", t.WarningRate)
	}
	return nil
}

// thresholdFor maps a metric name to its configured limit. Only the two
// recognized rate classes are checkable.
func (t Thresholds) thresholdFor(metric string) (float64, bool) {
	switch metric {
	case string(model.InsightErrorRate):
		return t.ErrorRate, true
	case string(model.InsightWarningRate):
		return t.WarningRate, true
	}
	return 0, false
}

// CheckThresholds compares the average of each recognized metric present
// in results against its configured limit and reports every crossing.
// The boundary is exclusive: observed must be strictly greater than the
// limit. A missing average counts as zero. This reports business events;
// it has no error path and never aborts log processing.
func CheckThresholds(results map[string]model.AggregationResult, thresholds Thresholds, now time.Time) []model.AlertEvent {
	var alerts []model.AlertEvent
	for metric, result := range results {
		limit, ok := thresholds.thresholdFor(metric)
		if !ok {
			continue
		}
		observed, _ := result.Average()
		if observed > limit {
			alerts = append(alerts, model.AlertEvent{
				Metric:          metric,
				ObservedAverage: observed,
				Threshold:       limit,
				RaisedAt:        now,
			})
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].Metric < alerts[j].Metric })
	return alerts
}
