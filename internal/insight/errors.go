// Package insight implements the metric aggregation and insight-scheduling
// engine: per-metric sample streams, statistical aggregation, rate-threshold
// alerting, and the policies deciding when an insight snapshot is due.
package insight

import "errors"

// Data errors are fatal to a single aggregation or record call; they never
// corrupt a stream and never abort sibling metrics.
var (
	// ErrEmptyDataset reports an aggregation that is undefined on an
	// empty sample set (average, min, max, median, and friends).
	ErrEmptyDataset = errors.New("empty dataset")

	// ErrInvalidSample reports a non-finite sample value offered to a
	// metric stream.
	ErrInvalidSample = errors.New("invalid sample")
)
