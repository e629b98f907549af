package insight

import (
	"fmt"
	"math"
	"sort"
)

// MetricStream is an append-only in-memory series of numeric samples for
// one metric name. Append order is arrival order and is preserved for the
// order-sensitive aggregations (rollingWindow, percentile); nothing ever
// reorders the canonical slice.
//
// Streams grow without bound for the process lifetime. The retention
// sweeper prunes persisted tables only, never in-memory streams.
type MetricStream struct {
	name    string
	samples []float64
}

// NewMetricStream creates an empty stream for the given metric name.
func NewMetricStream(name string) *MetricStream {
	return &MetricStream{name: name}
}

// Name returns the metric name.
func (s *MetricStream) Name() string { return s.name }

// Len returns the number of samples recorded so far.
func (s *MetricStream) Len() int { return len(s.samples) }

// Append adds one sample. Non-finite values are rejected before any
// mutation.
func (s *MetricStream) Append(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("metric %s: %w", s.name, ErrInvalidSample)
	}
	s.samples = append(s.samples, v)
	return nil
}

// Samples returns the backing slice. Callers must treat it as read-only;
// the aggregation engine copies before sorting.
func (s *MetricStream) Samples() []float64 { return s.samples }

// streamSet is the coordinator's lazily-populated registry of streams.
type streamSet struct {
	byName map[string]*MetricStream
}

func newStreamSet() *streamSet {
	return &streamSet{byName: make(map[string]*MetricStream)}
}

// record appends value to the named stream, creating it on first use.
func (ss *streamSet) record(name string, value float64) error {
	stream, ok := ss.byName[name]
	if !ok {
		stream = NewMetricStream(name)
	}
	if err := stream.Append(value); err != nil {
		return err
	}
	ss.byName[name] = stream
	return nil
}

// get returns the named stream if it exists.
func (ss *streamSet) get(name string) (*MetricStream, bool) {
	s, ok := ss.byName[name]
	return s, ok
}

// names returns all stream names in sorted order.
func (ss *streamSet) names() []string {
	out := make([]string, 0, len(ss.byName))
	for name := range ss.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
