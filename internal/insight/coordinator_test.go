package insight

import (
	"errors"
	"math"
	"testing"

	"github.com/tinytelemetry/sage/internal/model"
	"github.com/tinytelemetry/sage/internal/statestore"
)

func newTestCoordinator(t *testing.T, mutate func(*Config)) *Coordinator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Aggregations = model.AllAggregationKinds()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewCoordinator(cfg, statestore.NewMemory(), nil, nil)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

func ptr(v float64) *float64 { return &v }

func TestOnLogEventDisabledIsNoOp(t *testing.T) {
	c := newTestCoordinator(t, func(cfg *Config) { cfg.Enabled = false })

	out, err := c.OnLogEvent("ERROR", ptr(120))
	if err != nil {
		t.Fatalf("OnLogEvent: %v", err)
	}
	if len(out.Tracked) != 0 || len(out.Alerts) != 0 || out.SnapshotReady {
		t.Errorf("disabled coordinator produced %+v", out)
	}
	if got := c.TrackedMetrics(); len(got) != 0 {
		t.Errorf("disabled coordinator created streams %v", got)
	}
}

func TestOnLogEventUnknownLevelIgnored(t *testing.T) {
	c := newTestCoordinator(t, nil)

	out, err := c.OnLogEvent("VERBOSE", nil)
	if err != nil {
		t.Fatalf("unknown level must not error: %v", err)
	}
	if len(out.Tracked) != 0 {
		t.Errorf("unknown level touched streams %v", out.Tracked)
	}
	if got := c.TrackedMetrics(); len(got) != 0 {
		t.Errorf("unknown level created streams %v", got)
	}

	// The coordinator keeps working afterwards.
	out, err = c.OnLogEvent("INFO", nil)
	if err != nil {
		t.Fatalf("OnLogEvent after unknown level: %v", err)
	}
	if len(out.Tracked) == 0 {
		t.Error("valid event after unknown level touched nothing")
	}
}

func TestOnLogEventStreamsTouched(t *testing.T) {
	c := newTestCoordinator(t, nil)

	out, err := c.OnLogEvent("info", ptr(42.5))
	if err != nil {
		t.Fatalf("OnLogEvent: %v", err)
	}

	want := map[string]bool{
		"levels.info":      true,
		StreamResponseTime: true,
		StreamErrorRate:    true,
		StreamWarningRate:  true,
	}
	if len(out.Tracked) != len(want) {
		t.Fatalf("Tracked = %v, want the %d streams %v", out.Tracked, len(want), want)
	}
	for _, name := range out.Tracked {
		if !want[name] {
			t.Errorf("unexpected stream %q touched", name)
		}
	}

	// No response time: the responseTime stream is not touched.
	out, err = c.OnLogEvent("ERROR", nil)
	if err != nil {
		t.Fatalf("OnLogEvent: %v", err)
	}
	for _, name := range out.Tracked {
		if name == StreamResponseTime {
			t.Error("responseTime touched without a sample")
		}
	}
}

func TestErrorRateAverageIsObservedRate(t *testing.T) {
	c := newTestCoordinator(t, nil)

	// Nine clean events, then one error: the errorRate average lands at
	// 0.1, above the default 0.05 threshold.
	for i := 0; i < 9; i++ {
		out, err := c.OnLogEvent("INFO", nil)
		if err != nil {
			t.Fatalf("OnLogEvent #%d: %v", i, err)
		}
		if len(out.Alerts) != 0 {
			t.Fatalf("event #%d raised alerts %v before any error", i, out.Alerts)
		}
	}

	out, err := c.OnLogEvent("ERROR", nil)
	if err != nil {
		t.Fatalf("OnLogEvent: %v", err)
	}
	if len(out.Alerts) != 1 {
		t.Fatalf("alerts = %v, want exactly one errorRate alert", out.Alerts)
	}
	alert := out.Alerts[0]
	if alert.Metric != StreamErrorRate {
		t.Errorf("alert metric = %q", alert.Metric)
	}
	if math.Abs(alert.ObservedAverage-0.1) > 1e-12 {
		t.Errorf("observed average = %v, want 0.1", alert.ObservedAverage)
	}
	if alert.Threshold != 0.05 {
		t.Errorf("threshold = %v, want 0.05", alert.Threshold)
	}
}

func TestFatalCountsTowardErrorRate(t *testing.T) {
	c := newTestCoordinator(t, nil)

	out, err := c.OnLogEvent("FATAL", nil)
	if err != nil {
		t.Fatalf("OnLogEvent: %v", err)
	}
	if len(out.Alerts) != 1 || out.Alerts[0].Metric != StreamErrorRate {
		t.Fatalf("alerts = %v, want one errorRate alert at average 1.0", out.Alerts)
	}
	if out.Alerts[0].ObservedAverage != 1.0 {
		t.Errorf("observed average = %v, want 1.0", out.Alerts[0].ObservedAverage)
	}
}

func TestWarningRateAlert(t *testing.T) {
	c := newTestCoordinator(t, nil)

	out, err := c.OnLogEvent("WARN", nil)
	if err != nil {
		t.Fatalf("OnLogEvent: %v", err)
	}
	var metrics []string
	for _, a := range out.Alerts {
		metrics = append(metrics, a.Metric)
	}
	// average 1.0 crosses both defaults: errorRate stays at 0, only the
	// warning threshold fires.
	if len(metrics) != 1 || metrics[0] != StreamWarningRate {
		t.Errorf("alert metrics = %v, want [warningRate]", metrics)
	}
}

func TestOnLogEventRejectsNonFiniteResponseTime(t *testing.T) {
	c := newTestCoordinator(t, nil)

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := c.OnLogEvent("INFO", ptr(bad)); !errors.Is(err, ErrInvalidSample) {
			t.Errorf("OnLogEvent(%v) err = %v, want ErrInvalidSample", bad, err)
		}
	}
	if got := c.TrackedMetrics(); len(got) != 0 {
		t.Errorf("rejected samples mutated streams %v", got)
	}
}

func TestSnapshotReadyAfterTotalLogs(t *testing.T) {
	c := newTestCoordinator(t, func(cfg *Config) {
		policy, err := ParsePolicy(model.FrequencyAfterTotalLogs, "3")
		if err != nil {
			t.Fatalf("ParsePolicy: %v", err)
		}
		cfg.Policy = policy
	})

	for i := 1; i <= 2; i++ {
		out, err := c.OnLogEvent("INFO", nil)
		if err != nil {
			t.Fatalf("OnLogEvent #%d: %v", i, err)
		}
		if out.SnapshotReady {
			t.Fatalf("snapshot ready after %d of 3 events", i)
		}
	}

	out, err := c.OnLogEvent("INFO", nil)
	if err != nil {
		t.Fatalf("OnLogEvent: %v", err)
	}
	if !out.SnapshotReady {
		t.Fatal("snapshot not ready on the third event")
	}
}

func TestStateFailureSkipContinues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateFailure = model.SkipOnStateFailure
	c, err := NewCoordinator(cfg, failingStore{err: errors.New("store offline")}, nil, nil)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	out, err := c.OnLogEvent("INFO", nil)
	if err != nil {
		t.Fatalf("skip policy must swallow store failures: %v", err)
	}
	if len(out.Tracked) == 0 {
		t.Error("streams not updated under skip policy")
	}
	if out.SnapshotReady {
		t.Error("snapshot ready despite unavailable bookkeeping")
	}
}

func TestStateFailureFailSurfacesError(t *testing.T) {
	boom := errors.New("store offline")
	cfg := DefaultConfig()
	cfg.StateFailure = model.FailOnStateFailure
	c, err := NewCoordinator(cfg, failingStore{err: boom}, nil, nil)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	out, err := c.OnLogEvent("INFO", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("fail policy err = %v, want wrapped store error", err)
	}
	// The in-memory streams were already updated before the bookkeeping
	// write failed.
	if len(out.Tracked) == 0 {
		t.Error("stream updates lost on state failure")
	}
}

func TestSnapshotCoversAllStreams(t *testing.T) {
	c := newTestCoordinator(t, nil)

	events := []struct {
		level string
		rt    *float64
	}{
		{"INFO", ptr(10)},
		{"WARN", nil},
		{"ERROR", ptr(30)},
		{"INFO", ptr(20)},
	}
	for _, ev := range events {
		if _, err := c.OnLogEvent(ev.level, ev.rt); err != nil {
			t.Fatalf("OnLogEvent(%s): %v", ev.level, err)
		}
	}

	snap, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.TotalLogs != 4 {
		t.Errorf("TotalLogs = %d, want 4", snap.TotalLogs)
	}

	for _, name := range []string{
		"levels.info", "levels.warn", "levels.error",
		StreamResponseTime, StreamErrorRate, StreamWarningRate,
	} {
		if _, ok := snap.Metrics[name]; !ok {
			t.Errorf("snapshot missing metric %q", name)
		}
	}

	rt := snap.Metrics[StreamResponseTime]
	if avg, ok := rt.Average(); !ok || avg != 20 {
		t.Errorf("responseTime average = %v (%v), want 20", avg, ok)
	}
	if count := rt.Scalars[model.AggregationCount]; count != 3 {
		t.Errorf("responseTime count = %v, want 3", count)
	}

	er := snap.Metrics[StreamErrorRate]
	if avg, ok := er.Average(); !ok || avg != 0.25 {
		t.Errorf("errorRate average = %v (%v), want 0.25", avg, ok)
	}
}

func TestOnlyEnabledTypesTracked(t *testing.T) {
	c := newTestCoordinator(t, func(cfg *Config) {
		cfg.Types = []model.InsightType{model.InsightErrorRate}
	})

	out, err := c.OnLogEvent("ERROR", ptr(99))
	if err != nil {
		t.Fatalf("OnLogEvent: %v", err)
	}
	if len(out.Tracked) != 1 || out.Tracked[0] != StreamErrorRate {
		t.Errorf("Tracked = %v, want [errorRate] only", out.Tracked)
	}
}
