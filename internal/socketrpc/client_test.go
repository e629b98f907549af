package socketrpc_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/sage/internal/model"
	"github.com/tinytelemetry/sage/internal/socketrpc"
)

// mockEngine is a minimal InsightReader for roundtrip testing.
type mockEngine struct{}

func (m *mockEngine) Snapshot() (*model.InsightSnapshot, error) {
	return &model.InsightSnapshot{
		GeneratedAt: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		TotalLogs:   42,
		Metrics: map[string]model.AggregationResult{
			"errorRate":   {Scalars: map[model.AggregationKind]float64{model.AggregationAverage: 0.25}},
			"levels.info": {Scalars: map[model.AggregationKind]float64{model.AggregationCount: 30}},
		},
	}, nil
}

func (m *mockEngine) SchedulerState() (model.SchedulerState, error) {
	return model.SchedulerState{
		LastGeneration:    time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC),
		HasLastGeneration: true,
		TotalLogs:         42,
		Policy:            "everyUnit(1 hours)",
	}, nil
}

func (m *mockEngine) TrackedMetrics() []string { return []string{"errorRate", "levels.info"} }
func (m *mockEngine) Enabled() bool            { return true }

// mockAlerts serves a fixed alert list.
type mockAlerts struct{}

func (m *mockAlerts) RecentAlerts(limit int) ([]model.AlertEvent, error) {
	alerts := []model.AlertEvent{
		{Metric: "errorRate", ObservedAverage: 0.3, Threshold: 0.05, RaisedAt: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
		{Metric: "warningRate", ObservedAverage: 0.4, Threshold: 0.10, RaisedAt: time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)},
	}
	if limit < len(alerts) {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

// countingWriter counts InsertSnapshot calls across connections.
type countingWriter struct {
	mu sync.Mutex
	n  int
}

func (w *countingWriter) InsertSnapshot(*model.InsightSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n++
	return nil
}

func (w *countingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func startTestServer(t *testing.T) (string, *socketrpc.Server, *countingWriter) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	writer := &countingWriter{}
	srv := socketrpc.NewServer(socketrpc.Config{
		SocketPath: sockPath,
		Insights:   &mockEngine{},
		Alerts:     &mockAlerts{},
		Snapshots:  writer,
	})
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	return sockPath, srv, writer
}

func TestRoundtrip(t *testing.T) {
	sockPath, srv, writer := startTestServer(t)
	defer srv.Stop()

	client, err := socketrpc.Dial(sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	t.Run("Status", func(t *testing.T) {
		status, err := client.Status()
		if err != nil {
			t.Fatal(err)
		}
		if !status.Enabled {
			t.Error("status reports disabled engine")
		}
		if len(status.TrackedMetrics) != 2 {
			t.Errorf("tracked metrics = %v, want 2 entries", status.TrackedMetrics)
		}
		if status.Scheduler.TotalLogs != 42 {
			t.Errorf("scheduler totalLogs = %d, want 42", status.Scheduler.TotalLogs)
		}
		if !status.Scheduler.HasLastGeneration {
			t.Error("scheduler lost lastGeneration over the wire")
		}
	})

	t.Run("Insights", func(t *testing.T) {
		snap, err := client.Insights()
		if err != nil {
			t.Fatal(err)
		}
		if snap.TotalLogs != 42 {
			t.Errorf("totalLogs = %d, want 42", snap.TotalLogs)
		}
		if avg, ok := snap.Metrics["errorRate"].Average(); !ok || avg != 0.25 {
			t.Errorf("errorRate average = %v (%v), want 0.25", avg, ok)
		}
	})

	t.Run("Alerts", func(t *testing.T) {
		alerts, err := client.Alerts(10)
		if err != nil {
			t.Fatal(err)
		}
		if len(alerts) != 2 {
			t.Fatalf("got %d alerts, want 2", len(alerts))
		}
		if alerts[0].Metric != "errorRate" {
			t.Errorf("first alert metric = %q, want errorRate", alerts[0].Metric)
		}
	})

	t.Run("AlertsLimited", func(t *testing.T) {
		alerts, err := client.Alerts(1)
		if err != nil {
			t.Fatal(err)
		}
		if len(alerts) != 1 {
			t.Fatalf("got %d alerts, want 1", len(alerts))
		}
	})

	t.Run("Generate", func(t *testing.T) {
		snap, err := client.Generate()
		if err != nil {
			t.Fatal(err)
		}
		if snap.TotalLogs != 42 {
			t.Errorf("generated totalLogs = %d, want 42", snap.TotalLogs)
		}
		if writer.count() != 1 {
			t.Errorf("persisted %d snapshots, want 1", writer.count())
		}
	})
}

func TestDialFailure(t *testing.T) {
	_, err := socketrpc.Dial(filepath.Join(t.TempDir(), "nonexistent.sock"))
	if err == nil {
		t.Fatal("expected error dialing nonexistent socket")
	}
}

func TestServerStopCleansSocket(t *testing.T) {
	sockPath, srv, _ := startTestServer(t)
	srv.Stop()

	// Socket file should be removed.
	if _, err := socketrpc.Dial(sockPath); err == nil {
		t.Fatal("expected dial to fail after server stop")
	}
}

func TestStopIdempotent(t *testing.T) {
	_, srv, _ := startTestServer(t)

	srv.Stop()
	srv.Stop()
}

func TestStopClosesConns(t *testing.T) {
	sockPath, srv, _ := startTestServer(t)
	client, err := socketrpc.Dial(sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	srv.Stop()

	done := make(chan error, 1)
	go func() {
		_, callErr := client.Status()
		done <- callErr
	}()

	select {
	case callErr := <-done:
		if callErr == nil {
			t.Fatal("expected client call to fail after server stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client call hung after server stop")
	}
}

func TestStaleSocketRecovery(t *testing.T) {
	sockPath, srv, _ := startTestServer(t)
	srv.Stop()

	// A fresh server must reclaim the path after a clean stop, and also
	// after a stale file is left behind.
	srv2 := socketrpc.NewServer(socketrpc.Config{
		SocketPath: sockPath,
		Insights:   &mockEngine{},
		Alerts:     &mockAlerts{},
	})
	if err := srv2.Start(); err != nil {
		t.Fatalf("restart on same path: %v", err)
	}
	defer srv2.Stop()

	client, err := socketrpc.Dial(sockPath)
	if err != nil {
		t.Fatalf("dial restarted server: %v", err)
	}
	defer client.Close()

	if _, err := client.Status(); err != nil {
		t.Fatalf("status after restart: %v", err)
	}
}
