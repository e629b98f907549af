package httpserver

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/duckdb"
	"github.com/tinytelemetry/sage/internal/insight"
	"github.com/tinytelemetry/sage/internal/model"
	"github.com/tinytelemetry/sage/internal/statestore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type capturePublisher struct {
	snaps []*model.InsightSnapshot
}

func (c *capturePublisher) PublishSnapshot(s *model.InsightSnapshot) {
	c.snaps = append(c.snaps, s)
}

type testServer struct {
	srv   *Server
	coord *insight.Coordinator
	store *duckdb.Store
	pub   *capturePublisher
	r     *gin.Engine
}

func newTestServer(t *testing.T, mutate func(*insight.Config)) *testServer {
	t.Helper()

	store, err := duckdb.NewStore("", zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := insight.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	coord, err := insight.NewCoordinator(cfg, statestore.NewMemory(), zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	pub := &capturePublisher{}
	srv := NewServer(Config{
		Insights:  coord,
		Store:     store,
		Snapshots: store,
		Publisher: pub,
	})
	srv.startTime = time.Now()

	return &testServer{srv: srv, coord: coord, store: store, pub: pub, r: srv.router()}
}

func (ts *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	ts.r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
	}
}

func ptrFloat(f float64) *float64 { return &f }

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.get(t, "/api/health")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]interface{}
	decodeBody(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
	if body["insights_enabled"] != true {
		t.Errorf("insights_enabled = %v, want true", body["insights_enabled"])
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	w := httptest.NewRecorder()
	ts.r.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("health POST status = %d, want 405 or 404", w.Code)
	}
}

func TestInsightsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, ev := range []struct {
		level string
		rt    *float64
	}{
		{"ERROR", ptrFloat(120.5)},
		{"INFO", nil},
		{"INFO", nil},
	} {
		if _, err := ts.coord.OnLogEvent(ev.level, ev.rt); err != nil {
			t.Fatalf("OnLogEvent: %v", err)
		}
	}

	w := ts.get(t, "/api/insights")
	if w.Code != http.StatusOK {
		t.Fatalf("insights status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var snap model.InsightSnapshot
	decodeBody(t, w, &snap)
	if snap.TotalLogs != 3 {
		t.Errorf("totalLogs = %d, want 3", snap.TotalLogs)
	}
	for _, metric := range []string{"errorRate", "warningRate", "levels.error", "levels.info", "responseTime"} {
		if _, ok := snap.Metrics[metric]; !ok {
			t.Errorf("snapshot missing metric %q", metric)
		}
	}
	if avg, ok := snap.Metrics["errorRate"].Average(); !ok || math.Abs(avg-1.0/3.0) > 1e-9 {
		t.Errorf("errorRate average = %v (%v), want 1/3", avg, ok)
	}
}

func TestInsightsEndpoint_Disabled(t *testing.T) {
	ts := newTestServer(t, func(cfg *insight.Config) { cfg.Enabled = false })

	w := ts.get(t, "/api/insights")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled insights status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestGenerateEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	if _, err := ts.coord.OnLogEvent("WARN", nil); err != nil {
		t.Fatalf("OnLogEvent: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/insights/generate", nil)
	w := httptest.NewRecorder()
	ts.r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("generate status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var snap model.InsightSnapshot
	decodeBody(t, w, &snap)
	if snap.TotalLogs != 1 {
		t.Errorf("generated totalLogs = %d, want 1", snap.TotalLogs)
	}

	persisted, err := ts.store.RecentSnapshots(10)
	if err != nil {
		t.Fatalf("RecentSnapshots: %v", err)
	}
	if len(persisted) != 1 {
		t.Errorf("persisted %d snapshots, want 1", len(persisted))
	}
	if len(ts.pub.snaps) != 1 {
		t.Errorf("published %d snapshots, want 1", len(ts.pub.snaps))
	}
}

func TestInsightHistoryEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := int64(1); i <= 2; i++ {
		err := ts.store.InsertSnapshot(&model.InsightSnapshot{
			GeneratedAt: time.Now().Add(time.Duration(i) * time.Minute),
			TotalLogs:   i,
			Metrics:     map[string]model.AggregationResult{},
		})
		if err != nil {
			t.Fatalf("InsertSnapshot: %v", err)
		}
	}

	w := ts.get(t, "/api/insights/history")
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Snapshots []model.InsightSnapshot `json:"snapshots"`
		Count     int                     `json:"count"`
	}
	decodeBody(t, w, &body)
	if body.Count != 2 || len(body.Snapshots) != 2 {
		t.Errorf("history count = %d (%d snapshots), want 2", body.Count, len(body.Snapshots))
	}

	w = ts.get(t, "/api/insights/history?limit=1")
	decodeBody(t, w, &body)
	if body.Count != 1 {
		t.Errorf("limited history count = %d, want 1", body.Count)
	}
}

func TestInsightHistoryEndpoint_BadLimit(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, limit := range []string{"abc", "0", "-5"} {
		w := ts.get(t, "/api/insights/history?limit="+limit)
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit %q status = %d, want %d", limit, w.Code, http.StatusBadRequest)
		}
	}
}

func TestAlertsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	err := ts.store.InsertAlertBatch([]*model.AlertEvent{
		{Metric: "errorRate", ObservedAverage: 0.2, Threshold: 0.05, RaisedAt: time.Now()},
		{Metric: "warningRate", ObservedAverage: 0.4, Threshold: 0.10, RaisedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("InsertAlertBatch: %v", err)
	}

	w := ts.get(t, "/api/alerts")
	if w.Code != http.StatusOK {
		t.Fatalf("alerts status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Alerts []model.AlertEvent `json:"alerts"`
		Count  int                `json:"count"`
	}
	decodeBody(t, w, &body)
	if body.Count != 2 {
		t.Errorf("alerts count = %d, want 2", body.Count)
	}
}

func TestSchedulerEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 2; i++ {
		if _, err := ts.coord.OnLogEvent("INFO", nil); err != nil {
			t.Fatalf("OnLogEvent: %v", err)
		}
	}

	w := ts.get(t, "/api/scheduler")
	if w.Code != http.StatusOK {
		t.Fatalf("scheduler status = %d, want %d", w.Code, http.StatusOK)
	}
	var state model.SchedulerState
	decodeBody(t, w, &state)
	if state.TotalLogs != 2 {
		t.Errorf("scheduler totalLogs = %d, want 2", state.TotalLogs)
	}
	if state.Policy == "" {
		t.Error("scheduler policy is empty")
	}
}

func TestSchemaEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.get(t, "/api/schema")
	if w.Code != http.StatusOK {
		t.Fatalf("schema status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Description string           `json:"description"`
		RowCounts   map[string]int64 `json:"row_counts"`
	}
	decodeBody(t, w, &body)
	if body.Description == "" {
		t.Error("schema description is empty")
	}
	if _, ok := body.RowCounts["insight_snapshots"]; !ok {
		t.Error("row counts missing insight_snapshots")
	}
}

func TestQueryEndpoint_ValidSelect(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.get(t, "/api/query?sql="+url.QueryEscape("SELECT COUNT(*) AS cnt FROM insight_snapshots"))
	if w.Code != http.StatusOK {
		t.Errorf("query status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestQueryEndpoint_MissingSQL(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.get(t, "/api/query")
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing sql status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestQueryEndpoint_RejectsWrites(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, query := range []string{
		"INSERT INTO alert_events (metric) VALUES ('x')",
		"DROP TABLE insight_snapshots",
		"SELECT 1; COPY alert_events TO '/tmp/evil.csv'",
		"SELECT 1; ATTACH '/tmp/evil.db'",
	} {
		w := ts.get(t, "/api/query?sql="+url.QueryEscape(query))
		if w.Code != http.StatusBadRequest {
			t.Errorf("query %q status = %d, want %d", query, w.Code, http.StatusBadRequest)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	ts := newTestServer(t, nil)

	// No metrics handler configured: the route is absent.
	if w := ts.get(t, "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("metrics without handler status = %d, want 404", w.Code)
	}

	srv := NewServer(Config{
		Insights: ts.coord,
		Store:    ts.store,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestGinRecovery(t *testing.T) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/panic", func(c *gin.Context) {
		panic("test panic")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("panic recovery status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
