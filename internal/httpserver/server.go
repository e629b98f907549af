// Package httpserver exposes the insight engine and its persisted
// history over a small gin API, plus the Prometheus exposition
// endpoint.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/model"
)

// Insights is the coordinator surface the API reads from. Snapshot
// materializes the current view without touching scheduler bookkeeping,
// so API reads never perturb the configured cadence.
type Insights interface {
	Snapshot() (*model.InsightSnapshot, error)
	SchedulerState() (model.SchedulerState, error)
	TrackedMetrics() []string
	Enabled() bool
}

// SnapshotPublisher fans explicitly generated snapshots out to the
// configured sinks.
type SnapshotPublisher interface {
	PublishSnapshot(snap *model.InsightSnapshot)
}

// DefaultHistoryLimit applies when a history endpoint is called without
// a limit parameter.
const DefaultHistoryLimit = 20

// MaxHistoryLimit caps the limit parameter on history endpoints.
const MaxHistoryLimit = 500

// Config wires the server's dependencies. Snapshots, Publisher and
// Metrics may be nil; the matching behavior is skipped.
type Config struct {
	Addr      string
	Insights  Insights
	Store     model.ReadAPI
	Snapshots model.SnapshotWriter
	Publisher SnapshotPublisher
	Metrics   http.Handler
	Logger    *zap.Logger
}

// Server provides the HTTP API over the insight pipeline.
type Server struct {
	addr      string
	insights  Insights
	store     model.ReadAPI
	snapshots model.SnapshotWriter
	publisher SnapshotPublisher
	metrics   http.Handler
	log       *zap.Logger
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates the API server. It does not listen until Start.
func NewServer(conf Config) *Server {
	addr := conf.Addr
	if addr == "" {
		addr = "0.0.0.0:8090"
	}
	log := conf.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		insights:  conf.Insights,
		store:     conf.Store,
		snapshots: conf.Snapshots,
		publisher: conf.Publisher,
		metrics:   conf.Metrics,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// router builds the gin engine with every route mounted.
func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/insights", s.handleInsights)
	r.GET("/api/insights/history", s.handleInsightHistory)
	r.POST("/api/insights/generate", s.handleGenerate)
	r.GET("/api/alerts", s.handleAlerts)
	r.GET("/api/scheduler", s.handleScheduler)
	r.GET("/api/schema", s.handleSchema)
	r.GET("/api/query", s.handleQuery)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.router(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.addr, err)
	}

	s.listener = listener
	s.startTime = time.Now()
	s.log.Info("http api listening", zap.String("addr", s.addr))

	go s.server.Serve(listener)
	return nil
}

// Addr returns the bound listen address, useful when the configured
// port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	state, err := s.insights.SchedulerState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read scheduler state"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"uptime":           time.Since(s.startTime).String(),
		"insights_enabled": s.insights.Enabled(),
		"tracked_metrics":  len(s.insights.TrackedMetrics()),
		"total_logs":       state.TotalLogs,
	})
}

func (s *Server) handleInsights(c *gin.Context) {
	if !s.insights.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "insights are disabled"})
		return
	}

	snap, err := s.insights.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleGenerate materializes a snapshot on demand, persists and
// publishes it. The scheduler's cadence bookkeeping is left untouched,
// so a manual generation never delays the next scheduled one.
func (s *Server) handleGenerate(c *gin.Context) {
	if !s.insights.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "insights are disabled"})
		return
	}

	snap, err := s.insights.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.snapshots != nil {
		if err := s.snapshots.InsertSnapshot(snap); err != nil {
			s.log.Warn("snapshot persist failed", zap.Error(err))
		}
	}
	if s.publisher != nil {
		s.publisher.PublishSnapshot(snap)
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleInsightHistory(c *gin.Context) {
	limit, ok := historyLimit(c)
	if !ok {
		return
	}

	snapshots, err := s.store.RecentSnapshots(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read snapshot history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

func (s *Server) handleAlerts(c *gin.Context) {
	limit, ok := historyLimit(c)
	if !ok {
		return
	}

	alerts, err := s.store.RecentAlerts(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read alert history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleScheduler(c *gin.Context) {
	state, err := s.insights.SchedulerState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read scheduler state"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleSchema(c *gin.Context) {
	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read table row counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": s.store.GetSchemaDescription(),
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	query := strings.TrimSpace(c.Query("sql"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing sql query parameter"})
		return
	}

	results, err := s.store.ExecuteQuery(query)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var columns []string
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}

// historyLimit parses the limit query parameter, writing the error
// response itself when the value is unusable.
func historyLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return DefaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return limit, true
}
