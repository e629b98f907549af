package duckdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/model"
)

// InsertSnapshot persists one insight snapshot. The per-metric results
// are stored as a single JSON document.
func (s *Store) InsertSnapshot(snap *model.InsightSnapshot) error {
	metricsJSON, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("marshal snapshot metrics: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO insight_snapshots (generated_at, total_logs, metrics) VALUES (?, ?, ?)",
		snap.GeneratedAt, snap.TotalLogs, string(metricsJSON))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots, newest first.
func (s *Store) RecentSnapshots(limit int) ([]model.InsightSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT generated_at, total_logs, CAST(metrics AS VARCHAR)
		FROM insight_snapshots
		ORDER BY generated_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.InsightSnapshot
	for rows.Next() {
		var snap model.InsightSnapshot
		var metricsJSON string
		if err := rows.Scan(&snap.GeneratedAt, &snap.TotalLogs, &metricsJSON); err != nil {
			s.log.Warn("snapshot row scan failed", zap.Error(err))
			continue
		}
		snap.Metrics = make(map[string]model.AggregationResult)
		if err := json.Unmarshal([]byte(metricsJSON), &snap.Metrics); err != nil {
			s.log.Warn("snapshot metrics unmarshal failed", zap.Error(err))
		}
		results = append(results, snap)
	}
	return results, rows.Err()
}

// InsertAlertBatch appends a batch of alert events in one transaction.
// A failing batch is retried row-by-row so one bad row cannot drop its
// siblings.
func (s *Store) InsertAlertBatch(alerts []*model.AlertEvent) error {
	if len(alerts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	if err := s.insertAlertsTx(ctx, alerts); err == nil {
		return nil
	}

	var failed int
	for _, a := range alerts {
		if rerr := s.insertAlertsTx(ctx, []*model.AlertEvent{a}); rerr != nil {
			failed++
			s.log.Warn("dropping alert row",
				zap.String("metric", a.Metric), zap.Error(rerr))
		}
	}
	if failed > 0 {
		s.log.Warn("alert batch partially failed",
			zap.Int("dropped", failed), zap.Int("total", len(alerts)))
	}
	return nil
}

func (s *Store) insertAlertsTx(ctx context.Context, alerts []*model.AlertEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO alert_events (metric, observed_average, threshold, raised_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range alerts {
		if _, err := stmt.ExecContext(ctx, a.Metric, a.ObservedAverage, a.Threshold, a.RaisedAt); err != nil {
			return fmt.Errorf("alert insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// RecentAlerts returns up to limit alert events, newest first.
func (s *Store) RecentAlerts(limit int) ([]model.AlertEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT metric, observed_average, threshold, raised_at
		FROM alert_events
		ORDER BY raised_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.AlertEvent
	for rows.Next() {
		var a model.AlertEvent
		if err := rows.Scan(&a.Metric, &a.ObservedAverage, &a.Threshold, &a.RaisedAt); err != nil {
			s.log.Warn("alert row scan failed", zap.Error(err))
			continue
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// DeleteBefore removes persisted snapshots and alerts older than cutoff
// and returns the total number of rows removed. In-memory streams are
// untouched.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var total int64
	res, err := s.db.ExecContext(ctx, "DELETE FROM insight_snapshots WHERE generated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune insight_snapshots: %w", err)
	}
	if n, aerr := res.RowsAffected(); aerr == nil {
		total += n
	}

	res, err = s.db.ExecContext(ctx, "DELETE FROM alert_events WHERE raised_at < ?", cutoff)
	if err != nil {
		return total, fmt.Errorf("prune alert_events: %w", err)
	}
	if n, aerr := res.RowsAffected(); aerr == nil {
		total += n
	}
	return total, nil
}
