package duckdb

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	RetentionDays int
	Logger        *zap.Logger
}

// RetentionCleaner periodically deletes persisted snapshots and alerts
// older than the configured retention period. In-memory metric streams
// are never pruned.
type RetentionCleaner struct {
	store         *Store
	log           *zap.Logger
	retentionDays int
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup
	stopOnce      sync.Once
}

// NewRetentionCleaner creates a retention cleaner for expired insight
// rows. Returns nil when retention is 0 (disabled).
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	days := 30
	log := zap.NewNop()
	if len(conf) > 0 {
		days = conf[0].RetentionDays
		if conf[0].Logger != nil {
			log = conf[0].Logger
		}
	}
	if days <= 0 {
		return nil
	}

	rc := &RetentionCleaner{
		store:         store,
		log:           log,
		retentionDays: days,
		done:          make(chan struct{}),
	}

	// Startup cleanup to catch up after downtime.
	rc.cleanup()

	rc.wg.Add(1)
	rc.tickWg.Add(1)
	go rc.tickLoop()

	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	defer rc.tickWg.Done()
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanup() {
	cutoff := time.Now().Add(-time.Duration(rc.retentionDays) * 24 * time.Hour)

	rows, err := rc.store.DeleteBefore(cutoff)
	if err != nil {
		rc.log.Error("retention cleanup failed", zap.Error(err))
		return
	}
	if rows > 0 {
		rc.log.Info("retention cleanup removed expired rows",
			zap.Int64("rows", rows), zap.Int("retention_days", rc.retentionDays))
	}
}

// Stop signals the cleaner to stop and waits for it to finish.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.tickWg.Wait()
		rc.wg.Wait()
	})
}
