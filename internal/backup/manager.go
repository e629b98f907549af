// Package backup keeps point-in-time copies of the insight database:
// a periodic local export of the DuckDB file, pruned to the most recent
// N copies, with an optional upload to an S3 bucket.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultInterval = 24 * time.Hour
	defaultKeepLast = 14
)

// Manager runs periodic local exports and optional remote uploads.
type Manager struct {
	store    Snapshotter
	cfg      Config
	uploader Uploader
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewManager validates cfg and starts the export loop. It returns nil
// when backups are disabled. The first export runs immediately so a
// restart never widens the recovery point.
func NewManager(store Snapshotter, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if store == nil {
		return nil, fmt.Errorf("backup: nil snapshotter")
	}
	if strings.TrimSpace(store.DBPath()) == "" {
		return nil, fmt.Errorf("backup: db-path is empty (in-memory store)")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		return nil, fmt.Errorf("backup: local-dir is required when backup is enabled")
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("backup: create local-dir: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var uploader Uploader
	if strings.TrimSpace(cfg.BucketURL) != "" {
		s3u, err := NewS3Uploader(S3Config{
			BucketURL:    cfg.BucketURL,
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			SessionToken: cfg.S3SessionToken,
			UseSSL:       cfg.S3UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("backup: init s3 uploader: %w", err)
		}
		uploader = s3u
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:    store,
		cfg:      cfg,
		uploader: uploader,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	if err := m.RunOnce(ctx); err != nil {
		log.Warn("startup export failed", zap.Error(err))
	}

	m.wg.Add(1)
	go m.loop()
	return m, nil
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.RunOnce(m.ctx); err != nil {
				m.log.Warn("periodic export failed", zap.Error(err))
			}
		case <-m.done:
			return
		}
	}
}

// RunOnce creates one local export, uploads it when configured, and
// prunes old local copies.
func (m *Manager) RunOnce(ctx context.Context) error {
	fileName := fmt.Sprintf("sage-%s.db", time.Now().UTC().Format("20060102-150405.000"))
	localPath := filepath.Join(m.cfg.LocalDir, fileName)

	if err := m.store.SnapshotTo(localPath); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	m.log.Info("database exported", zap.String("path", localPath))

	if m.uploader != nil {
		if err := m.uploader.UploadFile(ctx, localPath); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		m.log.Info("export uploaded", zap.String("file", filepath.Base(localPath)))
	}

	if err := pruneLocalBackups(m.cfg.LocalDir, m.cfg.KeepLast); err != nil {
		return fmt.Errorf("prune local exports: %w", err)
	}
	return nil
}

// Stop cancels any in-flight upload and waits for the loop to exit.
func (m *Manager) Stop() {
	m.cancel()
	close(m.done)
	m.wg.Wait()
}

func pruneLocalBackups(localDir string, keepLast int) error {
	if keepLast <= 0 {
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(localDir, "sage-*.db"))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}

	sort.Slice(matches, func(i, j int) bool {
		// timestamp is embedded in the filename; lexical order is
		// chronological
		return matches[i] > matches[j]
	})

	for _, oldPath := range matches[keepLast:] {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
