// Package sink fans generated insight snapshots and threshold alerts
// out to configured delivery targets: a JSONL file, a NATS subject pair
// and a webhook endpoint. Delivery is fire and forget; failed writes
// are logged and never retried.
package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/ingest"
	"github.com/tinytelemetry/sage/internal/model"
)

// SnapshotSink receives every generated insight snapshot.
type SnapshotSink interface {
	Name() string
	WriteSnapshot(ctx context.Context, snap *model.InsightSnapshot) error
}

// AlertSink receives threshold alerts. Sinks that also want alerts
// implement it next to SnapshotSink; the manager discovers it by type
// assertion.
type AlertSink interface {
	WriteAlert(ctx context.Context, ev *model.AlertEvent) error
}

// DefaultQueueSize is the number of undelivered items the manager
// buffers before it starts dropping.
const DefaultQueueSize = 256

// DefaultWriteTimeout bounds a single sink write.
const DefaultWriteTimeout = 15 * time.Second

type delivery struct {
	snap  *model.InsightSnapshot
	alert *model.AlertEvent
}

// Manager drives deliveries to all registered sinks from a single
// worker goroutine. Publish methods never block; when the queue is
// full the item is dropped with a throttled warning.
type Manager struct {
	sinks    []SnapshotSink
	log      *zap.Logger
	queue    chan delivery
	timeout  time.Duration
	wg       sync.WaitGroup
	stopOnce sync.Once

	dropped     atomic.Int64
	lastDropLog atomic.Int64 // unix timestamp of last queue-full log
}

var _ ingest.EventPublisher = (*Manager)(nil)

// ManagerConfig holds tunable parameters for the sink manager.
type ManagerConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// NewManager starts a manager delivering to the given sinks. The
// caller keeps ownership of the sinks and closes them after Stop.
func NewManager(sinks []SnapshotSink, conf ...ManagerConfig) *Manager {
	queueSize := DefaultQueueSize
	timeout := DefaultWriteTimeout
	log := zap.NewNop()
	if len(conf) > 0 {
		if conf[0].QueueSize > 0 {
			queueSize = conf[0].QueueSize
		}
		if conf[0].WriteTimeout > 0 {
			timeout = conf[0].WriteTimeout
		}
		if conf[0].Logger != nil {
			log = conf[0].Logger
		}
	}

	m := &Manager{
		sinks:   sinks,
		log:     log,
		queue:   make(chan delivery, queueSize),
		timeout: timeout,
	}

	m.wg.Add(1)
	go m.deliverLoop()

	return m
}

// PublishSnapshot queues a snapshot for delivery to every sink. It
// never blocks; with a full queue the snapshot is dropped.
func (m *Manager) PublishSnapshot(snap *model.InsightSnapshot) {
	if len(m.sinks) == 0 {
		return
	}
	select {
	case m.queue <- delivery{snap: snap}:
	default:
		m.logDrop("snapshot")
	}
}

// PublishAlert queues an alert for delivery to every sink that
// implements AlertSink. It never blocks.
func (m *Manager) PublishAlert(ev *model.AlertEvent) {
	if len(m.sinks) == 0 {
		return
	}
	select {
	case m.queue <- delivery{alert: ev}:
	default:
		m.logDrop("alert")
	}
}

// logDrop emits at most one queue-full warning per 10 seconds.
func (m *Manager) logDrop(kind string) {
	count := m.dropped.Add(1)
	now := time.Now().Unix()
	last := m.lastDropLog.Load()
	if now-last >= 10 && m.lastDropLog.CompareAndSwap(last, now) {
		m.log.Warn("sink queue full, dropping",
			zap.String("kind", kind),
			zap.Int64("dropped_total", count))
	}
}

func (m *Manager) deliverLoop() {
	defer m.wg.Done()
	for d := range m.queue {
		switch {
		case d.snap != nil:
			m.deliverSnapshot(d.snap)
		case d.alert != nil:
			m.deliverAlert(d.alert)
		}
	}
}

func (m *Manager) deliverSnapshot(snap *model.InsightSnapshot) {
	for _, s := range m.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := s.WriteSnapshot(ctx, snap); err != nil {
			m.log.Warn("snapshot delivery failed",
				zap.String("sink", s.Name()),
				zap.Error(err))
		}
		cancel()
	}
}

func (m *Manager) deliverAlert(ev *model.AlertEvent) {
	for _, s := range m.sinks {
		as, ok := s.(AlertSink)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := as.WriteAlert(ctx, ev); err != nil {
			m.log.Warn("alert delivery failed",
				zap.String("sink", s.Name()),
				zap.Error(err))
		}
		cancel()
	}
}

// Stop drains queued deliveries and waits for the worker to finish.
// It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.queue)
		m.wg.Wait()
	})
}
