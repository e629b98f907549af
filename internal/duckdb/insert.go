package duckdb

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/sage/internal/journal"
	"github.com/tinytelemetry/sage/internal/model"
)

// DefaultFlushQueueSize is the number of batches that can be queued for
// async flushing.
const DefaultFlushQueueSize = 64

type journaledAlert struct {
	seq   uint64
	alert *model.AlertEvent
}

type durableJournal interface {
	Append(alert *model.AlertEvent) (uint64, error)
	Commit(seq uint64) error
	Close() error
}

// InsertBuffer batches alert events and flushes them to DuckDB
// asynchronously. Add never blocks on database writes; batches are
// handed to a flush goroutine. With a journal attached, every alert is
// durable before it is buffered and committed once its batch lands.
type InsertBuffer struct {
	writer        model.AlertWriter
	log           *zap.Logger
	mu            sync.Mutex
	pending       []journaledAlert
	flushChan     chan []journaledAlert
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup // separate WaitGroup for tickLoop
	stopOnce      sync.Once
	journal       durableJournal

	// backpressureCount tracks inline flushes for throttled logging.
	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64 // unix timestamp of last backpressure log
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Journal        *journal.Journal
	Logger         *zap.Logger
}

// NewInsertBuffer creates an insert buffer that flushes to the writer.
func NewInsertBuffer(writer model.AlertWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := 512
	flushInterval := 250 * time.Millisecond
	flushQueueSize := DefaultFlushQueueSize
	log := zap.NewNop()
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
		if conf[0].Logger != nil {
			log = conf[0].Logger
		}
	}

	b := &InsertBuffer{
		writer:        writer,
		log:           log,
		pending:       make([]journaledAlert, 0, batchSize),
		flushChan:     make(chan []journaledAlert, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
	if len(conf) > 0 && conf[0].Journal != nil {
		b.journal = conf[0].Journal
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// ReplayJournal re-queues uncommitted journal entries left over from a
// previous run. Call it once, before ingestion starts.
func (b *InsertBuffer) ReplayJournal() error {
	j, ok := b.journal.(*journal.Journal)
	if !ok || j == nil {
		return nil
	}
	var replayed int
	err := j.Replay(func(seq uint64, alert *model.AlertEvent) error {
		b.mu.Lock()
		b.pending = append(b.pending, journaledAlert{seq: seq, alert: alert})
		b.mu.Unlock()
		replayed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay alert journal: %w", err)
	}
	if replayed > 0 {
		b.log.Info("replayed uncommitted alerts from journal", zap.Int("count", replayed))
	}
	return nil
}

// tickLoop periodically drains the pending buffer.
func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending() // final drain
			return
		}
	}
}

// logBackpressure emits a throttled warning (at most once per 10
// seconds) when the flush channel is full and an inline flush runs.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		b.log.Warn("insert buffer backpressure, flushing inline",
			zap.Int64("inline_flushes", count))
	}
}

// drainPending moves pending alerts to the flush channel without
// blocking on the database.
func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]journaledAlert, 0, b.maxBatch)
	b.mu.Unlock()

	// Non-blocking send. A full channel means the database is falling
	// behind; flush inline as a safety valve.
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		if err := b.flushBatch(batch); err != nil {
			b.log.Error("inline flush failed", zap.Error(err))
		}
	}
}

// flushWorker processes batches from the flush channel.
func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		if err := b.flushBatch(batch); err != nil {
			b.log.Error("flush failed", zap.Error(err))
		}
	}
}

// Add queues one alert for batch insertion. This never blocks on
// database IO. With a journal attached the alert is persisted first;
// journal failures are retried until the buffer shuts down.
func (b *InsertBuffer) Add(alert *model.AlertEvent) {
	seq := uint64(0)
	if b.journal != nil {
		for {
			var err error
			seq, err = b.journal.Append(alert)
			if err == nil {
				break
			}
			b.log.Warn("journal append failed, retrying", zap.Error(err))
			select {
			case <-b.done:
				return
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	b.mu.Lock()
	b.pending = append(b.pending, journaledAlert{seq: seq, alert: alert})
	shouldFlush := len(b.pending) >= b.maxBatch
	var batch []journaledAlert
	if shouldFlush {
		batch = b.pending
		b.pending = make([]journaledAlert, 0, b.maxBatch)
	}
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- batch:
		default:
			b.logBackpressure()
			if err := b.flushBatch(batch); err != nil {
				b.log.Error("overflow inline flush failed", zap.Error(err))
			}
		}
	}
}

// Stop flushes remaining alerts and waits for all writes to complete.
// It is safe to call more than once.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// Wait for tickLoop to finish its final drain before closing
		// flushChan, so every pending alert reaches the flush worker.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
		if b.journal != nil {
			if err := b.journal.Close(); err != nil {
				b.log.Warn("journal close failed", zap.Error(err))
			}
		}
	})
}

func (b *InsertBuffer) flushBatch(batch []journaledAlert) error {
	if len(batch) == 0 {
		return nil
	}

	alerts := make([]*model.AlertEvent, 0, len(batch))
	for _, item := range batch {
		alerts = append(alerts, item.alert)
	}

	if err := b.writer.InsertAlertBatch(alerts); err != nil {
		return err
	}

	if b.journal != nil {
		maxSeq := uint64(0)
		for _, item := range batch {
			if item.seq > maxSeq {
				maxSeq = item.seq
			}
		}
		if maxSeq > 0 {
			if err := b.journal.Commit(maxSeq); err != nil {
				return fmt.Errorf("journal commit seq=%d: %w", maxSeq, err)
			}
		}
	}
	return nil
}
