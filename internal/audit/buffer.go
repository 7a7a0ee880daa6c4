// Package audit batches check-execution records and flushes them to a
// persistent store off the request path.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tripwire/internal/model"
	"github.com/ashita-ai/tripwire/internal/telemetry"
)

// Defaults used when the buffer is created with zero values.
const (
	DefaultMaxSize       = 500
	DefaultFlushInterval = 2 * time.Second
	maxBufferCapacity    = 50_000
)

// Store persists batches of execution records.
type Store interface {
	InsertExecutions(ctx context.Context, recs []model.CheckExecution) (int64, error)
}

// Buffer accumulates execution records in memory and flushes them when
// either the batch size or the flush interval is reached. Record never
// blocks; when the buffer is full the record is dropped and counted.
type Buffer struct {
	store         Store
	logger        *slog.Logger
	maxSize       int
	flushInterval time.Duration

	mu   sync.Mutex
	recs []model.CheckExecution

	dropped atomic.Int64
	started atomic.Bool

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainMu    sync.Mutex
	drainCtx   context.Context
}

// NewBuffer creates a buffer over store. Zero values select the defaults.
func NewBuffer(store Store, logger *slog.Logger, maxSize int, flushInterval time.Duration) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Buffer{
		store:         store,
		logger:        logger,
		maxSize:       maxSize,
		flushInterval: flushInterval,
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start begins the background flush loop and registers the buffer gauges.
// A second call is a no-op. Call Drain to stop.
func (b *Buffer) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		b.logger.Warn("audit: buffer already started")
		return
	}
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// Record implements guard.Sink.
func (b *Buffer) Record(rec model.CheckExecution) {
	b.mu.Lock()
	if len(b.recs) >= maxBufferCapacity {
		b.mu.Unlock()
		b.dropped.Add(1)
		return
	}
	b.recs = append(b.recs, rec)
	full := len(b.recs) >= b.maxSize
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
}

func (b *Buffer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.drainMu.Lock()
			drainCtx := b.drainCtx
			b.drainMu.Unlock()
			if drainCtx != nil {
				b.flush(drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				b.flush(fallbackCtx)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.flushCh:
			b.flush(ctx)
		}
	}
}

func (b *Buffer) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.recs) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.recs
	b.recs = nil
	b.mu.Unlock()

	start := time.Now()
	n, err := b.store.InsertExecutions(ctx, batch)
	if err != nil {
		b.logger.Error("audit: flush failed", "error", err, "batch_size", len(batch))
		b.mu.Lock()
		if len(b.recs)+len(batch) <= maxBufferCapacity {
			b.recs = append(batch, b.recs...)
		} else {
			b.dropped.Add(int64(len(batch)))
			b.logger.Error("audit: dropping records, buffer at capacity after flush failure", "dropped", len(batch))
		}
		b.mu.Unlock()
		return
	}

	b.logger.Debug("audit: batch flushed",
		"batch_size", n,
		"flush_duration_ms", time.Since(start).Milliseconds(),
	)
}

// Drain stops the flush loop and flushes what remains, bounded by ctx.
func (b *Buffer) Drain(ctx context.Context) {
	if !b.started.Load() {
		return
	}
	b.drainMu.Lock()
	b.drainCtx = ctx
	b.drainMu.Unlock()
	b.cancelLoop()
	select {
	case <-b.done:
		// Records that arrived after the loop's last flush.
		b.flush(ctx)
	case <-ctx.Done():
		b.logger.Warn("audit: drain timed out waiting for flush loop")
	}
}

func (b *Buffer) registerMetrics() {
	meter := telemetry.Meter("tripwire/audit")

	_, _ = meter.Int64ObservableGauge("tripwire.audit.buffer.depth",
		metric.WithDescription("Current number of execution records awaiting flush"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("tripwire.audit.buffer.dropped_total",
		metric.WithDescription("Total execution records dropped due to buffer capacity"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.Dropped())
			return nil
		}),
	)
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.recs)
}

// Dropped returns how many records were discarded. Non-zero means data loss.
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}
