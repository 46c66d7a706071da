package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/bus"
	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

// maxBufferCapacity bounds the write buffer. When a flush fails and the
// requeue would exceed it, the batch is dropped and counted.
const maxBufferCapacity = 100_000

// Recorder consumes the bus and writes events to the store in batches.
// It is the persistent subscriber the at-least-once delivery contract
// is written for: a failed flush requeues the batch for retry.
type Recorder struct {
	store        Store
	logger       *slog.Logger
	maxBatch     int
	flushTimeout time.Duration

	mu     sync.Mutex
	buffer []model.Event

	dropped atomic.Int64

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
}

// NewRecorder creates a recorder flushing at maxBatch events or every
// flushTimeout, whichever comes first.
func NewRecorder(store Store, logger *slog.Logger, maxBatch int, flushTimeout time.Duration) *Recorder {
	if maxBatch <= 0 {
		maxBatch = 64
	}
	if flushTimeout <= 0 {
		flushTimeout = time.Second
	}
	return &Recorder{
		store:        store,
		logger:       logger,
		maxBatch:     maxBatch,
		flushTimeout: flushTimeout,
		flushCh:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start consumes the subscription and runs the background flush loop.
// Call Drain to stop and flush the tail. The recorder is the durable
// subscriber, so its ctx should outlive the shutdown signal; stop it
// via Drain after publishers have finished.
func (r *Recorder) Start(ctx context.Context, sub *bus.Subscription) {
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancelLoop = cancel
	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		r.consume(loopCtx, sub)
	}()
	go r.flushLoop(loopCtx, consumeDone)
}

// consume reads until the context is cancelled. Next keeps serving the
// retained backlog after cancellation, so every event published before
// the cancel is appended before the loop exits.
func (r *Recorder) consume(ctx context.Context, sub *bus.Subscription) {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		r.append(ev)
	}
}

func (r *Recorder) append(ev model.Event) {
	r.mu.Lock()
	if len(r.buffer) >= maxBufferCapacity {
		r.dropped.Add(1)
		r.mu.Unlock()
		r.logger.Error("audit: buffer at capacity, event dropped",
			"type", ev.Type, "trace_id", ev.TraceID)
		return
	}
	r.buffer = append(r.buffer, ev)
	full := len(r.buffer) >= r.maxBatch
	r.mu.Unlock()

	if full {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

func (r *Recorder) flushLoop(ctx context.Context, consumeDone <-chan struct{}) {
	ticker := time.NewTicker(r.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Let the consumer finish appending the backlog, then run
			// the final flush with its own deadline; ctx is already done.
			<-consumeDone
			finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			r.flush(finalCtx)
			cancel()
			close(r.done)
			return
		case <-ticker.C:
			r.flush(ctx)
		case <-r.flushCh:
			r.flush(ctx)
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	start := time.Now()
	if err := r.store.Append(ctx, batch); err != nil {
		r.logger.Error("audit: flush failed", "error", err, "batch_size", len(batch))
		// Requeue for retry, respecting the capacity limit.
		r.mu.Lock()
		if len(r.buffer)+len(batch) <= maxBufferCapacity {
			r.buffer = append(batch, r.buffer...)
		} else {
			r.dropped.Add(int64(len(batch)))
			r.logger.Error("audit: dropping batch, buffer at capacity after flush failure",
				"dropped", len(batch))
		}
		r.mu.Unlock()
		return
	}

	r.logger.Debug("audit: batch flushed",
		"batch_size", len(batch),
		"flush_duration_ms", time.Since(start).Milliseconds())
}

// Drain stops the flush loop after a final flush. The ctx bounds the
// wait.
func (r *Recorder) Drain(ctx context.Context) {
	if r.cancelLoop != nil {
		r.cancelLoop()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		r.logger.Warn("audit: drain timed out waiting for flush loop")
	}
}

// Len returns the current number of buffered events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// Dropped returns the total events lost to capacity exhaustion. A
// non-zero value indicates data loss.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}
