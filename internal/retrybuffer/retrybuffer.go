// Package retrybuffer is component E: a bounded FIFO holding detections
// that failed to ingest, retried on a fixed interval (spec.md §4.E).
//
// Grounded on the teacher project's internal/analysis/jobqueue/queue.go —
// a mutex-guarded slice drained by a ticker-driven background goroutine,
// with a stop channel the loop checks only between cycles. Simplified to
// the FIFO/evict-oldest semantics spec.md calls for, since the teacher's
// queue solves a more general retry-with-backoff problem than this buffer
// needs.
package retrybuffer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/fieldpipe/internal/metrics"
)

// Entry is one buffered item awaiting re-ingest.
type Entry struct {
	Event    any
	RawPCM   []byte
	Enqueued time.Time
}

// Reingest attempts to deliver one buffered Entry. A nil error means the
// entry is dropped from the buffer; any error re-queues it for the next
// flush cycle.
type Reingest func(ctx context.Context, e Entry) error

// Buffer is a bounded, thread-safe FIFO of Entry values with a background
// flush loop that retries delivery via a Reingest function.
type Buffer struct {
	mu       sync.Mutex
	entries  []Entry
	maxSize  int
	interval time.Duration
	reingest Reingest
	logger   *slog.Logger
	metrics  *metrics.Pipeline

	stopCh chan struct{}
	doneCh chan struct{}
}

// SetMetrics wires an optional metrics sink, reported on every size change.
func (b *Buffer) SetMetrics(m *metrics.Pipeline) {
	b.mu.Lock()
	b.metrics = m
	b.mu.Unlock()
	b.reportDepth()
}

// New creates a Buffer with the given capacity and flush interval. fn is
// called for every entry on each flush cycle.
func New(maxSize int, interval time.Duration, fn Reingest, logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		maxSize:  maxSize,
		interval: interval,
		reingest: fn,
		logger:   logger.With("component", "retrybuffer"),
	}
}

// Append adds an entry, evicting the oldest entry if the buffer is at
// capacity.
func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	if e.Enqueued.IsZero() {
		e.Enqueued = time.Now()
	}
	if len(b.entries) >= b.maxSize {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, e)
	b.mu.Unlock()

	b.reportDepth()
}

// reportDepth pushes the current buffer size to the metrics sink, if one
// is wired. Must not be called while holding b.mu.
func (b *Buffer) reportDepth() {
	b.mu.Lock()
	m := b.metrics
	depth := len(b.entries)
	b.mu.Unlock()
	if m != nil {
		m.SetRetryBufferDepth(depth)
	}
}

// Len reports the number of entries currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Start launches the background flush loop. Safe to call once; a second
// call is a no-op.
func (b *Buffer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.stopCh != nil {
		b.mu.Unlock()
		return
	}
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	go b.run(ctx)
}

// Stop signals the flush loop to exit after its current cycle and waits
// for it to do so. The buffer's remaining contents are not persisted
// (spec.md §9: best-effort, in-memory only).
func (b *Buffer) Stop() {
	b.mu.Lock()
	stopCh := b.stopCh
	doneCh := b.doneCh
	b.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (b *Buffer) run(ctx context.Context) {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.flush(ctx)
			select {
			case <-b.stopCh:
				return
			default:
			}
		}
	}
}

// flush drains the buffer, attempts re-ingest of every drained entry, and
// re-appends the ones that still failed, preserving their original order.
func (b *Buffer) flush(ctx context.Context) {
	b.mu.Lock()
	pending := b.entries
	b.entries = nil
	b.mu.Unlock()
	b.reportDepth()

	if len(pending) == 0 {
		return
	}

	var failed []Entry
	for _, entry := range pending {
		if err := b.tryReingest(ctx, entry); err != nil {
			b.logger.Warn("retry ingest failed", "error", err)
			failed = append(failed, entry)
		}
	}

	if len(failed) == 0 {
		return
	}

	b.mu.Lock()
	// Preserve failure-set order, then anything appended to the buffer
	// while this flush ran.
	b.entries = append(append([]Entry{}, failed...), b.entries...)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
	b.mu.Unlock()
	b.reportDepth()
}

func (b *Buffer) tryReingest(ctx context.Context, e Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{recovered: r}
		}
	}()
	return b.reingest(ctx, e)
}

type panicError struct{ recovered any }

func (p *panicError) Error() string { return "retrybuffer: reingest panicked" }
