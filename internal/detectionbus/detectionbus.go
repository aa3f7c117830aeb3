// Package detectionbus is component I: a single-publisher, many-subscriber
// broadcast of accepted Detections (spec.md §4.I).
//
// Grounded on the teacher project's internal/events/eventbus.go: a
// registry of consumers fed from a channel, non-blocking publish that
// drops rather than stalls. detectionbus inverts the shape slightly —
// one bounded channel per subscriber rather than one shared channel and a
// worker pool — because spec.md requires a slow subscriber to only ever
// drop its own events, never backpressure the publisher or other
// subscribers.
package detectionbus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tphakala/fieldpipe/internal/datastore"
)

const defaultBufferSize = 64

// Envelope is the stable serialized shape emitted to subscribers.
type Envelope struct {
	ID             string  `json:"id"`
	SpeciesTensor  string  `json:"species_tensor"`
	ScientificName string  `json:"scientific_name"`
	CommonName     string  `json:"common_name"`
	Confidence     float64 `json:"confidence"`
	Timestamp      string  `json:"timestamp"` // ISO-8601 UTC with explicit "Z"
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
}

// NewEnvelope builds the stable wire representation of a persisted Detection.
func NewEnvelope(d *datastore.Detection) Envelope {
	return Envelope{
		ID:             d.ID,
		SpeciesTensor:  d.SpeciesTensor,
		ScientificName: d.ScientificName,
		CommonName:     d.CommonName,
		Confidence:     d.Confidence,
		Timestamp:      d.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		Latitude:       d.Latitude,
		Longitude:      d.Longitude,
	}
}

// Handle is a subscriber's view of the bus: a receive-only bounded channel
// plus Close to unsubscribe.
type Handle struct {
	ch     chan Envelope
	bus    *Bus
	id     uint64
	closed atomic.Bool
}

// C returns the channel of published envelopes.
func (h *Handle) C() <-chan Envelope { return h.ch }

// Close unsubscribes the handle. Safe to call more than once.
func (h *Handle) Close() {
	if h.closed.Swap(true) {
		return
	}
	h.bus.remove(h.id)
	close(h.ch)
}

// Bus fans Detections out to every subscribed Handle.
type Bus struct {
	mu       sync.RWMutex
	subs     map[uint64]chan Envelope
	nextID   uint64
	buffer   int
	logger   *slog.Logger
	dropped  atomic.Uint64
	received atomic.Uint64
}

// New creates a Bus whose subscriber channels are sized buffer (spec.md
// default 64).
func New(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[uint64]chan Envelope),
		buffer: buffer,
		logger: logger.With("component", "detectionbus"),
	}
}

// Subscribe registers a new Handle. Detections published after this call
// are delivered to it until Close is called.
func (b *Bus) Subscribe() *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan Envelope, b.buffer)
	b.subs[id] = ch

	return &Handle{ch: ch, bus: b, id: id}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish fans out env to every live subscriber. A subscriber whose
// channel is full has this event dropped for it only; other subscribers
// and the caller are never blocked.
func (b *Bus) Publish(env Envelope) {
	b.received.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- env:
		default:
			b.dropped.Add(1)
			b.logger.Debug("dropped detection for slow subscriber", "subscriber_id", id)
		}
	}
}

// Stats reports cumulative publish/drop counters.
type Stats struct {
	Received       uint64
	Dropped        uint64
	ActiveHandles  int
}

// StatsSnapshot returns a snapshot of the bus's counters.
func (b *Bus) StatsSnapshot() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Received:      b.received.Load(),
		Dropped:       b.dropped.Load(),
		ActiveHandles: len(b.subs),
	}
}
