package weather

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/fieldpipe/internal/datastore"
)

// Store is the subset of the detection store (component H) the poller
// writes observations to.
type Store interface {
	UpsertWeather(ctx context.Context, w *datastore.Weather) error
}

// Poller periodically fetches an observation and upserts it into the
// weather table, keyed by hour_epoch. Grounded on component E's
// ticker-driven flush loop: a single background goroutine, cancelled via
// context and drained via WaitGroup on Stop.
type Poller struct {
	provider Provider
	store    Store
	lat, lon float64
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPoller builds a Poller. interval defaults to one hour when zero or
// negative.
func NewPoller(provider Provider, store Store, lat, lon float64, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		provider: provider,
		store:    store,
		lat:      lat,
		lon:      lon,
		interval: interval,
		logger:   logger.With("component", "weather"),
	}
}

// Start launches the polling goroutine. Safe to call once.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	workCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(workCtx)
}

// Stop cancels polling and waits for the in-flight fetch, if any, to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	obs, err := p.provider.Fetch(ctx, p.lat, p.lon)
	if err != nil {
		p.logger.Warn("weather fetch failed", "error", err)
		return
	}
	w := &datastore.Weather{
		HourEpoch:     obs.HourEpoch,
		Temperature:   obs.Temperature,
		Humidity:      obs.Humidity,
		Pressure:      obs.Pressure,
		WindSpeed:     obs.WindSpeed,
		Precipitation: obs.Precipitation,
	}
	if err := p.store.UpsertWeather(ctx, w); err != nil {
		p.logger.Warn("weather upsert failed", "error", err)
	}
}
