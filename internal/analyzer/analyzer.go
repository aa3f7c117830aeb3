// Package analyzer is component D: the audio analyzer loop driving
// A → B → C → F (spec.md §4.D).
//
// Grounded on the teacher project's internal/analysis/buffer_manager.go
// and realtime.go: a single worker goroutine consumes ready windows off a
// channel fed by the audio-ingestion call site, so the classifier — which
// spec.md requires to be callable without internal locking — is only ever
// invoked from one goroutine at a time.
package analyzer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/fieldpipe/internal/classifier"
	"github.com/tphakala/fieldpipe/internal/ingest"
	"github.com/tphakala/fieldpipe/internal/metrics"
	"github.com/tphakala/fieldpipe/internal/ringbuf"
	"github.com/tphakala/fieldpipe/internal/speciesname"
)

// windowQueueSize bounds how many ready windows can be pending without a
// worker cycle having consumed them yet. Sized small: the worker is
// expected to keep pace with one analysis window per buffer fill.
const windowQueueSize = 2

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Location is the fixed observer coordinate attached to every detection,
// when configured (spec.md §4.G requires lat/lon to be present for
// regional filtering to run at all).
type Location struct {
	Latitude  *float64
	Longitude *float64
}

// Config carries the audio/classifier parameters threaded through every
// emitted Event.
type Config struct {
	SampleRate                 int
	SpeciesConfidenceThreshold float64
	Week                       int
	SensitivitySetting         float64
	Overlap                    float64
	Location                   Location
}

// Analyzer drives the pipeline: PCM bytes in, ingest calls out.
type Analyzer struct {
	window     *ringbuf.Window
	classifier classifier.Classifier
	endpoint   *ingest.Endpoint
	cfg        Config
	clock      Clock
	logger     *slog.Logger
	metrics    *metrics.Pipeline // nil disables instrumentation entirely

	// errorLogLimiter caps how often a failing classifier can flood the
	// log: a jammed model or a corrupt window can otherwise produce one
	// error line per analysis window indefinitely.
	errorLogLimiter *rate.Limiter

	windows chan []float32

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds an Analyzer. windowSeconds sizes the ring buffer (component A).
func New(cfg Config, windowSeconds float64, clsfr classifier.Classifier, endpoint *ingest.Endpoint, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		window:          ringbuf.New(cfg.SampleRate, windowSeconds),
		classifier:      clsfr,
		endpoint:        endpoint,
		cfg:             cfg,
		clock:           time.Now,
		logger:          logger.With("component", "analyzer"),
		errorLogLimiter: rate.NewLimiter(rate.Every(time.Minute), 1),
		windows:         make(chan []float32, windowQueueSize),
	}
}

// SetMetrics wires an optional metrics sink, recorded against every
// classifier invocation.
func (a *Analyzer) SetMetrics(m *metrics.Pipeline) {
	a.metrics = m
}

// Start launches the single worker goroutine that classifies and ingests
// ready windows. Safe to call once.
func (a *Analyzer) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true

	workCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.run(workCtx)
}

// Stop cancels the analysis task and waits for any in-flight window to
// finish processing before returning (spec.md §4.D "draining in-flight
// work").
func (a *Analyzer) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	a.wg.Wait()
}

// ProcessChunk appends raw PCM bytes to the ring buffer and, once a full
// window has accumulated, hands it to the analysis worker. A full worker
// queue drops the window rather than blocking the caller — the producer
// (audio capture) must never stall on analysis.
func (a *Analyzer) ProcessChunk(pcm []byte) {
	if _, err := a.window.Append(pcm); err != nil {
		a.logger.Error("failed to append pcm to analysis window", "error", err)
		return
	}

	for a.window.Ready() {
		samples, ok := a.window.TakeWindow()
		if !ok {
			return
		}
		select {
		case a.windows <- samples:
		default:
			a.logger.Warn("analysis window dropped, worker queue full")
		}
	}
}

func (a *Analyzer) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case window := <-a.windows:
			a.processWindow(context.Background(), window)
			continue
		default:
		}

		select {
		case window := <-a.windows:
			a.processWindow(context.Background(), window)
		case <-ctx.Done():
			a.drain()
			return
		}
	}
}

// drain processes any windows already queued at the moment Stop was
// called, so cancellation never discards work that was handed off before
// it (spec.md §4.D "draining in-flight work"). It deliberately uses a fresh
// background context: the in-flight classify/ingest calls must run to
// completion even though the worker loop itself is shutting down.
func (a *Analyzer) drain() {
	for {
		select {
		case window := <-a.windows:
			a.processWindow(context.Background(), window)
		default:
			return
		}
	}
}

func (a *Analyzer) processWindow(ctx context.Context, window []float32) {
	start := a.clock()
	results, err := a.classifier.Classify(window)
	if a.metrics != nil {
		a.metrics.RecordClassifyDuration(a.clock().Sub(start).Seconds())
	}
	if err != nil {
		if a.errorLogLimiter.Allow() {
			a.logger.Error("classifier error, dropping window", "error", err)
		}
		return
	}

	ts := a.clock().UTC()
	for _, r := range results {
		if float64(r.Confidence) < a.cfg.SpeciesConfidenceThreshold {
			continue
		}

		parsed, err := speciesname.Parse(r.SpeciesTensor)
		if err != nil {
			a.logger.Warn("dropping result with unparsable species label", "error", err, "label", r.SpeciesTensor)
			continue
		}

		event := ingest.Event{
			SpeciesTensor:              parsed.SpeciesTensor,
			ScientificName:             parsed.ScientificName,
			CommonName:                 parsed.CommonName,
			Confidence:                 float64(r.Confidence),
			Timestamp:                  ts,
			Latitude:                   a.cfg.Location.Latitude,
			Longitude:                  a.cfg.Location.Longitude,
			SpeciesConfidenceThreshold: a.cfg.SpeciesConfidenceThreshold,
			Week:                       a.cfg.Week,
			SensitivitySetting:         a.cfg.SensitivitySetting,
			Overlap:                    a.cfg.Overlap,
		}

		pcmCopy := ringbuf.Float32ToPCM16(window)
		if _, err := a.endpoint.Ingest(ctx, event, pcmCopy); err != nil {
			a.logger.Error("ingest failed", "error", err, "species", parsed.ScientificName)
		}
	}
}
