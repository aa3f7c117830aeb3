// Package pipeline wires components A through N into the single running
// process a CLI command drives: ring buffer, classifier, regional filter,
// detection store, ingest, retry buffer, live fan-out, reference
// attachment, query engine, the weather poller, and notification rules.
//
// Grounded on the teacher project's internal/analysis/realtime.go, which
// plays the same role for BirdNET-Go: one function builds every
// subsystem from *conf.Settings and hands back a thing the cmd layer can
// Start/Stop/feed. Unlike realtime.go this package never touches a
// capture device — cmd/fieldpipe is the one that owns stdin/WAV decode
// and calls ProcessChunk.
package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/fieldpipe/internal/analyzer"
	"github.com/tphakala/fieldpipe/internal/classifier"
	"github.com/tphakala/fieldpipe/internal/config"
	"github.com/tphakala/fieldpipe/internal/cpuspec"
	"github.com/tphakala/fieldpipe/internal/datastore"
	"github.com/tphakala/fieldpipe/internal/detectionbus"
	"github.com/tphakala/fieldpipe/internal/fielderr"
	"github.com/tphakala/fieldpipe/internal/ingest"
	"github.com/tphakala/fieldpipe/internal/logging"
	"github.com/tphakala/fieldpipe/internal/metrics"
	"github.com/tphakala/fieldpipe/internal/query"
	"github.com/tphakala/fieldpipe/internal/rangefilter"
	"github.com/tphakala/fieldpipe/internal/refdb"
	"github.com/tphakala/fieldpipe/internal/retrybuffer"
	"github.com/tphakala/fieldpipe/internal/weather"
)

// speciesSummaryCacheTTL bounds how stale a species_summary response may
// be behind the live detections table.
const speciesSummaryCacheTTL = 5 * time.Minute

// Options configures Pipeline construction. Settings is required; the
// rest are override points used by tests. The cmd/fieldpipe commands pass
// Settings alone.
type Options struct {
	Settings *config.Settings

	// Registerer receives every Prometheus collector. nil uses
	// prometheus.DefaultRegisterer; tests pass a throwaway
	// prometheus.NewRegistry() so repeated construction never double-
	// registers collectors.
	Registerer prometheus.Registerer

	// Classifier overrides the classifier built from Settings.Classifier.
	// nil builds a TFLiteClassifier; tests pass a *classifier.Stub here
	// instead.
	Classifier classifier.Classifier

	// Logger overrides the base logger. nil uses logging.ForService.
	Logger *slog.Logger
}

// Pipeline bundles every component a running fieldpipe process needs.
type Pipeline struct {
	Settings   *config.Settings
	Store      *datastore.Store
	Bus        *detectionbus.Bus
	Filter     rangefilter.Filter
	Classifier classifier.Classifier
	Endpoint   *ingest.Endpoint
	Analyzer   *analyzer.Analyzer
	RetryBuf   *retrybuffer.Buffer
	Refs       *refdb.Manager
	Query      *query.Engine
	Metrics    *metrics.Pipeline
	Weather    *weather.Poller // nil when Settings.Weather.Enabled is false
	Notifier   *notifier       // nil when Settings.NotificationRules is empty

	registerer prometheus.Registerer
	logger     *slog.Logger
}

// New constructs every component from opts.Settings and wires them
// together, but does not start any background goroutine — call Start for
// that.
func New(opts Options) (*Pipeline, error) {
	s := opts.Settings
	if s == nil {
		return nil, fielderr.Newf("pipeline: Settings is required").
			Component("pipeline").Category(fielderr.CategoryConfig).Build()
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.ForService(s.Main.Name)
		if logger == nil {
			logger = slog.Default()
		}
	}
	logger = logger.With("component", "pipeline")

	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	metricsPipeline, err := metrics.NewPipeline(registerer)
	if err != nil {
		return nil, fielderr.New(err).Component("pipeline").Category(fielderr.CategoryPermanent).
			Context("operation", "register_metrics").Build()
	}

	dbPath := s.DataRoot + "/detections.db"
	store, err := datastore.Open(dbPath)
	if err != nil {
		return nil, err
	}

	filter, err := buildFilter(s, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	clsfr := opts.Classifier
	if clsfr == nil {
		clsfr, err = buildClassifier(s)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	bus := detectionbus.New(0, logger)

	endpoint := ingest.New(store, filter, bus, s.DataRoot, s.Audio.SampleRate, logger)
	endpoint.Metrics = metricsPipeline

	retryBuf := retrybuffer.New(s.RetryBuffer.MaxSize, s.RetryBuffer.FlushInterval, endpoint.Reingest, logger)
	retryBuf.SetMetrics(metricsPipeline)
	endpoint.SetRetryBuffer(retryBuf)

	analyzerCfg := analyzer.Config{
		SampleRate:                 s.Audio.SampleRate,
		SpeciesConfidenceThreshold: s.Audio.SpeciesConfidenceThreshold,
		Week:                       currentISOWeek(),
		SensitivitySetting:         s.Audio.Sensitivity,
		Overlap:                    s.Audio.Overlap,
		Location:                   location(s),
	}
	az := analyzer.New(analyzerCfg, s.Audio.BufferSizeSeconds, clsfr, endpoint, logger)
	az.SetMetrics(metricsPipeline)

	refs := refdb.New([]refdb.Source{
		{Alias: refdb.AliasIOC, Path: s.ReferenceDB.IOCPath},
		{Alias: refdb.AliasPatLevin, Path: s.ReferenceDB.PatLevinPath},
		{Alias: refdb.AliasWiki, Path: s.ReferenceDB.AvibasePath},
	}, nil, logger)

	queryEngine := query.New(store.DB, refs, logger)
	queryEngine.EnableSpeciesSummaryCache(speciesSummaryCacheTTL)

	var weatherPoller *weather.Poller
	if s.Weather.Enabled {
		weatherPoller, err = buildWeatherPoller(s, store, logger)
		if err != nil {
			store.Close()
			clsfr.Close()
			return nil, err
		}
	}

	notify := newNotifier(s, bus, queryEngine, logger)

	return &Pipeline{
		Settings:   s,
		Store:      store,
		Bus:        bus,
		Filter:     filter,
		Classifier: clsfr,
		Endpoint:   endpoint,
		Analyzer:   az,
		RetryBuf:   retryBuf,
		Refs:       refs,
		Query:      queryEngine,
		Metrics:    metricsPipeline,
		Weather:    weatherPoller,
		Notifier:   notify,
		registerer: registerer,
		logger:     logger,
	}, nil
}

func buildFilter(s *config.Settings, logger *slog.Logger) (rangefilter.Filter, error) {
	if !s.EBirdFiltering.Enabled {
		return nil, nil
	}
	registry, err := rangefilter.LoadRegistry(s.EBirdFiltering.PackRootDir)
	if err != nil {
		return nil, fielderr.New(err).Component("pipeline").Category(fielderr.CategoryConfig).
			Context("operation", "load_rangefilter_registry").Build()
	}
	return rangefilter.New(s.EBirdFiltering, registry, logger), nil
}

func buildClassifier(s *config.Settings) (classifier.Classifier, error) {
	if s.Classifier.ModelPath == "" {
		return nil, fielderr.Newf("pipeline: classifier.model_path must be set").
			Component("pipeline").Category(fielderr.CategoryConfig).Build()
	}
	threads := s.Classifier.Threads
	if threads <= 0 {
		threads = cpuspec.Detect().OptimalThreads()
	}
	return classifier.NewTFLiteClassifier(classifier.TFLiteConfig{
		ModelPath:   s.Classifier.ModelPath,
		LabelsPath:  s.Classifier.LabelsPath,
		Sensitivity: s.Audio.Sensitivity,
		Threads:     threads,
		UseXNNPACK:  s.Classifier.UseXNNPACK,
	})
}

func buildWeatherPoller(s *config.Settings, store *datastore.Store, logger *slog.Logger) (*weather.Poller, error) {
	if s.Weather.Provider != "openweather" && s.Weather.Provider != "" {
		return nil, fielderr.Newf("pipeline: unsupported weather provider %q", s.Weather.Provider).
			Component("pipeline").Category(fielderr.CategoryConfig).Build()
	}
	provider := weather.NewOpenWeatherProvider(weather.OpenWeatherConfig{APIKey: s.Weather.APIKey}, nil)
	return weather.NewPoller(provider, store, s.Location.Latitude, s.Location.Longitude, s.Weather.PollInterval, logger), nil
}

func location(s *config.Settings) analyzer.Location {
	if s.Location.Latitude == 0 && s.Location.Longitude == 0 {
		return analyzer.Location{}
	}
	lat, lon := s.Location.Latitude, s.Location.Longitude
	return analyzer.Location{Latitude: &lat, Longitude: &lon}
}

func currentISOWeek() int {
	_, week := time.Now().ISOWeek()
	return week
}

// Start launches every background goroutine: the analyzer's worker, the
// retry buffer's flush loop, and (when configured) the weather poller and
// the notifier.
// Safe to call once; each component's own Start is itself idempotent.
func (p *Pipeline) Start(ctx context.Context) {
	p.Analyzer.Start(ctx)
	p.RetryBuf.Start(ctx)
	if p.Weather != nil {
		p.Weather.Start(ctx)
	}
	p.Notifier.Start(ctx)
}

// Stop drains and stops every background goroutine Start launched, in
// the reverse order: the notifier first (it only reads published
// detections, never blocks ingest), then weather, then the retry buffer,
// then the analyzer so any window already mid-flight still reaches
// ingest before Close tears down the store.
func (p *Pipeline) Stop() {
	p.Notifier.Stop()
	if p.Weather != nil {
		p.Weather.Stop()
	}
	p.RetryBuf.Stop()
	p.Analyzer.Stop()
}

// ProcessChunk feeds raw PCM16 bytes into the analysis window.
func (p *Pipeline) ProcessChunk(pcm []byte) {
	p.Analyzer.ProcessChunk(pcm)
}

// MetricsHandler returns an http.Handler exposing the wired Prometheus
// collectors, for callers to mount on their own HTTP mux.
func (p *Pipeline) MetricsHandler() http.Handler {
	if gatherer, ok := p.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// Close releases every resource Pipeline holds that Stop does not already
// drain: the classifier's native handles and the detection store's DB
// connection. Call after Stop.
func (p *Pipeline) Close() error {
	var firstErr error
	if err := p.Classifier.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
