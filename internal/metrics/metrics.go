// Package metrics is the expansion component instrumenting the pipeline
// with Prometheus counters and gauges (SPEC_FULL.md §4.R).
//
// Grounded on the constructor/registration pattern exercised by the
// teacher's internal/observability/metrics test suite
// (myaudio_test.go's NewMyAudioMetrics(registry) (*MyAudioMetrics, error),
// CounterVec/GaugeVec fields exercised directly via WithLabelValues in
// tests) — the teacher's own implementation files were not retrieved into
// the pack, only their tests, so the constructor shape and label
// vocabulary below are reverse-engineered from those assertions.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingest outcome labels, matching ingest.Status (component F).
const (
	IngestOutcomeAccepted = "accepted"
	IngestOutcomeFiltered = "filtered"
	IngestOutcomeBuffered = "buffered"
	IngestOutcomeError    = "error"
)

// Filter decision labels (component G), matching rangefilter.Decision's
// string values directly. Fail-open resolutions are indistinguishable
// from a normal allow at the Filter interface boundary, so there is no
// separate label for them.
const (
	FilterDecisionAllow = "allow"
	FilterDecisionBlock = "block"
)

// Pipeline holds the counters and gauges the ingest path (F), the
// regional filter (G), and the retry buffer (E) update.
type Pipeline struct {
	ingestTotal      *prometheus.CounterVec
	filterDecisions  *prometheus.CounterVec
	retryBufferDepth prometheus.Gauge
	classifyDuration prometheus.Histogram
}

// NewPipeline builds and registers a Pipeline against reg. reg is typically
// a dedicated *prometheus.Registry in tests and prometheus.DefaultRegisterer
// in production.
func NewPipeline(reg prometheus.Registerer) (*Pipeline, error) {
	p := &Pipeline{
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldpipe",
			Subsystem: "ingest",
			Name:      "detections_total",
			Help:      "Count of detections processed by the ingest path, by outcome.",
		}, []string{"outcome"}),
		filterDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldpipe",
			Subsystem: "rangefilter",
			Name:      "decisions_total",
			Help:      "Count of regional filter decisions, by outcome.",
		}, []string{"decision"}),
		retryBufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fieldpipe",
			Subsystem: "retrybuffer",
			Name:      "depth",
			Help:      "Current number of entries held in the retry buffer.",
		}),
		classifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fieldpipe",
			Subsystem: "analyzer",
			Name:      "classify_duration_seconds",
			Help:      "Time spent in a single classifier invocation.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{p.ingestTotal, p.filterDecisions, p.retryBufferDepth, p.classifyDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// RecordIngest increments the ingest outcome counter.
func (p *Pipeline) RecordIngest(outcome string) {
	p.ingestTotal.WithLabelValues(outcome).Inc()
}

// RecordFilterDecision increments the regional filter decision counter.
func (p *Pipeline) RecordFilterDecision(decision string) {
	p.filterDecisions.WithLabelValues(decision).Inc()
}

// SetRetryBufferDepth sets the retry buffer depth gauge to n.
func (p *Pipeline) SetRetryBufferDepth(n int) {
	p.retryBufferDepth.Set(float64(n))
}

// RetryBufferDepth exposes the underlying gauge collector, primarily so
// callers outside this package can assert against it with
// prometheus/client_golang/prometheus/testutil.
func (p *Pipeline) RetryBufferDepth() prometheus.Gauge {
	return p.retryBufferDepth
}

// IngestTotal exposes the underlying counter vector for testutil-based
// assertions from other packages' tests.
func (p *Pipeline) IngestTotal() *prometheus.CounterVec {
	return p.ingestTotal
}

// FilterDecisions exposes the underlying counter vector for testutil-based
// assertions from other packages' tests.
func (p *Pipeline) FilterDecisions() *prometheus.CounterVec {
	return p.filterDecisions
}

// RecordClassifyDuration observes one classifier call's wall time in seconds.
func (p *Pipeline) RecordClassifyDuration(seconds float64) {
	p.classifyDuration.Observe(seconds)
}
