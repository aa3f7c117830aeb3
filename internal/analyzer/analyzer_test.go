package analyzer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tphakala/fieldpipe/internal/classifier"
	"github.com/tphakala/fieldpipe/internal/datastore"
	"github.com/tphakala/fieldpipe/internal/detectionbus"
	"github.com/tphakala/fieldpipe/internal/ingest"
	"github.com/tphakala/fieldpipe/internal/metrics"
)

const sampleRate = 48000

func newTestAnalyzer(t *testing.T, stub *classifier.Stub, bus *detectionbus.Bus) (*Analyzer, *ingest.Endpoint) {
	t.Helper()
	store, err := datastore.Open(filepath.Join(t.TempDir(), "detections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ep := ingest.New(store, nil, bus, t.TempDir(), sampleRate, nil)
	cfg := Config{
		SampleRate:                 sampleRate,
		SpeciesConfidenceThreshold: 0.8,
		Week:                       1,
		SensitivitySetting:         1.0,
		Overlap:                    0,
	}
	a := New(cfg, 1.0, stub, ep, nil)
	return a, ep
}

func fullWindowPCM() []byte {
	return make([]byte, sampleRate*2) // 1 second window, matches newTestAnalyzer's windowSeconds
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestProcessChunk_ClassifiesAndIngestsAboveThreshold(t *testing.T) {
	t.Parallel()
	stub := &classifier.Stub{Results: []classifier.Result{
		{SpeciesTensor: "Corvus corax_Common Raven", Confidence: 0.95},
		{SpeciesTensor: "Parus major_Great Tit", Confidence: 0.5}, // below threshold
	}}
	bus := detectionbus.New(4, nil)
	handle := bus.Subscribe()
	defer handle.Close()

	a, ep := newTestAnalyzer(t, stub, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	a.ProcessChunk(fullWindowPCM())

	select {
	case env := <-handle.C():
		assert.Equal(t, "Corvus corax", env.ScientificName)
	case <-time.After(2 * time.Second):
		t.Fatal("expected detection was not published")
	}

	count, err := ep.Store.DetectionCount(context.Background(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestProcessChunk_DropsResultsBelowThreshold(t *testing.T) {
	t.Parallel()
	stub := &classifier.Stub{Results: []classifier.Result{
		{SpeciesTensor: "Parus major_Great Tit", Confidence: 0.1},
	}}
	a, ep := newTestAnalyzer(t, stub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	a.ProcessChunk(fullWindowPCM())
	waitForCondition(t, time.Second, func() bool { return stub.Calls() >= 1 })

	count, err := ep.Store.DetectionCount(context.Background(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProcessChunk_ClassifierErrorIsDroppedNotPropagated(t *testing.T) {
	t.Parallel()
	stub := &classifier.Stub{Fail: assert.AnError}
	a, _ := newTestAnalyzer(t, stub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	assert.NotPanics(t, func() {
		a.ProcessChunk(fullWindowPCM())
		waitForCondition(t, time.Second, func() bool { return stub.Calls() >= 1 })
	})
}

func TestProcessChunk_PartialChunkDoesNotTriggerClassification(t *testing.T) {
	t.Parallel()
	stub := &classifier.Stub{Results: []classifier.Result{{SpeciesTensor: "x", Confidence: 1}}}
	a, _ := newTestAnalyzer(t, stub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	a.ProcessChunk(make([]byte, sampleRate)) // half a window's worth of bytes
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, stub.Calls())
}

func TestProcessChunk_RecordsClassifyDurationWhenMetricsWired(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	m, err := metrics.NewPipeline(registry)
	require.NoError(t, err)

	stub := &classifier.Stub{Results: []classifier.Result{{SpeciesTensor: "x_y", Confidence: 0.1}}}
	a, _ := newTestAnalyzer(t, stub, nil)
	a.SetMetrics(m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	a.ProcessChunk(fullWindowPCM())
	waitForCondition(t, time.Second, func() bool { return stub.Calls() >= 1 })

	assert.Equal(t, 1, int(testutil.CollectAndCount(registry, "fieldpipe_analyzer_classify_duration_seconds")))
}

func TestStop_DrainsInFlightWorkBeforeReturning(t *testing.T) {
	t.Parallel()
	stub := &classifier.Stub{Results: []classifier.Result{
		{SpeciesTensor: "Corvus corax_Common Raven", Confidence: 0.95},
	}}
	a, ep := newTestAnalyzer(t, stub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)

	a.ProcessChunk(fullWindowPCM())
	a.Stop()

	count, err := ep.Store.DetectionCount(context.Background(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
