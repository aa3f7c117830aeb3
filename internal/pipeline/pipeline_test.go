package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/fieldpipe/internal/classifier"
	"github.com/tphakala/fieldpipe/internal/config"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s := config.Defaults()
	s.DataRoot = t.TempDir()
	s.RetryBuffer.FlushInterval = 50 * time.Millisecond
	return s
}

func TestNew_RequiresSettings(t *testing.T) {
	t.Parallel()
	_, err := New(Options{Registerer: prometheus.NewRegistry()})
	assert.Error(t, err)
}

func TestNew_RequiresClassifierModelPathWhenNoClassifierOverride(t *testing.T) {
	t.Parallel()
	_, err := New(Options{Settings: testSettings(t), Registerer: prometheus.NewRegistry()})
	assert.Error(t, err)
}

func TestNew_BuildsAllComponentsWithStubClassifier(t *testing.T) {
	t.Parallel()
	p, err := New(Options{
		Settings:   testSettings(t),
		Registerer: prometheus.NewRegistry(),
		Classifier: &classifier.Stub{},
	})
	require.NoError(t, err)
	defer p.Close()

	assert.NotNil(t, p.Store)
	assert.NotNil(t, p.Bus)
	assert.NotNil(t, p.Endpoint)
	assert.NotNil(t, p.Analyzer)
	assert.NotNil(t, p.RetryBuf)
	assert.NotNil(t, p.Query)
	assert.NotNil(t, p.Metrics)
	assert.Nil(t, p.Filter, "rangefilter disabled by default")
	assert.Nil(t, p.Weather, "weather disabled by default")
}

func TestNew_WiresRangefilterWhenEnabled(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	s.EBirdFiltering.Enabled = true
	s.EBirdFiltering.PackRootDir = t.TempDir() // no manifest present: empty registry, never errors

	p, err := New(Options{Settings: s, Registerer: prometheus.NewRegistry(), Classifier: &classifier.Stub{}})
	require.NoError(t, err)
	defer p.Close()

	assert.NotNil(t, p.Filter)
}

func TestNew_RejectsUnsupportedWeatherProvider(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	s.Weather.Enabled = true
	s.Weather.Provider = "wunderground"

	_, err := New(Options{Settings: s, Registerer: prometheus.NewRegistry(), Classifier: &classifier.Stub{}})
	assert.Error(t, err)
}

func TestNew_WiresWeatherPollerWhenEnabledWithOpenWeather(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	s.Weather.Enabled = true
	s.Weather.Provider = "openweather"
	s.Weather.APIKey = "test-key"
	s.Weather.PollInterval = time.Hour

	p, err := New(Options{Settings: s, Registerer: prometheus.NewRegistry(), Classifier: &classifier.Stub{}})
	require.NoError(t, err)
	defer p.Close()

	assert.NotNil(t, p.Weather)
}

func TestStartProcessChunkStop_EndToEndThroughStub(t *testing.T) {
	t.Parallel()
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
		goleak.IgnoreTopFunction("runtime.gopark"),
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)

	stub := &classifier.Stub{Results: []classifier.Result{
		{SpeciesTensor: "Corvus corax_Common Raven", Confidence: 0.95},
	}}
	s := testSettings(t)
	s.Audio.BufferSizeSeconds = 1.0

	p, err := New(Options{Settings: s, Registerer: prometheus.NewRegistry(), Classifier: stub})
	require.NoError(t, err)
	defer p.Close()

	handle := p.Bus.Subscribe()
	defer handle.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	p.ProcessChunk(make([]byte, s.Audio.SampleRate*2)) // one full window's worth

	select {
	case env := <-handle.C():
		assert.Equal(t, "Corvus corax", env.ScientificName)
	case <-time.After(2 * time.Second):
		t.Fatal("expected detection was not published through the wired pipeline")
	}
}

func TestMetricsHandler_ServesRegisteredCollectors(t *testing.T) {
	t.Parallel()
	p, err := New(Options{
		Settings:   testSettings(t),
		Registerer: prometheus.NewRegistry(),
		Classifier: &classifier.Stub{},
	})
	require.NoError(t, err)
	defer p.Close()

	assert.NotNil(t, p.MetricsHandler())
}

func TestNew_DefaultDatabasePathUnderDataRoot(t *testing.T) {
	t.Parallel()
	s := testSettings(t)
	p, err := New(Options{Settings: s, Registerer: prometheus.NewRegistry(), Classifier: &classifier.Stub{}})
	require.NoError(t, err)
	defer p.Close()

	assert.FileExists(t, filepath.Join(s.DataRoot, "detections.db"))
}
