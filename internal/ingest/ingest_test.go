package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldpipe/internal/datastore"
	"github.com/tphakala/fieldpipe/internal/detectionbus"
	"github.com/tphakala/fieldpipe/internal/metrics"
	"github.com/tphakala/fieldpipe/internal/rangefilter"
	"github.com/tphakala/fieldpipe/internal/retrybuffer"
)

type fakeFilter struct{ decision rangefilter.Decision }

func (f fakeFilter) Filter(scientificName string, lat, lon *float64) rangefilter.Decision {
	return f.decision
}

func newTestEndpoint(t *testing.T, filter rangefilter.Filter, bus *detectionbus.Bus) *Endpoint {
	t.Helper()
	store, err := datastore.Open(filepath.Join(t.TempDir(), "detections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, filter, bus, t.TempDir(), 48000, nil)
}

func testEvent() Event {
	return Event{
		SpeciesTensor:              "Corvus corax_Common Raven",
		ScientificName:             "Corvus corax",
		CommonName:                 "Common Raven",
		Confidence:                 0.92,
		Timestamp:                  time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
		SpeciesConfidenceThreshold: 0.8,
	}
}

func TestIngest_AcceptsAndPublishes(t *testing.T) {
	t.Parallel()
	bus := detectionbus.New(4, nil)
	handle := bus.Subscribe()
	defer handle.Close()

	ep := newTestEndpoint(t, nil, bus)
	result, err := ep.Ingest(context.Background(), testEvent(), make([]byte, 48000*2))
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, result.Status)
	require.NotEmpty(t, result.DetectionID)

	select {
	case env := <-handle.C():
		assert.Equal(t, result.DetectionID, env.ID)
	case <-time.After(time.Second):
		t.Fatal("detection was not published")
	}
}

func TestIngest_FilteredBlocksBeforePersist(t *testing.T) {
	t.Parallel()
	lat, lon := 45.0, -75.0
	ep := newTestEndpoint(t, fakeFilter{decision: rangefilter.Block}, nil)

	event := testEvent()
	event.Latitude = &lat
	event.Longitude = &lon

	result, err := ep.Ingest(context.Background(), event, make([]byte, 48000*2))
	require.NoError(t, err)
	assert.Equal(t, StatusFiltered, result.Status)

	count, err := ep.Store.DetectionCount(context.Background(), event.Timestamp.Add(-time.Hour), event.Timestamp.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngest_FilterSkippedWithoutCoordinates(t *testing.T) {
	t.Parallel()
	ep := newTestEndpoint(t, fakeFilter{decision: rangefilter.Block}, nil)

	result, err := ep.Ingest(context.Background(), testEvent(), make([]byte, 48000*2))
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, result.Status)
}

func TestIngest_PersistFailureReturnsBuffered(t *testing.T) {
	t.Parallel()
	ep := newTestEndpoint(t, nil, nil)
	require.NoError(t, ep.Store.Close()) // force persistence to fail

	result, err := ep.Ingest(context.Background(), testEvent(), make([]byte, 48000*2))
	require.NoError(t, err)
	assert.Equal(t, StatusBuffered, result.Status)
}

func TestReingest_SucceedsOnceStoreIsHealthyAgain(t *testing.T) {
	t.Parallel()
	ep := newTestEndpoint(t, nil, nil)
	buf := retrybuffer.New(10, time.Hour, ep.Reingest, nil)
	ep.SetRetryBuffer(buf)

	err := ep.Reingest(context.Background(), retrybuffer.Entry{Event: testEvent(), RawPCM: make([]byte, 48000*2)})
	require.NoError(t, err)

	count, err := ep.Store.DetectionCount(context.Background(), testEvent().Timestamp.Add(-time.Hour), testEvent().Timestamp.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestReingest_RejectsWrongEventType(t *testing.T) {
	t.Parallel()
	ep := newTestEndpoint(t, nil, nil)
	err := ep.Reingest(context.Background(), retrybuffer.Entry{Event: "not an ingest.Event"})
	assert.Error(t, err)
}

func TestIngest_RecordsMetricsWhenWired(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	m, err := metrics.NewPipeline(registry)
	require.NoError(t, err)

	lat, lon := 45.0, -75.0
	ep := newTestEndpoint(t, fakeFilter{decision: rangefilter.Allow}, nil)
	ep.Metrics = m

	event := testEvent()
	event.Latitude = &lat
	event.Longitude = &lon

	_, err = ep.Ingest(context.Background(), event, make([]byte, 48000*2))
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.IngestTotal().WithLabelValues(string(StatusAccepted))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FilterDecisions().WithLabelValues(string(rangefilter.Allow))))
}

func TestIngest_RecordsFilteredMetricWhenBlocked(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	m, err := metrics.NewPipeline(registry)
	require.NoError(t, err)

	lat, lon := 45.0, -75.0
	ep := newTestEndpoint(t, fakeFilter{decision: rangefilter.Block}, nil)
	ep.Metrics = m

	event := testEvent()
	event.Latitude = &lat
	event.Longitude = &lon

	result, err := ep.Ingest(context.Background(), event, make([]byte, 48000*2))
	require.NoError(t, err)
	assert.Equal(t, StatusFiltered, result.Status)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.FilterDecisions().WithLabelValues(string(rangefilter.Block))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IngestTotal().WithLabelValues(string(StatusFiltered))))
}
