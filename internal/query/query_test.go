package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldpipe/internal/analytics"
	"github.com/tphakala/fieldpipe/internal/datastore"
	"github.com/tphakala/fieldpipe/internal/refdb"
	"github.com/tphakala/fieldpipe/internal/weather"
)

func newTestEngine(t *testing.T) (*Engine, *datastore.Store) {
	t.Helper()
	store, err := datastore.Open(filepath.Join(t.TempDir(), "detections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	refs := refdb.New(nil, nil, nil)
	return New(store.DB, refs, nil), store
}

func insertDetection(t *testing.T, store *datastore.Store, sci, common string, confidence float64, ts time.Time) *datastore.Detection {
	t.Helper()
	hourEpoch := weather.HourEpoch(ts)
	det := &datastore.Detection{
		SpeciesTensor:              sci + "_" + common,
		ScientificName:             sci,
		CommonName:                 common,
		Confidence:                 confidence,
		Timestamp:                  ts,
		SpeciesConfidenceThreshold: 0.5,
		HourEpoch:                  &hourEpoch,
	}
	require.NoError(t, store.InsertWithAudio(context.Background(), det, nil))
	return det
}

func TestQuery_FiltersBySpeciesAndConfidence(t *testing.T) {
	t.Parallel()
	engine, store := newTestEngine(t)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	insertDetection(t, store, "Corvus corax", "Common Raven", 0.95, base)
	insertDetection(t, store, "Parus major", "Great Tit", 0.6, base.Add(time.Minute))

	min := 0.8
	results, err := engine.Query(context.Background(), Filters{MinConfidence: &min})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Corvus corax", results[0].ScientificName)
}

func TestQuery_MultipleSpeciesFilterIsOR(t *testing.T) {
	t.Parallel()
	engine, store := newTestEngine(t)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	insertDetection(t, store, "Corvus corax", "Common Raven", 0.95, base)
	insertDetection(t, store, "Parus major", "Great Tit", 0.9, base.Add(time.Minute))
	insertDetection(t, store, "Turdus migratorius", "American Robin", 0.9, base.Add(2*time.Minute))

	results, err := engine.Query(context.Background(), Filters{
		Species: []string{"Corvus corax", "Turdus migratorius"},
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestQuery_FirstEverMarksOnlyTheEarliestGlobally(t *testing.T) {
	t.Parallel()
	engine, store := newTestEngine(t)
	first := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	second := time.Date(2025, 2, 2, 10, 0, 0, 0, time.UTC)

	insertDetection(t, store, "Corvus corax", "Common Raven", 0.9, first)

	results, err := engine.Query(context.Background(), Filters{IncludeFirstDetections: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].IsFirstEver)
	assert.True(t, *results[0].IsFirstEver)

	insertDetection(t, store, "Corvus corax", "Common Raven", 0.9, second)

	results, err = engine.Query(context.Background(), Filters{IncludeFirstDetections: true, OrderBy: OrderByTimestamp})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		if r.Timestamp.Equal(first) {
			assert.True(t, *r.IsFirstEver)
		} else {
			assert.False(t, *r.IsFirstEver)
		}
	}
}

func TestQuery_FirstInPeriodIgnoresConfidenceFilter(t *testing.T) {
	t.Parallel()
	engine, store := newTestEngine(t)
	early := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	late := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	// Earliest-in-period detection has LOW confidence and would be excluded
	// by a min-confidence filter; it must still set the period minimum
	// (spec.md §9 open question).
	insertDetection(t, store, "Corvus corax", "Common Raven", 0.3, early)
	insertDetection(t, store, "Corvus corax", "Common Raven", 0.95, late)

	min := 0.8
	results, err := engine.Query(context.Background(), Filters{
		IncludeFirstDetections: true,
		MinConfidence:          &min,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, *results[0].IsFirstInPeriod, "the surviving row isn't the period minimum, even though confidence filtering excluded the earlier one")
}

func TestSpeciesSummary_OrdersByDetectionCountDescending(t *testing.T) {
	t.Parallel()
	engine, store := newTestEngine(t)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	insertDetection(t, store, "Parus major", "Great Tit", 0.9, base)
	insertDetection(t, store, "Corvus corax", "Common Raven", 0.9, base.Add(time.Minute))
	insertDetection(t, store, "Corvus corax", "Common Raven", 0.8, base.Add(2*time.Minute))

	rows, err := engine.SpeciesSummary(context.Background(), SpeciesSummaryFilters{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Corvus corax", rows[0].ScientificName)
	assert.EqualValues(t, 2, rows[0].DetectionCount)
	assert.InDelta(t, 0.85, rows[0].AvgConfidence, 1e-9)
}

func TestSpeciesSummary_CacheServesStaleResultUntilExpiry(t *testing.T) {
	t.Parallel()
	engine, store := newTestEngine(t)
	engine.EnableSpeciesSummaryCache(time.Hour)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	insertDetection(t, store, "Parus major", "Great Tit", 0.9, base)

	first, err := engine.SpeciesSummary(context.Background(), SpeciesSummaryFilters{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	insertDetection(t, store, "Corvus corax", "Common Raven", 0.9, base.Add(time.Minute))

	second, err := engine.SpeciesSummary(context.Background(), SpeciesSummaryFilters{})
	require.NoError(t, err)
	assert.Len(t, second, 1, "cached result should not reflect the newly inserted species")

	third, err := engine.SpeciesSummary(context.Background(), SpeciesSummaryFilters{Family: "Corvidae"})
	require.NoError(t, err)
	assert.Empty(t, third, "a different filter key must not hit the first query's cache entry")
}

func TestBestRecordings_PerSpeciesLimitIsPrefixOfLargerLimit(t *testing.T) {
	t.Parallel()
	engine, store := newTestEngine(t)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		insertDetection(t, store, "Corvus corax", "Common Raven", 0.5+float64(i)*0.1, base.Add(time.Duration(i)*time.Minute))
	}

	two := 2
	small, err := engine.BestRecordings(context.Background(), BestRecordingFilters{PerSpeciesLimit: &two})
	require.NoError(t, err)

	four := 4
	large, err := engine.BestRecordings(context.Background(), BestRecordingFilters{PerSpeciesLimit: &four})
	require.NoError(t, err)

	require.Len(t, small, 2)
	require.GreaterOrEqual(t, len(large), 2)
	for i := range small {
		assert.Equal(t, small[i].ID, large[i].ID)
	}
}

func TestBestRecordings_SpecificSpeciesIgnoresPerSpeciesLimit(t *testing.T) {
	t.Parallel()
	engine, store := newTestEngine(t)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		insertDetection(t, store, "Corvus corax", "Common Raven", 0.5+float64(i)*0.1, base.Add(time.Duration(i)*time.Minute))
	}

	one := 1
	results, err := engine.BestRecordings(context.Background(), BestRecordingFilters{
		PerSpeciesLimit: &one,
		Species:         "Corvus corax",
	})
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestWeatherCorrelation_DetectsPositiveRelationship(t *testing.T) {
	t.Parallel()
	engine, store := newTestEngine(t)
	base := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)

	// Three hours, rising detection count and rising temperature in lockstep.
	hours := []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour)}
	counts := []int{1, 2, 3}
	temps := []float64{5.0, 15.0, 25.0}

	for i, hour := range hours {
		for n := 0; n < counts[i]; n++ {
			insertDetection(t, store, "Corvus corax", "Common Raven", 0.9, hour.Add(time.Duration(n)*time.Minute))
		}
		require.NoError(t, store.UpsertWeather(context.Background(), &datastore.Weather{
			HourEpoch:   weather.HourEpoch(hour),
			Temperature: temps[i],
		}))
	}

	r, err := engine.WeatherCorrelation(context.Background(), "Corvus corax", analytics.WeatherTemperature,
		base.Add(-time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r, 1e-9, "counts and temperature rise together across all three hours")
}

func TestWeatherCorrelation_UnknownVariableIsError(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	_, err := engine.WeatherCorrelation(context.Background(), "Corvus corax", analytics.WeatherVariable("dewpoint"),
		time.Now(), time.Now())
	assert.Error(t, err)
}

func TestWeatherCorrelation_NoDetectionsInRangeReturnsZero(t *testing.T) {
	t.Parallel()
	engine, _ := newTestEngine(t)
	r, err := engine.WeatherCorrelation(context.Background(), "Corvus corax", analytics.WeatherTemperature,
		time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0.0, r)
}
