package weather

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/fieldpipe/internal/datastore"
)

type fakeProvider struct {
	calls atomic.Int64
	obs   Observation
	err   error
}

func (f *fakeProvider) Fetch(ctx context.Context, lat, lon float64) (Observation, error) {
	f.calls.Add(1)
	return f.obs, f.err
}

type fakeStore struct {
	upserts atomic.Int64
	last    *datastore.Weather
}

func (f *fakeStore) UpsertWeather(ctx context.Context, w *datastore.Weather) error {
	f.upserts.Add(1)
	f.last = w
	return nil
}

func TestPoller_PollsImmediatelyOnStart(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{obs: Observation{HourEpoch: 100, Temperature: 20}}
	store := &fakeStore{}

	p := NewPoller(provider, store, 1, 2, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	assert.Eventually(t, func() bool { return store.upserts.Load() >= 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 100, store.last.HourEpoch)
}

func TestPoller_StopWaitsForInFlightPoll(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{obs: Observation{HourEpoch: 1}}
	store := &fakeStore{}

	p := NewPoller(provider, store, 0, 0, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	p.Stop()

	assert.GreaterOrEqual(t, store.upserts.Load(), int64(1))
}

func TestPoller_FetchErrorDoesNotCrashPoller(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{err: assert.AnError}
	store := &fakeStore{}

	p := NewPoller(provider, store, 0, 0, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NotPanics(t, func() {
		p.Start(ctx)
		defer p.Stop()
		assert.Eventually(t, func() bool { return provider.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	})
	assert.Zero(t, store.upserts.Load())
}
