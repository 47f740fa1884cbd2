package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketAgent/internal/collector"
	"MarketAgent/internal/model"
	"MarketAgent/internal/store"
)

type fakeStore struct {
	universe  []model.Instrument
	latest    time.Time
	hasLatest bool
	ingestion model.IngestionLogEntry
	hasIngest bool
}

func (f *fakeStore) Universe(context.Context) ([]model.Instrument, error) { return f.universe, nil }

func (f *fakeStore) LatestTradeDate(context.Context) (time.Time, error) {
	if !f.hasLatest {
		return time.Time{}, store.ErrNotFound
	}
	return f.latest, nil
}

func (f *fakeStore) LatestIngestion(context.Context) (model.IngestionLogEntry, error) {
	if !f.hasIngest {
		return model.IngestionLogEntry{}, store.ErrNotFound
	}
	return f.ingestion, nil
}

type fakeAnnouncements struct{ calls int }

func (f *fakeAnnouncements) Ingest(context.Context, []model.Instrument) (int, error) {
	f.calls++
	return 0, nil
}

type fakePrices struct {
	calls int
	err   error
	panic bool
}

func (f *fakePrices) Ingest(context.Context, []model.Instrument) (collector.Result, error) {
	f.calls++
	if f.panic {
		panic("provider exploded")
	}
	return collector.Result{Saved: 3}, f.err
}

type fakeDetector struct{ asOf []time.Time }

func (f *fakeDetector) Detect(_ context.Context, asOf time.Time) ([]model.Crossing, error) {
	f.asOf = append(f.asOf, asOf)
	return nil, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeNotifier) Notify(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

type harness struct {
	s      *Scheduler
	store  *fakeStore
	ann    *fakeAnnouncements
	prices *fakePrices
	det    *fakeDetector
	notify *fakeNotifier
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		store: &fakeStore{
			universe:  []model.Instrument{{Ticker: "X.JO"}},
			latest:    time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			hasLatest: true,
		},
		ann:    &fakeAnnouncements{},
		prices: &fakePrices{},
		det:    &fakeDetector{},
		notify: &fakeNotifier{},
	}
	opts.Location = time.UTC
	opts.AnnounceStart = 7 * time.Hour
	opts.AnnounceEnd = 17*time.Hour + 30*time.Minute
	opts.MarketClose = 17*time.Hour + 30*time.Minute
	opts.ResetAfter = 5 * time.Minute
	opts.ActiveInterval = 15 * time.Minute
	opts.IdleInterval = 10 * time.Minute
	opts.ErrorBackoff = time.Minute
	h.s = New(Deps{Store: h.store, Announcements: h.ann, Prices: h.prices, Detector: h.det, Notifier: h.notify}, opts)
	return h
}

// Monday 10 March 2025.
func at(day, hour, min int) time.Time {
	return time.Date(2025, 3, day, hour, min, 0, 0, time.UTC)
}

func TestTick_AnnouncementWindow(t *testing.T) {
	h := newHarness(t, Options{})
	st, wait, err := h.s.Tick(context.Background(), at(10, 9, 0), State{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.ann.calls)
	assert.Zero(t, h.prices.calls)
	assert.False(t, st.EODDone)
	assert.Equal(t, 15*time.Minute, wait)
}

func TestTick_EndOfDayRunsOnce(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	st, wait, err := h.s.Tick(ctx, at(10, 18, 0), State{})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, wait)
	assert.True(t, st.EODDone)
	assert.Equal(t, "2025-03-10", st.LastEODDay)
	assert.Equal(t, 1, h.prices.calls)
	assert.Equal(t, []time.Time{h.store.latest}, h.det.asOf)
	assert.Zero(t, h.ann.calls)

	st, _, err = h.s.Tick(ctx, at(10, 18, 10), st)
	require.NoError(t, err)
	assert.Equal(t, 1, h.prices.calls)

	// Before the reset window the flag holds.
	st, _, err = h.s.Tick(ctx, at(11, 0, 3), st)
	require.NoError(t, err)
	assert.True(t, st.EODDone)

	st, _, err = h.s.Tick(ctx, at(11, 3, 0), st)
	require.NoError(t, err)
	assert.False(t, st.EODDone)

	st, _, err = h.s.Tick(ctx, at(11, 18, 0), st)
	require.NoError(t, err)
	assert.True(t, st.EODDone)
	assert.Equal(t, 2, h.prices.calls)
}

func TestTick_ExactlyAtCloseIsNotEndOfDay(t *testing.T) {
	h := newHarness(t, Options{})
	st, _, err := h.s.Tick(context.Background(), at(10, 17, 30), State{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.ann.calls)
	assert.Zero(t, h.prices.calls)
	assert.False(t, st.EODDone)
}

func TestTick_WeekendIsIdle(t *testing.T) {
	h := newHarness(t, Options{})
	for _, now := range []time.Time{at(15, 9, 0), at(16, 18, 0)} {
		st, wait, err := h.s.Tick(context.Background(), now, State{})
		require.NoError(t, err)
		assert.False(t, st.EODDone)
		assert.Equal(t, 10*time.Minute, wait)
	}
	assert.Zero(t, h.ann.calls)
	assert.Zero(t, h.prices.calls)
}

func TestTick_ProviderUnavailableRetriesNextTick(t *testing.T) {
	h := newHarness(t, Options{})
	h.prices.err = fmt.Errorf("%w: yahoo: timeout", collector.ErrProviderUnavailable)

	st, _, err := h.s.Tick(context.Background(), at(10, 18, 0), State{})
	require.NoError(t, err)
	assert.False(t, st.EODDone)
	assert.Empty(t, h.det.asOf)

	h.prices.err = nil
	st, _, err = h.s.Tick(context.Background(), at(10, 18, 10), st)
	require.NoError(t, err)
	assert.True(t, st.EODDone)
	assert.Equal(t, 2, h.prices.calls)
}

func TestTick_StoreErrorPropagates(t *testing.T) {
	h := newHarness(t, Options{})
	h.prices.err = errors.New("database is locked")

	st, _, err := h.s.Tick(context.Background(), at(10, 18, 0), State{})
	assert.Error(t, err)
	assert.False(t, st.EODDone)
}

func TestTick_StaleFlagFromPreviousDayIsCleared(t *testing.T) {
	h := newHarness(t, Options{})
	st, _, err := h.s.Tick(context.Background(), at(11, 18, 0), State{EODDone: true, LastEODDay: "2025-03-10"})
	require.NoError(t, err)
	assert.True(t, st.EODDone)
	assert.Equal(t, "2025-03-11", st.LastEODDay)
	assert.Equal(t, 1, h.prices.calls)
}

func TestRun_BacksOffAfterPanicAndPersistsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "scheduler.json")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waits []time.Duration
	h := newHarness(t, Options{
		StateFile: path,
		Now:       func() time.Time { return at(10, 18, 0) },
		Sleep: func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			if len(waits) == 2 {
				cancel()
				return ctx.Err()
			}
			return nil
		},
	})
	h.prices.panic = true

	// First tick panics; flip it off so the second succeeds.
	origSleep := h.s.opts.Sleep
	h.s.opts.Sleep = func(ctx context.Context, d time.Duration) error {
		h.prices.panic = false
		return origSleep(ctx, d)
	}

	require.NoError(t, h.s.Run(ctx))
	require.Len(t, waits, 2)
	assert.Equal(t, time.Minute, waits[0])
	assert.Equal(t, 10*time.Minute, waits[1])

	st, err := LoadState(path)
	require.NoError(t, err)
	assert.True(t, st.EODDone)
	assert.Equal(t, "2025-03-10", st.LastEODDay)
}

func TestRun_ResumesPersistedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.json")
	require.NoError(t, SaveState(path, State{EODDone: true, LastEODDay: "2025-03-10"}))

	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, Options{
		StateFile: path,
		Now:       func() time.Time { return at(10, 19, 0) },
		Sleep: func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		},
	})
	require.NoError(t, h.s.Run(ctx))
	assert.Zero(t, h.prices.calls)
}

func TestCheckFreshness(t *testing.T) {
	now := at(12, 9, 0)
	h := newHarness(t, Options{MaxStaleness: 48 * time.Hour, Now: func() time.Time { return now }})
	ctx := context.Background()

	stale, err := h.s.CheckFreshness(ctx)
	require.NoError(t, err)
	assert.True(t, stale, "no ingestion recorded counts as stale")

	h.store.hasIngest = true
	h.store.ingestion = model.IngestionLogEntry{At: at(11, 17, 45), RecordsSaved: 4}
	stale, err = h.s.CheckFreshness(ctx)
	require.NoError(t, err)
	assert.False(t, stale)

	h.store.ingestion.At = at(9, 17, 45)
	stale, err = h.s.CheckFreshness(ctx)
	require.NoError(t, err)
	assert.True(t, stale)
	require.Len(t, h.notify.texts, 2)
	assert.Contains(t, h.notify.texts[1], "Price data is stale")
}

func TestStateFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	st, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, State{}, st)

	want := State{EODDone: true, LastEODDay: "2025-03-10", UpdatedAt: at(10, 18, 0)}
	require.NoError(t, SaveState(path, want))
	got, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, want.LastEODDay, got.LastEODDay)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
}
