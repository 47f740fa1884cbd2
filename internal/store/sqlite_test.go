package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketAgent/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func day(s string) time.Time {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSQLiteStore_UniverseSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	in := model.Instrument{Ticker: "NPN.JO", Levels: []model.WatchedLevel{{Price: 300000}, {Price: 250000}}}
	require.NoError(t, s.SeedInstrument(ctx, in))
	require.NoError(t, s.SeedInstrument(ctx, in))
	require.NoError(t, s.SeedInstrument(ctx, model.Instrument{Ticker: "AGL.JO"}))

	u, err := s.Universe(ctx)
	require.NoError(t, err)
	require.Len(t, u, 2)
	assert.Equal(t, "AGL.JO", u[0].Ticker)
	assert.Empty(t, u[0].Levels)
	assert.Equal(t, "NPN.JO", u[1].Ticker)
	require.Len(t, u[1].Levels, 2)
	assert.Equal(t, int64(250000), u[1].Levels[0].Price)
	assert.Equal(t, int64(300000), u[1].Levels[1].Price)
}

func TestSQLiteStore_InsertAnnouncementsSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	pub := time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC)
	a := model.Announcement{Ticker: "SOL.JO", PublishedAt: pub, Content: "results", DiscoveredAt: pub}

	ins, err := s.InsertAnnouncements(ctx, []model.Announcement{a})
	require.NoError(t, err)
	assert.Len(t, ins, 1)

	exists, err := s.AnnouncementExists(ctx, "SOL.JO", pub)
	require.NoError(t, err)
	assert.True(t, exists)

	other := a
	other.PublishedAt = pub.Add(time.Minute)
	ins, err = s.InsertAnnouncements(ctx, []model.Announcement{a, other})
	require.NoError(t, err)
	require.Len(t, ins, 1)
	assert.Equal(t, other.PublishedAt, ins[0].PublishedAt)

	ins, err = s.InsertAnnouncements(ctx, []model.Announcement{a, other})
	require.NoError(t, err)
	assert.Empty(t, ins)
}

func TestSQLiteStore_UpsertBarsOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LatestTradeDate(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.UpsertBars(ctx, []model.DailyBar{
		{Ticker: "X.JO", TradeDate: day("2025-03-10"), Open: 1, High: 2, Low: 1, Close: 2, Volume: 10},
		{Ticker: "X.JO", TradeDate: day("2025-03-11"), Open: 2, High: 3, Low: 2, Close: 3, Volume: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.UpsertBars(ctx, []model.DailyBar{
		{Ticker: "X.JO", TradeDate: day("2025-03-11"), Open: 5, High: 9, Low: 4, Close: 8, Volume: 99},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	latest, err := s.LatestTradeDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, day("2025-03-11"), latest)

	c, err := s.CloseOn(ctx, "X.JO", day("2025-03-11"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), c)

	prev, prevDay, err := s.PreviousClose(ctx, "X.JO", day("2025-03-11"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), prev)
	assert.Equal(t, day("2025-03-10"), prevDay)

	_, _, err = s.PreviousClose(ctx, "X.JO", day("2025-03-10"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.CloseOn(ctx, "Y.JO", day("2025-03-11"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_IngestionLog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LatestIngestion(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	first := time.Date(2025, 3, 10, 17, 31, 0, 0, time.UTC)
	require.NoError(t, s.AppendIngestionLog(ctx, model.IngestionLogEntry{At: first, RecordsSaved: 4}))
	require.NoError(t, s.AppendIngestionLog(ctx, model.IngestionLogEntry{At: first.Add(24 * time.Hour), RecordsSaved: 7}))

	e, err := s.LatestIngestion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), e.RecordsSaved)
	assert.True(t, e.At.Equal(first.Add(24*time.Hour)))
}

func TestSQLiteStore_InsertTriggerOncePerDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := model.TriggerRecord{Ticker: "X.JO", Level: 1000, Day: day("2025-03-11"), Price: 1010, HitAt: time.Now()}
	created, err := s.InsertTrigger(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.InsertTrigger(ctx, rec)
	require.NoError(t, err)
	assert.False(t, created)

	exists, err := s.TriggerExists(ctx, "X.JO", 1000, day("2025-03-11"))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.TriggerExists(ctx, "X.JO", 1000, day("2025-03-12"))
	require.NoError(t, err)
	assert.False(t, exists)

	rec.Day = day("2025-03-12")
	created, err = s.InsertTrigger(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestSQLiteStore_SaveAnalysis(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.SaveAnalysis(ctx, model.AnalysisRecord{
		EventID:   "e-1",
		Ticker:    "X.JO",
		Kind:      model.EventPriceLevel,
		Trigger:   "crossed 1000",
		Analysis:  "looks fine",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM analysis_log WHERE event_id = 'e-1'`).Scan(&n))
	assert.Equal(t, 1, n)
}
