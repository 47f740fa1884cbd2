// Package store persists the universe, announcements, daily bars, the trigger
// ledger, the ingestion log and analysis results. Every uniqueness rule is
// enforced by the database, so duplicate writes are no-ops rather than errors.
package store

import (
	"context"
	"errors"
	"time"

	"MarketAgent/internal/model"
)

// ErrNotFound is returned by single-row reads when nothing matches.
var ErrNotFound = errors.New("store: not found")

// UniverseStore reads the tracked instruments and their watched levels.
type UniverseStore interface {
	Universe(ctx context.Context) ([]model.Instrument, error)
	// SeedInstrument inserts the instrument and levels if missing. Existing rows are kept.
	SeedInstrument(ctx context.Context, in model.Instrument) error
}

// AnnouncementStore persists announcements, unique on (ticker, published_at).
type AnnouncementStore interface {
	AnnouncementExists(ctx context.Context, ticker string, publishedAt time.Time) (bool, error)
	// InsertAnnouncements writes all rows in one transaction and returns the rows
	// actually inserted. Nothing is committed when no row was inserted.
	InsertAnnouncements(ctx context.Context, anns []model.Announcement) ([]model.Announcement, error)
}

// BarStore persists daily bars and the ingestion audit log.
type BarStore interface {
	// LatestTradeDate returns the max stored trade date, or ErrNotFound when empty.
	LatestTradeDate(ctx context.Context) (time.Time, error)
	// UpsertBars overwrites conflicting (ticker, trade_date) rows in full.
	UpsertBars(ctx context.Context, bars []model.DailyBar) (int64, error)
	AppendIngestionLog(ctx context.Context, entry model.IngestionLogEntry) error
	LatestIngestion(ctx context.Context) (model.IngestionLogEntry, error)
}

// CloseReader reads closes for crossing detection.
type CloseReader interface {
	// CloseOn returns the close on day, or ErrNotFound.
	CloseOn(ctx context.Context, ticker string, day time.Time) (int64, error)
	// PreviousClose returns the close of the latest trade date strictly before day, or ErrNotFound.
	PreviousClose(ctx context.Context, ticker string, before time.Time) (int64, time.Time, error)
}

// TriggerStore is the storage side of the trigger ledger.
type TriggerStore interface {
	TriggerExists(ctx context.Context, ticker string, level int64, day time.Time) (bool, error)
	// InsertTrigger reports false without error when the key already exists.
	InsertTrigger(ctx context.Context, rec model.TriggerRecord) (bool, error)
}

// AnalysisStore keeps analyzer output.
type AnalysisStore interface {
	SaveAnalysis(ctx context.Context, rec model.AnalysisRecord) error
}

// Store is the full persistent store used by the agent.
type Store interface {
	UniverseStore
	AnnouncementStore
	BarStore
	CloseReader
	TriggerStore
	AnalysisStore
	Ping(ctx context.Context) error
	Close() error
}

const dateLayout = "2006-01-02"

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// groupLevels folds ordered (ticker, level) rows into instruments.
func groupLevels(tickers []string, levels map[string][]int64) []model.Instrument {
	out := make([]model.Instrument, 0, len(tickers))
	for _, t := range tickers {
		in := model.Instrument{Ticker: t}
		for _, p := range levels[t] {
			in.Levels = append(in.Levels, model.WatchedLevel{Ticker: t, Price: p})
		}
		out = append(out, in)
	}
	return out
}
