package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/phuslu/log"
	_ "modernc.org/sqlite"

	"MarketAgent/internal/model"
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database and creates missing tables.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers; the dispatcher's sinks wait for the scheduler's transactions.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instruments (
			ticker TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS watched_levels (
			ticker TEXT    NOT NULL REFERENCES instruments(ticker),
			level  INTEGER NOT NULL,
			PRIMARY KEY (ticker, level)
		)`,

		`CREATE TABLE IF NOT EXISTS announcements (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			ticker        TEXT    NOT NULL,
			published_at  INTEGER NOT NULL,
			content       TEXT    NOT NULL,
			permalink     TEXT,
			discovered_at INTEGER NOT NULL,
			UNIQUE (ticker, published_at)
		)`,

		`CREATE TABLE IF NOT EXISTS daily_bars (
			ticker     TEXT    NOT NULL,
			trade_date TEXT    NOT NULL,
			open       INTEGER NOT NULL,
			high       INTEGER NOT NULL,
			low        INTEGER NOT NULL,
			close      INTEGER NOT NULL,
			volume     INTEGER NOT NULL,
			PRIMARY KEY (ticker, trade_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bars_date ON daily_bars(trade_date)`,

		`CREATE TABLE IF NOT EXISTS ingestion_log (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			at            INTEGER NOT NULL,
			records_saved INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS trigger_ledger (
			ticker  TEXT    NOT NULL,
			level   INTEGER NOT NULL,
			hit_day TEXT    NOT NULL,
			price   INTEGER NOT NULL,
			hit_at  INTEGER NOT NULL,
			PRIMARY KEY (ticker, level, hit_day)
		)`,

		`CREATE TABLE IF NOT EXISTS analysis_log (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id     TEXT    NOT NULL,
			ticker       TEXT    NOT NULL,
			kind         TEXT    NOT NULL,
			trigger_text TEXT,
			analysis     TEXT,
			created_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_ticker ON analysis_log(ticker, created_at)`,
	}

	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return fmt.Errorf("exec %q: %w", st[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Universe(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.ticker, w.level
		FROM instruments i
		LEFT JOIN watched_levels w ON w.ticker = i.ticker
		ORDER BY i.ticker, w.level`)
	if err != nil {
		return nil, fmt.Errorf("query universe: %w", err)
	}
	defer rows.Close()

	var tickers []string
	levels := make(map[string][]int64)
	for rows.Next() {
		var ticker string
		var level sql.NullInt64
		if err := rows.Scan(&ticker, &level); err != nil {
			return nil, fmt.Errorf("scan universe: %w", err)
		}
		if _, seen := levels[ticker]; !seen {
			tickers = append(tickers, ticker)
			levels[ticker] = nil
		}
		if level.Valid {
			levels[ticker] = append(levels[ticker], level.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate universe: %w", err)
	}
	return groupLevels(tickers, levels), nil
}

func (s *SQLiteStore) SeedInstrument(ctx context.Context, in model.Instrument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO instruments (ticker) VALUES (?) ON CONFLICT DO NOTHING`, in.Ticker); err != nil {
		return fmt.Errorf("insert instrument %s: %w", in.Ticker, err)
	}
	for _, lv := range in.Levels {
		if _, err := tx.ExecContext(ctx, `INSERT INTO watched_levels (ticker, level) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			in.Ticker, lv.Price); err != nil {
			return fmt.Errorf("insert level %s@%d: %w", in.Ticker, lv.Price, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) AnnouncementExists(ctx context.Context, ticker string, publishedAt time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM announcements WHERE ticker = ? AND published_at = ?`,
		ticker, publishedAt.Unix()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check announcement: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) InsertAnnouncements(ctx context.Context, anns []model.Announcement) ([]model.Announcement, error) {
	if len(anns) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var inserted []model.Announcement
	for _, a := range anns {
		res, err := tx.ExecContext(ctx, `INSERT INTO announcements
			(ticker, published_at, content, permalink, discovered_at)
			VALUES (?,?,?,?,?)
			ON CONFLICT (ticker, published_at) DO NOTHING`,
			a.Ticker, a.PublishedAt.Unix(), a.Content, a.Permalink, a.DiscoveredAt.Unix(),
		)
		if err != nil {
			return nil, fmt.Errorf("insert announcement %s: %w", a.Ticker, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			inserted = append(inserted, a)
		}
	}
	if len(inserted) == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit announcements: %w", err)
	}
	return inserted, nil
}

func (s *SQLiteStore) LatestTradeDate(ctx context.Context) (time.Time, error) {
	var d sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(trade_date) FROM daily_bars`).Scan(&d); err != nil {
		return time.Time{}, fmt.Errorf("query latest trade date: %w", err)
	}
	if !d.Valid {
		return time.Time{}, ErrNotFound
	}
	return time.Parse(dateLayout, d.String)
}

func (s *SQLiteStore) UpsertBars(ctx context.Context, bars []model.DailyBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO daily_bars
		(ticker, trade_date, open, high, low, close, volume)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (ticker, trade_date) DO UPDATE SET
			open   = excluded.open,
			high   = excluded.high,
			low    = excluded.low,
			close  = excluded.close,
			volume = excluded.volume`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	var saved int64
	for _, b := range bars {
		res, err := stmt.ExecContext(ctx, b.Ticker, b.TradeDate.Format(dateLayout),
			b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return 0, fmt.Errorf("upsert bar %s %s: %w", b.Ticker, b.TradeDate.Format(dateLayout), err)
		}
		n, _ := res.RowsAffected()
		saved += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bars: %w", err)
	}
	return saved, nil
}

func (s *SQLiteStore) AppendIngestionLog(ctx context.Context, entry model.IngestionLogEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO ingestion_log (at, records_saved) VALUES (?, ?)`,
		entry.At.Unix(), entry.RecordsSaved)
	if err != nil {
		return fmt.Errorf("append ingestion log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestIngestion(ctx context.Context) (model.IngestionLogEntry, error) {
	var at, saved int64
	err := s.db.QueryRowContext(ctx, `SELECT at, records_saved FROM ingestion_log ORDER BY id DESC LIMIT 1`).Scan(&at, &saved)
	if errors.Is(err, sql.ErrNoRows) {
		return model.IngestionLogEntry{}, ErrNotFound
	}
	if err != nil {
		return model.IngestionLogEntry{}, fmt.Errorf("query ingestion log: %w", err)
	}
	return model.IngestionLogEntry{At: time.Unix(at, 0), RecordsSaved: saved}, nil
}

func (s *SQLiteStore) CloseOn(ctx context.Context, ticker string, day time.Time) (int64, error) {
	var c int64
	err := s.db.QueryRowContext(ctx, `SELECT close FROM daily_bars WHERE ticker = ? AND trade_date = ?`,
		ticker, day.Format(dateLayout)).Scan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query close %s: %w", ticker, err)
	}
	return c, nil
}

func (s *SQLiteStore) PreviousClose(ctx context.Context, ticker string, before time.Time) (int64, time.Time, error) {
	var c int64
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT close, trade_date FROM daily_bars
		WHERE ticker = ? AND trade_date < ?
		ORDER BY trade_date DESC LIMIT 1`,
		ticker, before.Format(dateLayout)).Scan(&c, &d)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, ErrNotFound
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("query previous close %s: %w", ticker, err)
	}
	day, err := time.Parse(dateLayout, d)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse trade date %q: %w", d, err)
	}
	return c, day, nil
}

func (s *SQLiteStore) TriggerExists(ctx context.Context, ticker string, level int64, day time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM trigger_ledger WHERE ticker = ? AND level = ? AND hit_day = ?`,
		ticker, level, day.Format(dateLayout)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check trigger: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) InsertTrigger(ctx context.Context, rec model.TriggerRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO trigger_ledger
		(ticker, level, hit_day, price, hit_at) VALUES (?,?,?,?,?)
		ON CONFLICT (ticker, level, hit_day) DO NOTHING`,
		rec.Ticker, rec.Level, rec.Day.Format(dateLayout), rec.Price, rec.HitAt.Unix())
	if err != nil {
		return false, fmt.Errorf("insert trigger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert trigger rows: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, rec model.AnalysisRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO analysis_log
		(event_id, ticker, kind, trigger_text, analysis, created_at)
		VALUES (?,?,?,?,?,?)`,
		rec.EventID, rec.Ticker, string(rec.Kind), rec.Trigger, rec.Analysis, rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	log.Info().Msg("closing sqlite store")
	return s.db.Close()
}
