package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phuslu/log"

	"MarketAgent/internal/model"
)

// PostgresConfig is the pool configuration for NewPostgresStore.
type PostgresConfig struct {
	URL      string
	MinConns int
	MaxConns int
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and creates missing tables.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Int("max_conns", int(poolCfg.MaxConns)).Msg("postgres store opened")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instruments (
			ticker TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS watched_levels (
			ticker TEXT   NOT NULL REFERENCES instruments(ticker),
			level  BIGINT NOT NULL,
			PRIMARY KEY (ticker, level)
		)`,
		`CREATE TABLE IF NOT EXISTS announcements (
			id            BIGSERIAL PRIMARY KEY,
			ticker        TEXT        NOT NULL,
			published_at  TIMESTAMPTZ NOT NULL,
			content       TEXT        NOT NULL,
			permalink     TEXT,
			discovered_at TIMESTAMPTZ NOT NULL,
			UNIQUE (ticker, published_at)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_bars (
			ticker     TEXT   NOT NULL,
			trade_date DATE   NOT NULL,
			open       BIGINT NOT NULL,
			high       BIGINT NOT NULL,
			low        BIGINT NOT NULL,
			close      BIGINT NOT NULL,
			volume     BIGINT NOT NULL,
			PRIMARY KEY (ticker, trade_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bars_date ON daily_bars(trade_date)`,
		`CREATE TABLE IF NOT EXISTS ingestion_log (
			id            BIGSERIAL PRIMARY KEY,
			at            TIMESTAMPTZ NOT NULL,
			records_saved BIGINT      NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trigger_ledger (
			ticker  TEXT        NOT NULL,
			level   BIGINT      NOT NULL,
			hit_day DATE        NOT NULL,
			price   BIGINT      NOT NULL,
			hit_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (ticker, level, hit_day)
		)`,
		`CREATE TABLE IF NOT EXISTS analysis_log (
			id           BIGSERIAL PRIMARY KEY,
			event_id     TEXT        NOT NULL,
			ticker       TEXT        NOT NULL,
			kind         TEXT        NOT NULL,
			trigger_text TEXT,
			analysis     TEXT,
			created_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_ticker ON analysis_log(ticker, created_at)`,
	}
	for _, st := range stmts {
		if _, err := s.pool.Exec(ctx, st); err != nil {
			return fmt.Errorf("exec %q: %w", st[:40], err)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Universe(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.pool.Query(ctx, `
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
		var level *int64
		if err := rows.Scan(&ticker, &level); err != nil {
			return nil, fmt.Errorf("scan universe: %w", err)
		}
		if _, seen := levels[ticker]; !seen {
			tickers = append(tickers, ticker)
			levels[ticker] = nil
		}
		if level != nil {
			levels[ticker] = append(levels[ticker], *level)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate universe: %w", err)
	}
	return groupLevels(tickers, levels), nil
}

func (s *PostgresStore) SeedInstrument(ctx context.Context, in model.Instrument) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO instruments (ticker) VALUES ($1) ON CONFLICT DO NOTHING`, in.Ticker); err != nil {
			return fmt.Errorf("insert instrument %s: %w", in.Ticker, err)
		}
		for _, lv := range in.Levels {
			if _, err := tx.Exec(ctx, `INSERT INTO watched_levels (ticker, level) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				in.Ticker, lv.Price); err != nil {
				return fmt.Errorf("insert level %s@%d: %w", in.Ticker, lv.Price, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) AnnouncementExists(ctx context.Context, ticker string, publishedAt time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM announcements WHERE ticker = $1 AND published_at = $2)`,
		ticker, publishedAt).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check announcement: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertAnnouncements(ctx context.Context, anns []model.Announcement) ([]model.Announcement, error) {
	if len(anns) == 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var inserted []model.Announcement
	for _, a := range anns {
		tag, err := tx.Exec(ctx, `INSERT INTO announcements
			(ticker, published_at, content, permalink, discovered_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (ticker, published_at) DO NOTHING`,
			a.Ticker, a.PublishedAt, a.Content, a.Permalink, a.DiscoveredAt)
		if err != nil {
			return nil, fmt.Errorf("insert announcement %s: %w", a.Ticker, err)
		}
		if tag.RowsAffected() == 1 {
			inserted = append(inserted, a)
		}
	}
	if len(inserted) == 0 {
		return nil, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit announcements: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) LatestTradeDate(ctx context.Context) (time.Time, error) {
	var d *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MAX(trade_date) FROM daily_bars`).Scan(&d); err != nil {
		return time.Time{}, fmt.Errorf("query latest trade date: %w", err)
	}
	if d == nil {
		return time.Time{}, ErrNotFound
	}
	return model.DateOf(*d), nil
}

const pgUpsertBar = `INSERT INTO daily_bars
	(ticker, trade_date, open, high, low, close, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (ticker, trade_date) DO UPDATE SET
		open   = EXCLUDED.open,
		high   = EXCLUDED.high,
		low    = EXCLUDED.low,
		close  = EXCLUDED.close,
		volume = EXCLUDED.volume`

func (s *PostgresStore) UpsertBars(ctx context.Context, bars []model.DailyBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	var saved int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, b := range bars {
			batch.Queue(pgUpsertBar, b.Ticker, b.TradeDate, b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		br := tx.SendBatch(ctx, batch)
		for range bars {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return fmt.Errorf("upsert bar: %w", err)
			}
			saved += tag.RowsAffected()
		}
		return br.Close()
	})
	if err != nil {
		return 0, err
	}
	return saved, nil
}

func (s *PostgresStore) AppendIngestionLog(ctx context.Context, entry model.IngestionLogEntry) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO ingestion_log (at, records_saved) VALUES ($1, $2)`,
		entry.At, entry.RecordsSaved)
	if err != nil {
		return fmt.Errorf("append ingestion log: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestIngestion(ctx context.Context) (model.IngestionLogEntry, error) {
	var e model.IngestionLogEntry
	err := s.pool.QueryRow(ctx, `SELECT at, records_saved FROM ingestion_log ORDER BY id DESC LIMIT 1`).
		Scan(&e.At, &e.RecordsSaved)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("query ingestion log: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) CloseOn(ctx context.Context, ticker string, day time.Time) (int64, error) {
	var c int64
	err := s.pool.QueryRow(ctx, `SELECT close FROM daily_bars WHERE ticker = $1 AND trade_date = $2`,
		ticker, model.DateOf(day)).Scan(&c)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query close %s: %w", ticker, err)
	}
	return c, nil
}

func (s *PostgresStore) PreviousClose(ctx context.Context, ticker string, before time.Time) (int64, time.Time, error) {
	var c int64
	var d time.Time
	err := s.pool.QueryRow(ctx, `SELECT close, trade_date FROM daily_bars
		WHERE ticker = $1 AND trade_date < $2
		ORDER BY trade_date DESC LIMIT 1`,
		ticker, model.DateOf(before)).Scan(&c, &d)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, time.Time{}, ErrNotFound
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("query previous close %s: %w", ticker, err)
	}
	return c, model.DateOf(d), nil
}

func (s *PostgresStore) TriggerExists(ctx context.Context, ticker string, level int64, day time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM trigger_ledger WHERE ticker = $1 AND level = $2 AND hit_day = $3)`,
		ticker, level, model.DateOf(day)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check trigger: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertTrigger(ctx context.Context, rec model.TriggerRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO trigger_ledger
		(ticker, level, hit_day, price, hit_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ticker, level, hit_day) DO NOTHING`,
		rec.Ticker, rec.Level, model.DateOf(rec.Day), rec.Price, rec.HitAt)
	if err != nil {
		return false, fmt.Errorf("insert trigger: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, rec model.AnalysisRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO analysis_log
		(event_id, ticker, kind, trigger_text, analysis, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.EventID, rec.Ticker, string(rec.Kind), rec.Trigger, rec.Analysis, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	log.Info().Msg("closing postgres pool")
	s.pool.Close()
	return nil
}
