package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"MarketAgent/internal/model"
	"MarketAgent/internal/store"
)

// Result summarises one ingestion pass.
type Result struct {
	Saved  int64
	Latest map[string]int64 // ticker -> close on its newest downloaded date
	Range  RangeSpec
}

// Options configures a Collector.
type Options struct {
	Policy     RangePolicy
	MinorUnits int64
	Location   *time.Location
	Now        func() time.Time
}

// Collector downloads daily bars for the universe and upserts them.
type Collector struct {
	provider Provider
	store    store.BarStore
	policy   RangePolicy
	minor    int64
	loc      *time.Location
	now      func() time.Time
}

// NewCollector creates a new Collector.
func NewCollector(p Provider, s store.BarStore, opts Options) *Collector {
	c := &Collector{
		provider: p,
		store:    s,
		policy:   opts.Policy,
		minor:    opts.MinorUnits,
		loc:      opts.Location,
		now:      opts.Now,
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.minor <= 0 {
		c.minor = 1
	}
	return c
}

// Ingest runs one download-normalize-save pass. A provider failure returns an
// error wrapping ErrProviderUnavailable; a malformed frame saves nothing.
func (c *Collector) Ingest(ctx context.Context, universe []model.Instrument) (Result, error) {
	tickers := model.Tickers(universe)
	if len(tickers) == 0 {
		return Result{}, nil
	}

	latest, err := c.store.LatestTradeDate(ctx)
	hasLatest := true
	if errors.Is(err, store.ErrNotFound) {
		hasLatest = false
	} else if err != nil {
		return Result{}, fmt.Errorf("latest trade date: %w", err)
	}

	now := c.now()
	rng := SelectRange(latest, hasLatest, now.In(c.loc), c.policy)
	res := Result{Range: rng}

	log.Info().Str("provider", c.provider.Name()).Int("tickers", len(tickers)).Str("range", rng.String()).Msg("downloading prices")
	frame, err := c.provider.Download(ctx, tickers, rng)
	if err != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, c.provider.Name(), err)
	}

	bars, err := Normalize(frame, tickers, c.minor)
	if err != nil {
		log.Warn().Err(err).Str("provider", c.provider.Name()).Msg("price frame rejected, saving nothing")
		return res, nil
	}
	if len(bars) == 0 {
		log.Info().Str("range", rng.String()).Msg("no price rows returned")
		return res, nil
	}

	saved, err := c.store.UpsertBars(ctx, bars)
	if err != nil {
		return res, fmt.Errorf("save bars: %w", err)
	}
	res.Saved = saved
	if saved > 0 {
		if err := c.store.AppendIngestionLog(ctx, model.IngestionLogEntry{At: now, RecordsSaved: saved}); err != nil {
			return res, fmt.Errorf("ingestion log: %w", err)
		}
	}
	res.Latest = latestCloses(bars)

	log.Info().Int64("saved", saved).Int("instruments", len(res.Latest)).Msg("prices saved")
	return res, nil
}

func latestCloses(bars []model.DailyBar) map[string]int64 {
	newest := make(map[string]time.Time)
	out := make(map[string]int64)
	for _, b := range bars {
		if d, ok := newest[b.Ticker]; !ok || b.TradeDate.After(d) {
			newest[b.Ticker] = b.TradeDate
			out[b.Ticker] = b.Close
		}
	}
	return out
}
