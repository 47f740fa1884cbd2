// Package scheduler drives the agent: announcement polling during market
// hours and one end-of-day price pass after the close.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"MarketAgent/internal/collector"
	"MarketAgent/internal/model"
	"MarketAgent/internal/notifier"
	"MarketAgent/internal/store"
)

// State is carried from tick to tick.
type State struct {
	EODDone    bool      `json:"eod_done"`
	LastEODDay string    `json:"last_eod_day,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type AnnouncementIngestor interface {
	Ingest(ctx context.Context, universe []model.Instrument) (int, error)
}

type PriceIngestor interface {
	Ingest(ctx context.Context, universe []model.Instrument) (collector.Result, error)
}

type CrossingDetector interface {
	Detect(ctx context.Context, asOf time.Time) ([]model.Crossing, error)
}

// Notifier sends operational notices. Optional.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Store is the subset of the store the scheduler reads.
type Store interface {
	Universe(ctx context.Context) ([]model.Instrument, error)
	LatestTradeDate(ctx context.Context) (time.Time, error)
	LatestIngestion(ctx context.Context) (model.IngestionLogEntry, error)
}

// Deps are the components a Scheduler drives.
type Deps struct {
	Store         Store
	Announcements AnnouncementIngestor
	Prices        PriceIngestor
	Detector      CrossingDetector
	Notifier      Notifier
}

// Options holds the schedule. Clock offsets are durations since local midnight.
type Options struct {
	Location       *time.Location
	AnnounceStart  time.Duration
	AnnounceEnd    time.Duration
	MarketClose    time.Duration
	ResetAfter     time.Duration
	ActiveInterval time.Duration
	IdleInterval   time.Duration
	ErrorBackoff   time.Duration
	StateFile      string
	FreshnessCron  string
	MaxStaleness   time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Scheduler manages the polling loop and the freshness watchdog.
type Scheduler struct {
	Cron *cron.Cron
	deps Deps
	opts Options
}

func New(deps Deps, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Scheduler{
		Cron: cron.New(cron.WithSeconds(), cron.WithLocation(opts.Location)),
		deps: deps,
		opts: opts,
	}
}

// Tick runs whatever is due at now and returns the updated state and the
// time to wait before the next tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time, st State) (State, time.Duration, error) {
	local := now.In(s.opts.Location)
	tod := sinceMidnight(local)
	today := local.Format("2006-01-02")
	weekday := local.Weekday() != time.Saturday && local.Weekday() != time.Sunday

	if st.EODDone && s.opts.ResetAfter < tod && tod < s.opts.AnnounceStart {
		st = s.setState(State{EODDone: false, LastEODDay: st.LastEODDay, UpdatedAt: now})
		log.Info().Msg("end-of-day flag reset")
	}
	// Restart after a missed reset window: yesterday's flag must not suppress today's pass.
	if st.EODDone && st.LastEODDay != "" && st.LastEODDay != today && tod > s.opts.ResetAfter {
		st = s.setState(State{EODDone: false, LastEODDay: st.LastEODDay, UpdatedAt: now})
		log.Info().Str("last_eod_day", st.LastEODDay).Msg("end-of-day flag from a previous day cleared")
	}

	inWindow := weekday && tod >= s.opts.AnnounceStart && tod <= s.opts.AnnounceEnd
	eodDue := weekday && tod > s.opts.MarketClose && !st.EODDone

	wait := s.opts.IdleInterval
	if inWindow {
		wait = s.opts.ActiveInterval
	}
	if !inWindow && !eodDue {
		return st, wait, nil
	}

	universe, err := s.deps.Store.Universe(ctx)
	if err != nil {
		return st, wait, fmt.Errorf("load universe: %w", err)
	}

	if inWindow {
		n, err := s.deps.Announcements.Ingest(ctx, universe)
		if err != nil {
			return st, wait, fmt.Errorf("announcements: %w", err)
		}
		log.Info().Int("new", n).Msg("announcement pass finished")
	}

	if eodDue {
		done, err := s.endOfDay(ctx, universe)
		if err != nil {
			return st, wait, err
		}
		if done {
			st = s.setState(State{EODDone: true, LastEODDay: today, UpdatedAt: now})
		}
	}
	return st, wait, nil
}

// endOfDay reports false when the pass should be retried on the next tick.
func (s *Scheduler) endOfDay(ctx context.Context, universe []model.Instrument) (bool, error) {
	res, err := s.deps.Prices.Ingest(ctx, universe)
	if errors.Is(err, collector.ErrProviderUnavailable) {
		log.Warn().Err(err).Msg("price provider unavailable, end-of-day pass will retry")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("prices: %w", err)
	}

	asOf, err := s.deps.Store.LatestTradeDate(ctx)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Msg("no stored prices, skipping crossing detection")
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("latest trade date: %w", err)
	}

	crossings, err := s.deps.Detector.Detect(ctx, asOf)
	if err != nil {
		return false, fmt.Errorf("detect crossings: %w", err)
	}
	log.Info().Int64("saved", res.Saved).Str("as_of", asOf.Format("2006-01-02")).Int("crossings", len(crossings)).
		Msg("end-of-day pass finished")
	return true, nil
}

func (s *Scheduler) setState(st State) State {
	if s.opts.StateFile == "" {
		return st
	}
	if err := SaveState(s.opts.StateFile, st); err != nil {
		log.Error().Err(err).Str("path", s.opts.StateFile).Msg("save scheduler state")
	}
	return st
}

// Run loops until ctx is cancelled. A failing or panicking tick is logged and
// followed by the error backoff.
func (s *Scheduler) Run(ctx context.Context) error {
	st := State{}
	if s.opts.StateFile != "" {
		loaded, err := LoadState(s.opts.StateFile)
		if err != nil {
			log.Warn().Err(err).Str("path", s.opts.StateFile).Msg("ignoring unreadable scheduler state")
		} else {
			st = loaded
		}
	}
	log.Info().Bool("eod_done", st.EODDone).Str("last_eod_day", st.LastEODDay).Msg("scheduler started")

	for {
		next, wait, err := s.safeTick(ctx, st)
		st = next
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Dur("backoff", s.opts.ErrorBackoff).Msg("tick failed")
			wait = s.opts.ErrorBackoff
		}
		if err := s.opts.Sleep(ctx, wait); err != nil {
			log.Info().Msg("scheduler stopped")
			return nil
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context, st State) (next State, wait time.Duration, err error) {
	next = st
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("stack", string(debug.Stack())).Msg("tick panicked")
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return s.Tick(ctx, s.opts.Now(), st)
}

// StartWatchdog registers the freshness check on the cron and starts it.
func (s *Scheduler) StartWatchdog(ctx context.Context) error {
	if s.opts.FreshnessCron == "" || s.opts.MaxStaleness <= 0 {
		return nil
	}
	if _, err := s.Cron.AddFunc(s.opts.FreshnessCron, func() {
		if _, err := s.CheckFreshness(ctx); err != nil {
			log.Error().Err(err).Msg("freshness check")
		}
	}); err != nil {
		return fmt.Errorf("register freshness check: %w", err)
	}
	s.Cron.Start()
	log.Info().Str("cron", s.opts.FreshnessCron).Dur("max_staleness", s.opts.MaxStaleness).Msg("freshness watchdog started")
	return nil
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
}

// CheckFreshness reports whether the latest ingestion is older than MaxStaleness
// and, if so, sends a notice.
func (s *Scheduler) CheckFreshness(ctx context.Context) (bool, error) {
	last, err := s.deps.Store.LatestIngestion(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	age := s.opts.Now().Sub(last.At)
	if err == nil && age <= s.opts.MaxStaleness {
		return false, nil
	}

	log.Warn().Time("last_ingestion", last.At).Dur("age", age).Msg("price data is stale")
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.Notify(ctx, notifier.FormatStaleness(last, age, s.opts.MaxStaleness)); err != nil {
			log.Error().Err(err).Msg("send staleness notice")
		}
	}
	return true, nil
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
