package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"MarketAgent/internal/analyzer"
	"MarketAgent/internal/announce"
	"MarketAgent/internal/collector"
	"MarketAgent/internal/config"
	"MarketAgent/internal/detector"
	"MarketAgent/internal/dispatcher"
	"MarketAgent/internal/ledger"
	"MarketAgent/internal/logging"
	"MarketAgent/internal/model"
	"MarketAgent/internal/notifier"
	"MarketAgent/internal/scheduler"
	"MarketAgent/internal/store"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfgPath).Msg("load config")
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("config validation")
		os.Exit(1)
	}
	log.Info().Str("config", cfgPath).Str("tz", cfg.Timezone).Msg("MarketAgent starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Init store
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("open store")
		os.Exit(1)
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("ping store")
		os.Exit(1)
	}
	seedUniverse(ctx, st, cfg)

	loc := cfg.Location()

	// Init Telegram notifier
	var (
		sinks  = []dispatcher.Sink{dispatcher.StoreSink{Store: st}}
		notice scheduler.Notifier
	)
	if cfg.Telegram.BotToken != "" {
		tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		sinks = append(sinks, tn)
		notice = tn
	}

	// Init analyzer and dispatcher
	var an dispatcher.Analyzer = analyzer.Noop{}
	if cfg.Analyzer.Provider == "claude" {
		an = analyzer.NewClaude(analyzer.ClaudeConfig{
			APIKey:     cfg.Analyzer.APIKey,
			Model:      cfg.Analyzer.Model,
			MaxTokens:  cfg.Analyzer.MaxTokens,
			MaxRetries: 2,
		})
	}
	log.Info().Str("analyzer", cfg.Analyzer.Provider).Int64("max_concurrency", cfg.Dispatcher.MaxConcurrency).Msg("dispatcher ready")
	disp := dispatcher.New(an, dispatcher.Options{
		MaxConcurrency: cfg.Dispatcher.MaxConcurrency,
		Timeout:        cfg.Dispatcher.AnalyzeTimeout,
		DeliverTimeout: cfg.Dispatcher.DeliverTimeout,
	}, sinks...)

	// Init ingestors
	src := announce.NewMoneywebSource(cfg.Announcements.ListURL, cfg.Announcements.BaseURL,
		cfg.Announcements.Timeout, cfg.Announcements.FetchInterval, cfg.Proxy)
	ann := announce.NewIngestor(src, st, disp, announce.Options{
		Suffix:   cfg.Announcements.InstrumentSuffix,
		Location: loc,
	})

	var provider collector.Provider
	switch cfg.Prices.Provider {
	case "bulk":
		provider = collector.NewBulkProvider(cfg.Prices.BaseURL, cfg.Prices.APIKey, cfg.Prices.Timeout, cfg.Proxy)
	default:
		provider = collector.NewYahooProvider(cfg.Prices.BaseURL, cfg.Prices.Timeout, cfg.Proxy)
	}
	log.Info().Str("provider", provider.Name()).Msg("price source")
	col := collector.NewCollector(provider, st, collector.Options{
		Policy: collector.RangePolicy{
			FullHistory:       cfg.Prices.FullHistory,
			BackfillAfterDays: *cfg.Prices.BackfillAfterDays,
			RollingDays:       cfg.Prices.RollingDays,
		},
		MinorUnits: cfg.Prices.MinorUnitsPerUnit,
		Location:   loc,
	})

	det := detector.New(st, st, ledger.New(st), disp)

	// Init scheduler
	sched := scheduler.New(scheduler.Deps{
		Store:         st,
		Announcements: ann,
		Prices:        col,
		Detector:      det,
		Notifier:      notice,
	}, scheduleOptions(cfg, loc))
	if err := sched.StartWatchdog(ctx); err != nil {
		log.Error().Err(err).Msg("freshness watchdog disabled")
	}

	log.Info().Msg("MarketAgent is running. Press Ctrl+C to stop.")
	_ = sched.Run(ctx)

	log.Info().Msg("shutdown signal received, stopping...")
	sched.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatcher.DrainTimeout)
	defer cancel()
	if err := disp.Wait(drainCtx); err != nil {
		log.Warn().Err(err).Msg("analysis tasks still running at shutdown")
	}
	log.Info().Msg("MarketAgent stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == "postgres" {
		pg, err := store.NewPostgresStore(ctx, store.PostgresConfig{
			URL:      cfg.Database.Postgres.URL,
			MinConns: cfg.Database.Postgres.MinConns,
			MaxConns: cfg.Database.Postgres.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	sq, err := store.NewSQLiteStore(ctx, cfg.Database.SQLitePath)
	if err != nil {
		return nil, err
	}
	return sq, nil
}

func seedUniverse(ctx context.Context, st store.UniverseStore, cfg *config.Config) {
	for _, u := range cfg.Universe {
		in := model.Instrument{Ticker: u.Ticker}
		for _, p := range u.Levels {
			in.Levels = append(in.Levels, model.WatchedLevel{Ticker: u.Ticker, Price: p})
		}
		if err := st.SeedInstrument(ctx, in); err != nil {
			log.Warn().Err(err).Str("ticker", u.Ticker).Msg("seed instrument")
		}
	}
}

func scheduleOptions(cfg *config.Config, loc *time.Location) scheduler.Options {
	clock := func(s string) time.Duration {
		d, _ := config.ParseClock(s) // validated
		return d
	}
	sc := cfg.Schedule
	return scheduler.Options{
		Location:       loc,
		AnnounceStart:  clock(sc.AnnounceStart),
		AnnounceEnd:    clock(sc.AnnounceEnd),
		MarketClose:    clock(sc.MarketClose),
		ResetAfter:     clock(sc.ResetAfter),
		ActiveInterval: sc.ActiveInterval,
		IdleInterval:   sc.IdleInterval,
		ErrorBackoff:   sc.ErrorBackoff,
		StateFile:      sc.StateFile,
		FreshnessCron:  sc.FreshnessCron,
		MaxStaleness:   sc.MaxStaleness,
	}
}
