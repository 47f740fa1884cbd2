package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Timezone string `yaml:"timezone" validate:"required"`

	Schedule struct {
		AnnounceStart  string        `yaml:"announce_start" validate:"required,clock"`
		AnnounceEnd    string        `yaml:"announce_end" validate:"required,clock"`
		MarketClose    string        `yaml:"market_close" validate:"required,clock"`
		ResetAfter     string        `yaml:"reset_after" validate:"required,clock"`
		ActiveInterval time.Duration `yaml:"active_interval" validate:"gt=0"`
		IdleInterval   time.Duration `yaml:"idle_interval" validate:"gt=0"`
		ErrorBackoff   time.Duration `yaml:"error_backoff" validate:"gt=0"`
		StateFile      string        `yaml:"state_file"`
		FreshnessCron  string        `yaml:"freshness_cron"`
		MaxStaleness   time.Duration `yaml:"max_staleness" validate:"gte=0"`
	} `yaml:"schedule"`

	Announcements struct {
		ListURL          string        `yaml:"list_url" validate:"required,url"`
		BaseURL          string        `yaml:"base_url" validate:"required,url"`
		InstrumentSuffix string        `yaml:"instrument_suffix"`
		Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
		FetchInterval    time.Duration `yaml:"fetch_interval" validate:"gte=0"`
	} `yaml:"announcements"`

	Prices struct {
		Provider          string        `yaml:"provider" validate:"oneof=yahoo bulk"`
		BaseURL           string        `yaml:"base_url"`
		APIKey            string        `yaml:"api_key"`
		FullHistory       string        `yaml:"full_history" validate:"required"`
		BackfillAfterDays *int          `yaml:"backfill_after_days" validate:"omitempty,gte=0"`
		RollingDays       int           `yaml:"rolling_days" validate:"gt=0"`
		MinorUnitsPerUnit int64         `yaml:"minor_units_per_unit" validate:"gt=0"`
		Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	} `yaml:"prices"`

	Database struct {
		Driver     string `yaml:"driver" validate:"oneof=sqlite postgres"`
		SQLitePath string `yaml:"sqlite_path"`
		Postgres   struct {
			URL      string `yaml:"url"`
			MinConns int    `yaml:"min_conns" validate:"gte=0"`
			MaxConns int    `yaml:"max_conns" validate:"gte=0"`
		} `yaml:"postgres"`
	} `yaml:"database"`

	Universe []struct {
		Ticker string  `yaml:"ticker" validate:"required"`
		Levels []int64 `yaml:"levels"`
	} `yaml:"universe" validate:"dive"`

	Dispatcher struct {
		MaxConcurrency int64         `yaml:"max_concurrency" validate:"gt=0"`
		AnalyzeTimeout time.Duration `yaml:"analyze_timeout" validate:"gt=0"`
		DeliverTimeout time.Duration `yaml:"deliver_timeout" validate:"gt=0"`
		DrainTimeout   time.Duration `yaml:"drain_timeout" validate:"gte=0"`
	} `yaml:"dispatcher"`

	Analyzer struct {
		Provider  string `yaml:"provider" validate:"oneof=claude none"`
		APIKey    string `yaml:"api_key"`
		Model     string `yaml:"model"`
		MaxTokens int64  `yaml:"max_tokens" validate:"gte=0"`
	} `yaml:"analyzer"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format" validate:"oneof=console json"`
	} `yaml:"log"`

	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies .env and environment variable overrides.
// A missing file is not an error; defaults cover every required field.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	// Environment variable overrides
	if v := os.Getenv("MARKET_TZ"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.Postgres.URL = v
	}
	if v := os.Getenv("PRICE_PROVIDER"); v != "" {
		cfg.Prices.Provider = v
	}
	if v := os.Getenv("PRICE_API_KEY"); v != "" {
		cfg.Prices.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Analyzer.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DISPATCH_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Dispatcher.MaxConcurrency = n
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Timezone == "" {
		cfg.Timezone = "Africa/Johannesburg"
	}

	s := &cfg.Schedule
	if s.AnnounceStart == "" {
		s.AnnounceStart = "07:00"
	}
	if s.AnnounceEnd == "" {
		s.AnnounceEnd = "17:30"
	}
	if s.MarketClose == "" {
		s.MarketClose = "17:30"
	}
	if s.ResetAfter == "" {
		s.ResetAfter = "00:05"
	}
	if s.ActiveInterval == 0 {
		s.ActiveInterval = 15 * time.Minute
	}
	if s.IdleInterval == 0 {
		s.IdleInterval = 10 * time.Minute
	}
	if s.ErrorBackoff == 0 {
		s.ErrorBackoff = 60 * time.Second
	}
	if s.FreshnessCron == "" {
		s.FreshnessCron = "0 0 9 * * 1-5"
	}
	if s.MaxStaleness == 0 {
		s.MaxStaleness = 96 * time.Hour
	}

	a := &cfg.Announcements
	if a.BaseURL == "" {
		a.BaseURL = "https://www.moneyweb.co.za"
	}
	if a.ListURL == "" {
		a.ListURL = a.BaseURL + "/tools-and-data/moneyweb-sens/"
	}
	if a.InstrumentSuffix == "" {
		a.InstrumentSuffix = ".JO"
	}
	if a.Timeout == 0 {
		a.Timeout = 10 * time.Second
	}
	if a.FetchInterval == 0 {
		a.FetchInterval = 500 * time.Millisecond
	}

	p := &cfg.Prices
	if p.Provider == "" {
		p.Provider = "yahoo"
	}
	if p.FullHistory == "" {
		p.FullHistory = "5y"
	}
	// 0 is meaningful here: backfill after any gap.
	if p.BackfillAfterDays == nil {
		n := 2
		p.BackfillAfterDays = &n
	}
	if p.RollingDays == 0 {
		p.RollingDays = 2
	}
	if p.MinorUnitsPerUnit == 0 {
		// JSE quotes are already in cents.
		p.MinorUnitsPerUnit = 1
	}
	if p.Timeout == 0 {
		p.Timeout = 30 * time.Second
	}

	d := &cfg.Database
	if d.Driver == "" {
		d.Driver = "sqlite"
	}
	if d.SQLitePath == "" {
		d.SQLitePath = "data/market_agent.db"
	}
	if d.Postgres.MaxConns == 0 {
		d.Postgres.MaxConns = 5
	}

	if cfg.Dispatcher.MaxConcurrency == 0 {
		cfg.Dispatcher.MaxConcurrency = 4
	}
	if cfg.Dispatcher.AnalyzeTimeout == 0 {
		cfg.Dispatcher.AnalyzeTimeout = 3 * time.Minute
	}
	if cfg.Dispatcher.DeliverTimeout == 0 {
		cfg.Dispatcher.DeliverTimeout = time.Minute
	}
	if cfg.Dispatcher.DrainTimeout == 0 {
		cfg.Dispatcher.DrainTimeout = 30 * time.Second
	}

	if cfg.Analyzer.Provider == "" {
		if cfg.Analyzer.APIKey != "" {
			cfg.Analyzer.Provider = "claude"
		} else {
			cfg.Analyzer.Provider = "none"
		}
	}
	if cfg.Analyzer.Model == "" {
		cfg.Analyzer.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Analyzer.MaxTokens == 0 {
		cfg.Analyzer.MaxTokens = 2048
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

// Validate checks field constraints and the cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("clock", validateClock); err != nil {
		return fmt.Errorf("register clock validation: %w", err)
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	start, _ := ParseClock(c.Schedule.AnnounceStart)
	end, _ := ParseClock(c.Schedule.AnnounceEnd)
	reset, _ := ParseClock(c.Schedule.ResetAfter)
	if end < start {
		return fmt.Errorf("schedule.announce_end must not be before announce_start")
	}
	if reset >= start {
		return fmt.Errorf("schedule.reset_after must be before announce_start")
	}
	if c.Database.Driver == "sqlite" && c.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
	}
	if c.Database.Driver == "postgres" && c.Database.Postgres.URL == "" {
		return fmt.Errorf("database.postgres.url is required for the postgres driver")
	}
	if c.Prices.Provider == "bulk" && c.Prices.BaseURL == "" {
		return fmt.Errorf("prices.base_url is required for the bulk provider")
	}
	if c.Analyzer.Provider == "claude" && c.Analyzer.APIKey == "" {
		return fmt.Errorf("analyzer.api_key is required for the claude analyzer")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}

// Location returns the configured market time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func validateClock(fl validator.FieldLevel) bool {
	_, err := ParseClock(fl.Field().String())
	return err == nil
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
