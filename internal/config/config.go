// Package config loads and validates the bot's YAML configuration, applies
// environment overrides, and maps the result onto engine options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"solotrader/internal/engine"
	"solotrader/internal/strategy"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the trading bot.
type Config struct {
	Market        Market        `yaml:"market"`
	Schedule      Schedule      `yaml:"schedule"`
	Risk          Risk          `yaml:"risk"`
	Trailing      Trailing      `yaml:"trailing"`
	Breaker       Breaker       `yaml:"circuit_breaker"`
	Strategy      Strategy      `yaml:"strategy"`
	Engine        Engine        `yaml:"engine"`
	Alpaca        Alpaca        `yaml:"alpaca"`
	Storage       Storage       `yaml:"storage"`
	Web           Web           `yaml:"web"`
	Notifications Notifications `yaml:"notifications"`
	Logging       Logging       `yaml:"logging"`
}

// Market identifies the traded instrument and its bar size.
type Market struct {
	Symbol        string  `yaml:"symbol"`
	BarMinutes    int     `yaml:"bar_minutes"`
	ValuePerPoint float64 `yaml:"value_per_point"`
	Feed          string  `yaml:"feed"`
}

// Schedule controls when the bot is allowed to trade.
type Schedule struct {
	Timezone            string `yaml:"timezone"`
	SessionOpen         string `yaml:"session_open"`
	SessionClose        string `yaml:"session_close"`
	RTHOnly             bool   `yaml:"rth_only"`
	ExitAtSessionClose  bool   `yaml:"exit_at_session_close"`
	ExcludedUTCWeekdays []int  `yaml:"excluded_utc_weekdays"`
	ExcludedLocalHours  []int  `yaml:"excluded_local_hours"`
}

// Risk defines sizing parameters.
type Risk struct {
	Equity           float64 `yaml:"equity"`
	UseAccountEquity bool    `yaml:"use_account_equity"`
	RiskPct          float64 `yaml:"risk_pct"`
	MinSize          float64 `yaml:"min_size"`
	MaxSize          float64 `yaml:"max_size"`
}

// Trailing configures the trailing-stop engine.
type Trailing struct {
	Enabled bool    `yaml:"enabled"`
	Mode    string  `yaml:"mode"` // threshold | excursion
	BufferR float64 `yaml:"buffer_r"`
}

// Breaker configures the consecutive-loss circuit breaker.
type Breaker struct {
	Losses      int `yaml:"losses"`
	CooldownMin int `yaml:"cooldown_min"`
}

// Strategy selects and parameterizes the signal generator.
type Strategy struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// Engine holds controller behaviour knobs.
type Engine struct {
	PollSeconds        int    `yaml:"poll_seconds"`
	AlignPollToBar     bool   `yaml:"align_poll_to_bar"`
	FillTimeoutSeconds int    `yaml:"fill_timeout_seconds"`
	WarmupBars         int    `yaml:"warmup_bars"`
	ScalpMode          bool   `yaml:"scalp_mode"`
	TakeProfitFirst    bool   `yaml:"take_profit_first"`
	EntryMode          string `yaml:"entry_mode"` // next_open | signal_close
	WatchdogMinutes    int    `yaml:"watchdog_minutes"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
	BaseURL        string `yaml:"base_url"`
	DataURL        string `yaml:"data_url"`
	RequestsPerMin int    `yaml:"requests_per_min"`
}

// Storage holds paths for data persistence.
type Storage struct {
	StatePath    string `yaml:"state_path"`
	LockPath     string `yaml:"lock_path"`
	TradeLogPath string `yaml:"trade_log_path"`
	SQLitePath   string `yaml:"sqlite_path"`
	DataDir      string `yaml:"data_dir"`
}

// Web holds the operational HTTP listener configuration.
type Web struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Notifications configures outbound alerting.
type Notifications struct {
	Telegram Telegram `yaml:"telegram"`
}

// Telegram holds bot credentials for Telegram alerts.
type Telegram struct {
	BotID  string `yaml:"bot_id"`
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration at path, applies environment overrides,
// fills defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Market.BarMinutes <= 0 {
		c.Market.BarMinutes = 5
	}
	if c.Market.ValuePerPoint <= 0 {
		c.Market.ValuePerPoint = 1
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "America/New_York"
	}
	if c.Schedule.SessionOpen == "" {
		c.Schedule.SessionOpen = "09:30"
	}
	if c.Schedule.SessionClose == "" {
		c.Schedule.SessionClose = "16:00"
	}
	if c.Risk.RiskPct <= 0 {
		c.Risk.RiskPct = 0.01
	}
	if c.Risk.MinSize <= 0 {
		c.Risk.MinSize = 1
	}
	if c.Trailing.Mode == "" {
		c.Trailing.Mode = engine.TrailModeThreshold
	}
	if c.Strategy.Name == "" {
		c.Strategy.Name = "momentum5m"
	}
	if c.Engine.PollSeconds <= 0 {
		c.Engine.PollSeconds = 30
	}
	if c.Engine.FillTimeoutSeconds <= 0 {
		c.Engine.FillTimeoutSeconds = 45
	}
	if c.Engine.EntryMode == "" {
		c.Engine.EntryMode = engine.EntryModeNextOpen
	}
	if c.Storage.StatePath == "" {
		c.Storage.StatePath = "data/state.json"
	}
	if c.Storage.LockPath == "" {
		c.Storage.LockPath = "data/bot.lock"
	}
	if c.Storage.TradeLogPath == "" {
		c.Storage.TradeLogPath = "data/trades.csv"
	}
	if c.Web.Addr == "" {
		c.Web.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Market.Symbol == "" {
		return fmt.Errorf("market.symbol is required")
	}
	if c.Risk.Equity <= 0 && !c.Risk.UseAccountEquity {
		return fmt.Errorf("risk.equity must be positive when use_account_equity is false")
	}
	if c.Risk.RiskPct > 1 {
		return fmt.Errorf("risk.risk_pct %v exceeds 1 (100%%)", c.Risk.RiskPct)
	}
	switch c.Trailing.Mode {
	case engine.TrailModeThreshold, engine.TrailModeExcursion:
	default:
		return fmt.Errorf("trailing.mode %q is unknown", c.Trailing.Mode)
	}
	switch c.Engine.EntryMode {
	case engine.EntryModeNextOpen, engine.EntryModeSignalClose:
	default:
		return fmt.Errorf("engine.entry_mode %q is unknown", c.Engine.EntryMode)
	}
	for _, wd := range c.Schedule.ExcludedUTCWeekdays {
		if wd < 0 || wd > 6 {
			return fmt.Errorf("schedule.excluded_utc_weekdays entry %d out of range", wd)
		}
	}
	for _, h := range c.Schedule.ExcludedLocalHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("schedule.excluded_local_hours entry %d out of range", h)
		}
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SOLOTRADER_SYMBOL"); v != "" {
		cfg.Market.Symbol = v
	}
	if v := os.Getenv("SOLOTRADER_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("TELEGRAM_BOT_ID"); v != "" {
		cfg.Notifications.Telegram.BotID = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Notifications.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SOLOTRADER_EQUITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Risk.Equity = f
		}
	}

	// Standard Alpaca env vars, canonical names used by the SDK.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Engine mapping
// ---------------------------------------------------------------------------

// EngineOptions maps the configuration onto engine options.
func (c *Config) EngineOptions() engine.Options {
	weekdays := make([]time.Weekday, 0, len(c.Schedule.ExcludedUTCWeekdays))
	for _, wd := range c.Schedule.ExcludedUTCWeekdays {
		weekdays = append(weekdays, time.Weekday(wd))
	}

	return engine.Options{
		Symbol:              c.Market.Symbol,
		BarMinutes:          c.Market.BarMinutes,
		WarmupBars:          c.Engine.WarmupBars,
		RTHEnabled:          c.Schedule.RTHOnly,
		RTHExitEnabled:      c.Schedule.ExitAtSessionClose,
		ExcludedUTCWeekdays: weekdays,
		ExcludedLocalHours:  append([]int(nil), c.Schedule.ExcludedLocalHours...),
		Equity:              c.Risk.Equity,
		UseAccountEquity:    c.Risk.UseAccountEquity,
		RiskPct:             c.Risk.RiskPct,
		ValuePerPoint:       c.Market.ValuePerPoint,
		MinSize:             c.Risk.MinSize,
		MaxSize:             c.Risk.MaxSize,
		TrailingEnabled:     c.Trailing.Enabled,
		TrailBufferR:        c.Trailing.BufferR,
		TrailMode:           c.Trailing.Mode,
		BreakerLosses:       c.Breaker.Losses,
		BreakerCooldown:     time.Duration(c.Breaker.CooldownMin) * time.Minute,
		FillTimeout:         time.Duration(c.Engine.FillTimeoutSeconds) * time.Second,
		Poll:                time.Duration(c.Engine.PollSeconds) * time.Second,
		AlignPoll:           c.Engine.AlignPollToBar,
		ScalpMode:           c.Engine.ScalpMode,
		TakeProfitFirst:     c.Engine.TakeProfitFirst,
		EntryMode:           c.Engine.EntryMode,
		StrategyParams:      strategy.Params(c.Strategy.Params),
		WatchdogTimeout:     time.Duration(c.Engine.WatchdogMinutes) * time.Minute,
	}
}

// HotOptions maps the hot-reloadable subset of the configuration.
func (c *Config) HotOptions() engine.HotOptions {
	return engine.HotOptions{
		Equity:          c.Risk.Equity,
		RiskPct:         c.Risk.RiskPct,
		TrailingEnabled: c.Trailing.Enabled,
		TrailBufferR:    c.Trailing.BufferR,
		BreakerLosses:   c.Breaker.Losses,
		BreakerCooldown: time.Duration(c.Breaker.CooldownMin) * time.Minute,
		Poll:            time.Duration(c.Engine.PollSeconds) * time.Second,
		StrategyParams:  strategy.Params(c.Strategy.Params),
	}
}
