package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rustyeddy/tradesim/indicators"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config represents the complete replay configuration
type Config struct {
	Replay     ReplayConfig      `json:"replay" yaml:"replay"`
	Strategy   StrategyConfig    `json:"strategy" yaml:"strategy"`
	Indicators []IndicatorConfig `json:"indicators,omitempty" yaml:"indicators,omitempty"`
	Store      StoreConfig       `json:"store" yaml:"store"`
	Log        LogConfig         `json:"log" yaml:"log"`
}

// ReplayConfig selects what is replayed and how the run waits on the
// strategy layer.
type ReplayConfig struct {
	Symbols     []string `json:"symbols" yaml:"symbols"`
	Day         string   `json:"day" yaml:"day"`                   // 2024-03-04
	Timeframe   string   `json:"timeframe" yaml:"timeframe"`       // M5
	Timezone    string   `json:"timezone" yaml:"timezone"`         // America/New_York
	SessionOpen string   `json:"session_open" yaml:"session_open"` // 09:30
	WarmupDays  int      `json:"warmup_days" yaml:"warmup_days"`

	// Rollups are extra, coarser series derived from the base series.
	Rollups []string `json:"rollups,omitempty" yaml:"rollups,omitempty"`

	// WaitTimeout bounds every wait on the strategy layer. Empty or
	// zero waits forever.
	WaitTimeout string `json:"wait_timeout,omitempty" yaml:"wait_timeout,omitempty"`
	Parallelism int    `json:"parallelism" yaml:"parallelism"`

	// RunID replays into an existing run, for orders seeded ahead of
	// time. It needs exactly one symbol.
	RunID string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
}

// StrategyConfig contains strategy and position management parameters
type StrategyConfig struct {
	Name  string `json:"name" yaml:"name"`   // breakout, noop
	Guard string `json:"guard" yaml:"guard"` // bracket, none

	Lookback    int             `json:"lookback" yaml:"lookback"`
	LimitOffset decimal.Decimal `json:"limit_offset" yaml:"limit_offset"`
	Filter      string          `json:"filter,omitempty" yaml:"filter,omitempty"` // indicator the close must be above

	Equity     decimal.Decimal `json:"equity" yaml:"equity"`
	RiskPct    decimal.Decimal `json:"risk_pct" yaml:"risk_pct"`         // 0.005
	MaxRiskPct decimal.Decimal `json:"max_risk_pct" yaml:"max_risk_pct"` // zero disables the check
	Lot        decimal.Decimal `json:"lot" yaml:"lot"`

	StopAmount    decimal.Decimal `json:"stop_amount" yaml:"stop_amount"`
	RewardRisk    decimal.Decimal `json:"reward_risk" yaml:"reward_risk"`
	MinRR         decimal.Decimal `json:"min_rr" yaml:"min_rr"`
	TrailAmount   decimal.Decimal `json:"trail_amount" yaml:"trail_amount"`
	TrailPercent  decimal.Decimal `json:"trail_percent" yaml:"trail_percent"`
	ExitAfterBars int             `json:"exit_after_bars" yaml:"exit_after_bars"`
}

type IndicatorConfig struct {
	Type   string `json:"type" yaml:"type"` // sma, ema, stddev, atr, adx, vwap
	Period int    `json:"period,omitempty" yaml:"period,omitempty"`
}

// StoreConfig locates the SQLite journal and, optionally, a Postgres
// database to read candles from.
type StoreConfig struct {
	Path        string `json:"path" yaml:"path"`
	PostgresURL string `json:"postgres_url,omitempty" yaml:"postgres_url,omitempty"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format     string `json:"format" yaml:"format"` // json or console
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty" yaml:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty" yaml:"compress,omitempty"`
}

const dayLayout = "2006-01-02"

func (r ReplayConfig) BarSize() (int64, error) {
	return market.TFStringToSeconds(r.Timeframe)
}

func (r ReplayConfig) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.Timezone)
}

// ReplayDay is midnight of Day in the replay time zone.
func (r ReplayConfig) ReplayDay() (time.Time, error) {
	loc, err := r.Location()
	if err != nil {
		return time.Time{}, err
	}
	return time.ParseInLocation(dayLayout, r.Day, loc)
}

// SessionOffset is SessionOpen as a duration after midnight.
func (r ReplayConfig) SessionOffset() (time.Duration, error) {
	if r.SessionOpen == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", r.SessionOpen)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (r ReplayConfig) Timeout() (time.Duration, error) {
	if r.WaitTimeout == "" || r.WaitTimeout == "0" {
		return 0, nil
	}
	return time.ParseDuration(r.WaitTimeout)
}

// RollupSizes returns the extra series sizes in seconds.
func (r ReplayConfig) RollupSizes() ([]int64, error) {
	out := make([]int64, 0, len(r.Rollups))
	for _, tf := range r.Rollups {
		n, err := market.TFStringToSeconds(tf)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (YAML for .yaml/.yml, JSON otherwise)
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	r := c.Replay
	if len(r.Symbols) == 0 {
		return fmt.Errorf("replay.symbols is required")
	}
	for _, s := range r.Symbols {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("replay.symbols contains an empty symbol")
		}
	}
	if _, err := r.ReplayDay(); err != nil {
		return fmt.Errorf("replay.day: %w", err)
	}
	barSize, err := r.BarSize()
	if err != nil {
		return fmt.Errorf("replay.timeframe: %w", err)
	}
	if len(market.FallbackBarSizes(barSize)) == 0 {
		return fmt.Errorf("replay.timeframe %s cannot be built from stored bar sizes", r.Timeframe)
	}
	if _, err := r.SessionOffset(); err != nil {
		return fmt.Errorf("replay.session_open: %w", err)
	}
	if r.WarmupDays < 0 {
		return fmt.Errorf("replay.warmup_days must not be negative")
	}
	sizes, err := r.RollupSizes()
	if err != nil {
		return fmt.Errorf("replay.rollups: %w", err)
	}
	for i, n := range sizes {
		if n < barSize || n%barSize != 0 {
			return fmt.Errorf("replay.rollups: %s is not a multiple of %s", r.Rollups[i], r.Timeframe)
		}
	}
	if d, err := r.Timeout(); err != nil || d < 0 {
		return fmt.Errorf("replay.wait_timeout must be a non-negative duration")
	}
	if r.Parallelism < 0 {
		return fmt.Errorf("replay.parallelism must not be negative")
	}
	if r.RunID != "" && len(r.Symbols) != 1 {
		return fmt.Errorf("replay.run_id needs exactly one symbol")
	}

	s := c.Strategy
	if s.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	if s.RiskPct.Sign() <= 0 || s.RiskPct.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("strategy.risk_pct must be between 0 and 1")
	}
	if s.Equity.Sign() <= 0 {
		return fmt.Errorf("strategy.equity must be positive")
	}
	if s.Lookback < 0 || s.ExitAfterBars < 0 {
		return fmt.Errorf("strategy.lookback and strategy.exit_after_bars must not be negative")
	}
	for name, v := range map[string]decimal.Decimal{
		"limit_offset":  s.LimitOffset,
		"lot":           s.Lot,
		"max_risk_pct":  s.MaxRiskPct,
		"stop_amount":   s.StopAmount,
		"reward_risk":   s.RewardRisk,
		"min_rr":        s.MinRR,
		"trail_amount":  s.TrailAmount,
		"trail_percent": s.TrailPercent,
	} {
		if v.Sign() < 0 {
			return fmt.Errorf("strategy.%s must not be negative", name)
		}
	}

	for i, ic := range c.Indicators {
		if _, err := indicators.New(ic.Type, ic.Period); err != nil {
			return fmt.Errorf("indicators[%d]: %w", i, err)
		}
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	if c.Log.Format != "" && c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console'")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	policy := risk.DefaultPolicy()
	return &Config{
		Replay: ReplayConfig{
			Symbols:     []string{"AAPL"},
			Day:         "2024-03-04",
			Timeframe:   "M5",
			Timezone:    "America/New_York",
			SessionOpen: "09:30",
			WarmupDays:  2,
			Parallelism: 4,
		},
		Strategy: StrategyConfig{
			Name:        "breakout",
			Guard:       "bracket",
			Lookback:    6,
			LimitOffset: decimal.RequireFromString("0.05"),
			Equity:      decimal.NewFromInt(100000),
			RiskPct:     policy.DefaultRiskPct,
			MaxRiskPct:  policy.MaxRiskPct,
			Lot:         decimal.NewFromInt(1),
			StopAmount:  decimal.RequireFromString("0.50"),
			RewardRisk:  decimal.NewFromInt(2),
			MinRR:       policy.MinRR,
		},
		Indicators: []IndicatorConfig{
			{Type: "sma", Period: 20},
			{Type: "atr", Period: 14},
			{Type: "vwap"},
		},
		Store: StoreConfig{
			Path: "./tradesim.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
