package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, []string{"AAPL"}, cfg.Replay.Symbols)
	assert.Equal(t, "breakout", cfg.Strategy.Name)
	assert.True(t, cfg.Strategy.RiskPct.Equal(decimal.RequireFromString("0.005")))
	assert.True(t, cfg.Strategy.MaxRiskPct.Equal(decimal.RequireFromString("0.01")))
	assert.NoError(t, cfg.Validate())
}

func TestReplayAccessors(t *testing.T) {
	r := Default().Replay

	size, err := r.BarSize()
	require.NoError(t, err)
	assert.Equal(t, int64(300), size)

	day, err := r.ReplayDay()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", day.Location().String())
	assert.Equal(t, 4, day.Day())
	assert.Equal(t, 0, day.Hour())

	open, err := r.SessionOffset()
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+30*time.Minute, open)

	d, err := r.Timeout()
	require.NoError(t, err)
	assert.Zero(t, d)

	r.WaitTimeout = "45s"
	d, err = r.Timeout()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, d)

	r.Rollups = []string{"M15", "H1"}
	sizes, err := r.RollupSizes()
	require.NoError(t, err)
	assert.Equal(t, []int64{900, 3600}, sizes)
}

func TestValidate(t *testing.T) {
	with := func(mut func(c *Config)) *Config {
		c := Default()
		mut(c)
		return c
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			config:  Default(),
			wantErr: false,
		},
		{
			name:    "missing symbols",
			config:  with(func(c *Config) { c.Replay.Symbols = nil }),
			wantErr: true,
			errMsg:  "replay.symbols is required",
		},
		{
			name:    "bad day",
			config:  with(func(c *Config) { c.Replay.Day = "03/04/2024" }),
			wantErr: true,
			errMsg:  "replay.day",
		},
		{
			name:    "unknown timeframe",
			config:  with(func(c *Config) { c.Replay.Timeframe = "M7" }),
			wantErr: true,
			errMsg:  "replay.timeframe",
		},
		{
			name:    "unknown timezone",
			config:  with(func(c *Config) { c.Replay.Timezone = "Mars/Olympus" }),
			wantErr: true,
			errMsg:  "replay.day",
		},
		{
			name:    "bad session open",
			config:  with(func(c *Config) { c.Replay.SessionOpen = "9.30" }),
			wantErr: true,
			errMsg:  "replay.session_open",
		},
		{
			name:    "rollup finer than base",
			config:  with(func(c *Config) { c.Replay.Rollups = []string{"M1"} }),
			wantErr: true,
			errMsg:  "not a multiple of M5",
		},
		{
			name:    "negative wait timeout",
			config:  with(func(c *Config) { c.Replay.WaitTimeout = "-1s" }),
			wantErr: true,
			errMsg:  "replay.wait_timeout",
		},
		{
			name: "run id with two symbols",
			config: with(func(c *Config) {
				c.Replay.RunID = "R1"
				c.Replay.Symbols = []string{"AAPL", "MSFT"}
			}),
			wantErr: true,
			errMsg:  "replay.run_id needs exactly one symbol",
		},
		{
			name:    "risk above one",
			config:  with(func(c *Config) { c.Strategy.RiskPct = decimal.RequireFromString("1.5") }),
			wantErr: true,
			errMsg:  "strategy.risk_pct must be between 0 and 1",
		},
		{
			name:    "negative stop",
			config:  with(func(c *Config) { c.Strategy.StopAmount = decimal.RequireFromString("-0.5") }),
			wantErr: true,
			errMsg:  "strategy.stop_amount must not be negative",
		},
		{
			name:    "unknown indicator",
			config:  with(func(c *Config) { c.Indicators = append(c.Indicators, IndicatorConfig{Type: "macd", Period: 9}) }),
			wantErr: true,
			errMsg:  "unknown indicator",
		},
		{
			name:    "missing store path",
			config:  with(func(c *Config) { c.Store.Path = "" }),
			wantErr: true,
			errMsg:  "store.path is required",
		},
		{
			name:    "bad log level",
			config:  with(func(c *Config) { c.Log.Level = "chatty" }),
			wantErr: true,
			errMsg:  "log.level",
		},
		{
			name:    "bad log format",
			config:  with(func(c *Config) { c.Log.Format = "xml" }),
			wantErr: true,
			errMsg:  "log.format must be 'json' or 'console'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		ext  string
	}{
		{"json format", ".json"},
		{"yaml format", ".yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Replay.Rollups = []string{"M15"}
			cfg.Strategy.TrailPercent = decimal.RequireFromString("0.75")
			path := filepath.Join(tmpDir, "test"+tt.ext)

			require.NoError(t, cfg.SaveToFile(path))
			_, err := os.Stat(path)
			require.NoError(t, err)

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)

			assert.Equal(t, cfg.Replay, loaded.Replay)
			assert.Equal(t, cfg.Indicators, loaded.Indicators)
			assert.Equal(t, cfg.Store, loaded.Store)
			assert.Equal(t, cfg.Log, loaded.Log)
			assert.Equal(t, cfg.Strategy.Name, loaded.Strategy.Name)
			assert.True(t, cfg.Strategy.RiskPct.Equal(loaded.Strategy.RiskPct))
			assert.True(t, cfg.Strategy.LimitOffset.Equal(loaded.Strategy.LimitOffset))
			assert.True(t, cfg.Strategy.TrailPercent.Equal(loaded.Strategy.TrailPercent))
		})
	}
}

func TestLoadYAMLNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.yaml")
	doc := `
replay:
  symbols: [MSFT, NVDA]
  day: "2024-03-05"
  timeframe: M1
  wait_timeout: 30s
strategy:
  name: noop
  guard: none
  risk_pct: 0.01
  stop_amount: 0.25
store:
  path: /tmp/replay.db
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT", "NVDA"}, cfg.Replay.Symbols)
	assert.Equal(t, "M1", cfg.Replay.Timeframe)
	assert.Equal(t, "09:30", cfg.Replay.SessionOpen, "defaults fill unset fields")
	assert.True(t, cfg.Strategy.RiskPct.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, cfg.Strategy.StopAmount.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, "none", cfg.Strategy.Guard)
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("replay: [unterminated"), 0644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}
