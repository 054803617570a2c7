package cmd

import (
	"fmt"

	"github.com/rustyeddy/tradesim/config"
	"github.com/rustyeddy/tradesim/internal/logging"
	"github.com/rustyeddy/tradesim/journal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Historical replay simulator for intraday strategies",
	Long: `Trader replays stored candles through a simulated broker and a
strategy layer, filling orders against each bar's range.

It provides tools for:
  - Importing, exporting and resampling candles
  - Replaying a trading day for one or more symbols
  - Seeding orders for a run by hand
  - Inspecting the resulting positions and executions`,
	SilenceUsage: true,
}

var (
	cfgFile  string
	dbPath   string
	logLevel string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite journal path (overrides store.path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")
}

// loadConfig reads --config, or the defaults without it, and applies
// the persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(cfgFile); err != nil {
			return nil, err
		}
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return log, nil
}

func openStore(cfg *config.Config) (*journal.Store, error) {
	s, err := journal.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", cfg.Store.Path, err)
	}
	return s, nil
}
