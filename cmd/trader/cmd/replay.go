package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rustyeddy/tradesim/backtest"
	"github.com/rustyeddy/tradesim/internal/pgstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a trading day through the simulated broker",
	Long: `Replay the configured day for every configured symbol. Each symbol
gets its own run in the journal; runs execute in parallel up to
replay.parallelism.

Examples:
  trader replay --config replay.yaml
  trader replay --symbol AAPL --day 2024-03-04 --timeframe M5
  trader replay --run 01HRX... --strategy noop --guard none`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

var replayFlags struct {
	symbols    []string
	day        string
	timeframe  string
	runID      string
	strategy   string
	guard      string
	noProgress bool
}

func init() {
	rootCmd.AddCommand(replayCmd)

	f := replayCmd.Flags()
	f.StringSliceVarP(&replayFlags.symbols, "symbol", "s", nil, "symbols to replay (overrides replay.symbols)")
	f.StringVar(&replayFlags.day, "day", "", "day to replay, YYYY-MM-DD")
	f.StringVar(&replayFlags.timeframe, "timeframe", "", "bar size, e.g. M1, M5, H1")
	f.StringVar(&replayFlags.runID, "run", "", "replay into an existing run")
	f.StringVar(&replayFlags.strategy, "strategy", "", "entry strategy")
	f.StringVar(&replayFlags.guard, "guard", "", "position guard")
	f.BoolVar(&replayFlags.noProgress, "no-progress", false, "hide progress bars")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(replayFlags.symbols) > 0 {
		cfg.Replay.Symbols = replayFlags.symbols
	}
	if replayFlags.day != "" {
		cfg.Replay.Day = replayFlags.day
	}
	if replayFlags.timeframe != "" {
		cfg.Replay.Timeframe = replayFlags.timeframe
	}
	if replayFlags.runID != "" {
		cfg.Replay.RunID = replayFlags.runID
	}
	if replayFlags.strategy != "" {
		cfg.Strategy.Name = replayFlags.strategy
	}
	if replayFlags.guard != "" {
		cfg.Strategy.Guard = replayFlags.guard
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	r := &backtest.Runner{Config: cfg, Store: store, Log: log}
	if !replayFlags.noProgress {
		r.Progress = cmd.ErrOrStderr()
	}
	if cfg.Store.PostgresURL != "" {
		pg, err := pgstore.Open(ctx, cfg.Store.PostgresURL, log)
		if err != nil {
			return fmt.Errorf("postgres candles: %w", err)
		}
		defer pg.Close()
		r.Candles = pg
		log.Info("reading candles from postgres")
	}

	sums, err := r.Run(ctx)
	out := cmd.OutOrStdout()
	for _, s := range sums {
		if s.Symbol == "" {
			continue
		}
		backtest.PrintSummary(out, s)
	}
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("replay interrupted", zap.Error(err))
			return context.Cause(ctx)
		}
		return err
	}
	return nil
}
