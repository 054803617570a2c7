package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/market/data"
	"github.com/spf13/cobra"
)

var candlesCmd = &cobra.Command{
	Use:   "candles",
	Short: "Import, export and resample stored candles",
	Long: `Move candles between parquet files and the journal.

Parquet files use the polygon aggregate layout (t, o, h, l, c, v, vw, n).

Examples:
  trader candles import AAPL-2024-03.parquet --symbol AAPL --timeframe M1
  trader candles export aapl.parquet --symbol AAPL --timeframe M1 --from 2024-03-01 --to 2024-03-08
  trader candles resample --symbol AAPL --from-tf M1 --to-tf M5`,
}

var candlesImportCmd = &cobra.Command{
	Use:   "import <parquet>",
	Short: "Load bars from a parquet file into the journal",
	Args:  cobra.ExactArgs(1),
	RunE:  runCandlesImport,
}

var candlesExportCmd = &cobra.Command{
	Use:   "export <parquet>",
	Short: "Write stored bars to a parquet file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCandlesExport,
}

var candlesResampleCmd = &cobra.Command{
	Use:   "resample",
	Short: "Build coarser bars from stored finer ones",
	Args:  cobra.NoArgs,
	RunE:  runCandlesResample,
}

var candleFlags struct {
	symbol    string
	timeframe string
	from      string
	to        string
	fromTF    string
	toTF      string
}

func init() {
	rootCmd.AddCommand(candlesCmd)
	candlesCmd.AddCommand(candlesImportCmd, candlesExportCmd, candlesResampleCmd)

	candlesCmd.PersistentFlags().StringVar(&candleFlags.symbol, "symbol", "", "symbol (required)")
	_ = candlesCmd.MarkPersistentFlagRequired("symbol")

	for _, c := range []*cobra.Command{candlesImportCmd, candlesExportCmd} {
		c.Flags().StringVar(&candleFlags.timeframe, "timeframe", "M1", "bar size of the file")
	}
	for _, c := range []*cobra.Command{candlesExportCmd, candlesResampleCmd} {
		c.Flags().StringVar(&candleFlags.from, "from", "", "first day, YYYY-MM-DD (default: all)")
		c.Flags().StringVar(&candleFlags.to, "to", "", "day after the last, YYYY-MM-DD (default: all)")
	}
	candlesResampleCmd.Flags().StringVar(&candleFlags.fromTF, "from-tf", "M1", "source bar size")
	candlesResampleCmd.Flags().StringVar(&candleFlags.toTF, "to-tf", "M5", "target bar size")
}

// candleRange parses --from and --to as UTC days. Missing bounds cover
// everything.
func candleRange() (time.Time, time.Time, error) {
	start := time.Unix(0, 0).UTC()
	end := time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
	var err error
	if candleFlags.from != "" {
		if start, err = time.Parse("2006-01-02", candleFlags.from); err != nil {
			return start, end, fmt.Errorf("--from: %w", err)
		}
	}
	if candleFlags.to != "" {
		if end, err = time.Parse("2006-01-02", candleFlags.to); err != nil {
			return start, end, fmt.Errorf("--to: %w", err)
		}
	}
	return start, end, nil
}

func runCandlesImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	size, err := market.TFStringToSeconds(candleFlags.timeframe)
	if err != nil {
		return err
	}
	bars, err := data.ReadParquet(args[0], size)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.InsertCandles(cmd.Context(), candleFlags.symbol, size, bars); err != nil {
		return fmt.Errorf("insert candles: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d %s bars for %s\n", len(bars), candleFlags.timeframe, candleFlags.symbol)
	return nil
}

func runCandlesExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	size, err := market.TFStringToSeconds(candleFlags.timeframe)
	if err != nil {
		return err
	}
	start, end, err := candleRange()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	bars, err := store.FindCandles(cmd.Context(), candleFlags.symbol, start, end, size)
	if err != nil {
		return fmt.Errorf("find candles: %w", err)
	}
	if err := data.WriteParquet(args[0], bars); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %d bars to %s\n", len(bars), args[0])
	return nil
}

func runCandlesResample(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	from, err := market.TFStringToSeconds(candleFlags.fromTF)
	if err != nil {
		return err
	}
	to, err := market.TFStringToSeconds(candleFlags.toTF)
	if err != nil {
		return err
	}
	start, end, err := candleRange()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := resample(cmd.Context(), store, candleFlags.symbol, from, to, start, end)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Stored %d %s bars for %s\n", n, candleFlags.toTF, candleFlags.symbol)
	return nil
}

type candleStore interface {
	FindCandles(ctx context.Context, symbol string, start, end time.Time, barSize int64) ([]market.Bar, error)
	InsertCandles(ctx context.Context, symbol string, barSize int64, bars []market.Bar) error
}

func resample(ctx context.Context, store candleStore, symbol string, from, to int64, start, end time.Time) (int, error) {
	bars, err := store.FindCandles(ctx, symbol, start, end, from)
	if err != nil {
		return 0, fmt.Errorf("find candles: %w", err)
	}
	src := market.NewSeries(symbol, from)
	for _, b := range bars {
		if _, err := src.Add(b, 1); err != nil {
			return 0, err
		}
	}
	dst, err := market.Resample(src, to)
	if err != nil {
		return 0, err
	}
	out := dst.Bars()
	if err := store.InsertCandles(ctx, symbol, to, out); err != nil {
		return 0, fmt.Errorf("insert candles: %w", err)
	}
	return len(out), nil
}
