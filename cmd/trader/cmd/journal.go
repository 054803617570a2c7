package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rustyeddy/tradesim/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query replay journal data",
	Long: `Query and display runs, positions and executions from the SQLite journal.

Subcommands:
  runs        - List replay runs
  positions   - List positions, optionally of one run
  position    - Show one position as an Org-mode entry
  executions  - List the fills of a run, optionally as CSV

Examples:
  trader journal runs
  trader journal positions --run 01HRX...
  trader journal position 01HRY...
  trader journal executions --run 01HRX... --csv > fills.csv`,
}

var journalRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List replay runs",
	Args:  cobra.NoArgs,
	RunE:  runJournalRuns,
}

var journalPositionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List positions",
	Args:  cobra.NoArgs,
	RunE:  runJournalPositions,
}

var journalPositionCmd = &cobra.Command{
	Use:   "position <position-id>",
	Short: "Show a position as an Org-mode entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalPosition,
}

var journalExecutionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "List the executions of a run",
	Args:  cobra.NoArgs,
	RunE:  runJournalExecutions,
}

var (
	journalRunID string
	journalCSV   bool
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRunsCmd, journalPositionsCmd, journalPositionCmd, journalExecutionsCmd)

	journalPositionsCmd.Flags().StringVar(&journalRunID, "run", "", "only positions of this run")
	journalExecutionsCmd.Flags().StringVar(&journalRunID, "run", "", "run id (required)")
	journalExecutionsCmd.Flags().BoolVar(&journalCSV, "csv", false, "write CSV")
	_ = journalExecutionsCmd.MarkFlagRequired("run")
}

func withJournal(fn func(*journal.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func runJournalRuns(cmd *cobra.Command, args []string) error {
	return withJournal(func(store *journal.Store) error {
		runs, err := store.ListRuns(cmd.Context())
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSYMBOL\tSTRATEGY\tDAY\tBAR\tCREATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", r.ID, r.Symbol, r.Strategy,
				r.Day.Format("2006-01-02"), r.BarSize, r.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

func runJournalPositions(cmd *cobra.Command, args []string) error {
	return withJournal(func(store *journal.Store) error {
		positions, err := store.ListPositions(cmd.Context(), journalRunID)
		if err != nil {
			return fmt.Errorf("list positions: %w", err)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "POSITION\tRUN\tSYMBOL\tSIDE\tAVG\tOPEN QTY\tCLOSED\tP/L")
		for _, p := range positions {
			closed, pl := "open", "-"
			if !p.IsOpen() {
				closed = p.CloseTime.UTC().Format(time.RFC3339)
				pl = p.RealizedPL().StringFixed(2)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", p.ID, p.RunID, p.Symbol, p.Side,
				p.AvgPrice().StringFixed(4), p.OpenQuantity, closed, pl)
		}
		return w.Flush()
	})
}

func runJournalPosition(cmd *cobra.Command, args []string) error {
	return withJournal(func(store *journal.Store) error {
		p, err := store.GetPositionRecord(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get position: %w", err)
		}
		execs, err := store.ListExecutions(cmd.Context(), p.RunID)
		if err != nil {
			return fmt.Errorf("list executions: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), journal.FormatPositionOrg(p, journal.PositionExecutions(p.ID, execs)))
		return nil
	})
}

func runJournalExecutions(cmd *cobra.Command, args []string) error {
	return withJournal(func(store *journal.Store) error {
		execs, err := store.ListExecutions(cmd.Context(), journalRunID)
		if err != nil {
			return fmt.Errorf("list executions: %w", err)
		}
		if journalCSV {
			return journal.WriteExecutionsCSV(cmd.OutOrStdout(), execs)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EXEC\tTIME\tACTION\tQTY\tPRICE\tCOMMISSION\tPOSITION")
		for _, e := range execs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", e.ExecID, e.Time.UTC().Format(time.RFC3339),
				e.Action, e.Quantity, e.Price, e.Commission.StringFixed(2), e.PositionID)
		}
		return w.Flush()
	})
}
