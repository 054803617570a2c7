package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/rustyeddy/tradesim/broker"
	"github.com/rustyeddy/tradesim/journal"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/pkg/id"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "Seed and list the orders of a run",
	Long: `Seed orders ahead of a replay and list what a run holds.

Examples:
  trader orders add --run R1 --symbol AAPL --day 2024-03-04 --action buy --type lmt --qty 100 --limit 100.00
  trader orders add --run R1 --symbol AAPL --action sell --type trail --qty 100 --trail-amount 0.25
  trader replay --run R1 --strategy noop --guard none
  trader orders list --run R1`,
}

var ordersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an order to a run, creating the run if needed",
	Args:  cobra.NoArgs,
	RunE:  runOrdersAdd,
}

var ordersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the orders of a run",
	Args:  cobra.NoArgs,
	RunE:  runOrdersList,
}

var orderFlags struct {
	run          string
	symbol       string
	day          string
	action       string
	orderType    string
	qty          string
	limit        string
	aux          string
	trailAmount  string
	trailPercent string
	limitOffset  string
	oca          string
	status       []string
}

func init() {
	rootCmd.AddCommand(ordersCmd)
	ordersCmd.AddCommand(ordersAddCmd, ordersListCmd)

	ordersCmd.PersistentFlags().StringVar(&orderFlags.run, "run", "", "run id (required)")
	_ = ordersCmd.MarkPersistentFlagRequired("run")

	f := ordersAddCmd.Flags()
	f.StringVar(&orderFlags.symbol, "symbol", "", "symbol (default: replay.symbols[0])")
	f.StringVar(&orderFlags.day, "day", "", "replay day of a new run (default: replay.day)")
	f.StringVar(&orderFlags.action, "action", "buy", "buy or sell")
	f.StringVar(&orderFlags.orderType, "type", "mkt", "mkt, lmt, stp, stp-lmt, trail or trail-limit")
	f.StringVar(&orderFlags.qty, "qty", "", "quantity (required)")
	f.StringVar(&orderFlags.limit, "limit", "0", "limit price")
	f.StringVar(&orderFlags.aux, "aux", "0", "stop price")
	f.StringVar(&orderFlags.trailAmount, "trail-amount", "0", "trailing distance")
	f.StringVar(&orderFlags.trailPercent, "trail-percent", "0", "trailing distance in percent of the close")
	f.StringVar(&orderFlags.limitOffset, "limit-offset", "0", "TRAIL LIMIT offset of the limit from the stop")
	f.StringVar(&orderFlags.oca, "oca", "", "one-cancels-all group")
	_ = ordersAddCmd.MarkFlagRequired("qty")

	ordersListCmd.Flags().StringSliceVar(&orderFlags.status, "status", nil, "only these statuses, e.g. SUBMITTED,FILLED")
}

func decimalFlag(name, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s: %w", name, err)
	}
	return d, nil
}

func runOrdersAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req := broker.OrderRequest{Symbol: orderFlags.symbol, OCAGroup: orderFlags.oca}
	if req.Symbol == "" && len(cfg.Replay.Symbols) > 0 {
		req.Symbol = cfg.Replay.Symbols[0]
	}
	if req.Action, err = broker.ParseAction(orderFlags.action); err != nil {
		return err
	}
	if req.Type, err = broker.ParseOrderType(orderFlags.orderType); err != nil {
		return err
	}
	for _, p := range []struct {
		name string
		val  string
		dst  *decimal.Decimal
	}{
		{"qty", orderFlags.qty, &req.Quantity},
		{"limit", orderFlags.limit, &req.LimitPrice},
		{"aux", orderFlags.aux, &req.AuxPrice},
		{"trail-amount", orderFlags.trailAmount, &req.TrailAmount},
		{"trail-percent", orderFlags.trailPercent, &req.TrailPercent},
		{"limit-offset", orderFlags.limitOffset, &req.LimitOffset},
	} {
		if *p.dst, err = decimalFlag(p.name, p.val); err != nil {
			return err
		}
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if orderFlags.day != "" {
		cfg.Replay.Day = orderFlags.day
	}
	day, err := cfg.Replay.ReplayDay()
	if err != nil {
		return fmt.Errorf("day: %w", err)
	}
	barSize, err := market.TFStringToSeconds(cfg.Replay.Timeframe)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := cmd.Context()

	run, err := store.GetRun(ctx, orderFlags.run)
	switch {
	case errors.Is(err, journal.ErrNotFound):
		run = journal.Run{ID: orderFlags.run, Symbol: req.Symbol, Strategy: "manual", BarSize: barSize, Day: day}
		if err := store.CreateRun(ctx, run); err != nil {
			return err
		}
	case err != nil:
		return err
	case run.Symbol != req.Symbol:
		return fmt.Errorf("%w: run %s trades %s", broker.ErrInvalidOrder, run.Symbol, req.Symbol)
	default:
		day = run.Day
	}

	o := broker.Order{
		ID:           id.NewAt(day),
		RunID:        run.ID,
		Symbol:       req.Symbol,
		Action:       req.Action,
		Type:         req.Type,
		Quantity:     req.Quantity,
		LimitPrice:   req.LimitPrice,
		AuxPrice:     req.AuxPrice,
		TrailAmount:  req.TrailAmount,
		TrailPercent: req.TrailPercent,
		LimitOffset:  req.LimitOffset,
		OCAGroup:     req.OCAGroup,
		Transmit:     true,
		Status:       broker.Unsubmitted,
		CreatedAt:    day,
	}
	if err := store.InsertOrder(ctx, o); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s %s\n", o.ID, o)
	return nil
}

func runOrdersList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	statuses := make([]broker.OrderStatus, 0, len(orderFlags.status))
	for _, s := range orderFlags.status {
		statuses = append(statuses, broker.OrderStatus(s))
	}
	orders, err := store.ListOrders(cmd.Context(), orderFlags.run, statuses...)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tORDER\tCOMMISSION")
	for _, o := range orders {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.ID, o.Status, o, o.Commission.StringFixed(2))
	}
	return w.Flush()
}
