package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/tradesim/journal"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/sim"
	"github.com/shopspring/decimal"
)

// Summary is the outcome of one symbol's replay.
type Summary struct {
	RunID    string
	Symbol   string
	Strategy string
	Day      time.Time
	Result   sim.Result
	Elapsed  time.Duration

	Trades int
	Wins   int
	Losses int
	Open   int
	NetPL  decimal.Decimal

	Err error
}

func (s *Summary) tally(positions []journal.PositionRecord) {
	s.NetPL = decimal.Zero
	for _, p := range positions {
		if p.IsOpen() {
			s.Open++
			continue
		}
		s.Trades++
		pl := p.RealizedPL()
		s.NetPL = s.NetPL.Add(pl)
		switch pl.Sign() {
		case 1:
			s.Wins++
		case -1:
			s.Losses++
		}
	}
}

// WinRate is wins over closed trades, in percent.
func (s Summary) WinRate() decimal.Decimal {
	if s.Trades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Wins)).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(s.Trades)))
}

func PrintSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, " Replay %s\n", s.Symbol)
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Run ID:        %s\n", s.RunID)
	fmt.Fprintf(w, "Strategy:      %s\n", s.Strategy)
	if !s.Day.IsZero() {
		fmt.Fprintf(w, "Day:           %s\n", s.Day.Format("2006-01-02"))
	}
	if s.Err != nil {
		fmt.Fprintf(w, "Error:         %v\n", s.Err)
		fmt.Fprintln(w)
		return
	}

	r := s.Result
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Replay")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Bar Size:      %s\n", timeframe(r.BarSize))
	fmt.Fprintf(w, "Replayed At:   %s\n", timeframe(r.ReplayBarSize))
	fmt.Fprintf(w, "Candles:       %d (%d live)\n", r.Candles, r.Live)
	fmt.Fprintf(w, "Fills:         %d\n", r.Fills)
	fmt.Fprintf(w, "Cancels:       %d\n", r.Cancels)
	if r.Errors > 0 {
		fmt.Fprintf(w, "Fill Errors:   %d\n", r.Errors)
	}
	if r.Interrupted {
		fmt.Fprintln(w, "Interrupted:   yes")
	}
	fmt.Fprintf(w, "Elapsed:       %s\n", s.Elapsed.Round(time.Millisecond))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:        %d\n", s.Trades)
	fmt.Fprintf(w, "Wins:          %d\n", s.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", s.Losses)
	fmt.Fprintf(w, "Win Rate:      %s%%\n", s.WinRate().StringFixed(2))
	fmt.Fprintf(w, "Net P/L:       %s\n", s.NetPL.StringFixed(2))
	if s.Open > 0 {
		fmt.Fprintf(w, "Still Open:    %d\n", s.Open)
	}
	fmt.Fprintln(w)
}

func timeframe(size int64) string {
	if size == 0 {
		return "-"
	}
	if tf, err := market.SecondsToTFString(size); err == nil {
		return tf
	}
	return fmt.Sprintf("%ds", size)
}
