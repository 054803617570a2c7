package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatPositionOrg renders a position and its fills as an Org-mode
// block for pasting into a trading journal. Structured facts go in the
// PROPERTIES drawer; the narrative headings are left for the trader.
func FormatPositionOrg(p PositionRecord, execs []Execution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** Position: %s %s (%s)\n", p.Symbol, p.Side, shortID(p.ID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ID: %s\n", p.ID)
	fmt.Fprintf(&b, ":RUN_ID: %s\n", p.RunID)
	fmt.Fprintf(&b, ":INSTRUMENT: %s\n", p.Symbol)
	fmt.Fprintf(&b, ":SIDE: %s\n", p.Side)
	fmt.Fprintf(&b, ":BUY_QTY: %s\n", p.BuyQuantity)
	fmt.Fprintf(&b, ":SELL_QTY: %s\n", p.SellQuantity)
	fmt.Fprintf(&b, ":AVG_PRICE: %s\n", p.AvgPrice().StringFixed(4))
	fmt.Fprintf(&b, ":OPEN_TIME: %s\n", p.OpenTime.UTC().Format(time.RFC3339))
	if p.CloseTime.IsZero() {
		b.WriteString(":CLOSE_TIME: open\n")
	} else {
		fmt.Fprintf(&b, ":CLOSE_TIME: %s\n", p.CloseTime.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, ":REALIZED_PL: %s\n", p.RealizedPL().StringFixed(2))
	}
	fmt.Fprintf(&b, ":COMMISSION: %s\n", p.Commission.StringFixed(2))
	b.WriteString(":END:\n\n")

	if len(execs) > 0 {
		b.WriteString("*** Fills\n")
		b.WriteString("| Time | Action | Qty | Price | Commission |\n")
		b.WriteString("|------+--------+-----+-------+------------|\n")
		for _, e := range execs {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				e.Time.UTC().Format("15:04:05"), e.Action, e.Quantity, e.Price, e.Commission.StringFixed(2))
		}
		b.WriteString("\n")
	}

	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n- \n\n")
	b.WriteString("*** Review\n- \n")
	return b.String()
}

// PositionExecutions filters execs down to the fills of one position.
func PositionExecutions(positionID string, execs []Execution) []Execution {
	var out []Execution
	for _, e := range execs {
		if e.PositionID == positionID {
			out = append(out, e)
		}
	}
	return out
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
