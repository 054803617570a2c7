package journal

import (
	"encoding/csv"
	"io"
	"time"
)

var executionHeader = []string{
	"exec_id", "order_id", "run_id", "position_id", "symbol", "action",
	"price", "quantity", "commission", "time",
}

// WriteExecutionsCSV writes execs with a header row.
func WriteExecutionsCSV(w io.Writer, execs []Execution) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(executionHeader); err != nil {
		return err
	}
	for _, e := range execs {
		if err := cw.Write([]string{
			e.ExecID,
			e.OrderID,
			e.RunID,
			e.PositionID,
			e.Symbol,
			string(e.Action),
			e.Price.String(),
			e.Quantity.String(),
			e.Commission.String(),
			e.Time.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
