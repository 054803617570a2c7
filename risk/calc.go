package risk

import "github.com/shopspring/decimal"

// PlannedRisk is the cash lost if the stop is hit.
func PlannedRisk(qty, entry, stop decimal.Decimal) decimal.Decimal {
	return qty.Abs().Mul(entry.Sub(stop).Abs())
}

// RR is reward over risk for a trade, or zero when the stop sits on the
// entry.
func RR(entry, stop, target decimal.Decimal) decimal.Decimal {
	risk := entry.Sub(stop).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	return target.Sub(entry).Abs().Div(risk)
}

// RiskPct is planned risk as a fraction of equity.
func RiskPct(planned, equity decimal.Decimal) decimal.Decimal {
	if equity.Sign() <= 0 {
		return decimal.NewFromInt(1)
	}
	return planned.Div(equity)
}
