package risk

import "github.com/shopspring/decimal"

type Inputs struct {
	Equity  decimal.Decimal
	RiskPct decimal.Decimal // 0.005 risks half a percent
	Entry   decimal.Decimal
	Stop    decimal.Decimal

	// Lot rounds the size down to a multiple of itself. Zero means 1.
	Lot decimal.Decimal
}

type Result struct {
	Quantity   decimal.Decimal
	RiskAmount decimal.Decimal
	PerShare   decimal.Decimal
}

// SizeForRisk sizes a position so that hitting the stop loses about
// Equity*RiskPct.
func SizeForRisk(in Inputs) Result {
	perShare := in.Entry.Sub(in.Stop).Abs()
	amount := in.Equity.Mul(in.RiskPct)
	res := Result{Quantity: decimal.Zero, RiskAmount: amount, PerShare: perShare}
	if perShare.IsZero() || amount.Sign() <= 0 {
		return res
	}

	lot := in.Lot
	if lot.Sign() <= 0 {
		lot = decimal.NewFromInt(1)
	}
	lots := amount.Div(perShare).Div(lot).Floor()
	res.Quantity = lots.Mul(lot)
	return res
}
