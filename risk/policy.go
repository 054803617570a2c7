package risk

import "github.com/shopspring/decimal"

type Policy struct {
	// Risk limits, as fractions of equity
	DefaultRiskPct decimal.Decimal // 0.005
	MaxRiskPct     decimal.Decimal // 0.01

	// Trade constraints
	MinRR decimal.Decimal // 1.5
}

func DefaultPolicy() Policy {
	return Policy{
		DefaultRiskPct: decimal.RequireFromString("0.005"),
		MaxRiskPct:     decimal.RequireFromString("0.01"),
		MinRR:          decimal.RequireFromString("1.5"),
	}
}

type TradeIntent struct {
	Symbol   string
	Quantity decimal.Decimal
	Entry    decimal.Decimal
	Stop     decimal.Decimal
	Target   decimal.Decimal // zero when the trade has no fixed target
}
