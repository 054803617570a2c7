package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation

	PlannedRisk    decimal.Decimal
	PlannedRiskPct decimal.Decimal
	PlannedRR      decimal.Decimal
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

func (d Decision) Error() string {
	if len(d.Violations) == 0 {
		return ""
	}
	return fmt.Sprintf("%s: %s", d.Violations[0].Code, d.Violations[0].Msg)
}

// Evaluate checks a planned trade against p for an account of equity.
func Evaluate(p Policy, intent TradeIntent, equity decimal.Decimal) Decision {
	d := Decision{Allowed: true}

	if intent.Stop.IsZero() || intent.Entry.IsZero() {
		d.add("NO_STOP_OR_ENTRY", "entry/stop must be set")
		return d
	}
	if intent.Quantity.IsZero() {
		d.add("NO_QUANTITY", "quantity must be non-zero")
		return d
	}

	hundred := decimal.NewFromInt(100)
	d.PlannedRisk = PlannedRisk(intent.Quantity, intent.Entry, intent.Stop)
	d.PlannedRiskPct = RiskPct(d.PlannedRisk, equity)

	if !p.MaxRiskPct.IsZero() && d.PlannedRiskPct.GreaterThan(p.MaxRiskPct) {
		d.add("RISK_TOO_HIGH", fmt.Sprintf("planned risk %s%% exceeds max %s%%",
			d.PlannedRiskPct.Mul(hundred).StringFixed(2), p.MaxRiskPct.Mul(hundred).StringFixed(2)))
	}
	if !intent.Target.IsZero() {
		d.PlannedRR = RR(intent.Entry, intent.Stop, intent.Target)
		if d.PlannedRR.LessThan(p.MinRR) {
			d.add("RR_TOO_LOW", fmt.Sprintf("RR %s below minimum %s",
				d.PlannedRR.StringFixed(2), p.MinRR.StringFixed(2)))
		}
	}
	return d
}
