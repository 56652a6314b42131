package domain

import "github.com/shopspring/decimal"

// Monetary precision rules: amounts persist with 2 decimal places, unit
// refunds carry 4 decimals before the final per-line rounding, and
// quantities carry 3 decimals for weighed goods. Rounding is half away
// from zero, which matches half-up on the sign-separated positive
// accumulations used throughout.

func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func RoundUnitRefund(d decimal.Decimal) decimal.Decimal {
	return d.Round(4)
}

func RoundQty(d decimal.Decimal) decimal.Decimal {
	return d.Round(3)
}

// UnitRefund derives the per-unit refund value of a sold line from its
// recorded total, so partial returns stay proportional to what was
// actually charged (after the line-level price in effect at sale time).
func UnitRefund(lineTotal decimal.Decimal, originalQty decimal.Decimal) decimal.Decimal {
	if originalQty.IsZero() {
		return decimal.Zero
	}
	return RoundUnitRefund(lineTotal.Div(originalQty))
}

// LineRefund is the 2-decimal refund for returning qty units of a line.
func LineRefund(unitRefund decimal.Decimal, qty decimal.Decimal) decimal.Decimal {
	return RoundMoney(unitRefund.Mul(qty))
}
