package domain

import "github.com/shopspring/decimal"

// LoyaltyConfig holds the three program constants: how much net spend
// earns one block of points (EarnThreshold), how many points a block is
// worth (EarnRate), and the monetary value of a single point when
// redeemed (PointValue).
type LoyaltyConfig struct {
	EarnThreshold decimal.Decimal
	EarnRate      int64
	PointValue    decimal.Decimal
}

func (c LoyaltyConfig) Enabled() bool {
	return c.EarnThreshold.IsPositive() && c.EarnRate > 0
}

// AccruedPoints converts net spend into points: floor(net / threshold) * rate.
// Non-positive spend earns nothing.
func (c LoyaltyConfig) AccruedPoints(netTotal decimal.Decimal) int64 {
	if !c.Enabled() || !netTotal.IsPositive() {
		return 0
	}
	blocks := netTotal.Div(c.EarnThreshold).Floor().IntPart()
	return blocks * c.EarnRate
}

// RevertedPoints computes the points to claw back for a refund:
// floor((refund / threshold) * rate).
func (c LoyaltyConfig) RevertedPoints(refundAmount decimal.Decimal) int64 {
	if !c.Enabled() || !refundAmount.IsPositive() {
		return 0
	}
	rate := decimal.NewFromInt(c.EarnRate)
	return refundAmount.Div(c.EarnThreshold).Mul(rate).Floor().IntPart()
}

// Redemption resolves a redemption request against a balance and the
// pre-discount total. Requests above the balance are rejected by the
// caller; requests whose monetary value exceeds the total are silently
// clamped down to the largest whole-point discount that fits, and the
// effective points used are recomputed.
func (c LoyaltyConfig) Redemption(requestedPoints int64, preDiscountTotal decimal.Decimal) (discount decimal.Decimal, pointsUsed int64) {
	if requestedPoints <= 0 || !c.PointValue.IsPositive() || !preDiscountTotal.IsPositive() {
		return decimal.Zero, 0
	}
	discount = decimal.NewFromInt(requestedPoints).Mul(c.PointValue)
	if discount.GreaterThan(preDiscountTotal) {
		pointsUsed = preDiscountTotal.Div(c.PointValue).Floor().IntPart()
		discount = decimal.NewFromInt(pointsUsed).Mul(c.PointValue)
		return RoundMoney(discount), pointsUsed
	}
	return RoundMoney(discount), requestedPoints
}

// ApplyBalanceDelta folds a redemption and an accrual into one balance
// update. Balances never persist below zero.
func ApplyBalanceDelta(current, spent, earned int64) int64 {
	next := current - spent + earned
	if next < 0 {
		return 0
	}
	return next
}
