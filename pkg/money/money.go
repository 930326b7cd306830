// Package money provides integer arithmetic for minor-unit currency amounts.
// Rates are expressed in basis points (1 bps = 0.01%).
package money

// RoundBps multiplies amount by a basis-point rate, rounding half up.
func RoundBps(amount, bps int64) int64 {
	if amount == 0 || bps == 0 {
		return 0
	}
	product := amount * bps
	if product < 0 {
		return -((-product + 5000) / 10000)
	}
	return (product + 5000) / 10000
}
