package domain

import "github.com/shopspring/decimal"

var sixty = decimal.NewFromInt(60)

// ExactMinutes converts seconds to minutes at four decimal places. Billing
// uses this value.
func ExactMinutes(seconds int64) decimal.Decimal {
	if seconds <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(seconds).DivRound(sixty, 4)
}

// RoundedMinutes rounds exact minutes up to the next whole minute for
// allowance display.
func RoundedMinutes(exact decimal.Decimal) int64 {
	return exact.Ceil().IntPart()
}
