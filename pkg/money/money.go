// Package money formats totals for display. Totals stay full-precision
// float64 inside the cart; rounding to cents happens only here.
package money

import "github.com/shopspring/decimal"

// Round2 rounds half away from zero to two decimals.
func Round2(amount float64) decimal.Decimal {
	return decimal.NewFromFloat(amount).Round(2)
}

// Format renders amount with two decimals and an optional currency suffix.
func Format(amount float64, currency string) string {
	s := Round2(amount).StringFixed(2)
	if currency != "" {
		s += " " + currency
	}
	return s
}
