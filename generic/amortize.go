/*
amortize.go - Weekly installment math for advances

PURPOSE:
  An advance is recovered in equal weekly installments. The installment is
  rounded UP to the cent so the principal is fully recovered by the last
  week; the final installment is whatever is left and may be smaller.

EXAMPLE:
  Amortize(1000.00, 3)            = 333.34
  Installments(1000.00, 333.34)   = [333.34, 333.34, 333.32]
  Installments(900.00, 300.00)    = [300.00, 300.00, 300.00]

SEE ALSO:
  - advance/schedule.go: Projects installments onto payroll weeks
*/
package generic

import "github.com/shopspring/decimal"

// Amortize returns the weekly installment for principal over weeks:
// ceiling(principal / weeks) at cent precision. Returns Zero for weeks <= 0.
func Amortize(principal Money, weeks int) Money {
	if weeks <= 0 || !principal.IsPositive() {
		return Zero
	}
	q := principal.Value.Div(decimal.NewFromInt(int64(weeks)))
	return Money{Value: q.RoundCeil(CentPlaces)}
}

// Installments splits outstanding into payments of weekly, capping the last
// one at the remaining balance. An empty slice is returned when either
// amount is not positive.
func Installments(outstanding, weekly Money) []Money {
	if !outstanding.IsPositive() || !weekly.IsPositive() {
		return nil
	}
	var out []Money
	remaining := outstanding
	for remaining.IsPositive() {
		pay := weekly.Min(remaining)
		out = append(out, pay)
		remaining = remaining.Sub(pay)
	}
	return out
}

// NextInstallment is the amount due this week: the weekly amount capped at
// what is still outstanding.
func NextInstallment(outstanding, weekly Money) Money {
	if !outstanding.IsPositive() {
		return Zero
	}
	return weekly.Min(outstanding)
}
