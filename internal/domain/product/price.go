package product

import "github.com/shopspring/decimal"

// Price bounds. A decimal's exponent is unbounded, so anything outside these
// is rejected before it reaches comparisons or arithmetic.
const (
	MaxPriceIntDigits = 12
	MaxPriceScale     = 12
)

// PriceInRange reports whether d has at most MaxPriceIntDigits digits before
// the decimal point and at most MaxPriceScale after it. It only inspects the
// exponent and coefficient, so it is cheap for any input.
func PriceInRange(d decimal.Decimal) bool {
	exp := int(d.Exponent())
	if exp < -MaxPriceScale || exp > MaxPriceIntDigits {
		return false
	}
	digits := d.NumDigits()
	return digits <= MaxPriceIntDigits+MaxPriceScale && digits+exp <= MaxPriceIntDigits
}
