package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var maxInt64 = decimal.NewFromInt(math.MaxInt64)

// ParseAmount converts a decimal currency string (e.g. "12.50") into int64
// minor units using the given number of currency decimals. It rejects values
// with more precision than decimals and values that do not fit in int64.
func ParseAmount(s string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid monetary value %q", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("monetary values must have at most %d decimal places", decimals)
	}
	if scaled.Abs().GreaterThan(maxInt64) {
		return 0, fmt.Errorf("monetary value %q is out of range", s)
	}
	return scaled.IntPart(), nil
}

// FormatAmount renders int64 minor units as a fixed-point decimal string.
func FormatAmount(v int64, decimals int32) string {
	return decimal.New(v, -decimals).StringFixed(decimals)
}

// Cost returns amount × price, failing with ErrInvalidAmount when either
// operand is not positive or the product overflows int64.
func Cost(amount, price int64) (int64, error) {
	if amount <= 0 || price <= 0 {
		return 0, ErrInvalidAmount
	}
	if amount > math.MaxInt64/price {
		return 0, fmt.Errorf("cost of %d shares at %d overflows: %w", amount, price, ErrInvalidAmount)
	}
	return amount * price, nil
}
