// Package money converts between decimal currency strings and integer cents.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNotNumeric = errors.New("not a number")
	ErrTooPrecise = errors.New("more than two decimal places")
	ErrOutOfRange = errors.New("amount out of range")
)

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(1 << 53)
)

// Parse reads a decimal amount such as "150.00" or "-12.5" into cents.
// A comma is accepted as the decimal separator when no dot is present.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrNotNumeric
	}
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, ErrNotNumeric)
	}
	return FromDecimal(d)
}

// FromDecimal converts d to cents, rejecting sub-cent precision.
func FromDecimal(d decimal.Decimal) (int64, error) {
	cents := d.Mul(hundred)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("%s: %w", d.String(), ErrTooPrecise)
	}
	if cents.Abs().GreaterThan(maxCents) {
		return 0, fmt.Errorf("%s: %w", d.String(), ErrOutOfRange)
	}
	return cents.IntPart(), nil
}

// Decimal returns cents as a decimal amount.
func Decimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Format renders cents with exactly two decimal places.
func Format(cents int64) string {
	return Decimal(cents).StringFixed(2)
}
