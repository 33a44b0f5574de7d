// Package core provides money parsing and handling utilities.
//
// Amounts are held as integer minor units (cents) so that sums computed by
// the store are exact. Conversion to and from decimal strings goes through
// shopspring/decimal.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseMoney converts a decimal string to cents with half-up rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and a
// leading sign, since secondary-currency amounts may be negative.
//
// Examples:
//
//	ParseMoney("12.34")  -> Money{1234}, nil
//	ParseMoney("-12,345") -> Money{-1235}, nil
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	cents := d.Shift(2).Round(0)
	if cents.Abs().GreaterThan(decimal.New(1<<62, 0)) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with two fixed decimals, e.g. "-12.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalText lets Money appear as a decimal string in JSON payloads.
func (m Money) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalText(b []byte) error {
	v, err := ParseMoney(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
