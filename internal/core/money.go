// Package core provides money parsing and handling utilities.
//
// Amounts are kept as decimal.Decimal end to end. Parsing accepts both dot
// (12.34) and comma (12,34) separators and rounds half-up to two places.
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidBalance = errors.New("invalid balance")
)

var (
	minAmount  = decimal.NewFromInt(1)
	maxAmount  = decimal.NewFromInt(1_000_000_000)
	maxBalance = decimal.RequireFromString("9999999999.99")
)

func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, false
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d.Round(2), true
}

// ParseAmount parses a transaction amount in the range 1..1,000,000,000.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,345") -> 12.35, nil (half-up)
//	ParseAmount("0.5") -> error
func ParseAmount(s string) (decimal.Decimal, error) {
	d, ok := parseDecimal(s)
	if !ok || d.LessThan(minAmount) || d.GreaterThan(maxAmount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseBalance parses a starting balance in the range 0..9,999,999,999.99.
func ParseBalance(s string) (decimal.Decimal, error) {
	d, ok := parseDecimal(s)
	if !ok || d.IsNegative() || d.GreaterThan(maxBalance) {
		return decimal.Zero, ErrInvalidBalance
	}
	return d, nil
}

// FormatAmount renders an amount with a space thousands separator and no
// trailing zero cents ("1 250", "12.50").
func FormatAmount(d decimal.Decimal) string {
	d = d.Round(2)
	neg := d.IsNegative()
	s := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if frac != "00" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// Sum adds amounts without losing precision.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
