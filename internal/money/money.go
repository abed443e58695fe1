// Package money defines the integer currency amount used for budgets and
// bids, and its lakh/crore display form.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a whole number of currency units. Arithmetic on bids and
// budgets never uses floating point.
type Amount int64

const (
	Lakh  Amount = 100_000
	Crore Amount = 10_000_000
)

// Format renders a in the short Indian notation used on auction boards:
// 5000000 -> "50L", 12500000 -> "1.3Cr", 75000 -> "₹75,000" (with the given symbol).
func Format(a Amount, symbol string) string {
	if a == 0 {
		return "0"
	}
	switch {
	case a >= Crore:
		return scaled(a, Crore) + "Cr"
	case a >= Lakh:
		return scaled(a, Lakh) + "L"
	default:
		return symbol + grouped(int64(a))
	}
}

// scaled divides a by unit and keeps at most one decimal place, dropping
// a trailing ".0".
func scaled(a, unit Amount) string {
	d := decimal.NewFromInt(int64(a)).Div(decimal.NewFromInt(int64(unit)))
	if d.IsInteger() {
		return d.String()
	}
	return d.Round(1).StringFixed(1)
}

func grouped(n int64) string {
	if n < 0 {
		return "-" + grouped(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	pre := len(s) % 3
	if pre > 0 {
		out = append(out, s[:pre]...)
	}
	for i := pre; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
