package core

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var numericPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ParseAmount reads the leading number of s, the way spreadsheet exports
// are commonly read: "12.5 EUR" is 12.5, a decimal comma is accepted.
// No sign or range check is applied.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	m := numericPrefix.FindString(s)
	if m == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return d.InexactFloat64(), nil
}

// Tally accumulates amounts without float drift.
type Tally struct {
	sum decimal.Decimal
}

func (t *Tally) Add(amount float64) {
	t.sum = t.sum.Add(decimal.NewFromFloat(amount))
}

func (t Tally) Sub(o Tally) Tally {
	return Tally{sum: t.sum.Sub(o.sum)}
}

func (t Tally) Float64() float64 {
	return t.sum.InexactFloat64()
}
