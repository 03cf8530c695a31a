package receipt

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money describes how amounts are written on paper
type Money struct {
	Symbol    string `yaml:"symbol"`
	Thousands string `yaml:"thousands"`
	Decimal   string `yaml:"decimal"`
	Places    int32  `yaml:"places"`
}

// DefaultMoney writes whole pesos with dot grouping: $29.000
func DefaultMoney() Money {
	return Money{Symbol: "$", Thousands: ".", Decimal: ",", Places: 0}
}

// Format renders d rounded to the configured places
func (m Money) Format(d decimal.Decimal) string {
	neg := d.IsNegative()
	fixed := d.Abs().StringFixed(m.Places)

	intPart, frac, _ := strings.Cut(fixed, ".")

	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	sb.WriteString(m.Symbol)
	sb.WriteString(group(intPart, m.Thousands))
	if m.Places > 0 {
		sb.WriteString(m.Decimal)
		sb.WriteString(frac)
	}
	return sb.String()
}

// Round rounds d the way Format does
func (m Money) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(m.Places)
}

// Total adds up the line totals as they are printed, each one rounded first,
// so the rows on paper always sum to the printed total.
func (m Money) Total(lines []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(m.Round(l.Total()))
	}
	return sum
}

// Parse reads back an amount written by Format
func (m Money) Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, m.Symbol)
	if m.Thousands != "" {
		s = strings.ReplaceAll(s, m.Thousands, "")
	}
	if m.Decimal != "" && m.Decimal != "." {
		s = strings.ReplaceAll(s, m.Decimal, ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("receipt: parse amount %q: %w", s, err)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

func group(digits, sep string) string {
	if sep == "" || len(digits) <= 3 {
		return digits
	}
	var sb strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		sb.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if sb.Len() > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(digits[i : i+3])
	}
	return sb.String()
}

var moneySample = decimal.New(1234567, 0)
