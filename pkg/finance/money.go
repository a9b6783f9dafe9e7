// Package finance provides integer-cent monetary values. All amount
// comparisons in the matcher are exact to the cent; floats never touch
// money.
package finance

import (
	"fmt"
	"strconv"
	"strings"
)

// Money represents a monetary value in minor units of a currency.
type Money struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"` // ISO 4217 code
}

// NewMoney creates a Money value in minor units.
func NewMoney(cents int64, currency string) Money {
	return Money{AmountCents: cents, Currency: currency}
}

// Add adds two Money amounts. Returns an error on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountCents: m.AmountCents + other.AmountCents, Currency: m.Currency}, nil
}

// Sub subtracts other from m. Returns an error on currency mismatch.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountCents: m.AmountCents - other.AmountCents, Currency: m.Currency}, nil
}

// IsZero returns true if the amount is 0.
func (m Money) IsZero() bool { return m.AmountCents == 0 }

// IsNegative returns true if the amount is < 0.
func (m Money) IsNegative() bool { return m.AmountCents < 0 }

// AbsDiffCents returns the absolute cent difference between two amounts,
// ignoring currency. Used by the amount-window matcher.
func AbsDiffCents(a, b int64) int64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}

// String formats the amount as a decimal with two places, e.g. "250.00 AUD".
func (m Money) String() string {
	sign := ""
	c := m.AmountCents
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, c/100, c%100, m.Currency)
}

// ParseCents parses a decimal amount string ("250.00", "1,234.5") into
// integer cents. At most two fractional digits are accepted.
func ParseCents(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has sub-cent precision", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}
