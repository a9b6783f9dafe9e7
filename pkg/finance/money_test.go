package finance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyArithmetic(t *testing.T) {
	a := NewMoney(25000, "AUD")
	b := NewMoney(500, "AUD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(25500), sum.AmountCents)

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, int64(24500), diff.AmountCents)

	_, err = a.Add(NewMoney(1, "USD"))
	assert.Error(t, err)
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "250.00 AUD", NewMoney(25000, "AUD").String())
	assert.Equal(t, "0.05 AUD", NewMoney(5, "AUD").String())
	assert.Equal(t, "-12.34 AUD", NewMoney(-1234, "AUD").String())
}

func TestAbsDiffCents(t *testing.T) {
	assert.Equal(t, int64(500), AbsDiffCents(25000, 24500))
	assert.Equal(t, int64(500), AbsDiffCents(24500, 25000))
	assert.Zero(t, AbsDiffCents(100, 100))
}

func TestParseCents(t *testing.T) {
	cases := map[string]int64{
		"250.00":   25000,
		"250":      25000,
		"1,234.5":  123450,
		"0.05":     5,
		".5":       50,
		"-12.34":   -1234,
		" 99.99 ":  9999,
	}
	for in, want := range cases {
		got, err := ParseCents(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "1.234", "abc"} {
		_, err := ParseCents(in)
		assert.Error(t, err, in)
	}
}
