package currency

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in     string
		code   string
		factor string
	}{
		{"USD", "USD", "1"},
		{"eur", "EUR", "1"},
		{"GBX", "GBP", "0.01"},
		{"GBp", "GBP", "0.01"},
		{"ZAC", "ZAR", "0.01"},
		{"ILA", "ILS", "0.01"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			n, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.code, n.Code)
			assert.True(t, decimal.RequireFromString(tt.factor).Equal(n.Factor))
		})
	}

	_, err := Normalize("XXQ")
	assert.Error(t, err)
	_, err = Normalize("")
	assert.Error(t, err)
}

func TestFractionAndRound(t *testing.T) {
	assert.Equal(t, int32(2), Fraction("USD"))
	assert.Equal(t, int32(0), Fraction("JPY"))
	assert.True(t, decimal.RequireFromString("101").Equal(Round(decimal.RequireFromString("100.5"), "JPY")))
	assert.True(t, decimal.RequireFromString("1.23").Equal(Round(decimal.RequireFromString("1.2345"), "EUR")))
}

func TestIsMinorUnit(t *testing.T) {
	assert.True(t, IsMinorUnit("GBp"))
	assert.False(t, IsMinorUnit("GBP"))
}
