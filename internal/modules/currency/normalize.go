// Package currency provides currency normalization, the historic rate cache
// and the FX conversion service.
package currency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var hundredth = decimal.New(1, -2)

// ErrUnknownCurrency is returned for codes that are neither ISO 4217 nor a
// known minor-unit alias.
var ErrUnknownCurrency = errors.New("unknown currency")

// minorUnits maps minor-unit tickers used by exchanges to their parent
// currency. Pence-style codes are case-sensitive (GBp vs GBP).
var minorUnits = map[string]string{
	"GBX": "GBP",
	"GBp": "GBP",
	"ZAC": "ZAR",
	"ZAc": "ZAR",
	"ILA": "ILS",
	"ILa": "ILS",
}

// Normalized is a currency code resolved to its major unit. Amounts in the
// original code multiply by Factor to become amounts in Code.
type Normalized struct {
	Code   string
	Factor decimal.Decimal
}

// Normalize resolves aliases and validates the ISO code.
func Normalize(code string) (Normalized, error) {
	code = strings.TrimSpace(code)
	if parent, ok := minorUnits[code]; ok {
		return Normalized{Code: parent, Factor: hundredth}, nil
	}
	upper := strings.ToUpper(code)
	if parent, ok := minorUnits[upper]; ok {
		return Normalized{Code: parent, Factor: hundredth}, nil
	}
	if upper == "" || money.GetCurrency(upper) == nil {
		return Normalized{}, fmt.Errorf("%w %q", ErrUnknownCurrency, code)
	}
	return Normalized{Code: upper, Factor: decimal.NewFromInt(1)}, nil
}

// IsMinorUnit reports whether code is a minor-unit alias.
func IsMinorUnit(code string) bool {
	_, ok := minorUnits[strings.TrimSpace(code)]
	return ok
}

// Fraction returns the number of decimal places used by the currency.
// Unknown codes default to 2.
func Fraction(code string) int32 {
	if c := money.GetCurrency(strings.ToUpper(code)); c != nil {
		return int32(c.Fraction)
	}
	return 2
}

// Round rounds amount to the currency's minor unit.
func Round(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Round(Fraction(code))
}
