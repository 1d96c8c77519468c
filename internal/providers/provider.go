// Package providers defines the market data provider contract and the
// failover chain that resolves requests across configured providers.
package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/shopspring/decimal"
)

// Operation is a data request a provider may support.
type Operation string

const (
	OpExists    Operation = "exists"
	OpQuote     Operation = "quote"
	OpHistory   Operation = "history"
	OpDividends Operation = "dividends"
	OpSplits    Operation = "splits"
)

// Instrument identifies what is being asked for. Currency pairs carry Base
// and Quote; equities carry Symbol and Market.
type Instrument struct {
	Symbol string
	Market string
	Base   string
	Quote  string
	Class  domain.AssetClass
}

// Equity builds an equity instrument, deriving the market from the symbol's
// exchange suffix.
func Equity(symbol string) Instrument {
	return Instrument{Symbol: symbol, Class: domain.AssetEquity, Market: MarketForSymbol(symbol)}
}

// CurrencyPair builds an FX instrument quoting base in units of quote.
func CurrencyPair(base, quote string) Instrument {
	return Instrument{
		Symbol: base + "/" + quote,
		Class:  domain.AssetCurrency,
		Base:   base,
		Quote:  quote,
	}
}

func (i Instrument) String() string {
	return i.Symbol
}

// exchangeMarkets maps exchange suffixes to ISO country codes.
var exchangeMarkets = map[string]string{
	"L":     "GB",
	"IL":    "GB",
	"DE":    "DE",
	"F":     "DE",
	"XETRA": "DE",
	"PA":    "FR",
	"AS":    "NL",
	"BR":    "BE",
	"MI":    "IT",
	"MC":    "ES",
	"SW":    "CH",
	"ST":    "SE",
	"CO":    "DK",
	"OL":    "NO",
	"HE":    "FI",
	"VI":    "AT",
	"LS":    "PT",
	"IR":    "IE",
	"TO":    "CA",
	"V":     "CA",
	"AX":    "AU",
	"HK":    "HK",
	"T":     "JP",
	"JO":    "ZA",
	"TA":    "IL",
	"SI":    "SG",
	"US":    "US",
}

// MarketForSymbol returns the ISO country code for a symbol's exchange
// suffix. Symbols without a suffix are US listings; unknown suffixes yield "".
func MarketForSymbol(symbol string) string {
	idx := strings.LastIndex(symbol, ".")
	if idx < 0 || idx == len(symbol)-1 {
		return "US"
	}
	return exchangeMarkets[strings.ToUpper(symbol[idx+1:])]
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", domain.FormatDate(r.From), domain.FormatDate(r.To))
}

// Quote is the latest known price for an instrument.
type Quote struct {
	AsOf     time.Time
	Currency string
	Price    decimal.Decimal
}

// DividendEvent is a per-share cash distribution.
type DividendEvent struct {
	Date     time.Time
	Currency string
	Amount   decimal.Decimal
}

// SplitEvent is a share split of Numerator new shares for Denominator old ones.
type SplitEvent struct {
	Date        time.Time
	Numerator   decimal.Decimal
	Denominator decimal.Decimal
}

// Ratio returns the quantity multiplier applied by the split.
func (s SplitEvent) Ratio() decimal.Decimal {
	if s.Denominator.IsZero() {
		return decimal.NewFromInt(1)
	}
	return s.Numerator.Div(s.Denominator)
}

// Capabilities declares what a provider can serve. An empty Markets list
// means any market.
type Capabilities struct {
	Operations []Operation
	Classes    []domain.AssetClass
	Markets    []string
}

// Supports reports whether the provider can serve op for inst.
func (c Capabilities) Supports(op Operation, inst Instrument) bool {
	if !containsOp(c.Operations, op) {
		return false
	}
	classOK := false
	for _, cl := range c.Classes {
		if cl == inst.Class {
			classOK = true
			break
		}
	}
	if !classOK {
		return false
	}
	if inst.Class != domain.AssetEquity || len(c.Markets) == 0 {
		return true
	}
	for _, m := range c.Markets {
		if m == inst.Market {
			return true
		}
	}
	return false
}

func containsOp(ops []Operation, op Operation) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

// Provider is an external source of price, FX, dividend and split data.
// Implementations return domain.ErrUnsupported for requests outside their
// capabilities, domain.ErrNotFound when they have no data,
// *domain.ProviderConfigError when unusable, and *domain.ProviderTransientError
// for failures worth retrying.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Exists(ctx context.Context, inst Instrument) (bool, error)
	Quote(ctx context.Context, inst Instrument) (*Quote, error)
	History(ctx context.Context, inst Instrument, rng DateRange) ([]domain.PricePoint, error)
	Dividends(ctx context.Context, inst Instrument, rng DateRange) ([]DividendEvent, error)
	Splits(ctx context.Context, inst Instrument, rng DateRange) ([]SplitEvent, error)
}
