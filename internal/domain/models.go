// Package domain provides core domain models and types.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the economic kind of a ledger transaction.
type TransactionType string

const (
	TransactionBuy  TransactionType = "buy"
	TransactionSell TransactionType = "sell"
	// TransactionTransfer moves units in (positive quantity, priced as cost)
	// or out (negative quantity, no realized gain).
	TransactionTransfer TransactionType = "transfer"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionBuy, TransactionSell, TransactionTransfer:
		return true
	}
	return false
}

// AssetClass groups instruments by the kind of market data they need.
type AssetClass string

const (
	AssetEquity   AssetClass = "equity"
	AssetCurrency AssetClass = "currency"
)

// Portfolio is the owner of holdings and of the daily valuation series.
type Portfolio struct {
	CreatedAt    time.Time `json:"created_at"`
	Name         string    `json:"name"`
	BaseCurrency string    `json:"base_currency"`
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
}

// Security is the registry entry for a tradable symbol.
type Security struct {
	Symbol   string     `json:"symbol"`
	Name     string     `json:"name"`
	Currency string     `json:"currency"`
	Market   string     `json:"market"` // ISO country code derived from the exchange suffix
	Class    AssetClass `json:"class"`
}

// Transaction is an immutable economic event. ID doubles as the insertion
// sequence used to break ties between transactions on the same trade date.
type Transaction struct {
	TradeDate        time.Time       `json:"trade_date"`
	CreatedAt        time.Time       `json:"created_at"`
	Type             TransactionType `json:"type"`
	Symbol           string          `json:"symbol"`
	Currency         string          `json:"currency"`
	OriginalCurrency string          `json:"original_currency"`
	Quantity         decimal.Decimal `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	OriginalPrice    decimal.Decimal `json:"original_price"`
	ID               int64           `json:"id"`
	PortfolioID      int64           `json:"portfolio_id"`
}

// Value returns quantity × price in the transaction currency.
func (t Transaction) Value() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// Dividend is a cash event tied to a holding.
type Dividend struct {
	PayDate     time.Time       `json:"pay_date"`
	Symbol      string          `json:"symbol"`
	Currency    string          `json:"currency"`
	Amount      decimal.Decimal `json:"amount"`
	ID          int64           `json:"id"`
	PortfolioID int64           `json:"portfolio_id"`
}

// Holding is a portfolio's position in one security, derived by replaying
// the transaction log.
type Holding struct {
	LastSyncedAt       time.Time       `json:"last_synced_at"`
	Symbol             string          `json:"symbol"`
	Currency           string          `json:"currency"`
	Quantity           decimal.Decimal `json:"quantity"`
	AverageCost        decimal.Decimal `json:"average_cost"`
	CostBasis          decimal.Decimal `json:"cost_basis"`
	RealizedGainNative decimal.Decimal `json:"realized_gain_native"`
	RealizedGain       decimal.Decimal `json:"realized_gain"`
	DividendIncome     decimal.Decimal `json:"dividend_income"`
	PortfolioID        int64           `json:"portfolio_id"`
	LastTransactionID  int64           `json:"last_transaction_id"`
	Degraded           bool            `json:"degraded"`
}

// SameState reports whether two holdings carry identical economic state.
// LastSyncedAt is ignored.
func (h Holding) SameState(o Holding) bool {
	return h.PortfolioID == o.PortfolioID &&
		h.Symbol == o.Symbol &&
		h.Currency == o.Currency &&
		h.Quantity.Equal(o.Quantity) &&
		h.AverageCost.Equal(o.AverageCost) &&
		h.CostBasis.Equal(o.CostBasis) &&
		h.RealizedGainNative.Equal(o.RealizedGainNative) &&
		h.RealizedGain.Equal(o.RealizedGain) &&
		h.DividendIncome.Equal(o.DividendIncome) &&
		h.LastTransactionID == o.LastTransactionID &&
		h.Degraded == o.Degraded
}

// IsOpen reports whether units are still held.
func (h Holding) IsOpen() bool {
	return h.Quantity.IsPositive()
}

// MarketData is the cached last-known quote for a symbol.
type MarketData struct {
	AsOf      time.Time       `json:"as_of"`
	UpdatedAt time.Time       `json:"updated_at"`
	Symbol    string          `json:"symbol"`
	Currency  string          `json:"currency"`
	Source    string          `json:"source"`
	Price     decimal.Decimal `json:"price"`
	Stale     bool            `json:"stale"`
}

// IsFresh reports whether the quote was refreshed within window of now.
func (m MarketData) IsFresh(now time.Time, window time.Duration) bool {
	return now.Sub(m.UpdatedAt) <= window
}

// PricePoint is a daily closing price.
type PricePoint struct {
	Date  time.Time       `json:"date"`
	Price decimal.Decimal `json:"price"`
	// Currency is the quote currency reported by the provider, if any.
	Currency string `json:"currency,omitempty"`
}

// CurrencyRate is a write-once cached FX rate for one calendar date.
type CurrencyRate struct {
	Date   time.Time       `json:"date"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Source string          `json:"source"`
	Rate   decimal.Decimal `json:"rate"`
}

// DailyChangeKey is the composite natural key of a DailyChange row.
// Date is formatted as YYYY-MM-DD so the key is comparable and usable in maps.
type DailyChangeKey struct {
	Date        string `json:"date"`
	PortfolioID int64  `json:"portfolio_id"`
}

// NewDailyChangeKey builds a key for the given portfolio and calendar day.
func NewDailyChangeKey(portfolioID int64, day time.Time) DailyChangeKey {
	return DailyChangeKey{PortfolioID: portfolioID, Date: FormatDate(day)}
}

// Day returns the key date as a UTC midnight time.
func (k DailyChangeKey) Day() time.Time {
	d, _ := ParseDate(k.Date)
	return d
}

// Contribution records how one symbol contributed to a day's total.
type Contribution struct {
	Symbol    string          `json:"symbol"`
	Currency  string          `json:"currency"`
	PriceDate string          `json:"price_date,omitempty"`
	FXDate    string          `json:"fx_date,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	FXRate    decimal.Decimal `json:"fx_rate"`
	Value     decimal.Decimal `json:"value"`
	Degraded  bool            `json:"degraded"`
}

// DailyChange is one row of the per-day valuation series.
type DailyChange struct {
	Key           DailyChangeKey  `json:"key"`
	BaseCurrency  string          `json:"base_currency"`
	Contributions []Contribution  `json:"contributions,omitempty"`
	TotalValue    decimal.Decimal `json:"total_value"`
	Delta         decimal.Decimal `json:"delta"`
	NetFlow       decimal.Decimal `json:"net_flow"`
	MarketGain    decimal.Decimal `json:"market_gain"`
	Generation    int64           `json:"generation"`
	Degraded      bool            `json:"degraded"`
}

// Equal compares two rows by value, contributions included.
func (d DailyChange) Equal(o DailyChange) bool {
	if d.Key != o.Key || d.BaseCurrency != o.BaseCurrency || d.Degraded != o.Degraded ||
		!d.TotalValue.Equal(o.TotalValue) || !d.Delta.Equal(o.Delta) ||
		!d.NetFlow.Equal(o.NetFlow) || !d.MarketGain.Equal(o.MarketGain) ||
		len(d.Contributions) != len(o.Contributions) {
		return false
	}
	for i := range d.Contributions {
		a, b := d.Contributions[i], o.Contributions[i]
		if a.Symbol != b.Symbol || a.Currency != b.Currency || a.PriceDate != b.PriceDate ||
			a.FXDate != b.FXDate || a.Reason != b.Reason || a.Degraded != b.Degraded ||
			!a.Quantity.Equal(b.Quantity) || !a.Price.Equal(b.Price) ||
			!a.FXRate.Equal(b.FXRate) || !a.Value.Equal(b.Value) {
			return false
		}
	}
	return true
}
