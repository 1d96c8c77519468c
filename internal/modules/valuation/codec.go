package valuation

import (
	"fmt"

	"github.com/aristath/folio/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// contributionRecord is the stored form of a domain.Contribution. Decimals
// are kept as strings so the blob round-trips exactly.
type contributionRecord struct {
	Symbol    string `msgpack:"s"`
	Currency  string `msgpack:"c"`
	PriceDate string `msgpack:"pd,omitempty"`
	FXDate    string `msgpack:"fd,omitempty"`
	Reason    string `msgpack:"r,omitempty"`
	Quantity  string `msgpack:"q"`
	Price     string `msgpack:"p"`
	FXRate    string `msgpack:"fx"`
	Value     string `msgpack:"v"`
	Degraded  bool   `msgpack:"d,omitempty"`
}

func encodeContributions(cs []domain.Contribution) ([]byte, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	recs := make([]contributionRecord, len(cs))
	for i, c := range cs {
		recs[i] = contributionRecord{
			Symbol:    c.Symbol,
			Currency:  c.Currency,
			PriceDate: c.PriceDate,
			FXDate:    c.FXDate,
			Reason:    c.Reason,
			Quantity:  c.Quantity.String(),
			Price:     c.Price.String(),
			FXRate:    c.FXRate.String(),
			Value:     c.Value.String(),
			Degraded:  c.Degraded,
		}
	}
	b, err := msgpack.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode contributions: %w", err)
	}
	return b, nil
}

func decodeContributions(b []byte) ([]domain.Contribution, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var recs []contributionRecord
	if err := msgpack.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("failed to decode contributions: %w", err)
	}
	out := make([]domain.Contribution, len(recs))
	for i, r := range recs {
		c := domain.Contribution{
			Symbol:    r.Symbol,
			Currency:  r.Currency,
			PriceDate: r.PriceDate,
			FXDate:    r.FXDate,
			Reason:    r.Reason,
			Degraded:  r.Degraded,
		}
		var err error
		if c.Quantity, err = decimal.NewFromString(r.Quantity); err != nil {
			return nil, err
		}
		if c.Price, err = decimal.NewFromString(r.Price); err != nil {
			return nil, err
		}
		if c.FXRate, err = decimal.NewFromString(r.FXRate); err != nil {
			return nil, err
		}
		if c.Value, err = decimal.NewFromString(r.Value); err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
