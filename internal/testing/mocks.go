package testing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/providers"
	"github.com/shopspring/decimal"
)

// FakeProvider is an in-memory providers.Provider for tests.
// Instruments are keyed by Instrument.Symbol ("AAPL", "EUR/USD").
type FakeProvider struct {
	mu        sync.Mutex
	name      string
	caps      providers.Capabilities
	quotes    map[string]*providers.Quote
	histories map[string][]domain.PricePoint
	dividends map[string][]providers.DividendEvent
	err       error
	calls     map[providers.Operation]int
}

// NewFakeProvider creates a fake provider serving every operation for the
// given asset classes. With no classes it serves equities and currencies.
func NewFakeProvider(name string, classes ...domain.AssetClass) *FakeProvider {
	if len(classes) == 0 {
		classes = []domain.AssetClass{domain.AssetEquity, domain.AssetCurrency}
	}
	return &FakeProvider{
		name: name,
		caps: providers.Capabilities{
			Operations: []providers.Operation{
				providers.OpExists, providers.OpQuote, providers.OpHistory,
				providers.OpDividends, providers.OpSplits,
			},
			Classes: classes,
		},
		quotes:    make(map[string]*providers.Quote),
		histories: make(map[string][]domain.PricePoint),
		dividends: make(map[string][]providers.DividendEvent),
		calls:     make(map[providers.Operation]int),
	}
}

// SetQuote sets the quote returned for symbol.
func (f *FakeProvider) SetQuote(symbol string, price decimal.Decimal, currency string, asOf time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[symbol] = &providers.Quote{Price: price, Currency: currency, AsOf: asOf}
}

// SetHistory adds daily points for symbol.
func (f *FakeProvider) SetHistory(symbol string, points ...domain.PricePoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories[symbol] = append(f.histories[symbol], points...)
	sort.Slice(f.histories[symbol], func(i, j int) bool {
		return f.histories[symbol][i].Date.Before(f.histories[symbol][j].Date)
	})
}

// SetWeekdayPrices sets a constant price on every weekday in [from, to].
func (f *FakeProvider) SetWeekdayPrices(symbol string, from, to time.Time, price decimal.Decimal) {
	var pts []domain.PricePoint
	for d := domain.Day(from); !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		pts = append(pts, domain.PricePoint{Date: d, Price: price})
	}
	f.SetHistory(symbol, pts...)
}

// SetDividends sets the dividend events for symbol.
func (f *FakeProvider) SetDividends(symbol string, events ...providers.DividendEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dividends[symbol] = events
}

// SetError makes every call fail with err. Pass nil to clear.
func (f *FakeProvider) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns how many times op was invoked.
func (f *FakeProvider) Calls(op providers.Operation) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeProvider) record(op providers.Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.err
}

// Name implements providers.Provider.
func (f *FakeProvider) Name() string { return f.name }

// Capabilities implements providers.Provider.
func (f *FakeProvider) Capabilities() providers.Capabilities { return f.caps }

// Exists implements providers.Provider.
func (f *FakeProvider) Exists(ctx context.Context, inst providers.Instrument) (bool, error) {
	if err := f.record(providers.OpExists); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, q := f.quotes[inst.Symbol]
	_, h := f.histories[inst.Symbol]
	return q || h, nil
}

// Quote implements providers.Provider. Without an explicit quote the latest
// history point is returned.
func (f *FakeProvider) Quote(ctx context.Context, inst providers.Instrument) (*providers.Quote, error) {
	if err := f.record(providers.OpQuote); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.quotes[inst.Symbol]; ok {
		cp := *q
		return &cp, nil
	}
	if pts := f.histories[inst.Symbol]; len(pts) > 0 {
		last := pts[len(pts)-1]
		return &providers.Quote{Price: last.Price, AsOf: last.Date}, nil
	}
	return nil, domain.ErrNotFound
}

// History implements providers.Provider.
func (f *FakeProvider) History(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]domain.PricePoint, error) {
	if err := f.record(providers.OpHistory); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PricePoint
	for _, p := range f.histories[inst.Symbol] {
		if !p.Date.Before(rng.From) && !p.Date.After(rng.To) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Dividends implements providers.Provider.
func (f *FakeProvider) Dividends(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]providers.DividendEvent, error) {
	if err := f.record(providers.OpDividends); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []providers.DividendEvent
	for _, d := range f.dividends[inst.Symbol] {
		if !d.Date.Before(rng.From) && !d.Date.After(rng.To) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Splits implements providers.Provider.
func (f *FakeProvider) Splits(ctx context.Context, inst providers.Instrument, rng providers.DateRange) ([]providers.SplitEvent, error) {
	if err := f.record(providers.OpSplits); err != nil {
		return nil, err
	}
	return nil, nil
}
