package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	caps  Capabilities
	quote func(ctx context.Context) (*Quote, error)
	calls int
}

func (s *stubProvider) Name() string               { return s.name }
func (s *stubProvider) Capabilities() Capabilities { return s.caps }

func (s *stubProvider) Exists(ctx context.Context, inst Instrument) (bool, error) {
	s.calls++
	q, err := s.quote(ctx)
	return q != nil, err
}

func (s *stubProvider) Quote(ctx context.Context, inst Instrument) (*Quote, error) {
	s.calls++
	return s.quote(ctx)
}

func (s *stubProvider) History(ctx context.Context, inst Instrument, rng DateRange) ([]domain.PricePoint, error) {
	s.calls++
	q, err := s.quote(ctx)
	if err != nil || q == nil {
		return nil, err
	}
	return []domain.PricePoint{{Date: rng.To, Price: q.Price}}, nil
}

func (s *stubProvider) Dividends(ctx context.Context, inst Instrument, rng DateRange) ([]DividendEvent, error) {
	return nil, domain.ErrUnsupported
}

func (s *stubProvider) Splits(ctx context.Context, inst Instrument, rng DateRange) ([]SplitEvent, error) {
	return nil, domain.ErrUnsupported
}

var allOps = []Operation{OpExists, OpQuote, OpHistory}

func equityCaps() Capabilities {
	return Capabilities{Operations: allOps, Classes: []domain.AssetClass{domain.AssetEquity}}
}

func failing(name string) *stubProvider {
	return &stubProvider{name: name, caps: equityCaps(), quote: func(context.Context) (*Quote, error) {
		return nil, &domain.ProviderTransientError{Provider: name, Err: errors.New("503 service unavailable")}
	}}
}

func succeeding(name string, price string) *stubProvider {
	return &stubProvider{name: name, caps: equityCaps(), quote: func(context.Context) (*Quote, error) {
		return &Quote{Price: decimal.RequireFromString(price), Currency: "USD"}, nil
	}}
}

type logLine struct {
	Level    string `json:"level"`
	Provider string `json:"provider"`
	Outcome  string `json:"outcome"`
	Message  string `json:"message"`
}

func parseLogs(t *testing.T, buf *bytes.Buffer) []logLine {
	t.Helper()
	var lines []logLine
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var l logLine
		require.NoError(t, json.Unmarshal([]byte(raw), &l))
		lines = append(lines, l)
	}
	return lines
}

func newTestChain(t *testing.T, cfg ChainConfig, ps ...Provider) (*Chain, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	log := zerolog.New(buf).Level(zerolog.DebugLevel)
	if cfg.Order == nil {
		for _, p := range ps {
			cfg.Order = append(cfg.Order, p.Name())
		}
	}
	c, err := NewChain(cfg, ps, log)
	require.NoError(t, err)
	return c, buf
}

func TestChain_FailoverToThirdProvider(t *testing.T) {
	a, b, third := failing("a"), failing("b"), succeeding("c", "101.5")
	chain, buf := newTestChain(t, ChainConfig{Timeout: time.Second}, a, b, third)

	q, source, err := chain.Quote(context.Background(), Equity("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, "c", source)
	assert.True(t, decimal.RequireFromString("101.5").Equal(q.Price))

	var failed, ok []string
	for _, l := range parseLogs(t, buf) {
		if l.Message != "Provider attempt" {
			continue
		}
		switch l.Outcome {
		case OutcomeFailed:
			failed = append(failed, l.Provider)
			assert.Equal(t, "warn", l.Level)
		case OutcomeOK:
			ok = append(ok, l.Provider)
		}
	}
	assert.Equal(t, []string{"a", "b"}, failed)
	assert.Equal(t, []string{"c"}, ok)
}

func TestChain_StopsAtFirstSuccess(t *testing.T) {
	first, second := succeeding("first", "1"), succeeding("second", "2")
	chain, _ := newTestChain(t, ChainConfig{}, first, second)

	_, source, err := chain.Quote(context.Background(), Equity("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, "first", source)
	assert.Equal(t, 0, second.calls)
}

func TestChain_SkipsUnsupportedCapabilities(t *testing.T) {
	fxOnly := succeeding("fx", "1")
	fxOnly.caps = Capabilities{Operations: allOps, Classes: []domain.AssetClass{domain.AssetCurrency}}
	usOnly := succeeding("us", "2")
	usOnly.caps = Capabilities{Operations: allOps, Classes: []domain.AssetClass{domain.AssetEquity}, Markets: []string{"US"}}
	global := succeeding("global", "3")

	chain, _ := newTestChain(t, ChainConfig{}, fxOnly, usOnly, global)

	_, source, err := chain.Quote(context.Background(), Equity("VOD.L"))
	require.NoError(t, err)
	assert.Equal(t, "global", source)
	assert.Equal(t, 0, fxOnly.calls)
	assert.Equal(t, 0, usOnly.calls)

	_, source, err = chain.Quote(context.Background(), Equity("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, "us", source)
}

func TestChain_ConfigErrorIsSilentSkip(t *testing.T) {
	unconfigured := &stubProvider{name: "keyed", caps: equityCaps(), quote: func(context.Context) (*Quote, error) {
		return nil, &domain.ProviderConfigError{Provider: "keyed", Reason: "missing API key"}
	}}
	chain, buf := newTestChain(t, ChainConfig{}, unconfigured, succeeding("free", "5"))

	_, source, err := chain.Quote(context.Background(), Equity("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, "free", source)

	for _, l := range parseLogs(t, buf) {
		assert.NotEqual(t, "warn", l.Level, "config errors must not log warnings")
	}
}

func TestChain_AllProvidersExhausted(t *testing.T) {
	notFound := &stubProvider{name: "nf", caps: equityCaps(), quote: func(context.Context) (*Quote, error) {
		return nil, domain.ErrNotFound
	}}
	chain, _ := newTestChain(t, ChainConfig{}, failing("a"), notFound)

	_, _, err := chain.Quote(context.Background(), Equity("ZZZZ"))
	var ex *domain.AllProvidersExhaustedError
	require.ErrorAs(t, err, &ex)
	require.Len(t, ex.Attempts, 2)
	assert.Equal(t, "a", ex.Attempts[0].Provider)
	assert.Equal(t, OutcomeFailed, ex.Attempts[0].Outcome)
	assert.Equal(t, OutcomeNotFound, ex.Attempts[1].Outcome)
	assert.True(t, domain.IsTransient(err))
}

func TestChain_TimeoutIsTransientFailure(t *testing.T) {
	slow := &stubProvider{name: "slow", caps: equityCaps(), quote: func(ctx context.Context) (*Quote, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	chain, _ := newTestChain(t, ChainConfig{Timeout: 20 * time.Millisecond}, slow, succeeding("fast", "7"))

	_, source, err := chain.Quote(context.Background(), Equity("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, "fast", source)
}

func TestChain_ParentCancellationStops(t *testing.T) {
	next := succeeding("next", "1")
	ctx, cancel := context.WithCancel(context.Background())
	cancelling := &stubProvider{name: "c", caps: equityCaps(), quote: func(context.Context) (*Quote, error) {
		cancel()
		return nil, context.Canceled
	}}
	chain, _ := newTestChain(t, ChainConfig{}, cancelling, next)

	_, _, err := chain.Quote(ctx, Equity("AAPL"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, next.calls)
}

func TestChain_CircuitBreakerOpensAfterThreshold(t *testing.T) {
	flaky := failing("flaky")
	chain, _ := newTestChain(t, ChainConfig{BreakerThreshold: 2, BreakerCooldown: time.Hour}, flaky, succeeding("backup", "1"))

	for i := 0; i < 3; i++ {
		_, source, err := chain.Quote(context.Background(), Equity("AAPL"))
		require.NoError(t, err)
		assert.Equal(t, "backup", source)
	}
	assert.Equal(t, 2, flaky.calls, "breaker should stop calling after two failures")
}

func TestChain_ExistsUnanimousNotFound(t *testing.T) {
	none := &stubProvider{name: "none", caps: equityCaps(), quote: func(context.Context) (*Quote, error) { return nil, nil }}
	chain, _ := newTestChain(t, ChainConfig{}, none)

	ok, _, err := chain.Exists(context.Background(), Equity("NOPE"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewChain_Validation(t *testing.T) {
	log := zerolog.Nop()
	_, err := NewChain(ChainConfig{}, nil, log)
	assert.Error(t, err)

	_, err = NewChain(ChainConfig{Order: []string{"missing"}}, []Provider{succeeding("a", "1")}, log)
	assert.ErrorContains(t, err, "unknown provider")

	_, err = NewChain(ChainConfig{Order: []string{"a", "a"}}, []Provider{succeeding("a", "1")}, log)
	assert.ErrorContains(t, err, "listed twice")
}

func TestMarketForSymbol(t *testing.T) {
	assert.Equal(t, "US", MarketForSymbol("AAPL"))
	assert.Equal(t, "GB", MarketForSymbol("VOD.L"))
	assert.Equal(t, "DE", MarketForSymbol("SAP.DE"))
	assert.Equal(t, "", MarketForSymbol("X.UNKNOWN"))
}

func TestCapabilities_Supports(t *testing.T) {
	caps := Capabilities{Operations: []Operation{OpHistory}, Classes: []domain.AssetClass{domain.AssetCurrency}}
	assert.True(t, caps.Supports(OpHistory, CurrencyPair("EUR", "USD")))
	assert.False(t, caps.Supports(OpQuote, CurrencyPair("EUR", "USD")))
	assert.False(t, caps.Supports(OpHistory, Equity("AAPL")))
}
