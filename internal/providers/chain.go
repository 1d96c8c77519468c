package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
)

// Attempt outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
	OutcomeNotFound = "not_found"
	OutcomeOpen     = "circuit_open"
)

// ChainConfig holds the ordered provider list and per-call limits.
type ChainConfig struct {
	Order            []string
	Timeout          time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Chain resolves requests across providers in priority order. It never
// retries a single provider within one call; retries belong to callers.
type Chain struct {
	providers []Provider
	breakers  map[string]*breaker
	timeout   time.Duration
	log       zerolog.Logger
}

// NewChain builds a chain from the configured order. Every name in the order
// must match an available provider.
func NewChain(cfg ChainConfig, available []Provider, log zerolog.Logger) (*Chain, error) {
	if len(cfg.Order) == 0 {
		return nil, fmt.Errorf("provider chain: no providers configured")
	}

	byName := make(map[string]Provider, len(available))
	for _, p := range available {
		byName[p.Name()] = p
	}

	c := &Chain{
		providers: make([]Provider, 0, len(cfg.Order)),
		breakers:  make(map[string]*breaker, len(cfg.Order)),
		timeout:   cfg.Timeout,
		log:       log.With().Str("service", "provider_chain").Logger(),
	}
	for _, name := range cfg.Order {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("provider chain: unknown provider %q", name)
		}
		if _, dup := c.breakers[name]; dup {
			return nil, fmt.Errorf("provider chain: provider %q listed twice", name)
		}
		c.providers = append(c.providers, p)
		c.breakers[name] = newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
	}
	return c, nil
}

// Names returns the provider names in priority order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Exists reports whether any provider knows the instrument. A unanimous
// not-found answer is false with no error.
func (c *Chain) Exists(ctx context.Context, inst Instrument) (bool, string, error) {
	ok, source, err := resolve(ctx, c, OpExists, inst, func(ctx context.Context, p Provider) (bool, error) {
		found, err := p.Exists(ctx, inst)
		if err == nil && !found {
			return false, domain.ErrNotFound
		}
		return found, err
	})
	if err != nil {
		var ex *domain.AllProvidersExhaustedError
		if errors.As(err, &ex) && !ex.Transient() {
			return false, "", nil
		}
		return false, "", err
	}
	return ok, source, nil
}

// Quote returns the first successful quote.
func (c *Chain) Quote(ctx context.Context, inst Instrument) (*Quote, string, error) {
	return resolve(ctx, c, OpQuote, inst, func(ctx context.Context, p Provider) (*Quote, error) {
		q, err := p.Quote(ctx, inst)
		if err == nil && q == nil {
			return nil, domain.ErrNotFound
		}
		return q, err
	})
}

// History returns daily prices from the first provider with data in range.
func (c *Chain) History(ctx context.Context, inst Instrument, rng DateRange) ([]domain.PricePoint, string, error) {
	return resolve(ctx, c, OpHistory, inst, func(ctx context.Context, p Provider) ([]domain.PricePoint, error) {
		pts, err := p.History(ctx, inst, rng)
		if err == nil && len(pts) == 0 {
			return nil, domain.ErrNotFound
		}
		return pts, err
	})
}

// Dividends returns dividend events in range. An empty list is a valid answer.
func (c *Chain) Dividends(ctx context.Context, inst Instrument, rng DateRange) ([]DividendEvent, string, error) {
	return resolve(ctx, c, OpDividends, inst, func(ctx context.Context, p Provider) ([]DividendEvent, error) {
		return p.Dividends(ctx, inst, rng)
	})
}

// Splits returns split events in range. An empty list is a valid answer.
func (c *Chain) Splits(ctx context.Context, inst Instrument, rng DateRange) ([]SplitEvent, string, error) {
	return resolve(ctx, c, OpSplits, inst, func(ctx context.Context, p Provider) ([]SplitEvent, error) {
		return p.Splits(ctx, inst, rng)
	})
}

func resolve[T any](ctx context.Context, c *Chain, op Operation, inst Instrument, call func(context.Context, Provider) (T, error)) (T, string, error) {
	var zero T
	attempts := make([]domain.Attempt, 0, len(c.providers))

	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		name := p.Name()
		if !p.Capabilities().Supports(op, inst) {
			c.log.Debug().
				Str("provider", name).
				Str("operation", string(op)).
				Str("symbol", inst.Symbol).
				Msg("Provider does not support request, skipping")
			continue
		}

		br := c.breakers[name]
		if !br.allow() {
			attempts = append(attempts, domain.Attempt{Provider: name, Outcome: OutcomeOpen})
			c.logAttempt(name, op, inst, OutcomeOpen, 0, nil)
			continue
		}

		start := time.Now()
		result, err := callWithTimeout(ctx, c.timeout, p, call)
		elapsed := time.Since(start)

		if err == nil {
			br.success()
			attempts = append(attempts, domain.Attempt{Provider: name, Outcome: OutcomeOK, Duration: elapsed})
			c.logAttempt(name, op, inst, OutcomeOK, elapsed, nil)
			return result, name, nil
		}

		// The caller gave up; don't charge the provider for it.
		if ctx.Err() != nil {
			br.release()
			return zero, "", ctx.Err()
		}

		outcome := classify(err)
		if outcome == OutcomeFailed {
			if errors.Is(err, context.DeadlineExceeded) {
				err = &domain.ProviderTransientError{Provider: name, Err: fmt.Errorf("timed out after %s", c.timeout)}
			}
			if br.failure() {
				c.log.Warn().Str("provider", name).Msg("Provider circuit opened after consecutive failures")
			}
		} else {
			br.success()
		}
		attempts = append(attempts, domain.Attempt{Provider: name, Outcome: outcome, Duration: elapsed, Err: err})
		c.logAttempt(name, op, inst, outcome, elapsed, err)
	}

	return zero, "", &domain.AllProvidersExhaustedError{
		Operation: string(op),
		Symbol:    inst.Symbol,
		Attempts:  attempts,
	}
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration, p Provider, call func(context.Context, Provider) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return call(ctx, p)
}

func classify(err error) string {
	var cfgErr *domain.ProviderConfigError
	switch {
	case errors.As(err, &cfgErr):
		return OutcomeSkipped
	case errors.Is(err, domain.ErrUnsupported), errors.Is(err, domain.ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeFailed
	}
}

func (c *Chain) logAttempt(provider string, op Operation, inst Instrument, outcome string, elapsed time.Duration, err error) {
	var ev *zerolog.Event
	switch outcome {
	case OutcomeFailed:
		ev = c.log.Warn().Err(err)
	case OutcomeOK:
		ev = c.log.Info()
	default:
		ev = c.log.Debug()
		if err != nil {
			ev = ev.Str("reason", err.Error())
		}
	}
	ev.Str("provider", provider).
		Str("operation", string(op)).
		Str("symbol", inst.Symbol).
		Str("outcome", outcome).
		Dur("duration", elapsed).
		Msg("Provider attempt")
}
