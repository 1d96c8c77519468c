/**
 * Package services provides RefreshService, the entry point for market data
 * refreshes of whole portfolios.
 *
 * A refresh pulls the latest quote of every open holding, tops up FX rates
 * towards the portfolio's base currency and then asks the recompute
 * orchestrator to rebuild the affected part of the valuation series.
 *
 * Usage:
 *   res, _ := refreshService.Refresh(ctx, 3, services.Scope{Force: true})
 *   results, _ := refreshService.RefreshMany(ctx, services.Filter{All: true}, services.Scope{})
 */
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/recompute"
	"github.com/aristath/folio/internal/work"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// RefreshWorkTypeID identifies the refresh work type. Subjects are portfolio IDs.
const RefreshWorkTypeID = "refresh:portfolio"

// PortfolioStore resolves portfolios.
type PortfolioStore interface {
	Get(ctx context.Context, id int64) (*domain.Portfolio, error)
	List(ctx context.Context) ([]domain.Portfolio, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Portfolio, error)
}

// HoldingLister lists a portfolio's holdings.
type HoldingLister interface {
	List(ctx context.Context, portfolioID int64, includeClosed bool) ([]domain.Holding, error)
}

// TradeHistory reports when a portfolio started trading.
type TradeHistory interface {
	FirstTradeDate(ctx context.Context, portfolioID int64) (*time.Time, error)
}

// QuoteRefresher fetches quotes and daily history.
type QuoteRefresher interface {
	Latest(ctx context.Context, symbol string, force bool) (*domain.MarketData, error)
	EnsureHistory(ctx context.Context, symbol string, from, to time.Time, force bool) error
}

// RateRefresher tops up cached FX rates.
type RateRefresher interface {
	Refresh(ctx context.Context, from, to string, date time.Time) (int64, error)
}

// Recomputer schedules recomputation.
type Recomputer interface {
	Request(portfolioID int64, req recompute.Request) (int64, error)
}

// Queue accepts work items. *work.Processor satisfies it.
type Queue interface {
	Enqueue(typeID, subject string) (bool, error)
}

// Scope narrows a refresh.
type Scope struct {
	// Symbol limits the refresh to one symbol. Empty means every open holding.
	Symbol string `json:"symbol,omitempty"`
	// Force bypasses the quote freshness window, refetches full price history
	// and rebuilds the whole valuation series.
	Force bool `json:"force"`
}

// merge widens s to cover o as well.
func (s Scope) merge(o Scope) Scope {
	if s.Symbol != o.Symbol {
		s.Symbol = ""
	}
	s.Force = s.Force || o.Force
	return s
}

// Filter selects portfolios for a bulk refresh. Exactly one of the fields
// is expected; an empty filter is rejected.
type Filter struct {
	PortfolioID int64
	UserID      int64
	All         bool
}

// RefreshResult summarizes the refresh of one portfolio.
type RefreshResult struct {
	Failed      map[string]string `json:"failed,omitempty"`
	Stale       []string          `json:"stale,omitempty"`
	PortfolioID int64             `json:"portfolio_id"`
	Generation  int64             `json:"generation"`
	Symbols     int               `json:"symbols"`
	Refreshed   int               `json:"refreshed"`
	Rates       int64             `json:"rates"`
}

// RefreshConfig tunes the refresh service.
type RefreshConfig struct {
	// RecentDays is how far back a non-forced refresh rebuilds valuations.
	RecentDays int
	// Parallelism bounds RefreshMany.
	Parallelism int
}

// RefreshService refreshes market data for portfolios.
type RefreshService struct {
	portfolios PortfolioStore
	holdings   HoldingLister
	trades     TradeHistory
	quotes     QuoteRefresher
	rates      RateRefresher
	recompute  Recomputer
	queue      Queue
	cfg        RefreshConfig
	log        zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	pending map[int64]Scope
}

// NewRefreshService creates a new refresh service
func NewRefreshService(
	portfolios PortfolioStore,
	holdings HoldingLister,
	trades TradeHistory,
	quotes QuoteRefresher,
	rates RateRefresher,
	recomputer Recomputer,
	cfg RefreshConfig,
	log zerolog.Logger,
) *RefreshService {
	if cfg.RecentDays <= 0 {
		cfg.RecentDays = 7
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	return &RefreshService{
		portfolios: portfolios,
		holdings:   holdings,
		trades:     trades,
		quotes:     quotes,
		rates:      rates,
		recompute:  recomputer,
		cfg:        cfg,
		log:        log.With().Str("service", "refresh").Logger(),
		now:        time.Now,
		pending:    make(map[int64]Scope),
	}
}

// SetClock overrides the time source (tests).
func (s *RefreshService) SetClock(now func() time.Time) {
	s.now = now
}

// Register adds the refresh work type to registry and routes EnqueueRefresh
// to queue. Refreshes share the portfolio subject with recompute work, so the
// two never run at once for the same portfolio.
func (s *RefreshService) Register(registry *work.Registry, queue Queue) {
	s.queue = queue
	registry.Register(&work.WorkType{
		ID:        RefreshWorkTypeID,
		Priority:  work.PriorityMedium,
		Retryable: domain.IsTransient,
		Execute: func(ctx context.Context, subject string) error {
			id, err := strconv.ParseInt(subject, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid portfolio subject %q: %w", subject, err)
			}
			s.mu.Lock()
			scope, ok := s.pending[id]
			delete(s.pending, id)
			s.mu.Unlock()
			if !ok {
				return nil
			}
			if _, err := s.Refresh(ctx, id, scope); err != nil {
				if domain.IsTransient(err) {
					s.requeue(id, scope)
				}
				return err
			}
			return nil
		},
	})
}

func (s *RefreshService) requeue(portfolioID int64, scope Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pending[portfolioID]; ok {
		scope = scope.merge(cur)
	}
	s.pending[portfolioID] = scope
}

// EnqueueRefresh schedules a background refresh. Scopes requested before the
// refresh starts are merged.
func (s *RefreshService) EnqueueRefresh(ctx context.Context, portfolioID int64, scope Scope) error {
	if s.queue == nil {
		return fmt.Errorf("refresh service is not registered with a work queue")
	}
	p, err := s.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("portfolio %d: %w", portfolioID, domain.ErrNotFound)
	}

	s.requeue(portfolioID, scope)
	_, err = s.queue.Enqueue(RefreshWorkTypeID, strconv.FormatInt(portfolioID, 10))
	return err
}

// ResolvePortfolios returns the portfolios selected by f. An empty filter
// returns ErrUnscoped so that a bare bulk command never touches every
// portfolio by accident.
func (s *RefreshService) ResolvePortfolios(ctx context.Context, f Filter) ([]domain.Portfolio, error) {
	switch {
	case f.PortfolioID > 0:
		p, err := s.portfolios.Get(ctx, f.PortfolioID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("portfolio %d: %w", f.PortfolioID, domain.ErrNotFound)
		}
		return []domain.Portfolio{*p}, nil
	case f.UserID > 0:
		return s.portfolios.ListByUser(ctx, f.UserID)
	case f.All:
		return s.portfolios.List(ctx)
	default:
		return nil, domain.ErrUnscoped
	}
}

// Refresh refreshes quotes and rates for one portfolio and schedules the
// matching recomputation. Individual symbol failures are reported in the
// result; an error is returned only when nothing could be refreshed.
func (s *RefreshService) Refresh(ctx context.Context, portfolioID int64, scope Scope) (*RefreshResult, error) {
	p, err := s.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("portfolio %d: %w", portfolioID, domain.ErrNotFound)
	}

	symbols, currencies, err := s.targets(ctx, p, scope)
	if err != nil {
		return nil, err
	}

	today := domain.Day(s.now())
	res := &RefreshResult{PortfolioID: portfolioID, Symbols: len(symbols), Failed: map[string]string{}}

	var first *time.Time
	if scope.Force {
		if first, err = s.trades.FirstTradeDate(ctx, portfolioID); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		md, err := s.quotes.Latest(ctx, symbol, scope.Force)
		if err != nil {
			res.Failed[symbol] = err.Error()
			lastErr = err
			continue
		}
		if md.Stale {
			res.Stale = append(res.Stale, symbol)
		} else {
			res.Refreshed++
		}
		if first != nil {
			if err := s.quotes.EnsureHistory(ctx, symbol, *first, today, true); err != nil {
				res.Failed[symbol] = err.Error()
				lastErr = err
			}
		}
	}

	for _, ccy := range currencies {
		n, err := s.rates.Refresh(ctx, ccy, p.BaseCurrency, today)
		if err != nil {
			res.Failed[ccy+"/"+p.BaseCurrency] = err.Error()
			s.log.Warn().Err(err).Str("from", ccy).Str("to", p.BaseCurrency).Msg("Failed to refresh rate")
			continue
		}
		res.Rates += n
	}

	if len(symbols) > 0 && res.Refreshed == 0 && len(res.Stale) == 0 {
		return res, fmt.Errorf("portfolio %d: no quote could be refreshed: %w", portfolioID, lastErr)
	}

	req := recompute.Request{Reason: "refresh"}
	if scope.Symbol != "" {
		req.Symbols = []string{scope.Symbol}
	}
	if scope.Force {
		req.Reason = "force_refresh"
	} else {
		from := today.AddDate(0, 0, -s.cfg.RecentDays)
		req.From = &from
	}
	if res.Generation, err = s.recompute.Request(portfolioID, req); err != nil {
		return res, err
	}

	s.log.Info().
		Int64("portfolio_id", portfolioID).
		Bool("force", scope.Force).
		Int("symbols", res.Symbols).
		Int("refreshed", res.Refreshed).
		Int("stale", len(res.Stale)).
		Int("failed", len(res.Failed)).
		Int64("rates", res.Rates).
		Msg("Refreshed portfolio")
	return res, nil
}

// targets returns the symbols and non-base currencies a refresh covers.
func (s *RefreshService) targets(ctx context.Context, p *domain.Portfolio, scope Scope) ([]string, []string, error) {
	hs, err := s.holdings.List(ctx, p.ID, false)
	if err != nil {
		return nil, nil, err
	}

	symbols := map[string]struct{}{}
	currencies := map[string]struct{}{}
	for _, h := range hs {
		if scope.Symbol != "" && h.Symbol != scope.Symbol {
			continue
		}
		symbols[h.Symbol] = struct{}{}
		if h.Currency != p.BaseCurrency {
			currencies[h.Currency] = struct{}{}
		}
	}
	if scope.Symbol != "" {
		symbols[scope.Symbol] = struct{}{}
	}
	return sortedSet(symbols), sortedSet(currencies), nil
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RefreshMany refreshes every portfolio selected by f with bounded
// parallelism. A failing portfolio does not stop the others; all failures
// are joined into the returned error.
func (s *RefreshService) RefreshMany(ctx context.Context, f Filter, scope Scope) ([]RefreshResult, error) {
	portfolios, err := s.ResolvePortfolios(ctx, f)
	if err != nil {
		return nil, err
	}

	results := make([]*RefreshResult, len(portfolios))
	errs := make([]error, len(portfolios))

	var g errgroup.Group
	g.SetLimit(s.cfg.Parallelism)
	for i := range portfolios {
		i := i
		g.Go(func() error {
			res, err := s.Refresh(ctx, portfolios[i].ID, scope)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("portfolio %d: %w", portfolios[i].ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]RefreshResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	err = errors.Join(errs...)
	s.log.Info().
		Int("portfolios", len(portfolios)).
		Int("refreshed", len(out)).
		AnErr("error", err).
		Msg("Bulk refresh finished")
	return out, err
}
