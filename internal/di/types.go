/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * shared by the HTTP server, the scheduler and the command-line tool.
 */
package di

import (
	"github.com/aristath/folio/internal/clientdata"
	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/events"
	"github.com/aristath/folio/internal/modules/currency"
	"github.com/aristath/folio/internal/modules/holdings"
	"github.com/aristath/folio/internal/modules/ledger"
	"github.com/aristath/folio/internal/modules/marketdata"
	"github.com/aristath/folio/internal/modules/portfolio"
	"github.com/aristath/folio/internal/modules/recompute"
	"github.com/aristath/folio/internal/modules/valuation"
	"github.com/aristath/folio/internal/providers"
	"github.com/aristath/folio/internal/scheduler"
	"github.com/aristath/folio/internal/services"
	"github.com/aristath/folio/internal/work"
)

// Container holds all application dependencies
type Container struct {
	// Databases
	FolioDB      *database.DB // portfolios, ledger, holdings, prices, rates, valuations
	ClientDataDB *database.DB // provider response cache

	// Repositories
	PortfolioRepo    *portfolio.Repository
	SecurityRepo     *ledger.SecurityRepository
	TransactionRepo  *ledger.TransactionRepository
	DividendRepo     *ledger.DividendRepository
	HoldingRepo      *holdings.Repository
	MarketDataRepo   *marketdata.Repository
	RateRepo         *currency.RateRepository
	DailyChangeRepo  *valuation.Repository
	RecomputeRunRepo *recompute.RunRepository
	ClientDataRepo   *clientdata.Repository

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Providers
	ProviderChain *providers.Chain

	// Services
	CurrencyService   *currency.Service
	MarketDataService *marketdata.Service
	LedgerService     *ledger.Service
	Reconciler        *holdings.Reconciler
	Rebuilder         *valuation.Rebuilder
	Orchestrator      *recompute.Orchestrator
	RefreshService    *services.RefreshService

	// Background work
	WorkRegistry   *work.Registry
	WorkCompletion *work.CompletionTracker
	WorkProcessor  *work.Processor
	Scheduler      *scheduler.Scheduler
}

// Databases returns every open database.
func (c *Container) Databases() []*database.DB {
	var out []*database.DB
	for _, db := range []*database.DB{c.FolioDB, c.ClientDataDB} {
		if db != nil {
			out = append(out, db)
		}
	}
	return out
}

// Close stops background work and closes the databases.
func (c *Container) Close() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.WorkProcessor != nil {
		c.WorkProcessor.Stop()
	}
	for _, db := range c.Databases() {
		_ = db.Close()
	}
}
