package di

import (
	"fmt"

	"github.com/aristath/folio/internal/clients/eodhd"
	"github.com/aristath/folio/internal/clients/exchangerate"
	"github.com/aristath/folio/internal/clients/yahoo"
	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/events"
	"github.com/aristath/folio/internal/modules/currency"
	"github.com/aristath/folio/internal/modules/holdings"
	"github.com/aristath/folio/internal/modules/ledger"
	"github.com/aristath/folio/internal/modules/marketdata"
	"github.com/aristath/folio/internal/modules/recompute"
	"github.com/aristath/folio/internal/modules/valuation"
	"github.com/aristath/folio/internal/providers"
	"github.com/aristath/folio/internal/services"
	"github.com/aristath/folio/internal/work"
	"github.com/rs/zerolog"
)

// InitializeServices creates all services and wires the recompute pipeline.
// Order matters: the rebuilder's generation guard is the orchestrator, which
// in turn needs the reconciler and the rebuilder.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.PortfolioRepo == nil {
		return fmt.Errorf("repositories must be initialized first")
	}

	// ==========================================
	// STEP 1: Events
	// ==========================================
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	// ==========================================
	// STEP 2: Providers
	// ==========================================
	timeout := cfg.Providers.Timeout
	available := []providers.Provider{
		exchangerate.NewClient(cfg.Providers.ExchangeRateURL, timeout, container.ClientDataRepo, log),
		yahoo.NewClient(cfg.Providers.YahooURL, timeout, container.ClientDataRepo, log),
		eodhd.NewClient(cfg.Providers.EODHDURL, cfg.Providers.EODHDAPIKey, timeout, container.ClientDataRepo, log),
	}
	chain, err := providers.NewChain(providers.ChainConfig{
		Order:            cfg.Providers.Order,
		Timeout:          timeout,
		BreakerThreshold: cfg.Providers.BreakerThreshold,
		BreakerCooldown:  cfg.Providers.BreakerCooldown,
	}, available, log)
	if err != nil {
		return fmt.Errorf("failed to build provider chain: %w", err)
	}
	container.ProviderChain = chain

	// ==========================================
	// STEP 3: Domain services
	// ==========================================
	container.CurrencyService = currency.NewService(container.RateRepo, chain, cfg.Engine.FXLookbackDays, log)

	container.MarketDataService = marketdata.NewService(
		container.MarketDataRepo,
		chain,
		container.SecurityRepo,
		container.EventManager,
		marketdata.Config{
			Freshness:    cfg.Engine.QuoteFreshness,
			LookbackDays: cfg.Engine.PriceLookbackDays,
		},
		log,
	)

	container.LedgerService = ledger.NewService(
		container.FolioDB.Conn(),
		container.SecurityRepo,
		container.TransactionRepo,
		container.DividendRepo,
		container.PortfolioRepo,
		container.EventManager,
		log,
	)

	container.Reconciler = holdings.NewReconciler(
		container.HoldingRepo,
		container.TransactionRepo,
		container.DividendRepo,
		container.SecurityRepo,
		container.PortfolioRepo,
		container.CurrencyService,
		log,
	)

	container.Rebuilder = valuation.NewRebuilder(
		container.FolioDB.Conn(),
		container.DailyChangeRepo,
		container.PortfolioRepo,
		container.TransactionRepo,
		container.HoldingRepo,
		container.MarketDataService,
		container.CurrencyService,
		nil, // guard is the orchestrator, set below
		valuation.Config{
			BatchDays:    cfg.Engine.RebuildBatchDays,
			LookbackDays: cfg.Engine.PriceLookbackDays,
		},
		log,
	)

	// ==========================================
	// STEP 4: Background work
	// ==========================================
	container.WorkRegistry = work.NewRegistry()
	container.WorkCompletion = work.NewCompletionTracker()
	container.WorkProcessor = work.NewProcessor(container.WorkRegistry, container.WorkCompletion, work.Config{
		Workers:      cfg.Work.Workers,
		Timeout:      cfg.Work.Timeout,
		MaxRetries:   cfg.Work.MaxRetries,
		RetryBackoff: cfg.Work.RetryBackoff,
	}, log)

	container.Orchestrator = recompute.NewOrchestrator(
		container.Reconciler,
		container.Rebuilder,
		container.TransactionRepo,
		container.RecomputeRunRepo,
		container.EventManager,
		log,
	)
	container.Rebuilder.SetGuard(container.Orchestrator)
	container.Orchestrator.Register(container.WorkRegistry, container.WorkProcessor)
	container.Orchestrator.Subscribe(container.EventBus)

	container.RefreshService = services.NewRefreshService(
		container.PortfolioRepo,
		container.HoldingRepo,
		container.TransactionRepo,
		container.MarketDataService,
		container.CurrencyService,
		container.Orchestrator,
		services.RefreshConfig{
			RecentDays:  cfg.Engine.RefreshRecentDays,
			Parallelism: cfg.Schedule.RefreshParallel,
		},
		log,
	)
	container.RefreshService.Register(container.WorkRegistry, container.WorkProcessor)

	log.Info().
		Strs("providers", cfg.Providers.Order).
		Int("work_types", container.WorkRegistry.Count()).
		Msg("Services initialized")

	return nil
}
