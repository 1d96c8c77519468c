package di

import (
	"github.com/aristath/folio/internal/config"
	currencyhandlers "github.com/aristath/folio/internal/modules/currency/handlers"
	ledgerhandlers "github.com/aristath/folio/internal/modules/ledger/handlers"
	portfoliohandlers "github.com/aristath/folio/internal/modules/portfolio/handlers"
	recomputehandlers "github.com/aristath/folio/internal/modules/recompute/handlers"
	"github.com/aristath/folio/internal/server"
	"github.com/aristath/folio/internal/work"
	"github.com/rs/zerolog"
)

// Routes builds the module handlers mounted under /api.
func Routes(container *Container, cfg *config.Config, log zerolog.Logger) []server.RouteRegistrar {
	return []server.RouteRegistrar{
		portfoliohandlers.NewHandler(container.PortfolioRepo, container.HoldingRepo, container.DailyChangeRepo, cfg.BaseCurrency, log),
		ledgerhandlers.NewHandler(container.LedgerService, log),
		recomputehandlers.NewHandler(container.PortfolioRepo, container.Orchestrator, container.RefreshService, log),
		currencyhandlers.NewHandler(container.CurrencyService, log),
		work.NewHandlers(container.WorkProcessor, container.WorkRegistry, container.WorkCompletion, log),
	}
}
