package di

import (
	"fmt"

	"github.com/aristath/folio/internal/clientdata"
	"github.com/aristath/folio/internal/modules/currency"
	"github.com/aristath/folio/internal/modules/holdings"
	"github.com/aristath/folio/internal/modules/ledger"
	"github.com/aristath/folio/internal/modules/marketdata"
	"github.com/aristath/folio/internal/modules/portfolio"
	"github.com/aristath/folio/internal/modules/recompute"
	"github.com/aristath/folio/internal/modules/valuation"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates all repositories
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil || container.FolioDB == nil || container.ClientDataDB == nil {
		return fmt.Errorf("databases must be initialized first")
	}

	db := container.FolioDB.Conn()

	container.PortfolioRepo = portfolio.NewRepository(db, log)
	container.SecurityRepo = ledger.NewSecurityRepository(db, log)
	container.TransactionRepo = ledger.NewTransactionRepository(db, log)
	container.DividendRepo = ledger.NewDividendRepository(db, log)
	container.HoldingRepo = holdings.NewRepository(db, log)
	container.MarketDataRepo = marketdata.NewRepository(db, log)
	container.RateRepo = currency.NewRateRepository(db, log)
	container.DailyChangeRepo = valuation.NewRepository(db, log)
	container.RecomputeRunRepo = recompute.NewRunRepository(db, log)

	container.ClientDataRepo = clientdata.NewRepository(container.ClientDataDB.Conn())

	log.Info().Msg("Repositories initialized")
	return nil
}
