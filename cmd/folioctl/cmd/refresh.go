package cmd

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/aristath/folio/internal/services"
	"github.com/google/subcommands"
)

type refreshCmd struct {
	portfolio int64
	user      int64
	all       bool
	symbol    string
	force     bool
	timeout   time.Duration
}

func (*refreshCmd) Name() string { return "refresh" }
func (*refreshCmd) Synopsis() string {
	return "refresh quotes, price history and FX rates, then recompute valuations"
}
func (*refreshCmd) Usage() string {
	return `folioctl refresh (-portfolio <id> | -user <id> | -all) [-symbol <symbol>] [-force]

  Fetches the latest quotes and recent price history for the open holdings of
  the selected portfolios, tops up FX rates and rebuilds the recent part of
  the daily valuation series. -force refetches the full history and rebuilds
  the whole series.
`
}

func (c *refreshCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.portfolio, "portfolio", 0, "Refresh a single portfolio.")
	f.Int64Var(&c.user, "user", 0, "Refresh every portfolio owned by the user.")
	f.BoolVar(&c.all, "all", false, "Refresh every portfolio.")
	f.StringVar(&c.symbol, "symbol", "", "Limit the refresh to one symbol.")
	f.BoolVar(&c.force, "force", false, "Ignore freshness windows and rebuild the full series.")
	f.DurationVar(&c.timeout, "timeout", 30*time.Minute, "Give up waiting for recomputation after this long.")
}

func (c *refreshCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	filter := services.Filter{PortfolioID: c.portfolio, UserID: c.user, All: c.all}
	if filter == (services.Filter{}) {
		return usageError("one of -portfolio, -user or -all is required")
	}

	s, err := open(ctx, true)
	if err != nil {
		return fail(err)
	}
	defer s.close()

	scope := services.Scope{Symbol: strings.ToUpper(strings.TrimSpace(c.symbol)), Force: c.force}
	results, err := s.container.RefreshService.RefreshMany(ctx, filter, scope)
	if err != nil {
		return fail(err)
	}
	if err := s.wait(ctx, c.timeout); err != nil {
		return fail(err)
	}
	if err := printJSON(results); err != nil {
		return fail(err)
	}

	for _, r := range results {
		if len(r.Failed) > 0 {
			return subcommands.ExitFailure
		}
	}
	return subcommands.ExitSuccess
}
