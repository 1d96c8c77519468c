package cmd

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/valuation"
	"github.com/google/subcommands"
)

type summaryCmd struct {
	portfolio int64
	from      string
	to        string
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "summarize the daily valuation series over a range" }
func (*summaryCmd) Usage() string {
	return `folioctl summary -portfolio <id> [-from <YYYY-MM-DD>] [-to <YYYY-MM-DD>]

  Reads stored daily valuations (the last 30 days by default) and reports the
  value change, net flows, market gain and daily return statistics.
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.portfolio, "portfolio", 0, "Portfolio ID.")
	f.StringVar(&c.from, "from", "", "First day (defaults to 30 days before -to).")
	f.StringVar(&c.to, "to", "", "Last day (defaults to today).")
}

func (c *summaryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.portfolio <= 0 {
		return usageError("-portfolio is required")
	}

	to := domain.Day(time.Now())
	var err error
	if c.to != "" {
		if to, err = domain.ParseDate(c.to); err != nil {
			return usageError(fmt.Sprintf("invalid -to: %v", err))
		}
	}
	from := to.AddDate(0, 0, -30)
	if c.from != "" {
		if from, err = domain.ParseDate(c.from); err != nil {
			return usageError(fmt.Sprintf("invalid -from: %v", err))
		}
	}
	if from.After(to) {
		return usageError("-from must not be after -to")
	}

	s, err := open(ctx, false)
	if err != nil {
		return fail(err)
	}
	defer s.close()

	if _, err := s.container.PortfolioRepo.Get(ctx, c.portfolio); err != nil {
		return fail(err)
	}
	rows, err := s.container.DailyChangeRepo.Range(ctx, c.portfolio, from, to)
	if err != nil {
		return fail(err)
	}
	if err := printJSON(valuation.Summarize(rows)); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}
