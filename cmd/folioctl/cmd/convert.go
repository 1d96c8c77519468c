package cmd

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/currency"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

type convertCmd struct {
	amount string
	from   string
	to     string
	date   string
}

func (*convertCmd) Name() string     { return "convert" }
func (*convertCmd) Synopsis() string { return "convert an amount between currencies on a date" }
func (*convertCmd) Usage() string {
	return `folioctl convert -from <currency> -to <currency> [-amount <n>] [-date <YYYY-MM-DD>]

  Uses the cached rate for the date, falling back to the nearest earlier rate
  within the lookback window and fetching from providers when needed.
`
}

func (c *convertCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.amount, "amount", "1", "Amount to convert.")
	f.StringVar(&c.from, "from", "", "Source currency.")
	f.StringVar(&c.to, "to", "", "Target currency.")
	f.StringVar(&c.date, "date", "", "Rate date (defaults to today).")
}

func (c *convertCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.from == "" || c.to == "" {
		return usageError("-from and -to are required")
	}
	amount, err := decimal.NewFromString(c.amount)
	if err != nil {
		return usageError(fmt.Sprintf("invalid -amount: %v", err))
	}
	date := domain.Day(time.Now())
	if c.date != "" {
		if date, err = domain.ParseDate(c.date); err != nil {
			return usageError(fmt.Sprintf("invalid -date: %v", err))
		}
	}

	s, err := open(ctx, false)
	if err != nil {
		return fail(err)
	}
	defer s.close()

	conv, err := s.container.CurrencyService.Convert(ctx, amount, c.from, c.to, date)
	if err != nil {
		return fail(err)
	}
	conv.Amount = currency.Round(conv.Amount, conv.To)
	if err := printJSON(conv); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}
