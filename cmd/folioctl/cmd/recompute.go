package cmd

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/recompute"
	"github.com/google/subcommands"
)

type reconcileCmd struct {
	portfolio int64
	symbol    string
	timeout   time.Duration
}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "rebuild holdings from the ledger" }
func (*reconcileCmd) Usage() string {
	return `folioctl reconcile -portfolio <id> [-symbol <symbol>]

  Replays the transactions of one symbol, or of every symbol when -symbol is
  omitted, and rebuilds the valuation series from the earliest affected date.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.portfolio, "portfolio", 0, "Portfolio ID.")
	f.StringVar(&c.symbol, "symbol", "", "Reconcile a single symbol.")
	f.DurationVar(&c.timeout, "timeout", 30*time.Minute, "Give up waiting after this long.")
}

func (c *reconcileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.portfolio <= 0 {
		return usageError("-portfolio is required")
	}

	s, err := open(ctx, true)
	if err != nil {
		return fail(err)
	}
	defer s.close()

	var symbols []string
	if sym := strings.ToUpper(strings.TrimSpace(c.symbol)); sym != "" {
		symbols = append(symbols, sym)
	}
	if _, err := s.container.PortfolioRepo.Get(ctx, c.portfolio); err != nil {
		return fail(err)
	}
	if _, err := s.container.Orchestrator.EnqueueReconcile(c.portfolio, symbols...); err != nil {
		return fail(err)
	}
	return finishRecompute(ctx, s, c.portfolio, c.timeout)
}

type rebuildCmd struct {
	portfolio int64
	from      string
	timeout   time.Duration
}

func (*rebuildCmd) Name() string     { return "rebuild" }
func (*rebuildCmd) Synopsis() string { return "rebuild the daily valuation series" }
func (*rebuildCmd) Usage() string {
	return `folioctl rebuild -portfolio <id> [-from <YYYY-MM-DD>]

  Recomputes daily valuations from -from through today, or the whole series
  when -from is omitted. Holdings are not reconciled.
`
}

func (c *rebuildCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.portfolio, "portfolio", 0, "Portfolio ID.")
	f.StringVar(&c.from, "from", "", "First day to rebuild.")
	f.DurationVar(&c.timeout, "timeout", 30*time.Minute, "Give up waiting after this long.")
}

func (c *rebuildCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.portfolio <= 0 {
		return usageError("-portfolio is required")
	}

	var from *time.Time
	if c.from != "" {
		d, err := domain.ParseDate(c.from)
		if err != nil {
			return usageError(fmt.Sprintf("invalid -from: %v", err))
		}
		from = &d
	}

	s, err := open(ctx, true)
	if err != nil {
		return fail(err)
	}
	defer s.close()

	if _, err := s.container.PortfolioRepo.Get(ctx, c.portfolio); err != nil {
		return fail(err)
	}
	if _, err := s.container.Orchestrator.EnqueueRebuild(c.portfolio, from); err != nil {
		return fail(err)
	}
	return finishRecompute(ctx, s, c.portfolio, c.timeout)
}

type statusCmd struct {
	portfolio int64
}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show the recompute state of a portfolio" }
func (*statusCmd) Usage() string {
	return `folioctl status -portfolio <id>
`
}

func (c *statusCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.portfolio, "portfolio", 0, "Portfolio ID.")
}

func (c *statusCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.portfolio <= 0 {
		return usageError("-portfolio is required")
	}

	s, err := open(ctx, false)
	if err != nil {
		return fail(err)
	}
	defer s.close()

	st, err := s.container.Orchestrator.Status(ctx, c.portfolio)
	if err != nil {
		return fail(err)
	}
	if err := printJSON(st); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

// finishRecompute waits for the queued cycle and prints the final status.
func finishRecompute(ctx context.Context, s *session, portfolioID int64, timeout time.Duration) subcommands.ExitStatus {
	if err := s.wait(ctx, timeout); err != nil {
		return fail(err)
	}
	st, err := s.container.Orchestrator.Status(ctx, portfolioID)
	if err != nil {
		return fail(err)
	}
	if err := printJSON(st); err != nil {
		return fail(err)
	}
	if st.LastRun != nil && st.LastRun.Outcome == recompute.OutcomeFailed {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
