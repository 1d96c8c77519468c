// Package recompute sequences holding reconciliation and valuation rebuilds
// per portfolio. Triggers are merged into one pending request per portfolio
// and executed as a single work item, so a burst of ledger mutations costs
// one follow-up cycle rather than one cycle each.
package recompute

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/events"
	"github.com/aristath/folio/internal/modules/holdings"
	"github.com/aristath/folio/internal/modules/valuation"
	"github.com/aristath/folio/internal/work"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WorkTypeID identifies the recompute work type. Subjects are portfolio IDs.
const WorkTypeID = "recompute:portfolio"

// State is the stage a portfolio's recompute cycle is in.
type State string

const (
	StateIdle        State = "idle"
	StateReconciling State = "reconciling_holdings"
	StateRebuilding  State = "rebuilding_valuation"
)

// Reconciler replays one holding.
type Reconciler interface {
	Reconcile(ctx context.Context, portfolioID int64, symbol string) (*holdings.Result, error)
}

// Rebuilder rebuilds the daily valuation series.
type Rebuilder interface {
	Rebuild(ctx context.Context, portfolioID int64, from *time.Time, generation int64) (*valuation.Report, error)
}

// SymbolSource lists the symbols a portfolio has transactions or holdings for.
type SymbolSource interface {
	Symbols(ctx context.Context, portfolioID int64) ([]string, error)
}

// Queue accepts work items. *work.Processor satisfies it.
type Queue interface {
	Enqueue(typeID, subject string) (bool, error)
}

// Request describes the recomputation a trigger needs.
type Request struct {
	// From is the earliest day whose valuation may have changed. Nil means
	// rebuild the whole series.
	From *time.Time
	// Symbols to reconcile. Empty with AllSymbols unset reconciles nothing.
	Symbols    []string
	AllSymbols bool
	// SkipRebuild stops the cycle after reconciliation.
	SkipRebuild bool
	Reason      string
}

// pending is the merged form of every request received since the last
// cycle started.
type pending struct {
	from        *time.Time
	symbols     map[string]struct{}
	allSymbols  bool
	rebuild     bool
	fullRebuild bool
	reasons     []string
}

func (p *pending) merge(req Request) {
	p.reasons = append(p.reasons, req.Reason)
	if req.AllSymbols {
		p.allSymbols = true
	}
	for _, s := range req.Symbols {
		p.symbols[s] = struct{}{}
	}
	if req.SkipRebuild {
		return
	}
	switch {
	case req.From == nil:
		p.fullRebuild = true
		p.from = nil
	case p.fullRebuild:
	case !p.rebuild:
		from := domain.Day(*req.From)
		p.from = &from
	default:
		p.from = domain.MinDate(p.from, req.From)
	}
	p.rebuild = true
}

func (p *pending) symbolList() []string {
	out := make([]string, 0, len(p.symbols))
	for s := range p.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// request reconstructs a Request equivalent to the merged state.
func (p *pending) request() Request {
	return Request{
		From:        p.from,
		Symbols:     p.symbolList(),
		AllSymbols:  p.allSymbols,
		SkipRebuild: !p.rebuild,
		Reason:      "retry",
	}
}

type portfolioState struct {
	lastRun    *Run
	pending    *pending
	state      State
	generation int64
	// needsReconcile is set until a full reconciliation has succeeded, so a
	// rebuild never runs atop holdings left behind by a failed cycle.
	needsReconcile bool
}

// Status is the externally visible state of a portfolio.
type Status struct {
	LastRun     *Run  `json:"last_run,omitempty"`
	State       State `json:"state"`
	PortfolioID int64 `json:"portfolio_id"`
	Generation  int64 `json:"generation"`
	Pending     bool  `json:"pending"`
}

// Orchestrator owns the per-portfolio state machine
// Idle → ReconcilingHoldings → RebuildingValuation → Idle.
type Orchestrator struct {
	reconciler   Reconciler
	rebuilder    Rebuilder
	symbols      SymbolSource
	runs         *RunRepository
	queue        Queue
	eventManager *events.Manager
	log          zerolog.Logger
	now          func() time.Time

	mu     sync.Mutex
	states map[int64]*portfolioState
}

// NewOrchestrator creates a new recompute orchestrator. Register must be
// called before requests are accepted.
func NewOrchestrator(
	reconciler Reconciler,
	rebuilder Rebuilder,
	symbols SymbolSource,
	runs *RunRepository,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		reconciler:   reconciler,
		rebuilder:    rebuilder,
		symbols:      symbols,
		runs:         runs,
		eventManager: eventManager,
		log:          log.With().Str("service", "recompute").Logger(),
		now:          time.Now,
		states:       make(map[int64]*portfolioState),
	}
}

// SetClock overrides the time source (tests).
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Register adds the recompute work type to registry and routes requests to
// queue.
func (o *Orchestrator) Register(registry *work.Registry, queue Queue) {
	o.queue = queue
	registry.Register(&work.WorkType{
		ID:        WorkTypeID,
		Priority:  work.PriorityHigh,
		Retryable: domain.IsTransient,
		Execute: func(ctx context.Context, subject string) error {
			id, err := strconv.ParseInt(subject, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid portfolio subject %q: %w", subject, err)
			}
			return o.Execute(ctx, id)
		},
	})
}

// Subscribe wires ledger mutations to recompute requests.
func (o *Orchestrator) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.TransactionChanged, func(e events.Event) {
		data, ok := e.Data.(*events.TransactionChangedData)
		if !ok {
			return
		}
		if _, err := o.OnTransactionChanged(data); err != nil {
			o.log.Error().Err(err).Int64("portfolio_id", data.PortfolioID).Msg("Failed to schedule recompute")
		}
	})
}

// OnTransactionChanged reconciles the touched symbols and rebuilds from the
// earliest affected date.
func (o *Orchestrator) OnTransactionChanged(data *events.TransactionChangedData) (int64, error) {
	from := domain.Day(data.EarliestDate)
	return o.Request(data.PortfolioID, Request{
		Symbols: data.Symbols,
		From:    &from,
		Reason:  "transaction_" + string(data.Kind),
	})
}

// EnqueueReconcile reconciles the given symbols, or every symbol when none
// are given, without touching the valuation series.
func (o *Orchestrator) EnqueueReconcile(portfolioID int64, symbols ...string) (int64, error) {
	return o.Request(portfolioID, Request{
		Symbols:     symbols,
		AllSymbols:  len(symbols) == 0,
		SkipRebuild: true,
		Reason:      "reconcile",
	})
}

// EnqueueRebuild rebuilds the valuation series from the given day, or in
// full when from is nil.
func (o *Orchestrator) EnqueueRebuild(portfolioID int64, from *time.Time) (int64, error) {
	return o.Request(portfolioID, Request{From: from, Reason: "rebuild"})
}

// Request merges req into the portfolio's pending request and schedules a
// cycle. It returns the generation the request was merged into. A cycle
// already running for an older generation stops at its next batch write.
func (o *Orchestrator) Request(portfolioID int64, req Request) (int64, error) {
	if o.queue == nil {
		return 0, fmt.Errorf("recompute orchestrator is not registered with a work queue")
	}

	o.mu.Lock()
	ps := o.stateLocked(portfolioID)
	if ps.pending == nil {
		ps.pending = &pending{symbols: make(map[string]struct{})}
	}
	ps.pending.merge(req)
	ps.generation++
	gen := ps.generation
	o.mu.Unlock()

	if _, err := o.queue.Enqueue(WorkTypeID, strconv.FormatInt(portfolioID, 10)); err != nil {
		return 0, err
	}
	o.log.Debug().
		Int64("portfolio_id", portfolioID).
		Int64("generation", gen).
		Str("reason", req.Reason).
		Msg("Recompute requested")
	return gen, nil
}

// Current returns the latest generation for a portfolio. The rebuilder
// checks it before each batch write.
func (o *Orchestrator) Current(portfolioID int64) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ps, ok := o.states[portfolioID]; ok {
		return ps.generation
	}
	return 0
}

// Status reports the state of a portfolio. The last run falls back to the
// persisted record when this process has not run one yet.
func (o *Orchestrator) Status(ctx context.Context, portfolioID int64) (*Status, error) {
	o.mu.Lock()
	st := Status{PortfolioID: portfolioID, State: StateIdle}
	if ps, ok := o.states[portfolioID]; ok {
		st.State = ps.state
		st.Generation = ps.generation
		st.Pending = ps.pending != nil
		st.LastRun = ps.lastRun
	}
	o.mu.Unlock()

	if st.LastRun == nil && o.runs != nil {
		run, err := o.runs.Latest(ctx, portfolioID)
		if err != nil {
			return nil, err
		}
		st.LastRun = run
	}
	return &st, nil
}

func (o *Orchestrator) stateLocked(portfolioID int64) *portfolioState {
	ps, ok := o.states[portfolioID]
	if !ok {
		ps = &portfolioState{state: StateIdle, needsReconcile: true}
		o.states[portfolioID] = ps
	}
	return ps
}

// take claims the pending request. The work processor guarantees at most one
// Execute per portfolio, so no other cycle is in flight.
func (o *Orchestrator) take(portfolioID int64) (*pending, int64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ps := o.stateLocked(portfolioID)
	p := ps.pending
	ps.pending = nil
	return p, ps.generation, ps.needsReconcile
}

// giveBack merges an unfinished request into whatever arrived meanwhile so
// the follow-up cycle covers both.
func (o *Orchestrator) giveBack(portfolioID int64, p *pending) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ps := o.stateLocked(portfolioID)
	if ps.pending == nil {
		ps.pending = &pending{symbols: make(map[string]struct{})}
	}
	ps.pending.merge(p.request())
}

func (o *Orchestrator) transition(run *Run, to State) {
	o.mu.Lock()
	ps := o.stateLocked(run.PortfolioID)
	from := ps.state
	ps.state = to
	o.mu.Unlock()

	o.log.Info().
		Int64("portfolio_id", run.PortfolioID).
		Str("run_id", run.ID).
		Int64("generation", run.Generation).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Recompute state changed")
}

// Execute runs one cycle for the portfolio's pending request.
func (o *Orchestrator) Execute(ctx context.Context, portfolioID int64) error {
	p, generation, needsReconcile := o.take(portfolioID)
	if p == nil {
		return nil
	}

	run := &Run{
		ID:          uuid.NewString(),
		PortfolioID: portfolioID,
		Generation:  generation,
		StartedAt:   o.now(),
		Stage:       StateReconciling,
	}
	defer o.transition(run, StateIdle)

	if needsReconcile && p.rebuild {
		p.allSymbols = true
	}
	o.transition(run, StateReconciling)
	symbols, err := o.reconcile(ctx, run, p)
	if err != nil {
		return o.fail(ctx, run, p, err)
	}
	if p.allSymbols {
		o.mu.Lock()
		o.stateLocked(portfolioID).needsReconcile = false
		o.mu.Unlock()
	}
	if len(symbols) > 0 {
		o.eventManager.Emit("recompute", &events.HoldingsReconciledData{
			RunID:       run.ID,
			PortfolioID: portfolioID,
			Symbols:     symbols,
			Changed:     run.Reconciled,
		})
	}

	if !p.rebuild {
		return o.finish(ctx, run, OutcomeSucceeded)
	}

	run.Stage = StateRebuilding
	run.From = p.from
	o.transition(run, StateRebuilding)
	report, err := o.rebuilder.Rebuild(ctx, portfolioID, p.from, generation)
	if domain.IsStaleWrite(err) {
		o.giveBack(portfolioID, p)
		o.log.Info().
			Int64("portfolio_id", portfolioID).
			Str("run_id", run.ID).
			Int64("generation", generation).
			Msg("Rebuild superseded by a newer request")
		return o.finish(ctx, run, OutcomeSuperseded)
	}
	if err != nil {
		return o.fail(ctx, run, p, err)
	}
	run.Rows = report.Rows

	o.eventManager.Emit("recompute", &events.ValuationRebuiltData{
		RunID:        run.ID,
		PortfolioID:  portfolioID,
		From:         report.From,
		To:           report.To,
		Rows:         report.Rows,
		DegradedDays: report.DegradedDays,
	})
	return o.finish(ctx, run, OutcomeSucceeded)
}

// reconcile replays every requested symbol. The first failure aborts the
// cycle.
func (o *Orchestrator) reconcile(ctx context.Context, run *Run, p *pending) ([]string, error) {
	symbols := p.symbolList()
	if p.allSymbols {
		all, err := o.symbols.Symbols(ctx, run.PortfolioID)
		if err != nil {
			return nil, err
		}
		// Symbols passed explicitly may already have lost every transaction
		// and still need their holding removed.
		seen := make(map[string]struct{}, len(all)+len(symbols))
		for _, s := range append(all, symbols...) {
			seen[s] = struct{}{}
		}
		symbols = symbols[:0]
		for s := range seen {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
	}
	run.Symbols = symbols

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := o.reconciler.Reconcile(ctx, run.PortfolioID, symbol)
		if err != nil {
			return nil, &reconcileError{symbol: symbol, err: err}
		}
		if res.Changed {
			run.Reconciled++
		}
	}
	return symbols, nil
}

type reconcileError struct {
	symbol string
	err    error
}

func (e *reconcileError) Error() string {
	return fmt.Sprintf("reconcile %s: %v", e.symbol, e.err)
}

func (e *reconcileError) Unwrap() error { return e.err }

func (o *Orchestrator) fail(ctx context.Context, run *Run, p *pending, err error) error {
	transient := domain.IsTransient(err)
	integrity := domain.IsDataIntegrity(err)
	if transient {
		o.giveBack(run.PortfolioID, p)
	}
	if run.Stage == StateReconciling {
		o.mu.Lock()
		o.stateLocked(run.PortfolioID).needsReconcile = true
		o.mu.Unlock()
	}

	data := &events.RecomputeFailedData{
		RunID:       run.ID,
		PortfolioID: run.PortfolioID,
		Stage:       string(run.Stage),
		Error:       err.Error(),
		Integrity:   integrity,
		Retrying:    transient,
	}
	var re *reconcileError
	if errors.As(err, &re) {
		data.Symbol = re.symbol
	}
	o.eventManager.Emit("recompute", data)

	run.Error = err.Error()
	_ = o.finish(ctx, run, OutcomeFailed)
	return err
}

func (o *Orchestrator) finish(ctx context.Context, run *Run, outcome Outcome) error {
	run.Outcome = outcome
	run.FinishedAt = o.now()

	o.mu.Lock()
	o.stateLocked(run.PortfolioID).lastRun = run
	o.mu.Unlock()

	if o.runs != nil {
		// The run context may already be cancelled; the audit row is still wanted.
		if err := o.runs.Record(context.WithoutCancel(ctx), run); err != nil {
			o.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record recompute run")
		}
	}

	event := o.log.Info()
	if outcome == OutcomeFailed {
		event = o.log.Warn().Str("error", run.Error)
	}
	event.
		Int64("portfolio_id", run.PortfolioID).
		Str("run_id", run.ID).
		Int64("generation", run.Generation).
		Str("outcome", string(outcome)).
		Int("reconciled", run.Reconciled).
		Int("rows", run.Rows).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("Recompute finished")
	return nil
}
