package recompute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
)

// Outcome is how a recompute run ended.
type Outcome string

const (
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuperseded Outcome = "superseded"
)

// Run is the audit record of one reconcile+rebuild cycle.
type Run struct {
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
	From        *time.Time `json:"from,omitempty"`
	ID          string     `json:"id"`
	Outcome     Outcome    `json:"outcome"`
	Stage       State      `json:"stage"`
	Error       string     `json:"error,omitempty"`
	Symbols     []string   `json:"symbols"`
	PortfolioID int64      `json:"portfolio_id"`
	Generation  int64      `json:"generation"`
	Reconciled  int        `json:"reconciled"`
	Rows        int        `json:"rows"`
}

const runColumns = `id, portfolio_id, generation, outcome, stage, symbols, from_date, reconciled, rows_written, error, started_at, finished_at`

// RunRepository stores recompute run records.
type RunRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("repo", "recompute_runs").Logger(),
	}
}

func scanRun(row interface{ Scan(...interface{}) error }) (*Run, error) {
	var r Run
	var symbols, stage, outcome string
	var from, errMsg sql.NullString
	var started, finished int64
	err := row.Scan(&r.ID, &r.PortfolioID, &r.Generation, &outcome, &stage, &symbols, &from,
		&r.Reconciled, &r.Rows, &errMsg, &started, &finished)
	if err != nil {
		return nil, err
	}
	r.Outcome = Outcome(outcome)
	r.Stage = State(stage)
	if symbols != "" {
		r.Symbols = strings.Split(symbols, ",")
	}
	if from.Valid {
		d, err := domain.ParseDate(from.String)
		if err != nil {
			return nil, fmt.Errorf("invalid from_date %q: %w", from.String, err)
		}
		r.From = &d
	}
	r.Error = errMsg.String
	r.StartedAt = time.Unix(started, 0).UTC()
	r.FinishedAt = time.Unix(finished, 0).UTC()
	return &r, nil
}

// Record inserts a finished run.
func (r *RunRepository) Record(ctx context.Context, run *Run) error {
	var from, errMsg interface{}
	if run.From != nil {
		from = domain.FormatDate(*run.From)
	}
	if run.Error != "" {
		errMsg = run.Error
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recompute_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.PortfolioID, run.Generation, string(run.Outcome), string(run.Stage),
		strings.Join(run.Symbols, ","), from, run.Reconciled, run.Rows, errMsg,
		run.StartedAt.Unix(), run.FinishedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record recompute run %s: %w", run.ID, err)
	}
	return nil
}

// Latest returns the most recent run for a portfolio, or nil.
func (r *RunRepository) Latest(ctx context.Context, portfolioID int64) (*Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM recompute_runs WHERE portfolio_id = ? ORDER BY started_at DESC, rowid DESC LIMIT 1",
		portfolioID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return run, nil
}

// List returns up to limit runs for a portfolio, newest first.
func (r *RunRepository) List(ctx context.Context, portfolioID int64, limit int) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM recompute_runs WHERE portfolio_id = ? ORDER BY started_at DESC, rowid DESC LIMIT ?",
		portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}
