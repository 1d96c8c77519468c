package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across modules.
var (
	// ErrUnsupported is returned by a provider asked for an operation or
	// instrument it does not handle. The chain moves on without logging a failure.
	ErrUnsupported = errors.New("operation not supported")
	// ErrNotFound is returned when a provider has no data for the instrument.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransaction is returned when a transaction fails validation.
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrInvalidPortfolio is returned when a portfolio fails validation.
	ErrInvalidPortfolio = errors.New("invalid portfolio")
	// ErrUnscoped is returned when a bulk operation is invoked without a
	// portfolio, a user or an explicit all-portfolios flag.
	ErrUnscoped = errors.New("operation requires a portfolio, a user or the all flag")
)

// ProviderTransientError wraps a failure that may succeed on retry
// (network errors, timeouts, HTTP 429 and 5xx).
type ProviderTransientError struct {
	Err      error
	Provider string
}

func (e *ProviderTransientError) Error() string {
	return fmt.Sprintf("provider %s: transient: %v", e.Provider, e.Err)
}

func (e *ProviderTransientError) Unwrap() error { return e.Err }

// ProviderConfigError means the provider is not usable at all, e.g. a
// missing API key. The chain treats it as a skip.
type ProviderConfigError struct {
	Provider string
	Reason   string
}

func (e *ProviderConfigError) Error() string {
	return fmt.Sprintf("provider %s: not configured: %s", e.Provider, e.Reason)
}

// Attempt records one provider call made while resolving a request.
type Attempt struct {
	Err      error
	Provider string
	Outcome  string
	Duration time.Duration
}

// AllProvidersExhaustedError is returned when no provider in the chain
// produced a result.
type AllProvidersExhaustedError struct {
	Operation string
	Symbol    string
	Attempts  []Attempt
}

func (e *AllProvidersExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			parts = append(parts, fmt.Sprintf("%s=%s (%v)", a.Provider, a.Outcome, a.Err))
		} else {
			parts = append(parts, fmt.Sprintf("%s=%s", a.Provider, a.Outcome))
		}
	}
	return fmt.Sprintf("all providers exhausted for %s %s: [%s]", e.Operation, e.Symbol, strings.Join(parts, ", "))
}

// Transient reports whether any attempt failed transiently, meaning a later
// retry could succeed.
func (e *AllProvidersExhaustedError) Transient() bool {
	for _, a := range e.Attempts {
		if IsTransient(a.Err) {
			return true
		}
	}
	return false
}

// NoRateAvailableError is returned when no FX rate could be found or fetched
// within the lookback window.
type NoRateAvailableError struct {
	Date     time.Time
	Cause    error
	From     string
	To       string
	Lookback int
}

func (e *NoRateAvailableError) Error() string {
	msg := fmt.Sprintf("no %s/%s rate on or within %d days before %s", e.From, e.To, e.Lookback, FormatDate(e.Date))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *NoRateAvailableError) Unwrap() error { return e.Cause }

// OversoldPositionError is a data-integrity failure: a sale exceeds the
// quantity held at that point of the replay.
type OversoldPositionError struct {
	TradeDate     time.Time
	Symbol        string
	Held          decimal.Decimal
	Sold          decimal.Decimal
	PortfolioID   int64
	TransactionID int64
}

func (e *OversoldPositionError) Error() string {
	return fmt.Sprintf("portfolio %d: transaction %d sells %s %s on %s but only %s held",
		e.PortfolioID, e.TransactionID, e.Sold, e.Symbol, FormatDate(e.TradeDate), e.Held)
}

// StaleWriteError is returned when a rebuild is superseded by a newer
// request before its results were committed.
type StaleWriteError struct {
	PortfolioID int64
	Generation  int64
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("portfolio %d: rebuild for generation %d superseded", e.PortfolioID, e.Generation)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *ProviderTransientError
	if errors.As(err, &te) {
		return true
	}
	var ex *AllProvidersExhaustedError
	if errors.As(err, &ex) {
		return ex.Transient()
	}
	var nr *NoRateAvailableError
	if errors.As(err, &nr) && nr.Cause != nil {
		return IsTransient(nr.Cause)
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsDataIntegrity reports whether err stems from inconsistent ledger data
// that no retry will fix.
func IsDataIntegrity(err error) bool {
	var op *OversoldPositionError
	return errors.As(err, &op) || errors.Is(err, ErrInvalidTransaction)
}

// IsStaleWrite reports whether err is a superseded rebuild.
func IsStaleWrite(err error) bool {
	var sw *StaleWriteError
	return errors.As(err, &sw)
}
