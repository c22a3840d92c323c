package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a lot or entry does not exist.
var ErrNotFound = errors.New("model: not found")

// ValidationError reports malformed or non-positive input. It is raised
// before any state is read.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// InsufficientBalanceError reports that a bucket holds less than requested.
// Available is always set so callers can offer the maximum spendable amount.
type InsufficientBalanceError struct {
	Wallet    Wallet
	Bucket    Bucket
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s %s balance: requested %s g, available %s g",
		e.Wallet, e.Bucket, e.Requested.StringFixed(GramsScale), e.Available.StringFixed(GramsScale))
}

// Shortfall is the missing amount.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// ConcurrencyConflictError reports a serialization or lock failure. The whole
// operation may be retried.
type ConcurrencyConflictError struct {
	Op  string
	Err error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict in %s: %v", e.Op, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

// InvariantViolationError is fatal: the transaction is aborted and the
// defect is escalated. It is never retried or swallowed.
type InvariantViolationError struct {
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return "invariant violation: " + e.Detail
}

// Invariantf builds an InvariantViolationError.
func Invariantf(format string, args ...any) error {
	return &InvariantViolationError{Detail: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err is retryable.
func IsConflict(err error) bool {
	var c *ConcurrencyConflictError
	return errors.As(err, &c)
}

// IsInvariant reports whether err carries an invariant violation.
func IsInvariant(err error) bool {
	var v *InvariantViolationError
	return errors.As(err, &v)
}
