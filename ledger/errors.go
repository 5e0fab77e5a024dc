/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All shared error types in one place for consistency and discoverability.
  Domain packages (stock, cash) wrap these with additional context.

ERROR CATEGORIES:
  1. Deduplication - duplicate reference / duplicate bank transaction
  2. Validation - insufficient stock, balance mismatch, approval conflicts
  3. Concurrency - bounded lock wait exceeded

USAGE:
  if errors.Is(err, ledger.ErrInsufficientStock) {
      // hard reject, no partial fulfillment
  }
  if ledger.IsRetryable(err) {
      // safe to retry with backoff; no partial state was left durable
  }
*/
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateReference is returned when a (reference_type, reference_id)
	// already has ledger entries recorded. Expected behavior for retried
	// external submissions; callers treat it as already-applied.
	ErrDuplicateReference = errors.New("duplicate reference")

	// ErrDuplicateTransaction is returned when a bank statement tran_id is
	// already present. The tran_id is the natural idempotency key for cash.
	ErrDuplicateTransaction = errors.New("duplicate bank transaction")

	// ErrInsufficientStock is returned when an operation would drive a batch
	// quantity negative. Hard reject, no partial fulfillment.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrBalanceMismatch is returned when a statement's declared running
	// balance disagrees with the computed one beyond tolerance.
	ErrBalanceMismatch = errors.New("running balance mismatch")

	// ErrConcurrencyTimeout is returned when a per-key lock could not be
	// acquired within the retry budget. Safely retryable: append is
	// all-or-nothing, so no partial state is ever left durable.
	ErrConcurrencyTimeout = errors.New("concurrency timeout")

	// ErrAlreadyApproved is returned on a second approval attempt.
	// Indicates a workflow bug or a double-click.
	ErrAlreadyApproved = errors.New("entry already approved")

	// ErrEntryNotFound is returned when a referenced ledger entry doesn't exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrPositionNotFound is returned when a batch has no stock position.
	ErrPositionNotFound = errors.New("stock position not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateReferenceError reports which reference was already applied.
type DuplicateReferenceError struct {
	Reference Reference
}

func (e *DuplicateReferenceError) Error() string {
	return fmt.Sprintf("reference %s already applied", e.Reference)
}

func (e *DuplicateReferenceError) Unwrap() error { return ErrDuplicateReference }

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	EntityKey EntityKey
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %s, requested %s",
		e.EntityKey, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// BalanceMismatchError reports computed vs. declared running balance.
type BalanceMismatchError struct {
	EntityKey EntityKey
	TranID    string
	Computed  decimal.Decimal
	Declared  decimal.Decimal
	Tolerance decimal.Decimal
}

func (e *BalanceMismatchError) Error() string {
	return fmt.Sprintf("balance mismatch on %s (%s): computed %s, statement declares %s (tolerance %s)",
		e.EntityKey, e.TranID, e.Computed, e.Declared, e.Tolerance)
}

func (e *BalanceMismatchError) Unwrap() error { return ErrBalanceMismatch }

// ConcurrencyTimeoutError reports which key could not be locked in time.
type ConcurrencyTimeoutError struct {
	EntityKey EntityKey
	Waited    time.Duration
}

func (e *ConcurrencyTimeoutError) Error() string {
	return fmt.Sprintf("could not serialize access to %s within %s", e.EntityKey, e.Waited)
}

func (e *ConcurrencyTimeoutError) Unwrap() error { return ErrConcurrencyTimeout }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyTimeout)
}

// IsDuplicate returns true for idempotent-duplicate conditions. These are
// logged as info and treated as no-op success by business logic.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateReference) ||
		errors.Is(err, ErrDuplicateTransaction)
}

// IsClientError returns true if the error is due to invalid client input
// rather than an engine fault.
func IsClientError(err error) bool {
	return IsDuplicate(err) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrBalanceMismatch) ||
		errors.Is(err, ErrAlreadyApproved) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrPositionNotFound)
}
