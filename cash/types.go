/*
Package cash implements bank-statement reconciliation over the movement
ledger.

PURPOSE:
  Validates and applies imported bank-statement entries, maintains running
  balance continuity per account, and implements the approve-once review
  workflow.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: one bank ledger row. The movement itself is immutable; the
    approval fields (approved_by/approved_at) are the single, explicit
    carve-out and are settable exactly once.
  - Status state machine: Imported -> Approved (terminal), or
    Imported -> Flagged (terminal pending manual resolution, which
    produces a new corrective entry, never an edit).
  - StatementLine: an already-parsed row from an imported statement. When
    it carries the statement's own declared running balance, that value is
    checked against the computed one to surface extraction errors.

SEE ALSO:
  - service.go: import / approve / unreconciled operations
  - store.go: persistence contract
*/
package cash

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmacore/ledger-engine/ledger"
)

// ErrEntryFlagged is returned when approving an entry that failed its
// balance check. Flagged entries await a corrective entry, not approval.
var ErrEntryFlagged = errors.New("entry is flagged for manual reconciliation")

// =============================================================================
// DIRECTION & STATUS
// =============================================================================

type Direction string

const (
	Credit Direction = "CR"
	Debit  Direction = "DR"
)

// MovementKind maps the direction onto the ledger's movement taxonomy.
func (d Direction) MovementKind() ledger.MovementKind {
	if d == Credit {
		return ledger.MovementCredit
	}
	return ledger.MovementDebit
}

type Status string

const (
	StatusImported Status = "imported"
	StatusApproved Status = "approved"
	StatusFlagged  Status = "flagged"
)

// =============================================================================
// ENTRY - One bank ledger row
// =============================================================================

// Entry is a bank statement movement plus its review state. The movement
// fields are immutable after import; only the approval fields may be set,
// exactly once. Flagged entries are excluded from the balance fold until a
// corrective entry resolves them.
type Entry struct {
	ID        ledger.EntryID
	AccountID string

	// Externally supplied, globally unique. The natural idempotency key.
	TranID string

	OccurredAt  time.Time
	Direction   Direction
	Amount      decimal.Decimal // always > 0; sign comes from Direction
	Description string

	// Computed at import: previous balance +/- amount.
	RunningBalance decimal.Decimal

	Status     Status
	ApprovedBy string
	ApprovedAt *time.Time

	RecordedAt time.Time
	Seq        int64
}

// Signed returns the entry's contribution to the account balance:
// +amount for CR, -amount for DR.
func (e Entry) Signed() decimal.Decimal {
	if e.Direction == Credit {
		return e.Amount
	}
	return e.Amount.Neg()
}

// Key returns the ledger entity key for the entry's account.
func (e Entry) Key() ledger.EntityKey {
	return AccountKey(e.AccountID)
}

// AccountKey returns the ledger entity key for a bank account.
func AccountKey(accountID string) ledger.EntityKey {
	return ledger.EntityKey(accountID)
}

// =============================================================================
// STATEMENT LINE - Parsed input from the document intake pipeline
// =============================================================================

type StatementLine struct {
	TranID      string
	OccurredAt  time.Time
	Direction   Direction
	Amount      decimal.Decimal
	Description string

	// The statement's own running balance, when the source document had
	// one. Nil when the extraction produced no balance column.
	DeclaredBalance *decimal.Decimal
}

// =============================================================================
// RESULTS
// =============================================================================

type ImportResult struct {
	Entry *Entry
}

// LineResult reports the outcome for one line of a batch import.
type LineResult struct {
	TranID  string
	Entry   *Entry
	Skipped bool // duplicate tran_id
	Err     error
}

// BatchResult accumulates per-line outcomes, so one bad row never aborts
// the rest of the statement.
type BatchResult struct {
	Imported int
	Skipped  int
	Failed   int
	Lines    []LineResult
}
