/*
Package ledger provides the core movement-ledger engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for maintaining
  authoritative balances derived from an append-only movement log. Whether
  the entity is a medicine batch (quantity) or a bank account (cash balance),
  the same engine handles appends, deduplication, and balance projection.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable ledger record of one signed movement
  - EntityKey: What the movement belongs to (batch or account)
  - MovementKind: IN | OUT | ADJUST for stock, CR | DR for cash
  - Reference: The external event that produced the movement

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only compensated
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Determinism: Entries carry a store-assigned sequence number so that
     replay order is a total order
  4. Auditability: Every entry has its origin reference and timestamps

USAGE:
  entry := ledger.Entry{
      ID:         ledger.NewEntryID(),
      EntityKey:  "Paracetamol 500mg|PC1023",
      Kind:       ledger.MovementIn,
      Delta:      decimal.NewFromInt(100),
      Reference:  &ledger.Reference{Type: ledger.RefSupplierInvoice, ID: "INV-1"},
      OccurredAt: time.Now(),
  }

SEE ALSO:
  - store.go: Persistence interfaces
  - ledger.go: Append with reference deduplication
  - projector.go: Balance computation from entries
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// EntityKey identifies the thing a movement belongs to. For stock it is
// "medicine_name|batch_number", for cash it is the bank account id.
type EntityKey string

type EntryID string

// NewEntryID returns a fresh unique entry id.
func NewEntryID() EntryID {
	return EntryID(uuid.NewString())
}

// =============================================================================
// MOVEMENT KINDS
// =============================================================================

type MovementKind string

const (
	// Stock movements
	MovementIn     MovementKind = "IN"     // supplier receipt
	MovementOut    MovementKind = "OUT"    // sale
	MovementAdjust MovementKind = "ADJUST" // physical-count correction

	// Cash movements
	MovementCredit MovementKind = "CR"
	MovementDebit  MovementKind = "DR"
)

// =============================================================================
// REFERENCE - Origin event of a movement
// =============================================================================

type ReferenceType string

const (
	RefPOS             ReferenceType = "POS"
	RefSupplierInvoice ReferenceType = "SUPPLIER_INVOICE"
	RefBankImport      ReferenceType = "BANK_IMPORT"
	RefManual          ReferenceType = "MANUAL"
)

// Reference identifies the external event a movement came from.
// A given reference produces at most one set of ledger entries, ever.
// Entries with a nil reference are manual and intentionally repeatable.
type Reference struct {
	Type ReferenceType
	ID   string
}

// Key returns the canonical dedup key for claims and uniqueness checks.
func (r Reference) Key() string {
	return string(r.Type) + ":" + r.ID
}

func (r Reference) String() string {
	return r.Key()
}

// =============================================================================
// ENTRY - Immutable signed movement record
// =============================================================================

// Entry is one immutable movement against an entity key.
//
// INVARIANTS:
//   - Never updated or deleted after commit; corrections are new
//     compensating entries.
//   - Delta carries the sign: IN/ADJUST+ positive, OUT negative,
//     CR positive, DR negative.
type Entry struct {
	ID        EntryID
	EntityKey EntityKey
	Kind      MovementKind

	// Signed quantity (stock) or amount (cash).
	Delta decimal.Decimal

	// Origin event. Nil for manual, non-deduplicated entries.
	Reference *Reference

	// When the movement happened in the real world vs. when it was recorded.
	OccurredAt time.Time
	RecordedAt time.Time

	Remarks string

	// Store-assigned insertion sequence. Breaks (OccurredAt, RecordedAt)
	// ties so replay is a total order.
	Seq int64
}

// SortBefore reports whether e is ordered before other in ledger order:
// (occurred_at, recorded_at, seq).
func (e Entry) SortBefore(other Entry) bool {
	if !e.OccurredAt.Equal(other.OccurredAt) {
		return e.OccurredAt.Before(other.OccurredAt)
	}
	if !e.RecordedAt.Equal(other.RecordedAt) {
		return e.RecordedAt.Before(other.RecordedAt)
	}
	return e.Seq < other.Seq
}
