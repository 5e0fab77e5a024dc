/*
store.go - Persistence interfaces for the movement ledger

PURPOSE:
  Defines the interface between the ledger logic and the database.
  Different implementations can use SQLite or in-memory storage.

APPEND-ONLY CONTRACT:
  The Store interface enforces append-only semantics:
  - Append(): single entry write
  - AppendBatch(): atomic multi-entry write (one sale = many line items)
  - NO Update() or Delete() methods exist

ORDERING:
  Load returns entries in ledger order (occurred_at, recorded_at, seq).
  The store assigns seq on append so replay is deterministic.

CLAIMS:
  ClaimStore records one-time permanent idempotency claims: an atomic
  insert-if-absent. Claims are never released - a monotone set, not a lock -
  because an external document must never be re-applied, even after the
  importing job restarts.

IMPLEMENTATIONS:
  - store/sqlite: durable SQLite store
  - ledger/store: in-memory store for tests and dev
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// READER - Ordered, restartable entry sequences
// =============================================================================

// Reader is the read side of a movement ledger. Both reads return entries
// in ledger order; the projector only needs this.
type Reader interface {
	// Load returns all entries for an entity key.
	Load(ctx context.Context, key EntityKey) ([]Entry, error)

	// LoadAsOf returns entries with occurred_at <= asOf, for point-in-time
	// audit queries.
	LoadAsOf(ctx context.Context, key EntityKey, asOf time.Time) ([]Entry, error)
}

// =============================================================================
// STORE - Append-only persistence
// =============================================================================

// Store handles persistence of ledger entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
// Corrections are made via compensating entries.
type Store interface {
	Reader

	// Append persists one entry, assigning its sequence number.
	Append(ctx context.Context, entry Entry) error

	// AppendBatch persists multiple entries atomically.
	// Either all succeed or none do. Used when one external event
	// (a sale, an invoice) expands to several line-item entries.
	AppendBatch(ctx context.Context, entries []Entry) error

	// HasReference checks whether any entry was recorded for the reference.
	HasReference(ctx context.Context, ref Reference) (bool, error)
}

// =============================================================================
// CLAIM STORE - Permanent idempotency claims
// =============================================================================

// ClaimStore records idempotency claims. Claim must be atomic and globally
// consistent under concurrent duplicate submissions of the same reference.
type ClaimStore interface {
	// Claim records the reference if absent and returns true.
	// Returns false if the reference was already claimed.
	Claim(ctx context.Context, ref Reference) (bool, error)
}

// =============================================================================
// BALANCE CACHE - Optional persisted projection cache
// =============================================================================

// BalanceCache persists last-computed balances. It is purely an
// optimization: never authoritative, invalidated on every append, and the
// projector always re-derives on a miss.
type BalanceCache interface {
	GetBalance(ctx context.Context, key EntityKey) (*CachedBalance, error)
	PutBalance(ctx context.Context, key EntityKey, cached CachedBalance) error
	InvalidateBalance(ctx context.Context, key EntityKey) error
}

// CachedBalance is a materialized fold result: the balance plus the seq of
// the last entry folded into it.
type CachedBalance struct {
	Balance   decimal.Decimal
	LastSeq   int64
	UpdatedAt time.Time
}
