/*
ledger.go - Append-only movement log

PURPOSE:
  The Ledger is the immutable source of truth for every stock quantity and
  cash balance change. Balance is always computed by replaying entries -
  any separately stored "current quantity" is a cache, never authoritative.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. DEDUPLICATED: A (reference_type, reference_id) produces at most one
     set of entries; manual entries (nil reference) are exempt
  4. TOTALLY ORDERED: (occurred_at, recorded_at, seq) gives a
     deterministic replay order

WHY APPEND-ONLY?
  - Audit trail: you can always explain how a balance got to its value
  - Correctness: a failed operation never corrupts shared projections,
    since projections are always re-derivable from the log

CORRECTIONS:
  A mistake is never edited. Instead:
  1. Append a compensating entry (opposite sign)
  2. Both original and compensation remain in the ledger
  3. Net effect is the correction, history is preserved

SEE ALSO:
  - store.go: persistence interface
  - projector.go: balance computation
  - stock, cash packages: domain services composing entries
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER - Append with reference deduplication
// =============================================================================

// Ledger wraps a Store with the reference-uniqueness check. It is the only
// write path into the movement log.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append adds one entry. Fails with ErrDuplicateReference if the entry's
// reference already has entries recorded. Entries with a nil reference are
// manual and never deduplicated.
func (l *Ledger) Append(ctx context.Context, entry Entry) error {
	if entry.Reference != nil {
		exists, err := l.store.HasReference(ctx, *entry.Reference)
		if err != nil {
			return err
		}
		if exists {
			return &DuplicateReferenceError{Reference: *entry.Reference}
		}
	}
	return l.store.Append(ctx, l.stamp(entry))
}

// AppendBatch adds multiple entries atomically. The distinct references in
// the batch are checked against existing entries first; entries within one
// batch may share a reference (one sale, many line items).
func (l *Ledger) AppendBatch(ctx context.Context, entries []Entry) error {
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.Reference == nil || seen[e.Reference.Key()] {
			continue
		}
		seen[e.Reference.Key()] = true
		exists, err := l.store.HasReference(ctx, *e.Reference)
		if err != nil {
			return err
		}
		if exists {
			return &DuplicateReferenceError{Reference: *e.Reference}
		}
	}

	stamped := make([]Entry, len(entries))
	for i, e := range entries {
		stamped[i] = l.stamp(e)
	}
	return l.store.AppendBatch(ctx, stamped)
}

// Read returns the full ordered entry sequence for an entity key.
func (l *Ledger) Read(ctx context.Context, key EntityKey) ([]Entry, error) {
	return l.store.Load(ctx, key)
}

// ReadAsOf returns entries with occurred_at <= asOf, in ledger order.
func (l *Ledger) ReadAsOf(ctx context.Context, key EntityKey, asOf time.Time) ([]Entry, error) {
	return l.store.LoadAsOf(ctx, key, asOf)
}

func (l *Ledger) stamp(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = NewEntryID()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	return entry
}

// =============================================================================
// IDEMPOTENCY GUARD
// =============================================================================

// Guard deduplicates external events before the domain services compose
// ledger entries for them. A second claim for the same reference returns
// false; the caller treats that as already-applied (no-op success), so
// retried submissions are safe.
type Guard struct {
	claims ClaimStore
}

func NewGuard(claims ClaimStore) *Guard {
	return &Guard{claims: claims}
}

// Claim atomically records the reference. Returns false if already claimed.
// Claims are permanent; there is no release.
func (g *Guard) Claim(ctx context.Context, ref Reference) (bool, error) {
	return g.claims.Claim(ctx, ref)
}
