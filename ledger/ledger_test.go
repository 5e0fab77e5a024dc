package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmacore/ledger-engine/ledger"
	"github.com/pharmacore/ledger-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() (*ledger.Ledger, *store.Memory) {
	mem := store.NewMemory()
	return ledger.NewLedger(mem), mem
}

func qty(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func at(day int) time.Time {
	return time.Date(2026, time.March, day, 10, 0, 0, 0, time.UTC)
}

func entry(key string, delta int64, day int, ref *ledger.Reference) ledger.Entry {
	kind := ledger.MovementIn
	if delta < 0 {
		kind = ledger.MovementOut
	}
	return ledger.Entry{
		EntityKey:  ledger.EntityKey(key),
		Kind:       kind,
		Delta:      qty(delta),
		Reference:  ref,
		OccurredAt: at(day),
	}
}

// =============================================================================
// APPEND + DEDUPLICATION TESTS
// =============================================================================

func TestAppend_DuplicateReference_Rejected(t *testing.T) {
	// GIVEN: an entry recorded under invoice INV-1
	// WHEN: a second entry arrives with the same reference
	// THEN: the append fails with ErrDuplicateReference and nothing is written

	ctx := context.Background()
	l, _ := newTestLedger()
	ref := &ledger.Reference{Type: ledger.RefSupplierInvoice, ID: "INV-1"}

	if err := l.Append(ctx, entry("paracetamol|B1", 100, 1, ref)); err != nil {
		t.Fatalf("first append failed: %v", err)
	}

	err := l.Append(ctx, entry("paracetamol|B1", 100, 2, ref))
	if !errors.Is(err, ledger.ErrDuplicateReference) {
		t.Fatalf("expected duplicate reference error, got %v", err)
	}

	entries, err := l.Read(ctx, "paracetamol|B1")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry after rejected duplicate, got %d", len(entries))
	}
}

func TestAppend_NilReference_Repeatable(t *testing.T) {
	// Manual entries carry no reference and are intentionally repeatable.

	ctx := context.Background()
	l, _ := newTestLedger()

	for i := 0; i < 3; i++ {
		if err := l.Append(ctx, entry("amoxicillin|B2", 5, 1, nil)); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	entries, _ := l.Read(ctx, "amoxicillin|B2")
	if len(entries) != 3 {
		t.Errorf("expected 3 entries, got %d", len(entries))
	}
}

func TestAppendBatch_SharedReferenceWithinBatch(t *testing.T) {
	// GIVEN: one sale expanding to two line-item entries under one receipt
	// WHEN: the batch is appended, then resubmitted
	// THEN: the first batch succeeds whole; the resubmission is rejected whole

	ctx := context.Background()
	l, _ := newTestLedger()
	ref := &ledger.Reference{Type: ledger.RefPOS, ID: "R-100"}

	batch := []ledger.Entry{
		entry("paracetamol|B1", -10, 1, ref),
		entry("amoxicillin|B2", -5, 1, ref),
	}
	if err := l.AppendBatch(ctx, batch); err != nil {
		t.Fatalf("batch append failed: %v", err)
	}

	err := l.AppendBatch(ctx, batch)
	if !errors.Is(err, ledger.ErrDuplicateReference) {
		t.Fatalf("expected duplicate reference error, got %v", err)
	}

	for _, key := range []string{"paracetamol|B1", "amoxicillin|B2"} {
		entries, _ := l.Read(ctx, ledger.EntityKey(key))
		if len(entries) != 1 {
			t.Errorf("%s: expected 1 entry, got %d", key, len(entries))
		}
	}
}

// =============================================================================
// ORDERING + PROJECTION TESTS
// =============================================================================

func TestProjector_FoldsInLedgerOrder(t *testing.T) {
	// Entries arriving out of occurred_at order must still fold to the same
	// balance, and Load must return them in (occurred_at, recorded_at, seq).

	ctx := context.Background()
	l, mem := newTestLedger()
	p := ledger.NewProjector(mem)

	// Arrive out of order: day 3 first, then day 1, then day 2.
	for _, day := range []int{3, 1, 2} {
		if err := l.Append(ctx, entry("k", int64(day*10), day, nil)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	entries, _ := l.Read(ctx, "k")
	for i := 1; i < len(entries); i++ {
		if entries[i].SortBefore(entries[i-1]) {
			t.Fatalf("entries out of ledger order at %d", i)
		}
	}

	balance, err := p.Current(ctx, "k")
	if err != nil {
		t.Fatalf("projection failed: %v", err)
	}
	if !balance.Equal(qty(60)) {
		t.Errorf("expected balance 60, got %s", balance)
	}
}

func TestProjector_AsOf(t *testing.T) {
	ctx := context.Background()
	l, mem := newTestLedger()
	p := ledger.NewProjector(mem)

	l.Append(ctx, entry("k", 100, 1, nil))
	l.Append(ctx, entry("k", -30, 5, nil))

	asOf, err := p.AsOf(ctx, "k", at(3))
	if err != nil {
		t.Fatalf("as-of projection failed: %v", err)
	}
	if !asOf.Equal(qty(100)) {
		t.Errorf("expected as-of balance 100, got %s", asOf)
	}

	current, _ := p.Current(ctx, "k")
	if !current.Equal(qty(70)) {
		t.Errorf("expected current balance 70, got %s", current)
	}
}

func TestProjector_CacheInvalidatedOnAppend(t *testing.T) {
	// GIVEN: a cached balance
	// WHEN: a new entry is appended and the projector invalidated
	// THEN: the next read reflects the append, never the stale cache

	ctx := context.Background()
	l, mem := newTestLedger()
	p := ledger.NewProjector(mem)

	l.Append(ctx, entry("k", 100, 1, nil))
	if balance, _ := p.Current(ctx, "k"); !balance.Equal(qty(100)) {
		t.Fatalf("expected 100, got %s", balance)
	}

	l.Append(ctx, entry("k", -40, 2, nil))
	p.Invalidate(ctx, "k")

	if balance, _ := p.Current(ctx, "k"); !balance.Equal(qty(60)) {
		t.Errorf("expected 60 after append, got %s", balance)
	}
}

func TestFold_EmptyIsZero(t *testing.T) {
	if !ledger.Fold(nil).IsZero() {
		t.Error("fold of no entries must be zero")
	}
}

// =============================================================================
// CLAIM TESTS
// =============================================================================

func TestGuard_ClaimIsPermanent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	guard := ledger.NewGuard(mem)
	ref := ledger.Reference{Type: ledger.RefPOS, ID: "R-1"}

	claimed, err := guard.Claim(ctx, ref)
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}

	claimed, err = guard.Claim(ctx, ref)
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if claimed {
		t.Error("second claim of the same reference must return false")
	}
}

// =============================================================================
// KEY LOCK TESTS
// =============================================================================

func TestKeyLocks_BoundedWait(t *testing.T) {
	// GIVEN: a key held by another operation
	// WHEN: a second acquire waits past the budget
	// THEN: it fails with ErrConcurrencyTimeout instead of deadlocking

	ctx := context.Background()
	locks := ledger.NewKeyLocks(50 * time.Millisecond)

	release, err := locks.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	_, err = locks.Acquire(ctx, "k")
	if !errors.Is(err, ledger.ErrConcurrencyTimeout) {
		t.Fatalf("expected concurrency timeout, got %v", err)
	}
	if !ledger.IsRetryable(err) {
		t.Error("concurrency timeout must be retryable")
	}
}

func TestKeyLocks_DifferentKeysDoNotBlock(t *testing.T) {
	ctx := context.Background()
	locks := ledger.NewKeyLocks(50 * time.Millisecond)

	releaseA, err := locks.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer releaseA()

	releaseB, err := locks.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("acquire b must not block on a: %v", err)
	}
	releaseB()
}

func TestKeyLocks_AcquireAll_DeduplicatesKeys(t *testing.T) {
	// A sale with two lines on the same batch must not self-deadlock.

	ctx := context.Background()
	locks := ledger.NewKeyLocks(50 * time.Millisecond)

	release, err := locks.AcquireAll(ctx, []ledger.EntityKey{"a", "b", "a"})
	if err != nil {
		t.Fatalf("acquire all failed: %v", err)
	}
	release()

	// All keys free again.
	release, err = locks.AcquireAll(ctx, []ledger.EntityKey{"a", "b"})
	if err != nil {
		t.Fatalf("reacquire after release failed: %v", err)
	}
	release()
}

func TestKeyLocks_AcquireAll_ReleasesOnFailure(t *testing.T) {
	// If one key in the set cannot be locked, the keys already taken must be
	// released so the holder's next operation is not poisoned.

	ctx := context.Background()
	locks := ledger.NewKeyLocks(50 * time.Millisecond)

	releaseB, err := locks.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}

	_, err = locks.AcquireAll(ctx, []ledger.EntityKey{"a", "b"})
	if !errors.Is(err, ledger.ErrConcurrencyTimeout) {
		t.Fatalf("expected concurrency timeout, got %v", err)
	}
	releaseB()

	// "a" must have been released by the failed AcquireAll.
	releaseA, err := locks.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("a was not released after failed AcquireAll: %v", err)
	}
	releaseA()
}
