/*
projector.go - Balance projection from ordered entries

PURPOSE:
  Computes the current authoritative quantity/balance for an entity by
  folding its ledger entries in order. This is the only way a balance is
  ever produced; the projector is read-only.

KEY INSIGHT:
  The stored "current quantity" alongside a ledger in most schemas is a
  cache that drifts. Here the fold IS the value. The projector keeps a
  cached fold result keyed by the last folded sequence number, invalidated
  on every append - an optimization, never a second source of truth.

POINT-IN-TIME:
  AsOf(key, t) folds only entries with occurred_at <= t, answering audit
  questions like "what was the batch quantity during this sale". AsOf is
  never cached.

CONSISTENCY:
  Callers that read-then-append hold the per-key lock (keylock.go) for the
  duration, so a projection reflects either all or none of a concurrently
  committing append.
*/
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Projector computes current and point-in-time balances for entity keys.
type Projector struct {
	reader Reader

	mu    sync.Mutex
	cache map[EntityKey]CachedBalance

	// Optional persisted cache (the per-entity projection table).
	persisted BalanceCache
}

func NewProjector(reader Reader) *Projector {
	return &Projector{
		reader: reader,
		cache:  make(map[EntityKey]CachedBalance),
	}
}

// WithPersistedCache attaches a durable balance cache. The projector writes
// fold results through to it and drops its rows on invalidation.
func (p *Projector) WithPersistedCache(cache BalanceCache) *Projector {
	p.persisted = cache
	return p
}

// Current returns the latest balance for key: the fold of all its entries.
func (p *Projector) Current(ctx context.Context, key EntityKey) (decimal.Decimal, error) {
	entries, err := p.reader.Load(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}

	lastSeq := int64(0)
	if len(entries) > 0 {
		lastSeq = entries[len(entries)-1].Seq
	}

	p.mu.Lock()
	if cached, ok := p.cache[key]; ok && cached.LastSeq == lastSeq {
		p.mu.Unlock()
		return cached.Balance, nil
	}
	p.mu.Unlock()

	balance := Fold(entries)

	cached := CachedBalance{Balance: balance, LastSeq: lastSeq, UpdatedAt: time.Now().UTC()}
	p.mu.Lock()
	p.cache[key] = cached
	p.mu.Unlock()
	if p.persisted != nil {
		// Best effort: a failed cache write never fails the read.
		_ = p.persisted.PutBalance(ctx, key, cached)
	}

	return balance, nil
}

// AsOf returns the balance for key considering only entries with
// occurred_at <= asOf.
func (p *Projector) AsOf(ctx context.Context, key EntityKey, asOf time.Time) (decimal.Decimal, error) {
	entries, err := p.reader.LoadAsOf(ctx, key, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return Fold(entries), nil
}

// Invalidate drops cached balances for key. Called after every accepted
// append for the key.
func (p *Projector) Invalidate(ctx context.Context, key EntityKey) {
	p.mu.Lock()
	delete(p.cache, key)
	p.mu.Unlock()
	if p.persisted != nil {
		_ = p.persisted.InvalidateBalance(ctx, key)
	}
}

// Fold reduces an ordered entry sequence to its balance: the sum of signed
// deltas. Exposed so domain services and tests can fold slices directly.
func Fold(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Delta)
	}
	return total
}
