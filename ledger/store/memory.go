// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pharmacore/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.Store, ledger.ClaimStore and ledger.BalanceCache.
type Memory struct {
	mu       sync.RWMutex
	entries  map[ledger.EntityKey][]ledger.Entry
	refs     map[string]bool
	claims   map[string]bool
	balances map[ledger.EntityKey]ledger.CachedBalance
	nextSeq  int64
}

func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[ledger.EntityKey][]ledger.Entry),
		refs:     make(map[string]bool),
		claims:   make(map[string]bool),
		balances: make(map[ledger.EntityKey]ledger.CachedBalance),
	}
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, entry ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(entry)
}

// AppendBatch adds multiple entries atomically.
func (m *Memory) AppendBatch(_ context.Context, entries []ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if err := m.appendLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) appendLocked(entry ledger.Entry) error {
	m.nextSeq++
	entry.Seq = m.nextSeq
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	items := m.entries[entry.EntityKey]

	// Binary search for the insertion point in ledger order.
	i := sort.Search(len(items), func(i int) bool {
		return entry.SortBefore(items[i])
	})
	items = append(items, ledger.Entry{})
	copy(items[i+1:], items[i:])
	items[i] = entry
	m.entries[entry.EntityKey] = items

	if entry.Reference != nil {
		m.refs[entry.Reference.Key()] = true
	}
	// Invalidate-on-write: the fold is the truth.
	delete(m.balances, entry.EntityKey)
	return nil
}

func (m *Memory) Load(_ context.Context, key ledger.EntityKey) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Entry, len(m.entries[key]))
	copy(result, m.entries[key])
	return result, nil
}

func (m *Memory) LoadAsOf(_ context.Context, key ledger.EntityKey, asOf time.Time) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Entry
	for _, e := range m.entries[key] {
		if !e.OccurredAt.After(asOf) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) HasReference(_ context.Context, ref ledger.Reference) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refs[ref.Key()], nil
}

// Claim records an idempotency claim: atomic insert-if-absent.
func (m *Memory) Claim(_ context.Context, ref ledger.Reference) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claims[ref.Key()] {
		return false, nil
	}
	m.claims[ref.Key()] = true
	return true, nil
}

// =============================================================================
// BALANCE CACHE
// =============================================================================

func (m *Memory) GetBalance(_ context.Context, key ledger.EntityKey) (*ledger.CachedBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if cached, ok := m.balances[key]; ok {
		c := cached
		return &c, nil
	}
	return nil, nil
}

func (m *Memory) PutBalance(_ context.Context, key ledger.EntityKey, cached ledger.CachedBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[key] = cached
	return nil
}

func (m *Memory) InvalidateBalance(_ context.Context, key ledger.EntityKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.balances, key)
	return nil
}
