package cash

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

type MemoryStore struct {
	mu      sync.RWMutex
	rows    map[ledger.EntryID]*Entry
	byTran  map[string]ledger.EntryID
	nextSeq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   make(map[ledger.EntryID]*Entry),
		byTran: make(map[string]ledger.EntryID),
	}
}

func (m *MemoryStore) Insert(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.byTran[e.TranID]; dup {
		return ledger.ErrDuplicateTransaction
	}

	m.nextSeq++
	e.Seq = m.nextSeq
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = ledger.NewEntryID()
	}

	m.rows[e.ID] = &e
	m.byTran[e.TranID] = e.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id ledger.EntryID) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if row, ok := m.rows[id]; ok {
		e := *row
		return &e, nil
	}
	return nil, nil
}

func (m *MemoryStore) HasTranID(_ context.Context, tranID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byTran[tranID]
	return ok, nil
}

func (m *MemoryStore) Approve(_ context.Context, id ledger.EntryID, approver string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	if row.Status == StatusFlagged {
		return ErrEntryFlagged
	}
	if row.ApprovedAt != nil {
		return ledger.ErrAlreadyApproved
	}

	row.ApprovedBy = approver
	approvedAt := at
	row.ApprovedAt = &approvedAt
	row.Status = StatusApproved
	return nil
}

func (m *MemoryStore) Unreconciled(_ context.Context, accountID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, row := range m.rows {
		if row.ApprovedAt != nil {
			continue
		}
		if accountID != "" && row.AccountID != accountID {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *MemoryStore) Entries(_ context.Context, accountID string, asOf *time.Time) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, row := range m.rows {
		if row.AccountID != accountID {
			continue
		}
		if asOf != nil && row.OccurredAt.After(*asOf) {
			continue
		}
		out = append(out, *row)
	}
	sortLedgerOrder(out)
	return out, nil
}

func (m *MemoryStore) Ledger() ledger.Reader {
	return &memoryLedgerView{store: m}
}

func sortLedgerOrder(rows []Entry) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].OccurredAt.Equal(rows[j].OccurredAt) {
			return rows[i].OccurredAt.Before(rows[j].OccurredAt)
		}
		if !rows[i].RecordedAt.Equal(rows[j].RecordedAt) {
			return rows[i].RecordedAt.Before(rows[j].RecordedAt)
		}
		return rows[i].Seq < rows[j].Seq
	})
}

// =============================================================================
// LEDGER VIEW - Non-flagged rows as ordered movement entries
// =============================================================================

type memoryLedgerView struct {
	store *MemoryStore
}

func (v *memoryLedgerView) Load(ctx context.Context, key ledger.EntityKey) ([]ledger.Entry, error) {
	return v.load(key, nil)
}

func (v *memoryLedgerView) LoadAsOf(ctx context.Context, key ledger.EntityKey, asOf time.Time) ([]ledger.Entry, error) {
	return v.load(key, &asOf)
}

func (v *memoryLedgerView) load(key ledger.EntityKey, asOf *time.Time) ([]ledger.Entry, error) {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()

	var rows []Entry
	for _, row := range v.store.rows {
		if row.Key() != key || row.Status == StatusFlagged {
			continue
		}
		if asOf != nil && row.OccurredAt.After(*asOf) {
			continue
		}
		rows = append(rows, *row)
	}
	sortLedgerOrder(rows)

	out := make([]ledger.Entry, len(rows))
	for i, row := range rows {
		out[i] = toLedgerEntry(row)
	}
	return out, nil
}

func toLedgerEntry(e Entry) ledger.Entry {
	ref := ledger.Reference{Type: ledger.RefBankImport, ID: e.TranID}
	return ledger.Entry{
		ID:         e.ID,
		EntityKey:  e.Key(),
		Kind:       e.Direction.MovementKind(),
		Delta:      e.Signed(),
		Reference:  &ref,
		OccurredAt: e.OccurredAt,
		RecordedAt: e.RecordedAt,
		Remarks:    e.Description,
		Seq:        e.Seq,
	}
}
