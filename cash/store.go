/*
store.go - Persistence contract for the cash ledger

PURPOSE:
  The cash movement table is itself the append-only ledger for accounts,
  with two carve-outs the generic movement store does not have:
  - approval metadata, settable exactly once via a conditional update
  - a flagged status that parks mismatched imports outside the fold

  The store exposes a ledger.Reader view over its non-flagged rows so the
  shared projector computes account balances exactly the way it computes
  batch quantities.
*/
package cash

import (
	"context"
	"time"

	"github.com/pharmacore/ledger-engine/ledger"
)

// Store persists bank ledger entries.
//
// Insert is the only way movements enter; rows are never updated afterwards
// except for the one-shot approval transition. Implementations enforce
// tran_id uniqueness and return ledger.ErrDuplicateTransaction on a repeat.
type Store interface {
	// Insert appends one entry. Fails with ledger.ErrDuplicateTransaction
	// if the tran_id is already present.
	Insert(ctx context.Context, e Entry) error

	Get(ctx context.Context, id ledger.EntryID) (*Entry, error)

	HasTranID(ctx context.Context, tranID string) (bool, error)

	// Approve sets approved_by/approved_at exactly once.
	// Fails with ledger.ErrAlreadyApproved on a second attempt,
	// ErrEntryFlagged for flagged entries, ledger.ErrEntryNotFound when
	// the id is unknown.
	Approve(ctx context.Context, id ledger.EntryID, approver string, at time.Time) error

	// Unreconciled returns entries with no approver yet, ordered by
	// occurred_at ascending, for the human reviewer queue. Empty accountID
	// means all accounts. Flagged entries are included: they need eyes.
	Unreconciled(ctx context.Context, accountID string) ([]Entry, error)

	// Entries returns an account's rows in ledger order for audit reads.
	Entries(ctx context.Context, accountID string, asOf *time.Time) ([]Entry, error)

	// Ledger exposes the non-flagged rows as ordered ledger entries for
	// the balance projector. Flagged rows never enter the fold.
	Ledger() ledger.Reader
}
