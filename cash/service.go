/*
service.go - Cash reconciliation service

PURPOSE:
  The write path for bank accounts. Imported statement entries are
  validated for tran_id uniqueness and running-balance continuity, then
  appended; reviewers approve entries exactly once through the
  unreconciled queue.

BALANCE CONTINUITY:
  For the ordered entries of an account,
      balance[i] = balance[i-1] + (amount if CR else -amount)
  with balance[0] relative to the account's configured opening balance.
  The running balance stored on each row is computed here, never trusted
  from the source document. When the document DOES declare its own running
  balance (statements parsed upstream usually do), the declared value is
  compared against the computed one: disagreement beyond tolerance flags
  the entry and surfaces BalanceMismatchError instead of silently
  trusting unverified extraction output.

FLAGGED ENTRIES:
  A flagged entry is parked: it keeps its tran_id (so re-imports still
  dedupe), appears in the unreconciled queue, but never enters the balance
  fold. Resolution is a new corrective entry, never an edit.

APPROVAL:
  Approve sets approved_by/approved_at exactly once; a second call fails
  with ledger.ErrAlreadyApproved. Approved entries are immutable;
  corrections from then on are compensating entries.
*/
package cash

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmacore/ledger-engine/ledger"
)

// DefaultTolerance is the maximum accepted gap between a statement's
// declared running balance and the computed one.
var DefaultTolerance = decimal.NewFromFloat(0.01)

// ServiceConfig carries per-deployment settings.
type ServiceConfig struct {
	// Tolerance for declared-vs-computed balance comparison.
	// Zero means DefaultTolerance.
	Tolerance decimal.Decimal

	// OpeningBalances maps account id to its known opening balance.
	// Accounts not listed open at zero.
	OpeningBalances map[string]decimal.Decimal
}

// Service validates and applies bank-statement entries.
type Service struct {
	store     Store
	projector *ledger.Projector
	locks     *ledger.KeyLocks
	tolerance decimal.Decimal
	opening   map[string]decimal.Decimal

	now func() time.Time
}

func NewService(store Store, locks *ledger.KeyLocks, cfg ServiceConfig) *Service {
	tolerance := cfg.Tolerance
	if tolerance.IsZero() {
		tolerance = DefaultTolerance
	}
	opening := make(map[string]decimal.Decimal, len(cfg.OpeningBalances))
	for account, balance := range cfg.OpeningBalances {
		opening[account] = balance
	}
	return &Service{
		store:     store,
		projector: ledger.NewProjector(store.Ledger()),
		locks:     locks,
		tolerance: tolerance,
		opening:   opening,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. For tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) openingBalance(accountID string) decimal.Decimal {
	if balance, ok := s.opening[accountID]; ok {
		return balance
	}
	return decimal.Zero
}

// =============================================================================
// IMPORT - Statement entry intake
// =============================================================================

// ImportStatementEntry validates one parsed statement line and appends it.
//
// Fails with:
//   - ledger.ErrDuplicateTransaction when the tran_id was imported before
//     (idempotent: the account balance is unaffected)
//   - BalanceMismatchError when the line's declared balance disagrees with
//     the computed running balance beyond tolerance; the entry is recorded
//     as flagged, outside the fold, pending manual resolution
func (s *Service) ImportStatementEntry(ctx context.Context, accountID string, line StatementLine) (*ImportResult, error) {
	if line.TranID == "" {
		return nil, fmt.Errorf("statement line for account %s: missing tran_id", accountID)
	}
	if line.Direction != Credit && line.Direction != Debit {
		return nil, fmt.Errorf("statement line %s: direction must be CR or DR, got %q", line.TranID, line.Direction)
	}
	if !line.Amount.IsPositive() {
		return nil, fmt.Errorf("statement line %s: amount must be positive, got %s", line.TranID, line.Amount)
	}

	key := AccountKey(accountID)
	release, err := s.locks.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	dup, err := s.store.HasTranID(ctx, line.TranID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, fmt.Errorf("%w: tran_id %s", ledger.ErrDuplicateTransaction, line.TranID)
	}

	folded, err := s.projector.Current(ctx, key)
	if err != nil {
		return nil, err
	}
	previous := s.openingBalance(accountID).Add(folded)

	entry := Entry{
		ID:          ledger.NewEntryID(),
		AccountID:   accountID,
		TranID:      line.TranID,
		OccurredAt:  line.OccurredAt,
		Direction:   line.Direction,
		Amount:      line.Amount,
		Description: line.Description,
		Status:      StatusImported,
		RecordedAt:  s.now(),
	}
	entry.RunningBalance = previous.Add(entry.Signed())

	if line.DeclaredBalance != nil {
		gap := line.DeclaredBalance.Sub(entry.RunningBalance).Abs()
		if gap.GreaterThan(s.tolerance) {
			entry.Status = StatusFlagged
			if err := s.store.Insert(ctx, entry); err != nil {
				return nil, err
			}
			return nil, &ledger.BalanceMismatchError{
				EntityKey: key,
				TranID:    line.TranID,
				Computed:  entry.RunningBalance,
				Declared:  *line.DeclaredBalance,
				Tolerance: s.tolerance,
			}
		}
	}

	if err := s.store.Insert(ctx, entry); err != nil {
		return nil, err
	}
	s.projector.Invalidate(ctx, key)

	return &ImportResult{Entry: &entry}, nil
}

// ImportStatement applies a full parsed statement in order, accumulating
// per-line outcomes. Duplicates and per-line failures never abort the
// remaining rows.
func (s *Service) ImportStatement(ctx context.Context, accountID string, lines []StatementLine) (*BatchResult, error) {
	result := &BatchResult{}
	for _, line := range lines {
		res, err := s.ImportStatementEntry(ctx, accountID, line)
		switch {
		case err == nil:
			result.Imported++
			result.Lines = append(result.Lines, LineResult{TranID: line.TranID, Entry: res.Entry})
		case ledger.IsDuplicate(err):
			result.Skipped++
			result.Lines = append(result.Lines, LineResult{TranID: line.TranID, Skipped: true, Err: err})
		default:
			result.Failed++
			result.Lines = append(result.Lines, LineResult{TranID: line.TranID, Err: err})
		}
	}
	return result, nil
}

// =============================================================================
// APPROVAL - Review workflow
// =============================================================================

// Approve marks an entry as reviewed, exactly once. A second attempt fails
// with ledger.ErrAlreadyApproved; the entry's fields never change thereafter.
func (s *Service) Approve(ctx context.Context, id ledger.EntryID, approver string) (*Entry, error) {
	if approver == "" {
		return nil, fmt.Errorf("approve %s: approver required", id)
	}
	if err := s.store.Approve(ctx, id, approver, s.now()); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// Unreconciled returns the review queue: entries with no approver yet,
// ordered by occurred_at ascending. Empty accountID means all accounts.
func (s *Service) Unreconciled(ctx context.Context, accountID string) ([]Entry, error) {
	return s.store.Unreconciled(ctx, accountID)
}

// =============================================================================
// QUERIES
// =============================================================================

// Balance returns the account's current balance: opening balance plus the
// fold of its non-flagged entries.
func (s *Service) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	folded, err := s.projector.Current(ctx, AccountKey(accountID))
	if err != nil {
		return decimal.Zero, err
	}
	return s.openingBalance(accountID).Add(folded), nil
}

// BalanceAsOf returns the balance considering only entries with
// occurred_at <= asOf.
func (s *Service) BalanceAsOf(ctx context.Context, accountID string, asOf time.Time) (decimal.Decimal, error) {
	folded, err := s.projector.AsOf(ctx, AccountKey(accountID), asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return s.openingBalance(accountID).Add(folded), nil
}

// Entries returns the account's rows in ledger order for audit reads.
func (s *Service) Entries(ctx context.Context, accountID string, asOf *time.Time) ([]Entry, error) {
	return s.store.Entries(ctx, accountID, asOf)
}

// Get returns one entry by id, or nil when absent.
func (s *Service) Get(ctx context.Context, id ledger.EntryID) (*Entry, error) {
	return s.store.Get(ctx, id)
}
