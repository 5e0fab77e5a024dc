/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces using SQLite. In production, the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  ledger.Store:        movement persistence for batch stock (via StockLedger)
  ledger.ClaimStore:   permanent idempotency claims
  ledger.BalanceCache: persisted projection cache
  cash.Store:          bank ledger rows with approval workflow (via CashStore)
  stock.Catalog:       batch positions and sale/invoice parent records

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements touch stock_movements
  - cash_movements has exactly one UPDATE: the conditional one-shot approval
    transition; everything else about a row is immutable after insert
  - reference_claims is insert-only: claims are never released

KEY TABLES:
  stock_movements:        immutable batch quantity ledger
  cash_movements:         immutable bank ledger (tran_id UNIQUE)
  reference_claims:       one-time idempotency claims (claim_key PK)
  stock_balances:         cached projection results, never authoritative
  stock_positions:        batch metadata (quantity lives in the ledger)
  pos_sales / items:      POS receipt parent records
  supplier_invoices / items: supplier invoice parent records

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/pharmacy.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  stockLedger := ledger.NewLedger(store.StockLedger())
  cashStore := store.CashStore()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for testing
  - cash/store.go: bank ledger persistence contract
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/pharmacore/ledger-engine/cash"
	"github.com/pharmacore/ledger-engine/ledger"
	"github.com/pharmacore/ledger-engine/stock"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Stock movements (append-only batch quantity ledger)
	CREATE TABLE IF NOT EXISTS stock_movements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		entity_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		delta TEXT NOT NULL,
		ref_type TEXT,
		ref_id TEXT,
		occurred_at TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		remarks TEXT
	);

	-- Balance projection (hot path): load one batch in ledger order
	CREATE INDEX IF NOT EXISTS idx_stock_movements_entity_date
		ON stock_movements(entity_key, occurred_at, recorded_at, seq);

	-- Reference dedup checks
	CREATE INDEX IF NOT EXISTS idx_stock_movements_reference
		ON stock_movements(ref_type, ref_id) WHERE ref_id IS NOT NULL;

	-- Cash movements (append-only bank ledger)
	-- The only UPDATE allowed is the one-shot approval transition.
	-- tran_id UNIQUE is the idempotency guarantee for statement imports.
	CREATE TABLE IF NOT EXISTS cash_movements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		tran_id TEXT NOT NULL UNIQUE,
		occurred_at TEXT NOT NULL,
		direction TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		running_balance TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'imported',
		approved_by TEXT,
		approved_at TEXT,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cash_movements_account_date
		ON cash_movements(account_id, occurred_at, recorded_at, seq);
	CREATE INDEX IF NOT EXISTS idx_cash_movements_unapproved
		ON cash_movements(account_id, occurred_at) WHERE approved_at IS NULL;

	-- Idempotency claims: a monotone set, rows are never deleted
	CREATE TABLE IF NOT EXISTS reference_claims (
		claim_key TEXT PRIMARY KEY,
		claimed_at TEXT NOT NULL
	);

	-- Cached balances: an optimization only, rebuilt from movements on miss
	CREATE TABLE IF NOT EXISTS stock_balances (
		entity_key TEXT PRIMARY KEY,
		balance TEXT NOT NULL,
		last_seq INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Batch positions (metadata only; quantity is the fold of the ledger)
	CREATE TABLE IF NOT EXISTS stock_positions (
		medicine_name TEXT NOT NULL,
		batch_number TEXT NOT NULL,
		generic_name TEXT,
		manufacturer TEXT,
		category TEXT,
		expiry_date TEXT,
		reorder_level INTEGER DEFAULT 0,
		cost_price TEXT,
		selling_price TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (medicine_name, batch_number)
	);

	CREATE INDEX IF NOT EXISTS idx_stock_positions_expiry
		ON stock_positions(expiry_date);

	-- POS receipts (parent records; movements live in stock_movements)
	CREATE TABLE IF NOT EXISTS pos_sales (
		id TEXT PRIMARY KEY,
		receipt_number TEXT NOT NULL,
		sale_date TEXT NOT NULL,
		pharmacist_name TEXT,
		subtotal TEXT NOT NULL,
		cgst TEXT NOT NULL,
		sgst TEXT NOT NULL,
		total TEXT NOT NULL,
		payment_mode TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pos_sales_receipt
		ON pos_sales(receipt_number);

	CREATE TABLE IF NOT EXISTS pos_sale_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id TEXT NOT NULL,
		medicine_name TEXT NOT NULL,
		batch_number TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		line_total TEXT NOT NULL,
		FOREIGN KEY (sale_id) REFERENCES pos_sales(id)
	);

	CREATE INDEX IF NOT EXISTS idx_pos_sale_items_sale
		ON pos_sale_items(sale_id);

	-- Supplier invoices (parent records)
	CREATE TABLE IF NOT EXISTS supplier_invoices (
		id TEXT PRIMARY KEY,
		invoice_number TEXT NOT NULL,
		invoice_date TEXT NOT NULL,
		supplier_name TEXT,
		supplier_gstin TEXT,
		po_reference TEXT,
		delivery_date TEXT,
		vehicle_number TEXT,
		subtotal TEXT NOT NULL,
		cgst TEXT NOT NULL,
		sgst TEXT NOT NULL,
		total TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_supplier_invoices_number
		ON supplier_invoices(invoice_number);

	CREATE TABLE IF NOT EXISTS supplier_invoice_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		invoice_id TEXT NOT NULL,
		medicine_name TEXT NOT NULL,
		batch_number TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_cost TEXT NOT NULL,
		line_total TEXT NOT NULL,
		generic_name TEXT,
		manufacturer TEXT,
		category TEXT,
		expiry_date TEXT,
		reorder_level INTEGER DEFAULT 0,
		selling_price TEXT,
		FOREIGN KEY (invoice_id) REFERENCES supplier_invoices(id)
	);

	CREATE INDEX IF NOT EXISTS idx_supplier_invoice_items_invoice
		ON supplier_invoice_items(invoice_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STOCK LEDGER (ledger.Store interface)
// =============================================================================

// StockLedger exposes the stock movement table as a ledger.Store.
func (s *Store) StockLedger() ledger.Store {
	return &stockLedger{s: s}
}

type stockLedger struct {
	s *Store
}

func (l *stockLedger) Append(ctx context.Context, entry ledger.Entry) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	return l.s.appendMovement(ctx, l.s.db, entry)
}

func (l *stockLedger) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	tx, err := l.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		if err := l.s.appendMovement(ctx, tx, entry); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (l *stockLedger) Load(ctx context.Context, key ledger.EntityKey) ([]ledger.Entry, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	query := `
		SELECT id, entity_key, kind, delta, ref_type, ref_id, occurred_at, recorded_at, remarks, seq
		FROM stock_movements
		WHERE entity_key = ?
		ORDER BY occurred_at ASC, recorded_at ASC, seq ASC
	`

	return l.s.queryMovements(ctx, query, key)
}

func (l *stockLedger) LoadAsOf(ctx context.Context, key ledger.EntityKey, asOf time.Time) ([]ledger.Entry, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	query := `
		SELECT id, entity_key, kind, delta, ref_type, ref_id, occurred_at, recorded_at, remarks, seq
		FROM stock_movements
		WHERE entity_key = ? AND occurred_at <= ?
		ORDER BY occurred_at ASC, recorded_at ASC, seq ASC
	`

	return l.s.queryMovements(ctx, query, key, asOf.UTC().Format(time.RFC3339))
}

func (l *stockLedger) HasReference(ctx context.Context, ref ledger.Reference) (bool, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	var count int
	err := l.s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM stock_movements WHERE ref_type = ? AND ref_id = ?",
		string(ref.Type), ref.ID,
	).Scan(&count)

	return count > 0, err
}

func (s *Store) appendMovement(ctx context.Context, db execer, entry ledger.Entry) error {
	var refType, refID sql.NullString
	if entry.Reference != nil {
		refType = sql.NullString{String: string(entry.Reference.Type), Valid: true}
		refID = sql.NullString{String: entry.Reference.ID, Valid: true}
	}

	query := `
		INSERT INTO stock_movements
		(id, entity_key, kind, delta, ref_type, ref_id, occurred_at, recorded_at, remarks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		string(entry.ID),
		string(entry.EntityKey),
		string(entry.Kind),
		entry.Delta.String(),
		refType,
		refID,
		entry.OccurredAt.UTC().Format(time.RFC3339),
		entry.RecordedAt.UTC().Format(time.RFC3339),
		nullString(entry.Remarks),
	)
	if err != nil {
		return fmt.Errorf("failed to append movement: %w", err)
	}

	return nil
}

func (s *Store) queryMovements(ctx context.Context, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		entry, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanMovement(rows *sql.Rows) (ledger.Entry, error) {
	var (
		entry          ledger.Entry
		id, key, kind  string
		delta          string
		refType, refID sql.NullString
		occurredAt     string
		recordedAt     string
		remarks        sql.NullString
	)

	err := rows.Scan(&id, &key, &kind, &delta, &refType, &refID,
		&occurredAt, &recordedAt, &remarks, &entry.Seq)
	if err != nil {
		return entry, fmt.Errorf("failed to scan movement: %w", err)
	}

	entry.ID = ledger.EntryID(id)
	entry.EntityKey = ledger.EntityKey(key)
	entry.Kind = ledger.MovementKind(kind)
	entry.Delta, _ = decimal.NewFromString(delta)
	if refID.Valid {
		entry.Reference = &ledger.Reference{
			Type: ledger.ReferenceType(refType.String),
			ID:   refID.String,
		}
	}
	entry.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
	entry.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
	entry.Remarks = remarks.String

	return entry, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// CLAIM STORE (ledger.ClaimStore interface)
// =============================================================================

// Claim records the reference if absent and returns true; false when it was
// already claimed. INSERT OR IGNORE makes the check-and-insert atomic.
func (s *Store) Claim(ctx context.Context, ref ledger.Reference) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO reference_claims (claim_key, claimed_at) VALUES (?, ?)",
		ref.Key(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim reference: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// =============================================================================
// BALANCE CACHE (ledger.BalanceCache interface)
// =============================================================================

func (s *Store) GetBalance(ctx context.Context, key ledger.EntityKey) (*ledger.CachedBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		balance   string
		lastSeq   int64
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT balance, last_seq, updated_at FROM stock_balances WHERE entity_key = ?",
		string(key),
	).Scan(&balance, &lastSeq, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cached := ledger.CachedBalance{LastSeq: lastSeq}
	cached.Balance, _ = decimal.NewFromString(balance)
	cached.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &cached, nil
}

func (s *Store) PutBalance(ctx context.Context, key ledger.EntityKey, cached ledger.CachedBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO stock_balances (entity_key, balance, last_seq, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_key) DO UPDATE SET
			balance = excluded.balance,
			last_seq = excluded.last_seq,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		string(key),
		cached.Balance.String(),
		cached.LastSeq,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) InvalidateBalance(ctx context.Context, key ledger.EntityKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM stock_balances WHERE entity_key = ?", string(key))
	return err
}

// =============================================================================
// CASH STORE (cash.Store interface)
// =============================================================================

// CashStore exposes the cash movement table as a cash.Store.
func (s *Store) CashStore() cash.Store {
	return &cashStore{s: s}
}

type cashStore struct {
	s *Store
}

func (c *cashStore) Insert(ctx context.Context, e cash.Entry) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	query := `
		INSERT INTO cash_movements
		(id, account_id, tran_id, occurred_at, direction, amount, description,
		 running_balance, status, approved_by, approved_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.s.db.ExecContext(ctx, query,
		string(e.ID),
		e.AccountID,
		e.TranID,
		e.OccurredAt.UTC().Format(time.RFC3339),
		string(e.Direction),
		e.Amount.String(),
		nullString(e.Description),
		e.RunningBalance.String(),
		string(e.Status),
		nullString(e.ApprovedBy),
		nullTime(e.ApprovedAt),
		e.RecordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: tran_id %s", ledger.ErrDuplicateTransaction, e.TranID)
		}
		return fmt.Errorf("failed to insert cash movement: %w", err)
	}

	return nil
}

func (c *cashStore) Get(ctx context.Context, id ledger.EntryID) (*cash.Entry, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	query := selectCashMovement + " WHERE id = ?"
	entries, err := c.s.queryCashMovements(ctx, query, string(id))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (c *cashStore) HasTranID(ctx context.Context, tranID string) (bool, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	var count int
	err := c.s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cash_movements WHERE tran_id = ?", tranID,
	).Scan(&count)

	return count > 0, err
}

// Approve performs the one-shot approval transition. The WHERE clause makes
// the check-and-set atomic: a second approval matches zero rows.
func (c *cashStore) Approve(ctx context.Context, id ledger.EntryID, approver string, at time.Time) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	res, err := c.s.db.ExecContext(ctx, `
		UPDATE cash_movements
		SET status = 'approved', approved_by = ?, approved_at = ?
		WHERE id = ? AND approved_at IS NULL AND status != 'flagged'
	`, approver, at.UTC().Format(time.RFC3339), string(id))
	if err != nil {
		return fmt.Errorf("failed to approve entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Zero rows: distinguish missing, flagged, and already-approved.
	var status string
	var approvedAt sql.NullString
	err = c.s.db.QueryRowContext(ctx,
		"SELECT status, approved_at FROM cash_movements WHERE id = ?", string(id),
	).Scan(&status, &approvedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ledger.ErrEntryNotFound, id)
	}
	if err != nil {
		return err
	}
	if status == string(cash.StatusFlagged) {
		return fmt.Errorf("%w: %s", cash.ErrEntryFlagged, id)
	}
	return fmt.Errorf("%w: %s approved by %s", ledger.ErrAlreadyApproved, id, approvedAt.String)
}

func (c *cashStore) Unreconciled(ctx context.Context, accountID string) ([]cash.Entry, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	query := selectCashMovement + " WHERE approved_at IS NULL"
	args := []any{}
	if accountID != "" {
		query += " AND account_id = ?"
		args = append(args, accountID)
	}
	query += " ORDER BY occurred_at ASC, seq ASC"

	return c.s.queryCashMovements(ctx, query, args...)
}

func (c *cashStore) Entries(ctx context.Context, accountID string, asOf *time.Time) ([]cash.Entry, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	query := selectCashMovement + " WHERE account_id = ?"
	args := []any{accountID}
	if asOf != nil {
		query += " AND occurred_at <= ?"
		args = append(args, asOf.UTC().Format(time.RFC3339))
	}
	query += " ORDER BY occurred_at ASC, recorded_at ASC, seq ASC"

	return c.s.queryCashMovements(ctx, query, args...)
}

func (c *cashStore) Ledger() ledger.Reader {
	return &cashLedgerView{s: c.s}
}

const selectCashMovement = `
	SELECT id, account_id, tran_id, occurred_at, direction, amount, description,
	       running_balance, status, approved_by, approved_at, recorded_at, seq
	FROM cash_movements`

func (s *Store) queryCashMovements(ctx context.Context, query string, args ...any) ([]cash.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash movements: %w", err)
	}
	defer rows.Close()

	var entries []cash.Entry
	for rows.Next() {
		entry, err := scanCashMovement(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanCashMovement(rows *sql.Rows) (cash.Entry, error) {
	var (
		e                       cash.Entry
		id, direction, status   string
		amount, runningBalance  string
		occurredAt, recordedAt  string
		description, approvedBy sql.NullString
		approvedAt              sql.NullString
	)

	err := rows.Scan(&id, &e.AccountID, &e.TranID, &occurredAt, &direction,
		&amount, &description, &runningBalance, &status, &approvedBy,
		&approvedAt, &recordedAt, &e.Seq)
	if err != nil {
		return e, fmt.Errorf("failed to scan cash movement: %w", err)
	}

	e.ID = ledger.EntryID(id)
	e.Direction = cash.Direction(direction)
	e.Status = cash.Status(status)
	e.Amount, _ = decimal.NewFromString(amount)
	e.RunningBalance, _ = decimal.NewFromString(runningBalance)
	e.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt)
	e.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
	e.Description = description.String
	e.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		t, _ := time.Parse(time.RFC3339, approvedAt.String)
		e.ApprovedAt = &t
	}

	return e, nil
}

// cashLedgerView exposes non-flagged cash rows as ordered ledger entries so
// the shared projector can fold account balances. Flagged rows never enter
// the fold.
type cashLedgerView struct {
	s *Store
}

func (v *cashLedgerView) Load(ctx context.Context, key ledger.EntityKey) ([]ledger.Entry, error) {
	return v.load(ctx, key, nil)
}

func (v *cashLedgerView) LoadAsOf(ctx context.Context, key ledger.EntityKey, asOf time.Time) ([]ledger.Entry, error) {
	return v.load(ctx, key, &asOf)
}

func (v *cashLedgerView) load(ctx context.Context, key ledger.EntityKey, asOf *time.Time) ([]ledger.Entry, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	query := selectCashMovement + " WHERE account_id = ? AND status != 'flagged'"
	args := []any{string(key)}
	if asOf != nil {
		query += " AND occurred_at <= ?"
		args = append(args, asOf.UTC().Format(time.RFC3339))
	}
	query += " ORDER BY occurred_at ASC, recorded_at ASC, seq ASC"

	rows, err := v.s.queryCashMovements(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	out := make([]ledger.Entry, len(rows))
	for i, row := range rows {
		ref := ledger.Reference{Type: ledger.RefBankImport, ID: row.TranID}
		out[i] = ledger.Entry{
			ID:         row.ID,
			EntityKey:  row.Key(),
			Kind:       row.Direction.MovementKind(),
			Delta:      row.Signed(),
			Reference:  &ref,
			OccurredAt: row.OccurredAt,
			RecordedAt: row.RecordedAt,
			Remarks:    row.Description,
			Seq:        row.Seq,
		}
	}
	return out, nil
}

// =============================================================================
// CATALOG (stock.Catalog interface)
// =============================================================================

// SavePosition upserts a batch's metadata. Quantities never pass through
// here; they are derived from stock_movements.
func (s *Store) SavePosition(ctx context.Context, p stock.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO stock_positions
		(medicine_name, batch_number, generic_name, manufacturer, category,
		 expiry_date, reorder_level, cost_price, selling_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(medicine_name, batch_number) DO UPDATE SET
			generic_name = excluded.generic_name,
			manufacturer = excluded.manufacturer,
			category = excluded.category,
			expiry_date = excluded.expiry_date,
			reorder_level = excluded.reorder_level,
			cost_price = excluded.cost_price,
			selling_price = excluded.selling_price,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		p.MedicineName, p.BatchNumber,
		nullString(p.GenericName), nullString(p.Manufacturer), nullString(p.Category),
		nullTime(timePtr(p.ExpiryDate)),
		p.ReorderLevel,
		p.CostPrice.String(), p.SellingPrice.String(),
		now, now,
	)
	return err
}

// GetPosition retrieves a batch's metadata, or nil when unknown.
func (s *Store) GetPosition(ctx context.Context, b stock.Batch) (*stock.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectPosition + " WHERE medicine_name = ? AND batch_number = ?"
	positions, err := s.queryPositions(ctx, query, b.MedicineName, b.BatchNumber)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}
	return &positions[0], nil
}

// ListPositions returns all known batch positions.
func (s *Store) ListPositions(ctx context.Context) ([]stock.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPositions(ctx, selectPosition+" ORDER BY medicine_name, batch_number")
}

const selectPosition = `
	SELECT medicine_name, batch_number, generic_name, manufacturer, category,
	       expiry_date, reorder_level, cost_price, selling_price, created_at, updated_at
	FROM stock_positions`

func (s *Store) queryPositions(ctx context.Context, query string, args ...any) ([]stock.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []stock.Position
	for rows.Next() {
		var (
			p                               stock.Position
			generic, manufacturer, category sql.NullString
			expiry                          sql.NullString
			costPrice, sellingPrice         sql.NullString
			createdAt, updatedAt            string
		)
		if err := rows.Scan(&p.MedicineName, &p.BatchNumber, &generic, &manufacturer,
			&category, &expiry, &p.ReorderLevel, &costPrice, &sellingPrice,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}

		p.GenericName = generic.String
		p.Manufacturer = manufacturer.String
		p.Category = category.String
		if expiry.Valid {
			p.ExpiryDate, _ = time.Parse(time.RFC3339, expiry.String)
		}
		if costPrice.Valid {
			p.CostPrice, _ = decimal.NewFromString(costPrice.String)
		}
		if sellingPrice.Valid {
			p.SellingPrice, _ = decimal.NewFromString(sellingPrice.String)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// SaveSale writes a POS receipt parent record with its line items atomically.
func (s *Store) SaveSale(ctx context.Context, sale stock.SaleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pos_sales
		(id, receipt_number, sale_date, pharmacist_name, subtotal, cgst, sgst,
		 total, payment_mode, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sale.ID, sale.ReceiptNumber,
		sale.SaleDate.UTC().Format(time.RFC3339),
		nullString(sale.PharmacistName),
		sale.Subtotal.String(), sale.CGST.String(), sale.SGST.String(), sale.Total.String(),
		string(sale.PaymentMode), string(sale.Status),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}

	for _, line := range sale.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pos_sale_items
			(sale_id, medicine_name, batch_number, quantity, unit_price, line_total)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			sale.ID, line.MedicineName, line.BatchNumber,
			line.Quantity, line.UnitPrice.String(), line.LineTotal.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert sale item: %w", err)
		}
	}

	return tx.Commit()
}

// SaveInvoice writes a supplier invoice parent record with its line items
// atomically.
func (s *Store) SaveInvoice(ctx context.Context, inv stock.InvoiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO supplier_invoices
		(id, invoice_number, invoice_date, supplier_name, supplier_gstin, po_reference,
		 delivery_date, vehicle_number, subtotal, cgst, sgst, total, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inv.ID, inv.InvoiceNumber,
		inv.InvoiceDate.UTC().Format(time.RFC3339),
		nullString(inv.SupplierName), nullString(inv.SupplierGSTIN), nullString(inv.POReference),
		nullTime(timePtr(inv.DeliveryDate)), nullString(inv.VehicleNumber),
		inv.Subtotal.String(), inv.CGST.String(), inv.SGST.String(), inv.Total.String(),
		string(inv.Status),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	for _, line := range inv.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO supplier_invoice_items
			(invoice_id, medicine_name, batch_number, quantity, unit_cost, line_total,
			 generic_name, manufacturer, category, expiry_date, reorder_level, selling_price)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			inv.ID, line.MedicineName, line.BatchNumber,
			line.Quantity, line.UnitCost.String(), line.LineTotal.String(),
			nullString(line.GenericName), nullString(line.Manufacturer), nullString(line.Category),
			nullTime(timePtr(line.ExpiryDate)), line.ReorderLevel, line.SellingPrice.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert invoice item: %w", err)
		}
	}

	return tx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"stock_movements", "cash_movements", "reference_claims", "stock_balances",
		"pos_sale_items", "pos_sales", "supplier_invoice_items", "supplier_invoices",
		"stock_positions",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
