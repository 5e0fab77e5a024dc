/*
Package stock implements inventory reconciliation over the movement ledger.

PURPOSE:
  Validates and applies inventory-affecting events (supplier receipts,
  sales, manual adjustments) against projected batch quantities, with
  no-oversell and idempotency protection.

KEY CONCEPTS IN THIS FILE (types.go):
  - Batch: a uniquely identified lot of one medicine (name + batch number)
  - Position: batch metadata plus derived quantity; quantity is only ever
    mutated through accepted ledger appends
  - SaleRecord / InvoiceRecord: parent records for POS receipts and
    supplier invoices, immutable after creation except for status

SEE ALSO:
  - service.go: receive / sell / adjust / reorder operations
  - catalog.go: position and parent-record persistence
*/
package stock

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pharmacore/ledger-engine/ledger"
)

// =============================================================================
// BATCH - Unique lot of one medicine
// =============================================================================

type Batch struct {
	MedicineName string
	BatchNumber  string
}

// Key returns the ledger entity key for the batch.
func (b Batch) Key() ledger.EntityKey {
	return ledger.EntityKey(b.MedicineName + "|" + b.BatchNumber)
}

func (b Batch) String() string {
	return b.MedicineName + " [" + b.BatchNumber + "]"
}

// =============================================================================
// POSITION - Batch metadata; quantity is derived, never authored
// =============================================================================

// Position holds the descriptive state of a batch. Created on first receipt,
// never deleted (expired stock remains queryable for audit). The current
// quantity does NOT live here: it is the fold of the batch's ledger entries.
type Position struct {
	Batch

	GenericName  string
	Manufacturer string
	Category     string
	ExpiryDate   time.Time
	ReorderLevel int64
	CostPrice    decimal.Decimal
	SellingPrice decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the batch is past expiry at the given time.
func (p Position) Expired(at time.Time) bool {
	return !p.ExpiryDate.IsZero() && p.ExpiryDate.Before(at)
}

// PositionQuantity pairs a position with its projected quantity, for
// inventory listings and the replenishment queue.
type PositionQuantity struct {
	Position
	CurrentQuantity decimal.Decimal
}

// =============================================================================
// SALE - POS receipt parent record + line items
// =============================================================================

type PaymentMode string

const (
	PayCash      PaymentMode = "cash"
	PayCard      PaymentMode = "card"
	PayUPI       PaymentMode = "upi"
	PayInsurance PaymentMode = "insurance"
)

type RecordStatus string

const (
	StatusRecorded RecordStatus = "recorded"
	StatusPaid     RecordStatus = "paid"
	StatusVoided   RecordStatus = "voided" // compensated, never deleted
)

type SaleLine struct {
	Batch
	Quantity  int64
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// SaleRecord captures a POS receipt's totals and tax for reporting. The
// quantities themselves live in the ledger, one OUT entry per line item.
// Immutable after creation except Status.
type SaleRecord struct {
	ID             string
	ReceiptNumber  string
	SaleDate       time.Time
	PharmacistName string
	Subtotal       decimal.Decimal
	CGST           decimal.Decimal
	SGST           decimal.Decimal
	Total          decimal.Decimal
	PaymentMode    PaymentMode
	Status         RecordStatus
	Lines          []SaleLine
	CreatedAt      time.Time
}

// =============================================================================
// INVOICE - Supplier invoice parent record + line items
// =============================================================================

type InvoiceLine struct {
	Batch
	Quantity  int64
	UnitCost  decimal.Decimal
	LineTotal decimal.Decimal

	// Position metadata carried on first receipt of a new batch.
	GenericName  string
	Manufacturer string
	Category     string
	ExpiryDate   time.Time
	ReorderLevel int64
	SellingPrice decimal.Decimal
}

// InvoiceRecord captures a supplier invoice's header and totals. One IN
// ledger entry is appended per line item. Immutable after creation except
// Status.
type InvoiceRecord struct {
	ID            string
	InvoiceNumber string
	InvoiceDate   time.Time
	SupplierName  string
	SupplierGSTIN string
	POReference   string
	DeliveryDate  time.Time
	VehicleNumber string
	Subtotal      decimal.Decimal
	CGST          decimal.Decimal
	SGST          decimal.Decimal
	Total         decimal.Decimal
	Status        RecordStatus
	Lines         []InvoiceLine
	CreatedAt     time.Time
}

func newRecordID() string {
	return uuid.NewString()
}

// =============================================================================
// WARNINGS - Non-fatal conditions surfaced to the caller
// =============================================================================

// ExpiredBatchWarning flags a sale drawn from an expired batch. The sale
// still completes: expiry enforcement is a policy decision surfaced to the
// operator, not a hidden rejection (clearance sales are legitimate).
type ExpiredBatchWarning struct {
	Batch
	ExpiryDate time.Time
}

func (w ExpiredBatchWarning) Warning() string {
	return "batch " + w.String() + " expired " + w.ExpiryDate.Format("2006-01-02")
}
