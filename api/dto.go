/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Quantities and money travel as decimal strings ("120.50"), never floats.
  decimal.Decimal handles both quoted and bare JSON numbers on the way in.

VALIDATION:
  Validation is done in handlers and services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - stock/service.go, cash/service.go: Domain inputs these map onto
*/
package api

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// STOCK - Supplier receipts
// =============================================================================

// InvoiceLineDTO is one line of a supplier invoice. The position metadata
// fields seed or refresh the batch's catalog entry.
type InvoiceLineDTO struct {
	MedicineName string          `json:"medicine_name"`
	BatchNumber  string          `json:"batch_number"`
	Quantity     int64           `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	LineTotal    decimal.Decimal `json:"line_total,omitempty"`

	GenericName  string          `json:"generic_name,omitempty"`
	Manufacturer string          `json:"manufacturer,omitempty"`
	Category     string          `json:"category,omitempty"`
	ExpiryDate   string          `json:"expiry_date,omitempty"` // YYYY-MM-DD
	ReorderLevel int64           `json:"reorder_level,omitempty"`
	SellingPrice decimal.Decimal `json:"selling_price,omitempty"`
}

// ReceiveRequest is a supplier invoice submission. The invoice number is the
// idempotency reference: resubmitting the same invoice is a no-op.
type ReceiveRequest struct {
	InvoiceNumber string           `json:"invoice_number"`
	InvoiceDate   string           `json:"invoice_date,omitempty"`
	SupplierName  string           `json:"supplier_name,omitempty"`
	SupplierGSTIN string           `json:"supplier_gstin,omitempty"`
	POReference   string           `json:"po_reference,omitempty"`
	DeliveryDate  string           `json:"delivery_date,omitempty"`
	VehicleNumber string           `json:"vehicle_number,omitempty"`
	CGST          decimal.Decimal  `json:"cgst,omitempty"`
	SGST          decimal.Decimal  `json:"sgst,omitempty"`
	Lines         []InvoiceLineDTO `json:"lines"`
}

type ReceiveResponse struct {
	AlreadyApplied bool     `json:"already_applied"`
	InvoiceID      string   `json:"invoice_id,omitempty"`
	EntryIDs       []string `json:"entry_ids,omitempty"`
}

// =============================================================================
// STOCK - POS sales
// =============================================================================

type SaleLineDTO struct {
	MedicineName string          `json:"medicine_name"`
	BatchNumber  string          `json:"batch_number"`
	Quantity     int64           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineTotal    decimal.Decimal `json:"line_total,omitempty"`
}

// SellRequest is a POS receipt submission. The receipt number is the
// idempotency reference.
type SellRequest struct {
	ReceiptNumber  string          `json:"receipt_number"`
	SaleDate       string          `json:"sale_date,omitempty"`
	PharmacistName string          `json:"pharmacist_name,omitempty"`
	PaymentMode    string          `json:"payment_mode,omitempty"`
	CGST           decimal.Decimal `json:"cgst,omitempty"`
	SGST           decimal.Decimal `json:"sgst,omitempty"`
	Lines          []SaleLineDTO   `json:"lines"`
}

type SellResponse struct {
	AlreadyApplied bool     `json:"already_applied"`
	SaleID         string   `json:"sale_id,omitempty"`
	EntryIDs       []string `json:"entry_ids,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// =============================================================================
// STOCK - Adjustments and queries
// =============================================================================

// AdjustRequest is a physical-count correction. ReferenceID is optional:
// supplying one opts in to deduplication, omitting it keeps the adjustment
// intentionally repeatable.
type AdjustRequest struct {
	MedicineName string          `json:"medicine_name"`
	BatchNumber  string          `json:"batch_number"`
	Delta        decimal.Decimal `json:"delta"`
	Reason       string          `json:"reason"`
	ReferenceID  string          `json:"reference_id,omitempty"`
}

type AdjustResponse struct {
	AlreadyApplied bool   `json:"already_applied"`
	EntryID        string `json:"entry_id,omitempty"`
}

// PositionDTO is a batch's catalog metadata plus its projected quantity.
type PositionDTO struct {
	MedicineName    string          `json:"medicine_name"`
	BatchNumber     string          `json:"batch_number"`
	GenericName     string          `json:"generic_name,omitempty"`
	Manufacturer    string          `json:"manufacturer,omitempty"`
	Category        string          `json:"category,omitempty"`
	ExpiryDate      string          `json:"expiry_date,omitempty"`
	ReorderLevel    int64           `json:"reorder_level"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	SellingPrice    decimal.Decimal `json:"selling_price"`
	CurrentQuantity decimal.Decimal `json:"current_quantity"`
}

// QuantityDTO is a single projected batch quantity.
type QuantityDTO struct {
	MedicineName string          `json:"medicine_name"`
	BatchNumber  string          `json:"batch_number"`
	Quantity     decimal.Decimal `json:"quantity"`
	AsOf         string          `json:"as_of,omitempty"`
}

// MovementDTO is one ledger entry in API responses.
type MovementDTO struct {
	ID         string          `json:"id"`
	EntityKey  string          `json:"entity_key"`
	Kind       string          `json:"kind"`
	Delta      decimal.Decimal `json:"delta"`
	Reference  string          `json:"reference,omitempty"`
	OccurredAt string          `json:"occurred_at"`
	RecordedAt string          `json:"recorded_at"`
	Remarks    string          `json:"remarks,omitempty"`
	Seq        int64           `json:"seq"`
}

// =============================================================================
// CASH - Statement imports
// =============================================================================

// StatementLineDTO is one parsed statement row. DeclaredBalance, when
// present, is the statement's own running balance and is verified against
// the computed one.
type StatementLineDTO struct {
	TranID          string           `json:"tran_id"`
	OccurredAt      string           `json:"occurred_at"`
	Direction       string           `json:"direction"` // CR | DR
	Amount          decimal.Decimal  `json:"amount"`
	Description     string           `json:"description,omitempty"`
	DeclaredBalance *decimal.Decimal `json:"declared_balance,omitempty"`
}

type ImportStatementRequest struct {
	Lines []StatementLineDTO `json:"lines"`
}

type ImportLineResultDTO struct {
	TranID  string `json:"tran_id"`
	Status  string `json:"status"` // imported | skipped | failed
	EntryID string `json:"entry_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ImportStatementResponse struct {
	Imported int                   `json:"imported"`
	Skipped  int                   `json:"skipped"`
	Failed   int                   `json:"failed"`
	Lines    []ImportLineResultDTO `json:"lines"`
}

// CashEntryDTO is one bank ledger row in API responses.
type CashEntryDTO struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	TranID         string          `json:"tran_id"`
	OccurredAt     string          `json:"occurred_at"`
	Direction      string          `json:"direction"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description,omitempty"`
	RunningBalance decimal.Decimal `json:"running_balance"`
	Status         string          `json:"status"`
	ApprovedBy     string          `json:"approved_by,omitempty"`
	ApprovedAt     string          `json:"approved_at,omitempty"`
}

// ApproveRequest marks a bank entry as reviewed.
type ApproveRequest struct {
	ApprovedBy string `json:"approved_by"`
}

// AccountBalanceDTO is an account's projected balance.
type AccountBalanceDTO struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	AsOf      string          `json:"as_of,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
