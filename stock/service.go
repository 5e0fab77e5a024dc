/*
service.go - Stock reconciliation service

PURPOSE:
  The write path for inventory. Every quantity change flows through here:
  supplier receipts (IN), sales (OUT), physical-count corrections (ADJUST).
  Each operation validates against the projected quantity, then appends to
  the ledger. The projection is re-derivable at any time; nothing here is a
  second source of truth.

NO-OVERSELL INVARIANT:
  The check-then-append in Sell is atomic per batch: the service holds the
  per-key lock from the quantity read until the append commits. Two
  simultaneous sells that together exceed stock cannot both succeed.

IDEMPOTENCY:
  External events carry a reference (POS receipt number, supplier invoice
  id). The guard's claim makes a repeated submission a no-op success - the
  caller gets AlreadyApplied=true, never a double-applied movement. The
  claim is taken after validation so a rejected event (e.g. insufficient
  stock) can be corrected and resubmitted under the same reference.

EXPIRED BATCHES:
  Selling from an expired batch is permitted but flagged with
  ExpiredBatchWarning. Clearance sales are a policy matter for the
  operator, not a silent rejection.

SEE ALSO:
  - ledger: append, projection, claims, per-key locks
  - catalog.go: position metadata and parent records
*/
package stock

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pharmacore/ledger-engine/ledger"
)

// Service validates and applies inventory-affecting events.
type Service struct {
	ledger    *ledger.Ledger
	projector *ledger.Projector
	guard     *ledger.Guard
	catalog   Catalog
	locks     *ledger.KeyLocks

	now func() time.Time
}

func NewService(l *ledger.Ledger, p *ledger.Projector, g *ledger.Guard, c Catalog, locks *ledger.KeyLocks) *Service {
	return &Service{
		ledger:    l,
		projector: p,
		guard:     g,
		catalog:   c,
		locks:     locks,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. For tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// =============================================================================
// RECEIVE - Supplier invoice intake (IN movements)
// =============================================================================

type ReceiptInput struct {
	InvoiceNumber string
	InvoiceDate   time.Time
	SupplierName  string
	SupplierGSTIN string
	POReference   string
	DeliveryDate  time.Time
	VehicleNumber string
	CGST          decimal.Decimal
	SGST          decimal.Decimal
	Lines         []InvoiceLine
	Reference     ledger.Reference
}

type ReceiveResult struct {
	// AlreadyApplied means the reference was claimed before: the event was
	// applied by an earlier submission and this call changed nothing.
	AlreadyApplied bool
	Invoice        *InvoiceRecord
	EntryIDs       []ledger.EntryID
}

// Receive creates or updates position metadata for each line and appends
// one IN entry per line. A repeated reference is a no-op success.
func (s *Service) Receive(ctx context.Context, in ReceiptInput) (*ReceiveResult, error) {
	if len(in.Lines) == 0 {
		return nil, fmt.Errorf("receipt %s has no line items", in.InvoiceNumber)
	}
	for _, line := range in.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("receipt line for %s: quantity must be positive, got %d", line.Batch, line.Quantity)
		}
	}

	occurredAt := in.InvoiceDate
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	keys := make([]ledger.EntityKey, len(in.Lines))
	for i, line := range in.Lines {
		keys[i] = line.Key()
	}
	release, err := s.locks.AcquireAll(ctx, keys)
	if err != nil {
		return nil, err
	}
	defer release()

	claimed, err := s.guard.Claim(ctx, in.Reference)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return &ReceiveResult{AlreadyApplied: true}, nil
	}

	entries := make([]ledger.Entry, 0, len(in.Lines))
	ids := make([]ledger.EntryID, 0, len(in.Lines))
	for _, line := range in.Lines {
		if err := s.upsertPosition(ctx, line); err != nil {
			return nil, err
		}
		ref := in.Reference
		id := ledger.NewEntryID()
		entries = append(entries, ledger.Entry{
			ID:         id,
			EntityKey:  line.Key(),
			Kind:       ledger.MovementIn,
			Delta:      decimal.NewFromInt(line.Quantity),
			Reference:  &ref,
			OccurredAt: occurredAt,
			Remarks:    "receipt " + in.InvoiceNumber,
		})
		ids = append(ids, id)
	}

	if err := s.ledger.AppendBatch(ctx, entries); err != nil {
		return nil, err
	}
	for _, key := range keys {
		s.projector.Invalidate(ctx, key)
	}

	record := s.invoiceRecord(in, occurredAt)
	if err := s.catalog.SaveInvoice(ctx, record); err != nil {
		return nil, err
	}

	return &ReceiveResult{Invoice: &record, EntryIDs: ids}, nil
}

func (s *Service) upsertPosition(ctx context.Context, line InvoiceLine) error {
	existing, err := s.catalog.GetPosition(ctx, line.Batch)
	if err != nil {
		return err
	}

	pos := Position{Batch: line.Batch}
	if existing != nil {
		pos = *existing
	}
	if line.GenericName != "" {
		pos.GenericName = line.GenericName
	}
	if line.Manufacturer != "" {
		pos.Manufacturer = line.Manufacturer
	}
	if line.Category != "" {
		pos.Category = line.Category
	}
	if !line.ExpiryDate.IsZero() {
		pos.ExpiryDate = line.ExpiryDate
	}
	if line.ReorderLevel > 0 {
		pos.ReorderLevel = line.ReorderLevel
	}
	if !line.UnitCost.IsZero() {
		pos.CostPrice = line.UnitCost
	}
	if !line.SellingPrice.IsZero() {
		pos.SellingPrice = line.SellingPrice
	}
	return s.catalog.SavePosition(ctx, pos)
}

func (s *Service) invoiceRecord(in ReceiptInput, occurredAt time.Time) InvoiceRecord {
	subtotal := decimal.Zero
	for i := range in.Lines {
		if in.Lines[i].LineTotal.IsZero() {
			in.Lines[i].LineTotal = in.Lines[i].UnitCost.Mul(decimal.NewFromInt(in.Lines[i].Quantity))
		}
		subtotal = subtotal.Add(in.Lines[i].LineTotal)
	}
	return InvoiceRecord{
		ID:            newRecordID(),
		InvoiceNumber: in.InvoiceNumber,
		InvoiceDate:   occurredAt,
		SupplierName:  in.SupplierName,
		SupplierGSTIN: in.SupplierGSTIN,
		POReference:   in.POReference,
		DeliveryDate:  in.DeliveryDate,
		VehicleNumber: in.VehicleNumber,
		Subtotal:      subtotal,
		CGST:          in.CGST,
		SGST:          in.SGST,
		Total:         subtotal.Add(in.CGST).Add(in.SGST),
		Status:        StatusRecorded,
		Lines:         in.Lines,
		CreatedAt:     s.now(),
	}
}

// =============================================================================
// SELL - POS checkout (OUT movements)
// =============================================================================

type SaleInput struct {
	ReceiptNumber  string
	SaleDate       time.Time
	PharmacistName string
	PaymentMode    PaymentMode
	CGST           decimal.Decimal
	SGST           decimal.Decimal
	Lines          []SaleLine
	Reference      ledger.Reference
}

type SellResult struct {
	AlreadyApplied bool
	Sale           *SaleRecord
	EntryIDs       []ledger.EntryID

	// Non-fatal: the sale completed, the operator should acknowledge.
	Warnings []ExpiredBatchWarning
}

// Sell validates every line against the projected quantity and, if all
// pass, appends one OUT entry per line. All-or-nothing: no partial
// fulfillment. Fails with InsufficientStockError when any line exceeds
// the batch's current quantity.
func (s *Service) Sell(ctx context.Context, in SaleInput) (*SellResult, error) {
	if len(in.Lines) == 0 {
		return nil, fmt.Errorf("sale %s has no line items", in.ReceiptNumber)
	}
	for _, line := range in.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("sale line for %s: quantity must be positive, got %d", line.Batch, line.Quantity)
		}
	}

	saleDate := in.SaleDate
	if saleDate.IsZero() {
		saleDate = s.now()
	}

	keys := make([]ledger.EntityKey, len(in.Lines))
	for i, line := range in.Lines {
		keys[i] = line.Key()
	}
	release, err := s.locks.AcquireAll(ctx, keys)
	if err != nil {
		return nil, err
	}
	defer release()

	// Validate all lines before touching the ledger.
	var warnings []ExpiredBatchWarning
	for _, line := range in.Lines {
		pos, err := s.catalog.GetPosition(ctx, line.Batch)
		if err != nil {
			return nil, err
		}
		if pos == nil {
			return nil, fmt.Errorf("%w: %s", ledger.ErrPositionNotFound, line.Batch)
		}

		current, err := s.projector.Current(ctx, line.Key())
		if err != nil {
			return nil, err
		}
		requested := decimal.NewFromInt(line.Quantity)
		if requested.GreaterThan(current) {
			return nil, &ledger.InsufficientStockError{
				EntityKey: line.Key(),
				Available: current,
				Requested: requested,
			}
		}

		if pos.Expired(saleDate) {
			warnings = append(warnings, ExpiredBatchWarning{Batch: line.Batch, ExpiryDate: pos.ExpiryDate})
		}
	}

	claimed, err := s.guard.Claim(ctx, in.Reference)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return &SellResult{AlreadyApplied: true}, nil
	}

	entries := make([]ledger.Entry, 0, len(in.Lines))
	ids := make([]ledger.EntryID, 0, len(in.Lines))
	for _, line := range in.Lines {
		ref := in.Reference
		id := ledger.NewEntryID()
		entries = append(entries, ledger.Entry{
			ID:         id,
			EntityKey:  line.Key(),
			Kind:       ledger.MovementOut,
			Delta:      decimal.NewFromInt(line.Quantity).Neg(),
			Reference:  &ref,
			OccurredAt: saleDate,
			Remarks:    "sale " + in.ReceiptNumber,
		})
		ids = append(ids, id)
	}

	if err := s.ledger.AppendBatch(ctx, entries); err != nil {
		return nil, err
	}
	for _, key := range keys {
		s.projector.Invalidate(ctx, key)
	}

	record := s.saleRecord(in, saleDate)
	if err := s.catalog.SaveSale(ctx, record); err != nil {
		return nil, err
	}

	return &SellResult{Sale: &record, EntryIDs: ids, Warnings: warnings}, nil
}

func (s *Service) saleRecord(in SaleInput, saleDate time.Time) SaleRecord {
	subtotal := decimal.Zero
	for i := range in.Lines {
		if in.Lines[i].LineTotal.IsZero() {
			in.Lines[i].LineTotal = in.Lines[i].UnitPrice.Mul(decimal.NewFromInt(in.Lines[i].Quantity))
		}
		subtotal = subtotal.Add(in.Lines[i].LineTotal)
	}
	mode := in.PaymentMode
	if mode == "" {
		mode = PayCash
	}
	return SaleRecord{
		ID:             newRecordID(),
		ReceiptNumber:  in.ReceiptNumber,
		SaleDate:       saleDate,
		PharmacistName: in.PharmacistName,
		Subtotal:       subtotal,
		CGST:           in.CGST,
		SGST:           in.SGST,
		Total:          subtotal.Add(in.CGST).Add(in.SGST),
		PaymentMode:    mode,
		Status:         StatusRecorded,
		Lines:          in.Lines,
		CreatedAt:      s.now(),
	}
}

// =============================================================================
// ADJUST - Physical-count corrections (ADJUST movements)
// =============================================================================

type AdjustResult struct {
	AlreadyApplied bool
	EntryID        ledger.EntryID
}

// Adjust appends a signed correction for a batch. With a nil reference the
// adjustment is intentionally repeatable (manual recounts); callers may
// supply a reference to opt in to deduplication. A negative delta that
// would drive the quantity below zero is rejected.
func (s *Service) Adjust(ctx context.Context, batch Batch, delta decimal.Decimal, reason string, ref *ledger.Reference) (*AdjustResult, error) {
	if delta.IsZero() {
		return nil, fmt.Errorf("adjustment for %s: delta must be non-zero", batch)
	}

	release, err := s.locks.Acquire(ctx, batch.Key())
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.projector.Current(ctx, batch.Key())
	if err != nil {
		return nil, err
	}
	if current.Add(delta).IsNegative() {
		return nil, &ledger.InsufficientStockError{
			EntityKey: batch.Key(),
			Available: current,
			Requested: delta.Neg(),
		}
	}

	if ref != nil {
		claimed, err := s.guard.Claim(ctx, *ref)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return &AdjustResult{AlreadyApplied: true}, nil
		}
	}

	id := ledger.NewEntryID()
	entry := ledger.Entry{
		ID:         id,
		EntityKey:  batch.Key(),
		Kind:       ledger.MovementAdjust,
		Delta:      delta,
		Reference:  ref,
		OccurredAt: s.now(),
		Remarks:    reason,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		return nil, err
	}
	s.projector.Invalidate(ctx, batch.Key())

	return &AdjustResult{EntryID: id}, nil
}

// =============================================================================
// QUERIES - Projections for callers and downstream workflows
// =============================================================================

// Quantity returns the current projected quantity for a batch.
func (s *Service) Quantity(ctx context.Context, batch Batch) (decimal.Decimal, error) {
	return s.projector.Current(ctx, batch.Key())
}

// QuantityAsOf returns the batch quantity at a point in time, for audit
// queries like "what was on hand during this sale".
func (s *Service) QuantityAsOf(ctx context.Context, batch Batch, asOf time.Time) (decimal.Decimal, error) {
	return s.projector.AsOf(ctx, batch.Key(), asOf)
}

// Entries returns the batch's ledger entries in replay order.
func (s *Service) Entries(ctx context.Context, batch Batch, asOf *time.Time) ([]ledger.Entry, error) {
	if asOf != nil {
		return s.ledger.ReadAsOf(ctx, batch.Key(), *asOf)
	}
	return s.ledger.Read(ctx, batch.Key())
}

// Positions returns every position with its current projected quantity.
func (s *Service) Positions(ctx context.Context) ([]PositionQuantity, error) {
	positions, err := s.catalog.ListPositions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]PositionQuantity, 0, len(positions))
	for _, p := range positions {
		current, err := s.projector.Current(ctx, p.Key())
		if err != nil {
			return nil, err
		}
		out = append(out, PositionQuantity{Position: p, CurrentQuantity: current})
	}
	return out, nil
}

// ReorderCandidates returns batches whose projected quantity is below their
// reorder level, lowest first, for the downstream replenishment workflow.
func (s *Service) ReorderCandidates(ctx context.Context) ([]PositionQuantity, error) {
	all, err := s.Positions(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []PositionQuantity
	for _, pq := range all {
		if pq.CurrentQuantity.LessThan(decimal.NewFromInt(pq.ReorderLevel)) {
			candidates = append(candidates, pq)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CurrentQuantity.LessThan(candidates[j].CurrentQuantity)
	})
	return candidates, nil
}

// Expiring returns positions whose expiry falls within the given number of
// days from now (already-expired batches included).
func (s *Service) Expiring(ctx context.Context, days int) ([]PositionQuantity, error) {
	all, err := s.Positions(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().AddDate(0, 0, days)

	var expiring []PositionQuantity
	for _, pq := range all {
		if !pq.ExpiryDate.IsZero() && !pq.ExpiryDate.After(cutoff) {
			expiring = append(expiring, pq)
		}
	}
	sort.Slice(expiring, func(i, j int) bool {
		return expiring[i].ExpiryDate.Before(expiring[j].ExpiryDate)
	})
	return expiring, nil
}
