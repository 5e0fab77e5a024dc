package stock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmacore/ledger-engine/ledger"
	ledgerstore "github.com/pharmacore/ledger-engine/ledger/store"
	"github.com/pharmacore/ledger-engine/stock"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestService() *stock.Service {
	mem := ledgerstore.NewMemory()
	return stock.NewService(
		ledger.NewLedger(mem),
		ledger.NewProjector(mem),
		ledger.NewGuard(mem),
		stock.NewMemoryCatalog(),
		ledger.NewKeyLocks(time.Second),
	)
}

var paracetamol = stock.Batch{MedicineName: "Paracetamol 500mg", BatchNumber: "PC1023"}

func receiptFor(invoice string, batch stock.Batch, quantity int64) stock.ReceiptInput {
	return stock.ReceiptInput{
		InvoiceNumber: invoice,
		InvoiceDate:   time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC),
		SupplierName:  "MediSupply Pvt Ltd",
		Reference:     ledger.Reference{Type: ledger.RefSupplierInvoice, ID: invoice},
		Lines: []stock.InvoiceLine{{
			Batch:        batch,
			Quantity:     quantity,
			UnitCost:     decimal.NewFromFloat(2.50),
			ExpiryDate:   time.Date(2027, time.December, 31, 0, 0, 0, 0, time.UTC),
			ReorderLevel: 20,
		}},
	}
}

func saleFor(receipt string, batch stock.Batch, quantity int64) stock.SaleInput {
	return stock.SaleInput{
		ReceiptNumber: receipt,
		SaleDate:      time.Date(2026, time.March, 2, 11, 0, 0, 0, time.UTC),
		Reference:     ledger.Reference{Type: ledger.RefPOS, ID: receipt},
		Lines: []stock.SaleLine{{
			Batch:     batch,
			Quantity:  quantity,
			UnitPrice: decimal.NewFromFloat(5),
		}},
	}
}

// =============================================================================
// RECEIVE + SELL
// =============================================================================

func TestReceiveThenSell_NoOversell(t *testing.T) {
	// GIVEN: 100 units received, 30 sold (70 remain)
	// WHEN: a sale of 80 arrives
	// THEN: hard reject with InsufficientStockError; quantity stays 70

	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Receive(ctx, receiptFor("INV-1", paracetamol, 100))
	require.NoError(t, err)

	_, err = svc.Sell(ctx, saleFor("R-1", paracetamol, 30))
	require.NoError(t, err)

	_, err = svc.Sell(ctx, saleFor("R-2", paracetamol, 80))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInsufficientStock))

	var shortage *ledger.InsufficientStockError
	require.True(t, errors.As(err, &shortage))
	assert.True(t, shortage.Available.Equal(decimal.NewFromInt(70)))
	assert.True(t, shortage.Requested.Equal(decimal.NewFromInt(80)))

	quantity, err := svc.Quantity(ctx, paracetamol)
	require.NoError(t, err)
	assert.True(t, quantity.Equal(decimal.NewFromInt(70)), "rejected sale must not move stock, got %s", quantity)
}

func TestSell_MultiLine_AllOrNothing(t *testing.T) {
	// One short line rejects the whole sale; the sufficient line must not
	// be partially applied.

	ctx := context.Background()
	svc := newTestService()
	ibuprofen := stock.Batch{MedicineName: "Ibuprofen 400mg", BatchNumber: "IB77"}

	_, err := svc.Receive(ctx, receiptFor("INV-1", paracetamol, 100))
	require.NoError(t, err)
	_, err = svc.Receive(ctx, receiptFor("INV-2", ibuprofen, 5))
	require.NoError(t, err)

	in := saleFor("R-1", paracetamol, 10)
	in.Lines = append(in.Lines, stock.SaleLine{Batch: ibuprofen, Quantity: 50, UnitPrice: decimal.NewFromFloat(3)})

	_, err = svc.Sell(ctx, in)
	require.True(t, errors.Is(err, ledger.ErrInsufficientStock))

	quantity, _ := svc.Quantity(ctx, paracetamol)
	assert.True(t, quantity.Equal(decimal.NewFromInt(100)), "no partial fulfillment")
}

func TestSell_UnknownBatch(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Sell(ctx, saleFor("R-1", paracetamol, 1))
	assert.True(t, errors.Is(err, ledger.ErrPositionNotFound))
}

func TestSell_ExpiredBatch_CompletesWithWarning(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	in := receiptFor("INV-1", paracetamol, 50)
	in.Lines[0].ExpiryDate = time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC)
	_, err := svc.Receive(ctx, in)
	require.NoError(t, err)

	result, err := svc.Sell(ctx, saleFor("R-1", paracetamol, 10))
	require.NoError(t, err, "expired stock sells, it does not reject")
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, paracetamol, result.Warnings[0].Batch)

	quantity, _ := svc.Quantity(ctx, paracetamol)
	assert.True(t, quantity.Equal(decimal.NewFromInt(40)))
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestReceive_ResubmitIsNoOp(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	first, err := svc.Receive(ctx, receiptFor("INV-1", paracetamol, 100))
	require.NoError(t, err)
	require.False(t, first.AlreadyApplied)

	second, err := svc.Receive(ctx, receiptFor("INV-1", paracetamol, 100))
	require.NoError(t, err, "resubmission is a no-op success, not an error")
	assert.True(t, second.AlreadyApplied)

	quantity, _ := svc.Quantity(ctx, paracetamol)
	assert.True(t, quantity.Equal(decimal.NewFromInt(100)), "double-applied receipt would show 200")
}

func TestSell_ResubmitIsNoOp(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Receive(ctx, receiptFor("INV-1", paracetamol, 100))
	require.NoError(t, err)

	_, err = svc.Sell(ctx, saleFor("R-1", paracetamol, 30))
	require.NoError(t, err)

	second, err := svc.Sell(ctx, saleFor("R-1", paracetamol, 30))
	require.NoError(t, err)
	assert.True(t, second.AlreadyApplied)

	quantity, _ := svc.Quantity(ctx, paracetamol)
	assert.True(t, quantity.Equal(decimal.NewFromInt(70)))
}

func TestSell_RejectedSaleDoesNotBurnReference(t *testing.T) {
	// A sale rejected for insufficient stock must be resubmittable under the
	// same receipt number once stock is corrected.

	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Receive(ctx, receiptFor("INV-1", paracetamol, 10))
	require.NoError(t, err)

	_, err = svc.Sell(ctx, saleFor("R-1", paracetamol, 50))
	require.True(t, errors.Is(err, ledger.ErrInsufficientStock))

	_, err = svc.Receive(ctx, receiptFor("INV-2", paracetamol, 100))
	require.NoError(t, err)

	result, err := svc.Sell(ctx, saleFor("R-1", paracetamol, 50))
	require.NoError(t, err)
	assert.False(t, result.AlreadyApplied)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentSells_CannotOversell(t *testing.T) {
	// GIVEN: 100 units on hand
	// WHEN: two sales of 80 race on the same batch
	// THEN: exactly one succeeds; the loser gets InsufficientStockError

	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Receive(ctx, receiptFor("INV-1", paracetamol, 100))
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipt := []string{"R-A", "R-B"}[i]
			_, errs[i] = svc.Sell(ctx, saleFor(receipt, paracetamol, 80))
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ledger.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	quantity, _ := svc.Quantity(ctx, paracetamol)
	assert.True(t, quantity.Equal(decimal.NewFromInt(20)))
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func TestAdjust_CannotDriveNegative(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Receive(ctx, receiptFor("INV-1", paracetamol, 10))
	require.NoError(t, err)

	_, err = svc.Adjust(ctx, paracetamol, decimal.NewFromInt(-15), "physical count", nil)
	require.True(t, errors.Is(err, ledger.ErrInsufficientStock))

	_, err = svc.Adjust(ctx, paracetamol, decimal.NewFromInt(-4), "physical count", nil)
	require.NoError(t, err)

	quantity, _ := svc.Quantity(ctx, paracetamol)
	assert.True(t, quantity.Equal(decimal.NewFromInt(6)))
}

func TestAdjust_WithReferenceDeduplicates(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Receive(ctx, receiptFor("INV-1", paracetamol, 10))
	require.NoError(t, err)

	ref := &ledger.Reference{Type: ledger.RefManual, ID: "count-2026-03"}
	first, err := svc.Adjust(ctx, paracetamol, decimal.NewFromInt(3), "recount", ref)
	require.NoError(t, err)
	require.False(t, first.AlreadyApplied)

	second, err := svc.Adjust(ctx, paracetamol, decimal.NewFromInt(3), "recount", ref)
	require.NoError(t, err)
	assert.True(t, second.AlreadyApplied)

	quantity, _ := svc.Quantity(ctx, paracetamol)
	assert.True(t, quantity.Equal(decimal.NewFromInt(13)))
}

// =============================================================================
// QUERIES
// =============================================================================

func TestQuantityAsOf(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Receive(ctx, receiptFor("INV-1", paracetamol, 100))
	require.NoError(t, err)
	_, err = svc.Sell(ctx, saleFor("R-1", paracetamol, 30))
	require.NoError(t, err)

	// Between the receipt (Mar 1) and the sale (Mar 2).
	between := time.Date(2026, time.March, 1, 23, 0, 0, 0, time.UTC)
	asOf, err := svc.QuantityAsOf(ctx, paracetamol, between)
	require.NoError(t, err)
	assert.True(t, asOf.Equal(decimal.NewFromInt(100)))
}

func TestReorderCandidates(t *testing.T) {
	// Reorder level 20 on the batch; selling down to 15 puts it in the queue.

	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Receive(ctx, receiptFor("INV-1", paracetamol, 40))
	require.NoError(t, err)

	candidates, err := svc.ReorderCandidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates, "above reorder level, not a candidate")

	_, err = svc.Sell(ctx, saleFor("R-1", paracetamol, 25))
	require.NoError(t, err)

	candidates, err = svc.ReorderCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, paracetamol, candidates[0].Batch)
	assert.True(t, candidates[0].CurrentQuantity.Equal(decimal.NewFromInt(15)))
}

func TestExpiring(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	near := receiptFor("INV-1", paracetamol, 10)
	near.Lines[0].ExpiryDate = time.Now().UTC().AddDate(0, 0, 30)
	_, err := svc.Receive(ctx, near)
	require.NoError(t, err)

	far := receiptFor("INV-2", stock.Batch{MedicineName: "Cetirizine 10mg", BatchNumber: "CZ5"}, 10)
	far.Lines[0].ExpiryDate = time.Now().UTC().AddDate(2, 0, 0)
	_, err = svc.Receive(ctx, far)
	require.NoError(t, err)

	expiring, err := svc.Expiring(ctx, 90)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, paracetamol, expiring[0].Batch)
}
