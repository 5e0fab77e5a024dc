/*
handlers.go - HTTP API handlers for the reconciliation engine

PURPOSE:
  Exposes the stock and cash reconciliation services via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Stock:
    POST   /api/stock/receipts       Apply a supplier invoice (IN movements)
    POST   /api/stock/sales          Apply a POS sale (OUT movements)
    POST   /api/stock/adjustments    Physical-count correction (ADJUST)
    GET    /api/stock/positions      All positions with projected quantities
    GET    /api/stock/quantity       One batch's projected quantity
    GET    /api/stock/movements      One batch's ledger entries
    GET    /api/stock/reorder        Batches below their reorder level
    GET    /api/stock/expiring       Batches expiring within N days

  Cash:
    POST   /api/cash/accounts/{accountID}/statements  Import a full statement
    POST   /api/cash/accounts/{accountID}/entries     Import a single line
    GET    /api/cash/accounts/{accountID}/balance     Projected balance
    GET    /api/cash/accounts/{accountID}/entries     Ledger rows for audit
    GET    /api/cash/unreconciled                     Review queue
    POST   /api/cash/entries/{id}/approve             One-shot approval

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (services, ledger, projector)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate reference / tran_id, double approval)
  - 422: Domain rejection (insufficient stock, balance mismatch)
  - 503: Lock wait exceeded; safe to retry
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pharmacore/ledger-engine/cash"
	"github.com/pharmacore/ledger-engine/ledger"
	"github.com/pharmacore/ledger-engine/stock"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Stock *stock.Service
	Cash  *cash.Service
}

// NewHandler creates a new handler over the two domain services.
func NewHandler(stockSvc *stock.Service, cashSvc *cash.Service) *Handler {
	return &Handler{Stock: stockSvc, Cash: cashSvc}
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// Receive applies a supplier invoice.
// POST /api/stock/receipts
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.InvoiceNumber == "" {
		writeError(w, http.StatusBadRequest, "invoice_number is required", nil)
		return
	}

	in := stock.ReceiptInput{
		InvoiceNumber: req.InvoiceNumber,
		SupplierName:  req.SupplierName,
		SupplierGSTIN: req.SupplierGSTIN,
		POReference:   req.POReference,
		VehicleNumber: req.VehicleNumber,
		CGST:          req.CGST,
		SGST:          req.SGST,
		Reference:     ledger.Reference{Type: ledger.RefSupplierInvoice, ID: req.InvoiceNumber},
	}
	var err error
	if in.InvoiceDate, err = parseDate(req.InvoiceDate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid invoice_date", err)
		return
	}
	if in.DeliveryDate, err = parseDate(req.DeliveryDate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid delivery_date", err)
		return
	}

	for _, line := range req.Lines {
		expiry, err := parseDate(line.ExpiryDate)
		if err != nil {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid expiry_date for %s", line.MedicineName), err)
			return
		}
		in.Lines = append(in.Lines, stock.InvoiceLine{
			Batch:        stock.Batch{MedicineName: line.MedicineName, BatchNumber: line.BatchNumber},
			Quantity:     line.Quantity,
			UnitCost:     line.UnitCost,
			LineTotal:    line.LineTotal,
			GenericName:  line.GenericName,
			Manufacturer: line.Manufacturer,
			Category:     line.Category,
			ExpiryDate:   expiry,
			ReorderLevel: line.ReorderLevel,
			SellingPrice: line.SellingPrice,
		})
	}

	result, err := h.Stock.Receive(r.Context(), in)
	if err != nil {
		writeDomainError(w, "Failed to apply receipt", err)
		return
	}

	resp := ReceiveResponse{AlreadyApplied: result.AlreadyApplied}
	if result.Invoice != nil {
		resp.InvoiceID = result.Invoice.ID
	}
	for _, id := range result.EntryIDs {
		resp.EntryIDs = append(resp.EntryIDs, string(id))
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Sell applies a POS sale.
// POST /api/stock/sales
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ReceiptNumber == "" {
		writeError(w, http.StatusBadRequest, "receipt_number is required", nil)
		return
	}

	in := stock.SaleInput{
		ReceiptNumber:  req.ReceiptNumber,
		PharmacistName: req.PharmacistName,
		PaymentMode:    stock.PaymentMode(req.PaymentMode),
		CGST:           req.CGST,
		SGST:           req.SGST,
		Reference:      ledger.Reference{Type: ledger.RefPOS, ID: req.ReceiptNumber},
	}
	var err error
	if in.SaleDate, err = parseDate(req.SaleDate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid sale_date", err)
		return
	}

	for _, line := range req.Lines {
		in.Lines = append(in.Lines, stock.SaleLine{
			Batch:     stock.Batch{MedicineName: line.MedicineName, BatchNumber: line.BatchNumber},
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}

	result, err := h.Stock.Sell(r.Context(), in)
	if err != nil {
		writeDomainError(w, "Failed to apply sale", err)
		return
	}

	resp := SellResponse{AlreadyApplied: result.AlreadyApplied}
	if result.Sale != nil {
		resp.SaleID = result.Sale.ID
	}
	for _, id := range result.EntryIDs {
		resp.EntryIDs = append(resp.EntryIDs, string(id))
	}
	for _, warn := range result.Warnings {
		resp.Warnings = append(resp.Warnings, warn.Warning())
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Adjust applies a physical-count correction.
// POST /api/stock/adjustments
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.MedicineName == "" || req.BatchNumber == "" {
		writeError(w, http.StatusBadRequest, "medicine_name and batch_number are required", nil)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required for adjustments", nil)
		return
	}

	batch := stock.Batch{MedicineName: req.MedicineName, BatchNumber: req.BatchNumber}
	var ref *ledger.Reference
	if req.ReferenceID != "" {
		ref = &ledger.Reference{Type: ledger.RefManual, ID: req.ReferenceID}
	}

	result, err := h.Stock.Adjust(r.Context(), batch, req.Delta, req.Reason, ref)
	if err != nil {
		writeDomainError(w, "Failed to apply adjustment", err)
		return
	}

	writeJSON(w, http.StatusCreated, AdjustResponse{
		AlreadyApplied: result.AlreadyApplied,
		EntryID:        string(result.EntryID),
	})
}

// ListPositions returns all batch positions with projected quantities.
// GET /api/stock/positions
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.Stock.Positions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionDTOs(positions))
}

// GetQuantity returns one batch's projected quantity, optionally as of a
// point in time.
// GET /api/stock/quantity?medicine=...&batch=...&as_of=...
func (h *Handler) GetQuantity(w http.ResponseWriter, r *http.Request) {
	batch, ok := batchFromQuery(w, r)
	if !ok {
		return
	}

	asOf, err := parseDate(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}

	var quantity decimal.Decimal
	if asOf.IsZero() {
		quantity, err = h.Stock.Quantity(r.Context(), batch)
	} else {
		quantity, err = h.Stock.QuantityAsOf(r.Context(), batch, asOf)
	}
	if err != nil {
		writeDomainError(w, "Failed to compute quantity", err)
		return
	}

	dto := QuantityDTO{
		MedicineName: batch.MedicineName,
		BatchNumber:  batch.BatchNumber,
		Quantity:     quantity,
	}
	if !asOf.IsZero() {
		dto.AsOf = asOf.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetMovements returns one batch's ledger entries in replay order.
// GET /api/stock/movements?medicine=...&batch=...&as_of=...
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	batch, ok := batchFromQuery(w, r)
	if !ok {
		return
	}

	var asOfPtr *time.Time
	asOf, err := parseDate(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}
	if !asOf.IsZero() {
		asOfPtr = &asOf
	}

	entries, err := h.Stock.Entries(r.Context(), batch, asOfPtr)
	if err != nil {
		writeDomainError(w, "Failed to load movements", err)
		return
	}

	dtos := make([]MovementDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toMovementDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListReorderCandidates returns batches below their reorder level.
// GET /api/stock/reorder
func (h *Handler) ListReorderCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.Stock.ReorderCandidates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute reorder candidates", err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionDTOs(candidates))
}

// ListExpiring returns batches expiring within N days (default 90).
// GET /api/stock/expiring?days=90
func (h *Handler) ListExpiring(w http.ResponseWriter, r *http.Request) {
	days := 90
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "Invalid days", err)
			return
		}
		days = parsed
	}

	expiring, err := h.Stock.Expiring(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute expiring batches", err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionDTOs(expiring))
}

// =============================================================================
// CASH HANDLERS
// =============================================================================

// ImportStatement applies a full parsed statement line by line.
// POST /api/cash/accounts/{accountID}/statements
func (h *Handler) ImportStatement(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req ImportStatementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "statement has no lines", nil)
		return
	}

	lines := make([]cash.StatementLine, 0, len(req.Lines))
	for _, dto := range req.Lines {
		line, err := toStatementLine(dto)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid line %s", dto.TranID), err)
			return
		}
		lines = append(lines, line)
	}

	result, err := h.Cash.ImportStatement(r.Context(), accountID, lines)
	if err != nil {
		writeDomainError(w, "Failed to import statement", err)
		return
	}

	resp := ImportStatementResponse{
		Imported: result.Imported,
		Skipped:  result.Skipped,
		Failed:   result.Failed,
	}
	for _, lr := range result.Lines {
		dto := ImportLineResultDTO{TranID: lr.TranID}
		switch {
		case lr.Skipped:
			dto.Status = "skipped"
			dto.Error = lr.Err.Error()
		case lr.Err != nil:
			dto.Status = "failed"
			dto.Error = lr.Err.Error()
		default:
			dto.Status = "imported"
			dto.EntryID = string(lr.Entry.ID)
		}
		resp.Lines = append(resp.Lines, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ImportEntry applies a single statement line.
// POST /api/cash/accounts/{accountID}/entries
func (h *Handler) ImportEntry(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var dto StatementLineDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	line, err := toStatementLine(dto)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid statement line", err)
		return
	}

	result, err := h.Cash.ImportStatementEntry(r.Context(), accountID, line)
	if err != nil {
		writeDomainError(w, "Failed to import entry", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCashEntryDTO(*result.Entry))
}

// GetAccountBalance returns an account's projected balance.
// GET /api/cash/accounts/{accountID}/balance?as_of=...
func (h *Handler) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	asOf, err := parseDate(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}

	var balance decimal.Decimal
	if asOf.IsZero() {
		balance, err = h.Cash.Balance(r.Context(), accountID)
	} else {
		balance, err = h.Cash.BalanceAsOf(r.Context(), accountID, asOf)
	}
	if err != nil {
		writeDomainError(w, "Failed to compute balance", err)
		return
	}

	dto := AccountBalanceDTO{AccountID: accountID, Balance: balance}
	if !asOf.IsZero() {
		dto.AsOf = asOf.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetAccountEntries returns an account's ledger rows for audit.
// GET /api/cash/accounts/{accountID}/entries?as_of=...
func (h *Handler) GetAccountEntries(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var asOfPtr *time.Time
	asOf, err := parseDate(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}
	if !asOf.IsZero() {
		asOfPtr = &asOf
	}

	entries, err := h.Cash.Entries(r.Context(), accountID, asOfPtr)
	if err != nil {
		writeDomainError(w, "Failed to load entries", err)
		return
	}

	dtos := make([]CashEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toCashEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListUnreconciled returns the review queue.
// GET /api/cash/unreconciled?account=...
func (h *Handler) ListUnreconciled(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account")

	entries, err := h.Cash.Unreconciled(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load unreconciled entries", err)
		return
	}

	dtos := make([]CashEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toCashEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveEntry marks a bank entry as reviewed, exactly once.
// POST /api/cash/entries/{id}/approve
func (h *Handler) ApproveEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ApprovedBy == "" {
		writeError(w, http.StatusBadRequest, "approved_by is required", nil)
		return
	}

	entry, err := h.Cash.Approve(r.Context(), ledger.EntryID(id), req.ApprovedBy)
	if err != nil {
		writeDomainError(w, "Failed to approve entry", err)
		return
	}

	writeJSON(w, http.StatusOK, toCashEntryDTO(*entry))
}

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// MAPPING HELPERS
// =============================================================================

func toPositionDTOs(positions []stock.PositionQuantity) []PositionDTO {
	dtos := make([]PositionDTO, len(positions))
	for i, pq := range positions {
		dto := PositionDTO{
			MedicineName:    pq.MedicineName,
			BatchNumber:     pq.BatchNumber,
			GenericName:     pq.GenericName,
			Manufacturer:    pq.Manufacturer,
			Category:        pq.Category,
			ReorderLevel:    pq.ReorderLevel,
			CostPrice:       pq.CostPrice,
			SellingPrice:    pq.SellingPrice,
			CurrentQuantity: pq.CurrentQuantity,
		}
		if !pq.ExpiryDate.IsZero() {
			dto.ExpiryDate = pq.ExpiryDate.Format("2006-01-02")
		}
		dtos[i] = dto
	}
	return dtos
}

func toMovementDTO(e ledger.Entry) MovementDTO {
	dto := MovementDTO{
		ID:         string(e.ID),
		EntityKey:  string(e.EntityKey),
		Kind:       string(e.Kind),
		Delta:      e.Delta,
		OccurredAt: e.OccurredAt.Format(time.RFC3339),
		RecordedAt: e.RecordedAt.Format(time.RFC3339),
		Remarks:    e.Remarks,
		Seq:        e.Seq,
	}
	if e.Reference != nil {
		dto.Reference = e.Reference.Key()
	}
	return dto
}

func toCashEntryDTO(e cash.Entry) CashEntryDTO {
	dto := CashEntryDTO{
		ID:             string(e.ID),
		AccountID:      e.AccountID,
		TranID:         e.TranID,
		OccurredAt:     e.OccurredAt.Format(time.RFC3339),
		Direction:      string(e.Direction),
		Amount:         e.Amount,
		Description:    e.Description,
		RunningBalance: e.RunningBalance,
		Status:         string(e.Status),
		ApprovedBy:     e.ApprovedBy,
	}
	if e.ApprovedAt != nil {
		dto.ApprovedAt = e.ApprovedAt.Format(time.RFC3339)
	}
	return dto
}

func toStatementLine(dto StatementLineDTO) (cash.StatementLine, error) {
	occurredAt, err := parseDate(dto.OccurredAt)
	if err != nil {
		return cash.StatementLine{}, err
	}
	return cash.StatementLine{
		TranID:          dto.TranID,
		OccurredAt:      occurredAt,
		Direction:       cash.Direction(dto.Direction),
		Amount:          dto.Amount,
		Description:     dto.Description,
		DeclaredBalance: dto.DeclaredBalance,
	}, nil
}

func batchFromQuery(w http.ResponseWriter, r *http.Request) (stock.Batch, bool) {
	medicine := r.URL.Query().Get("medicine")
	batchNumber := r.URL.Query().Get("batch")
	if medicine == "" || batchNumber == "" {
		writeError(w, http.StatusBadRequest, "medicine and batch query parameters are required", nil)
		return stock.Batch{}, false
	}
	return stock.Batch{MedicineName: medicine, BatchNumber: batchNumber}, true
}

// parseDate accepts RFC3339 or plain YYYY-MM-DD. Empty input yields the
// zero time, which callers treat as "not provided".
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsDuplicate(err) || errors.Is(err, ledger.ErrAlreadyApproved):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, ledger.ErrEntryNotFound) || errors.Is(err, ledger.ErrPositionNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrInsufficientStock) || errors.Is(err, ledger.ErrBalanceMismatch) ||
		errors.Is(err, cash.ErrEntryFlagged):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
