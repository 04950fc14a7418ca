/*
handlers.go - HTTP API handlers for the stock engine

PURPOSE:
  Exposes the stock engine to the presentation layer over a loopback API.
  Handles HTTP request/response and JSON serialization, and delegates every
  decision to the stock package.

ENDPOINTS:
  Products:
    GET    /api/products                     List (search, status)
    POST   /api/products                     Register, with optional initial stock
    GET    /api/products/{id}                Product with current balance
    PUT    /api/products/{id}                Edit details (never stock)
    DELETE /api/products/{id}                Hard delete (no history only)
    POST   /api/products/{id}/deactivate     Hide from listings, block sales
    POST   /api/products/{id}/reactivate     Reverse deactivate

  Movements:
    GET    /api/products/{id}/movements      History, newest first (kind, limit, offset)
    POST   /api/products/{id}/movements      Record one movement

  Finalization:
    POST   /api/purchases                    Entrada lines in one unit of work
    POST   /api/sales                        Saida lines in one unit of work

  Stock:
    GET    /api/stock/low                    Active products at or below minimum
    GET    /api/stock/verify                 Balance vs ledger reconciliation

ACTOR:
  The authenticated user name arrives in the X-Actor header, set by the
  session provider. It is recorded on each movement.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Product not found
  - 409: Insufficient stock, inactive product, constraint violation
  - 503: Store closed
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/stock-engine/stock"
)

// ActorHeader carries the authenticated user name.
const ActorHeader = "X-Actor"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *stock.Engine
	Catalog    *stock.Catalog
	Query      *stock.Query
	Reconciler *stock.Reconciler

	log zerolog.Logger
}

// NewHandler wires the handler to one store handle's services.
func NewHandler(engine *stock.Engine, catalog *stock.Catalog, query *stock.Query, reconciler *stock.Reconciler, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:     engine,
		Catalog:    catalog,
		Query:      query,
		Reconciler: reconciler,
		log:        log,
	}
}

// =============================================================================
// PRODUCT ENDPOINTS
// =============================================================================

// ListProducts returns products matching search, active only by default.
// GET /api/products?search=&status=active|inactive|all
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	status, err := stock.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeDomainError(w, "Invalid status filter", err)
		return
	}

	products, err := h.Query.Products(r.Context(), stock.ProductQuery{
		Search: r.URL.Query().Get("search"),
		Status: status,
	})
	if err != nil {
		writeDomainError(w, "Failed to list products", err)
		return
	}

	writeJSON(w, http.StatusOK, toProductDTOs(products))
}

// GetProduct returns one product with its current balance.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Query.Product(r.Context(), productID(r))
	if err != nil {
		writeDomainError(w, "Failed to get product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// CreateProduct registers a product. A positive initial_quantity is
// recorded as an Inicial movement in the same unit of work.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id, err := h.Catalog.Create(r.Context(), stock.NewProduct{
		ProductDetails:  req.toDetails(),
		InitialQuantity: req.InitialQuantity,
		InitialUnitCost: req.InitialUnitCost,
		Actor:           actor(r),
	})
	if err != nil {
		writeDomainError(w, "Failed to create product", err)
		return
	}

	p, err := h.Query.Product(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to load created product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(p))
}

// UpdateProduct edits product details. Any stock field in the body is
// ignored; the balance only changes through movements.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req UpdateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := productID(r)
	if err := h.Catalog.Update(r.Context(), id, req.toDetails()); err != nil {
		writeDomainError(w, "Failed to update product", err)
		return
	}

	p, err := h.Query.Product(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to load updated product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// DeleteProduct hard-deletes a product without movements.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.Catalog.Delete(r.Context(), productID(r)); err != nil {
		writeDomainError(w, "Failed to delete product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeactivateProduct(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.Catalog.Deactivate)
}

func (h *Handler) ReactivateProduct(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.Catalog.Reactivate)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, apply func(context.Context, stock.ProductID) error) {
	id := productID(r)
	if err := apply(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to change product status", err)
		return
	}

	p, err := h.Query.Product(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to load product", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// =============================================================================
// MOVEMENT ENDPOINTS
// =============================================================================

// GetMovements returns the product's movement history, newest first.
// GET /api/products/{id}/movements?kind=Entrada&kind=Saida&limit=50&offset=0
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var kinds []stock.Kind
	for _, raw := range q["kind"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			k, err := stock.ParseKind(part)
			if err != nil {
				writeDomainError(w, "Invalid kind filter", err)
				return
			}
			kinds = append(kinds, k)
		}
	}

	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeDomainError(w, "Invalid limit", err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		writeDomainError(w, "Invalid offset", err)
		return
	}

	entries, err := h.Query.History(r.Context(), stock.HistoryQuery{
		ProductID: productID(r),
		Kinds:     kinds,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeDomainError(w, "Failed to get movements", err)
		return
	}

	dtos := make([]MovementDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toMovementDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordMovement applies one movement to the product.
func (h *Handler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	var req RecordMovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	kind, err := stock.ParseKind(req.Kind)
	if err != nil {
		writeDomainError(w, "Invalid movement", err)
		return
	}
	decrease, err := parseDirection(req.Direction)
	if err != nil {
		writeDomainError(w, "Invalid movement", err)
		return
	}
	change, err := stock.ChangeFor(kind, req.UnitCost, req.UnitSalePrice, decrease)
	if err != nil {
		writeDomainError(w, "Invalid movement", err)
		return
	}

	receipt, err := h.Engine.Record(r.Context(), stock.MovementRequest{
		ProductID: productID(r),
		Quantity:  req.Quantity,
		Change:    change,
		Note:      req.Note,
		Actor:     actor(r),
	})
	if err != nil {
		writeDomainError(w, "Failed to record movement", err)
		return
	}

	writeJSON(w, http.StatusCreated, toReceiptDTO(receipt))
}

// =============================================================================
// FINALIZATION ENDPOINTS
// =============================================================================

// FinalizePurchase records one Entrada per line, all or nothing.
func (h *Handler) FinalizePurchase(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, func(l BatchLineRequest) stock.Change {
		return stock.Entry{UnitCost: l.UnitCost}
	})
}

// FinalizeSale records one Saida per line, all or nothing.
func (h *Handler) FinalizeSale(w http.ResponseWriter, r *http.Request) {
	h.finalize(w, r, func(l BatchLineRequest) stock.Change {
		return stock.Exit{UnitSalePrice: l.UnitSalePrice}
	})
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request, change func(BatchLineRequest) stock.Change) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	who := actor(r)
	reqs := make([]stock.MovementRequest, len(req.Lines))
	for i, l := range req.Lines {
		reqs[i] = stock.MovementRequest{
			ProductID: stock.ProductID(l.ProductID),
			Quantity:  l.Quantity,
			Change:    change(l),
			Note:      req.Note,
			Actor:     who,
		}
	}

	receipts, err := h.Engine.RecordBatch(r.Context(), reqs)
	if err != nil {
		writeDomainError(w, "Failed to finalize", err)
		return
	}

	resp := BatchResponse{Receipts: make([]ReceiptDTO, len(receipts))}
	for i, rc := range receipts {
		resp.Receipts[i] = toReceiptDTO(rc)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// STOCK ENDPOINTS
// =============================================================================

// ListLowStock returns active products at or below their minimum stock.
func (h *Handler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.Query.LowStock(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list low stock", err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTOs(products))
}

// VerifyLedger compares every balance with the sum of its movements.
func (h *Handler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.Reconciler.Verify(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to verify ledger", err)
		return
	}

	resp := VerifyResponse{Consistent: len(drifts) == 0, Drifts: make([]DriftDTO, len(drifts))}
	for i, d := range drifts {
		resp.Drifts[i] = DriftDTO{
			ProductID:   string(d.ProductID),
			Code:        d.Code,
			Balance:     d.Balance,
			LedgerTotal: d.LedgerTotal,
		}
		h.log.Warn().
			Str("product_id", string(d.ProductID)).
			Int64("balance", d.Balance).
			Int64("ledger_total", d.LedgerTotal).
			Msg("ledger drift")
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func productID(r *http.Request) stock.ProductID {
	return stock.ProductID(chi.URLParam(r, "id"))
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

func intParam(s, field string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &stock.ValidationError{Field: field, Reason: "must be an integer"}
	}
	return n, nil
}

func parseDirection(s string) (decrease bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "increase":
		return false, nil
	case "decrease":
		return true, nil
	}
	return false, &stock.ValidationError{Field: "direction", Reason: `must be "increase" or "decrease"`}
}

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

// writeDomainError picks the status from the error's category.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, stock.ErrValidation):
		return http.StatusBadRequest
	case stock.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, stock.ErrInsufficientStock),
		errors.Is(err, stock.ErrProductInactive),
		errors.Is(err, stock.ErrConstraint):
		return http.StatusConflict
	case errors.Is(err, stock.ErrStoreClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
