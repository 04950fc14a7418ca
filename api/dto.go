/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures exchanged with the presentation layer. These
  types decouple the stock domain model from the wire contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Product:
    ProductDTO, CreateProductRequest, UpdateProductRequest

  Movement:
    RecordMovementRequest, MovementDTO, ReceiptDTO

  Finalization:
    BatchRequest, BatchLineRequest

  Reconciliation:
    DriftDTO, VerifyResponse

PRICES:
  Prices travel as decimal strings ("12.50"). Optional prices are null.

VALIDATION:
  Validation is done by the stock package, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - stock/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// PRODUCTS
// =============================================================================

// ProductDTO represents a product in API responses.
type ProductDTO struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Code          string          `json:"code"`
	Barcode       string          `json:"barcode,omitempty"`
	Brand         string          `json:"brand"`
	Application   string          `json:"application"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	StockQuantity int64           `json:"stock_quantity"`
	MinimumStock  int64           `json:"minimum_stock"`
	LowStock      bool            `json:"low_stock"`
	PhotoPath     string          `json:"photo_path,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

// ProductFields are the editable product fields shared by create and update.
// There is no stock_quantity: the balance only moves through movements.
type ProductFields struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Code         string          `json:"code"`
	Barcode      string          `json:"barcode"`
	Brand        string          `json:"brand"`
	Application  string          `json:"application"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SalePrice    decimal.Decimal `json:"sale_price"`
	MinimumStock int64           `json:"minimum_stock"`
	PhotoPath    string          `json:"photo_path"`
}

// CreateProductRequest is the body of POST /api/products.
type CreateProductRequest struct {
	ProductFields
	InitialQuantity int64               `json:"initial_quantity"`
	InitialUnitCost decimal.NullDecimal `json:"initial_unit_cost"`
}

// UpdateProductRequest is the body of PUT /api/products/{id}.
type UpdateProductRequest struct {
	ProductFields
}

func (f ProductFields) toDetails() stock.ProductDetails {
	return stock.ProductDetails{
		Name:         f.Name,
		Description:  f.Description,
		Code:         f.Code,
		Barcode:      f.Barcode,
		Brand:        f.Brand,
		Application:  f.Application,
		CostPrice:    f.CostPrice,
		SalePrice:    f.SalePrice,
		MinimumStock: f.MinimumStock,
		PhotoPath:    f.PhotoPath,
	}
}

func toProductDTO(p stock.Product) ProductDTO {
	return ProductDTO{
		ID:            string(p.ID),
		Name:          p.Name,
		Description:   p.Description,
		Code:          p.Code,
		Barcode:       p.Barcode,
		Brand:         p.Brand,
		Application:   p.Application,
		CostPrice:     p.CostPrice,
		SalePrice:     p.SalePrice,
		StockQuantity: p.StockQuantity,
		MinimumStock:  p.MinimumStock,
		LowStock:      p.IsLowStock(),
		PhotoPath:     p.PhotoPath,
		Status:        string(p.Status),
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     p.UpdatedAt.Format(time.RFC3339),
	}
}

func toProductDTOs(products []stock.Product) []ProductDTO {
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	return dtos
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// RecordMovementRequest is the body of POST /api/products/{id}/movements.
// Direction is only read for Ajuste ("increase" or "decrease").
type RecordMovementRequest struct {
	Kind          string              `json:"kind"`
	Quantity      int64               `json:"quantity"`
	Direction     string              `json:"direction,omitempty"`
	UnitCost      decimal.NullDecimal `json:"unit_cost"`
	UnitSalePrice decimal.NullDecimal `json:"unit_sale_price"`
	Note          string              `json:"note"`
}

// MovementDTO represents a ledger row in history responses.
type MovementDTO struct {
	ID            string              `json:"id"`
	ProductID     string              `json:"product_id"`
	Kind          string              `json:"kind"`
	Direction     string              `json:"direction"`
	Quantity      int64               `json:"quantity"`
	Delta         int64               `json:"delta"`
	UnitCost      decimal.NullDecimal `json:"unit_cost"`
	UnitSalePrice decimal.NullDecimal `json:"unit_sale_price"`
	Note          string              `json:"note,omitempty"`
	Actor         string              `json:"actor,omitempty"`
	CreatedAt     string              `json:"created_at"`
	DisplayTime   string              `json:"display_time"`
}

func toMovementDTO(e stock.HistoryEntry) MovementDTO {
	return MovementDTO{
		ID:            string(e.ID),
		ProductID:     string(e.ProductID),
		Kind:          string(e.Kind),
		Direction:     e.Direction.String(),
		Quantity:      e.Quantity,
		Delta:         e.Delta(),
		UnitCost:      e.UnitCost,
		UnitSalePrice: e.UnitSalePrice,
		Note:          e.Note,
		Actor:         e.Actor,
		CreatedAt:     e.CreatedAt.Format(time.RFC3339Nano),
		DisplayTime:   e.DisplayTime,
	}
}

// ReceiptDTO confirms a committed movement.
type ReceiptDTO struct {
	MovementID string `json:"movement_id"`
	ProductID  string `json:"product_id"`
	Balance    int64  `json:"balance"`
}

func toReceiptDTO(r stock.Receipt) ReceiptDTO {
	return ReceiptDTO{
		MovementID: string(r.MovementID),
		ProductID:  string(r.ProductID),
		Balance:    r.Balance,
	}
}

// =============================================================================
// FINALIZATION (purchases and sales)
// =============================================================================

// BatchLineRequest is one line of a purchase or sale.
// Purchases read UnitCost, sales read UnitSalePrice.
type BatchLineRequest struct {
	ProductID     string              `json:"product_id"`
	Quantity      int64               `json:"quantity"`
	UnitCost      decimal.NullDecimal `json:"unit_cost"`
	UnitSalePrice decimal.NullDecimal `json:"unit_sale_price"`
}

// BatchRequest is the body of POST /api/purchases and POST /api/sales.
type BatchRequest struct {
	Note  string             `json:"note"`
	Lines []BatchLineRequest `json:"lines"`
}

// BatchResponse lists the receipts of a committed batch, in line order.
type BatchResponse struct {
	Receipts []ReceiptDTO `json:"receipts"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// DriftDTO is a product whose balance disagrees with its ledger.
type DriftDTO struct {
	ProductID   string `json:"product_id"`
	Code        string `json:"code"`
	Balance     int64  `json:"balance"`
	LedgerTotal int64  `json:"ledger_total"`
}

// VerifyResponse is returned by GET /api/stock/verify.
type VerifyResponse struct {
	Consistent bool       `json:"consistent"`
	Drifts     []DriftDTO `json:"drifts"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
