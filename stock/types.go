/*
Package stock provides the stock-movement ledger and balance engine.

PURPOSE:
  Every inventory change (initial stock, entries, exits, adjustments) is
  recorded as an immutable movement, while each product row carries a
  denormalized running balance. The two are kept in lockstep: a balance
  never changes without a movement, and a movement is never written without
  the matching balance change.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: Catalog entry with its running StockQuantity
  - Movement: Immutable ledger row (kind + unsigned quantity)
  - Kind: Closed set of movement kinds (Entrada, Saida, Ajuste, Inicial)
  - Direction: Sign of a movement, derived from its kind

CENTRAL INVARIANT:
  product.StockQuantity == Σ movement.Delta() over the product's movements

  The initial quantity is itself an Inicial movement; product rows start
  at zero.

SEE ALSO:
  - movement.go: Tagged movement variants used by callers
  - engine.go: The single writer of stock changes
  - store.go: Persistence interfaces
*/
package stock

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type MovementID string

// =============================================================================
// PRODUCT
// =============================================================================

// Status is the lifecycle state of a product. Inactive products are hidden
// from default listings and cannot be sold, but keep their history and can
// still receive stock.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// ProductDetails are the caller-editable fields of a product.
// The balance is not among them; only the Engine writes it.
type ProductDetails struct {
	Name         string
	Description  string
	Code         string // manufacturer code, unique
	Barcode      string // optional, unique when set
	Brand        string
	Application  string
	CostPrice    decimal.Decimal
	SalePrice    decimal.Decimal
	MinimumStock int64
	PhotoPath    string
}

// Product is a catalog entry with its current balance.
type Product struct {
	ID ProductID
	ProductDetails

	StockQuantity int64
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsLowStock reports whether the balance is at or below the minimum threshold.
func (p Product) IsLowStock() bool {
	return p.StockQuantity <= p.MinimumStock
}

// =============================================================================
// MOVEMENT KINDS
// =============================================================================

type Kind string

const (
	KindEntry      Kind = "Entrada" // stock in (purchases)
	KindExit       Kind = "Saida"   // stock out (sales)
	KindAdjustment Kind = "Ajuste"  // manual correction
	KindInitial    Kind = "Inicial" // initial stocking on registration
)

// Kinds lists every recognized kind, in display order.
var Kinds = []Kind{KindInitial, KindEntry, KindExit, KindAdjustment}

func (k Kind) Valid() bool {
	switch k {
	case KindEntry, KindExit, KindAdjustment, KindInitial:
		return true
	}
	return false
}

// ParseKind converts a raw string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown movement kind %q", s)}
	}
	return k, nil
}

// Direction is the sign applied to a movement's quantity.
type Direction int

const (
	Increase Direction = 1
	Decrease Direction = -1
)

func (d Direction) String() string {
	if d == Decrease {
		return "decrease"
	}
	return "increase"
}

// =============================================================================
// MOVEMENT - Immutable ledger row
// =============================================================================

// Movement is one row of the append-only ledger. Quantity is always
// positive; the sign lives in Direction.
type Movement struct {
	ID            MovementID
	ProductID     ProductID
	Kind          Kind
	Direction     Direction
	Quantity      int64
	UnitCost      decimal.NullDecimal // Entrada / Inicial only
	UnitSalePrice decimal.NullDecimal // Saida only
	Note          string
	Actor         string
	CreatedAt     time.Time
}

// Delta is the signed change this movement applied to the balance.
func (m Movement) Delta() int64 {
	return int64(m.Direction) * m.Quantity
}

// Receipt is returned for each committed movement.
type Receipt struct {
	MovementID MovementID
	ProductID  ProductID
	Balance    int64 // balance right after the movement
}
