package stock

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CHANGE - Tagged variant per movement kind
// =============================================================================

// Change describes what a movement does. Each kind carries only the price
// field that is meaningful for it, so a caller cannot attach a sale price
// to a stock entry or a unit cost to a sale.
type Change interface {
	Kind() Kind
	Direction() Direction
	prices() (unitCost, unitSalePrice decimal.NullDecimal)
}

// Entry adds stock (purchases, returns from suppliers).
type Entry struct {
	UnitCost decimal.NullDecimal
}

func (Entry) Kind() Kind { return KindEntry }
func (Entry) Direction() Direction { return Increase }
func (c Entry) prices() (decimal.NullDecimal, decimal.NullDecimal) {
	return c.UnitCost, decimal.NullDecimal{}
}

// Exit removes stock (sales).
type Exit struct {
	UnitSalePrice decimal.NullDecimal
}

func (Exit) Kind() Kind { return KindExit }
func (Exit) Direction() Direction { return Decrease }
func (c Exit) prices() (decimal.NullDecimal, decimal.NullDecimal) {
	return decimal.NullDecimal{}, c.UnitSalePrice
}

// Adjustment corrects the balance. Decreasing adjustments are only accepted
// when the engine's AdjustmentPolicy allows them.
type Adjustment struct {
	Decrease bool
}

func (Adjustment) Kind() Kind { return KindAdjustment }
func (c Adjustment) Direction() Direction {
	if c.Decrease {
		return Decrease
	}
	return Increase
}
func (Adjustment) prices() (decimal.NullDecimal, decimal.NullDecimal) {
	return decimal.NullDecimal{}, decimal.NullDecimal{}
}

// Initial is the opening stock recorded when a product is registered.
type Initial struct {
	UnitCost decimal.NullDecimal
}

func (Initial) Kind() Kind { return KindInitial }
func (Initial) Direction() Direction { return Increase }
func (c Initial) prices() (decimal.NullDecimal, decimal.NullDecimal) {
	return c.UnitCost, decimal.NullDecimal{}
}

// ChangeFor collapses the flat form used at the bridge boundary into a
// Change. Price fields the kind does not carry are dropped.
func ChangeFor(kind Kind, unitCost, unitSalePrice decimal.NullDecimal, decrease bool) (Change, error) {
	switch kind {
	case KindEntry:
		return Entry{UnitCost: unitCost}, nil
	case KindExit:
		return Exit{UnitSalePrice: unitSalePrice}, nil
	case KindAdjustment:
		return Adjustment{Decrease: decrease}, nil
	case KindInitial:
		return Initial{UnitCost: unitCost}, nil
	}
	return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown movement kind %q", kind)}
}

// =============================================================================
// MOVEMENT REQUEST
// =============================================================================

// MovementRequest is the input of Engine.Record.
type MovementRequest struct {
	ProductID ProductID
	Quantity  int64
	Change    Change
	Note      string
	Actor     string
}

// Validate checks everything that can be checked without reading the store.
func (r MovementRequest) Validate() error {
	if strings.TrimSpace(string(r.ProductID)) == "" {
		return &ValidationError{Field: "product_id", Reason: "is required"}
	}
	if r.Change == nil {
		return &ValidationError{Field: "kind", Reason: "is required"}
	}
	if !r.Change.Kind().Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown movement kind %q", r.Change.Kind())}
	}
	if r.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: fmt.Sprintf("must be a positive integer, got %d", r.Quantity)}
	}
	cost, sale := r.Change.prices()
	if cost.Valid && cost.Decimal.IsNegative() {
		return &ValidationError{Field: "unit_cost", Reason: "must not be negative"}
	}
	if sale.Valid && sale.Decimal.IsNegative() {
		return &ValidationError{Field: "unit_sale_price", Reason: "must not be negative"}
	}
	return nil
}
