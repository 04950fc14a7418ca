/*
store.go - Persistence interfaces for products and the movement ledger

PURPOSE:
  Defines the boundary between the engine and the database. The store owns
  the schema and enforces constraints (unique codes, non-negative balance,
  closed set of kinds, foreign keys); the engine owns the business rules.

KEY INTERFACES:
  Reader: Read-only access (products, movements, ledger sums)
  Tx:     Writes, only available inside a unit of work
  Store:  Reader + WithTx, the handle injected into Engine/Query/Catalog

UNIT OF WORK:
  Every write happens inside WithTx. If fn returns an error (or panics),
  nothing fn did is persisted. There is no way to write outside a unit of
  work, so the balance update and the ledger append always commit together.

APPEND-ONLY CONTRACT:
  Tx has AppendMovement and no way to update or delete a movement. The only
  way a movement disappears is the cascade from a product hard delete.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite single-file store
  - stock/store/memory.go: In-memory store for tests

SEE ALSO:
  - engine.go: Uses Tx for balance updates
  - query.go: Uses Reader
*/
package stock

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// StatusFilter selects products by lifecycle status. It is the single
// predicate every listing goes through.
type StatusFilter int

const (
	ActiveOnly StatusFilter = iota
	AllStatuses
	InactiveOnly
)

// Admits reports whether a product with status s passes the filter.
func (f StatusFilter) Admits(s Status) bool {
	switch f {
	case AllStatuses:
		return true
	case InactiveOnly:
		return s == StatusInactive
	default:
		return s == StatusActive
	}
}

// Statuses lists the statuses admitted by the filter.
func (f StatusFilter) Statuses() []Status {
	var out []Status
	for _, s := range []Status{StatusActive, StatusInactive} {
		if f.Admits(s) {
			out = append(out, s)
		}
	}
	return out
}

// ParseStatusFilter reads the bridge representation ("", "active", "inactive", "all").
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch s {
	case "", "active":
		return ActiveOnly, nil
	case "inactive":
		return InactiveOnly, nil
	case "all":
		return AllStatuses, nil
	}
	return ActiveOnly, &ValidationError{Field: "status", Reason: "must be one of active, inactive, all"}
}

// ProductFilter selects products. SearchKey must already be folded (see Fold).
type ProductFilter struct {
	SearchKey    string
	Status       StatusFilter
	LowStockOnly bool
}

// MovementFilter selects ledger rows of one product, newest first.
type MovementFilter struct {
	ProductID ProductID
	Kinds     []Kind // empty = all kinds
	Limit     int    // 0 = no limit
	Offset    int
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Reader is the read side of the store.
type Reader interface {
	// GetProduct returns ErrProductNotFound when id doesn't exist.
	GetProduct(ctx context.Context, id ProductID) (Product, error)

	// ListProducts returns matching products ordered by folded name (see SearchKey).
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)

	// ListMovements returns a product's movements, newest first.
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)

	// CountMovements returns how many ledger rows reference the product.
	CountMovements(ctx context.Context, id ProductID) (int, error)

	// LedgerSums returns Σ(direction × quantity) per product that has movements.
	LedgerSums(ctx context.Context) (map[ProductID]int64, error)
}

// Tx is the write side, bound to one unit of work.
type Tx interface {
	Reader

	// InsertProduct persists a new product. StockQuantity must be zero:
	// opening stock is recorded as an Inicial movement.
	InsertProduct(ctx context.Context, p Product) error

	// UpdateProductDetails rewrites the editable fields. It never touches the balance.
	UpdateProductDetails(ctx context.Context, id ProductID, d ProductDetails, at time.Time) error

	// SetProductStatus changes the status only.
	SetProductStatus(ctx context.Context, id ProductID, status Status, at time.Time) error

	// DeleteProduct hard-deletes a product; its movements cascade.
	DeleteProduct(ctx context.Context, id ProductID) error

	// ApplyDelta adds delta to the balance in a single statement and
	// refreshes updated_at. Returns ErrProductNotFound if no row matched.
	ApplyDelta(ctx context.Context, id ProductID, delta int64, at time.Time) error

	// AppendMovement adds one immutable ledger row.
	AppendMovement(ctx context.Context, m Movement) error
}

// Store is the process-wide handle.
type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
