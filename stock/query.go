package stock

import (
	"context"
	"time"
)

// =============================================================================
// QUERY SURFACE - Read-only projections
// =============================================================================

// DefaultDisplayLayout is the timestamp layout used in movement history.
const DefaultDisplayLayout = "02/01/2006 15:04"

// Query serves read-only projections for reporting screens.
// It has no write access; balances change only through Engine.
type Query struct {
	store  Reader
	layout string
	loc    *time.Location
}

// QueryOption configures a Query.
type QueryOption func(*Query)

// WithDisplayFormat sets the layout and zone of HistoryEntry.DisplayTime.
func WithDisplayFormat(layout string, loc *time.Location) QueryOption {
	return func(q *Query) {
		if layout != "" {
			q.layout = layout
		}
		if loc != nil {
			q.loc = loc
		}
	}
}

func NewQuery(store Reader, opts ...QueryOption) *Query {
	q := &Query{store: store, layout: DefaultDisplayLayout, loc: time.Local}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ProductQuery selects products for listing.
type ProductQuery struct {
	Search string
	Status StatusFilter
}

// HistoryQuery selects one product's movements.
type HistoryQuery struct {
	ProductID ProductID
	Kinds     []Kind
	Limit     int
	Offset    int
}

// HistoryEntry is a movement with its display timestamp.
type HistoryEntry struct {
	Movement
	DisplayTime string
}

// Product returns the current balance and metadata of one product.
func (q *Query) Product(ctx context.Context, id ProductID) (Product, error) {
	return q.store.GetProduct(ctx, id)
}

// Products lists products, active only unless the query says otherwise.
func (q *Query) Products(ctx context.Context, pq ProductQuery) ([]Product, error) {
	return q.store.ListProducts(ctx, ProductFilter{
		SearchKey: Fold(pq.Search),
		Status:    pq.Status,
	})
}

// LowStock lists active products at or below their minimum stock.
func (q *Query) LowStock(ctx context.Context) ([]Product, error) {
	return q.store.ListProducts(ctx, ProductFilter{Status: ActiveOnly, LowStockOnly: true})
}

// History returns a product's movements, newest first.
func (q *Query) History(ctx context.Context, hq HistoryQuery) ([]HistoryEntry, error) {
	if hq.Limit < 0 || hq.Offset < 0 {
		return nil, &ValidationError{Field: "limit", Reason: "limit and offset must not be negative"}
	}
	for _, k := range hq.Kinds {
		if !k.Valid() {
			return nil, &ValidationError{Field: "kind", Reason: "unknown movement kind " + string(k)}
		}
	}
	if _, err := q.store.GetProduct(ctx, hq.ProductID); err != nil {
		return nil, err
	}

	movements, err := q.store.ListMovements(ctx, MovementFilter{
		ProductID: hq.ProductID,
		Kinds:     hq.Kinds,
		Limit:     hq.Limit,
		Offset:    hq.Offset,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, len(movements))
	for i, m := range movements {
		entries[i] = HistoryEntry{Movement: m, DisplayTime: q.FormatTime(m.CreatedAt)}
	}
	return entries, nil
}

// FormatTime renders a timestamp the way history entries show it.
func (q *Query) FormatTime(t time.Time) string {
	return t.In(q.loc).Format(q.layout)
}
