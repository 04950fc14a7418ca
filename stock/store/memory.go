// Package store provides an in-memory stock.Store for tests and demos.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory enforces the same constraints as the SQLite schema: unique code
// and barcode, non-negative balances, movements referencing a live product,
// cascade on delete.
type Memory struct {
	mu     sync.RWMutex
	state  *state
	closed bool
}

var _ stock.Store = (*Memory)(nil)

type state struct {
	products  map[stock.ProductID]stock.Product
	movements []stock.Movement // insertion order
}

func NewMemory() *Memory {
	return &Memory{state: &state{products: make(map[stock.ProductID]stock.Product)}}
}

// Close marks the store closed. Later calls fail with stock.ErrStoreClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// WithTx runs fn against a copy of the state and publishes the copy only
// if fn succeeds.
func (m *Memory) WithTx(ctx context.Context, fn func(tx stock.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return stock.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	draft := m.state.clone()
	if err := fn(&memTx{s: draft}); err != nil {
		return err
	}
	m.state = draft
	return nil
}

func (s *state) clone() *state {
	products := make(map[stock.ProductID]stock.Product, len(s.products))
	for id, p := range s.products {
		products[id] = p
	}
	movements := make([]stock.Movement, len(s.movements))
	copy(movements, s.movements)
	return &state{products: products, movements: movements}
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetProduct(_ context.Context, id stock.ProductID) (stock.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return stock.Product{}, stock.ErrStoreClosed
	}
	return m.state.getProduct(id)
}

func (m *Memory) ListProducts(_ context.Context, filter stock.ProductFilter) ([]stock.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, stock.ErrStoreClosed
	}
	return m.state.listProducts(filter), nil
}

func (m *Memory) ListMovements(_ context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, stock.ErrStoreClosed
	}
	return m.state.listMovements(filter), nil
}

func (m *Memory) CountMovements(_ context.Context, id stock.ProductID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, stock.ErrStoreClosed
	}
	return m.state.countMovements(id), nil
}

func (m *Memory) LedgerSums(_ context.Context) (map[stock.ProductID]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, stock.ErrStoreClosed
	}
	return m.state.ledgerSums(), nil
}

func (s *state) getProduct(id stock.ProductID) (stock.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return stock.Product{}, fmt.Errorf("%w: %s", stock.ErrProductNotFound, id)
	}
	return p, nil
}

func (s *state) listProducts(filter stock.ProductFilter) []stock.Product {
	products := make([]stock.Product, 0, len(s.products))
	for _, p := range s.products {
		if !filter.Status.Admits(p.Status) {
			continue
		}
		if filter.SearchKey != "" && !strings.Contains(stock.SearchKey(p.ProductDetails), filter.SearchKey) {
			continue
		}
		if filter.LowStockOnly && !p.IsLowStock() {
			continue
		}
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		a, b := stock.SearchKey(products[i].ProductDetails), stock.SearchKey(products[j].ProductDetails)
		if a != b {
			return a < b
		}
		return products[i].ID < products[j].ID
	})
	return products
}

func (s *state) listMovements(filter stock.MovementFilter) []stock.Movement {
	var out []stock.Movement
	// Walk backwards so equal timestamps keep newest-inserted first.
	for i := len(s.movements) - 1; i >= 0; i-- {
		mv := s.movements[i]
		if mv.ProductID != filter.ProductID {
			continue
		}
		if len(filter.Kinds) > 0 && !containsKind(filter.Kinds, mv.Kind) {
			continue
		}
		out = append(out, mv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset >= len(out) {
		return []stock.Movement{}
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out
}

func (s *state) countMovements(id stock.ProductID) int {
	n := 0
	for _, mv := range s.movements {
		if mv.ProductID == id {
			n++
		}
	}
	return n
}

func (s *state) ledgerSums() map[stock.ProductID]int64 {
	sums := make(map[stock.ProductID]int64)
	for _, mv := range s.movements {
		sums[mv.ProductID] += mv.Delta()
	}
	return sums
}

func containsKind(kinds []stock.Kind, k stock.Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

// =============================================================================
// TRANSACTION
// =============================================================================

type memTx struct {
	s *state
}

func (t *memTx) GetProduct(_ context.Context, id stock.ProductID) (stock.Product, error) {
	return t.s.getProduct(id)
}

func (t *memTx) ListProducts(_ context.Context, filter stock.ProductFilter) ([]stock.Product, error) {
	return t.s.listProducts(filter), nil
}

func (t *memTx) ListMovements(_ context.Context, filter stock.MovementFilter) ([]stock.Movement, error) {
	return t.s.listMovements(filter), nil
}

func (t *memTx) CountMovements(_ context.Context, id stock.ProductID) (int, error) {
	return t.s.countMovements(id), nil
}

func (t *memTx) LedgerSums(_ context.Context) (map[stock.ProductID]int64, error) {
	return t.s.ledgerSums(), nil
}

func (t *memTx) InsertProduct(_ context.Context, p stock.Product) error {
	if p.StockQuantity != 0 {
		return &stock.ValidationError{Field: "stock_quantity", Reason: "new products start at zero; record an Inicial movement"}
	}
	if _, exists := t.s.products[p.ID]; exists {
		return &stock.ConstraintError{Constraint: "products.id", Err: stock.ErrCheckFailed}
	}
	if err := t.checkUnique(p.ID, p.ProductDetails); err != nil {
		return err
	}
	t.s.products[p.ID] = p
	return nil
}

func (t *memTx) UpdateProductDetails(_ context.Context, id stock.ProductID, d stock.ProductDetails, at time.Time) error {
	p, ok := t.s.products[id]
	if !ok {
		return stock.ErrProductNotFound
	}
	if err := t.checkUnique(id, d); err != nil {
		return err
	}
	p.ProductDetails = d
	p.UpdatedAt = at
	t.s.products[id] = p
	return nil
}

func (t *memTx) SetProductStatus(_ context.Context, id stock.ProductID, status stock.Status, at time.Time) error {
	p, ok := t.s.products[id]
	if !ok {
		return stock.ErrProductNotFound
	}
	if !status.Valid() {
		return &stock.ConstraintError{Constraint: "product_status", Err: stock.ErrCheckFailed}
	}
	p.Status = status
	p.UpdatedAt = at
	t.s.products[id] = p
	return nil
}

// DeleteProduct removes the product and cascades to its movements.
func (t *memTx) DeleteProduct(_ context.Context, id stock.ProductID) error {
	if _, ok := t.s.products[id]; !ok {
		return stock.ErrProductNotFound
	}
	delete(t.s.products, id)

	kept := t.s.movements[:0]
	for _, mv := range t.s.movements {
		if mv.ProductID != id {
			kept = append(kept, mv)
		}
	}
	t.s.movements = kept
	return nil
}

func (t *memTx) ApplyDelta(_ context.Context, id stock.ProductID, delta int64, at time.Time) error {
	p, ok := t.s.products[id]
	if !ok {
		return stock.ErrProductNotFound
	}
	if p.StockQuantity+delta < 0 {
		return &stock.ConstraintError{Constraint: "stock_non_negative", Err: stock.ErrNegativeStock}
	}
	p.StockQuantity += delta
	p.UpdatedAt = at
	t.s.products[id] = p
	return nil
}

func (t *memTx) AppendMovement(_ context.Context, mv stock.Movement) error {
	if _, ok := t.s.products[mv.ProductID]; !ok {
		return &stock.ConstraintError{Constraint: "stock_movements.product_id", Err: stock.ErrDanglingReference}
	}
	if !mv.Kind.Valid() {
		return &stock.ConstraintError{Constraint: "movement_kind", Err: stock.ErrInvalidKind}
	}
	if mv.Quantity <= 0 {
		return &stock.ConstraintError{Constraint: "movement_quantity", Err: stock.ErrCheckFailed}
	}
	t.s.movements = append(t.s.movements, mv)
	return nil
}

func (t *memTx) checkUnique(id stock.ProductID, d stock.ProductDetails) error {
	for other, p := range t.s.products {
		if other == id {
			continue
		}
		if p.Code == d.Code {
			return &stock.ConstraintError{Constraint: "products.code", Err: stock.ErrDuplicateCode}
		}
		if d.Barcode != "" && p.Barcode == d.Barcode {
			return &stock.ConstraintError{Constraint: "products.barcode", Err: stock.ErrDuplicateBarcode}
		}
	}
	return nil
}
