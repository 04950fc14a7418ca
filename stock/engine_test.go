package stock_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/stock/store"
	"github.com/warp/stock-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type closableStore interface {
	stock.Store
	Close() error
}

// backends runs every engine test against both store implementations.
var backends = []struct {
	name string
	open func(t *testing.T) closableStore
}{
	{"sqlite", func(t *testing.T) closableStore {
		s, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}},
	{"memory", func(t *testing.T) closableStore {
		return store.NewMemory()
	}},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s closableStore)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

// steppingClock returns a clock that advances one second per call, so
// movements get distinct, ordered timestamps.
func steppingClock() func() time.Time {
	var n int64
	base := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Second)
	}
}

type fixture struct {
	store   closableStore
	engine  *stock.Engine
	catalog *stock.Catalog
	query   *stock.Query
}

func newFixture(t *testing.T, s closableStore, opts ...stock.Option) fixture {
	opts = append([]stock.Option{stock.WithClock(steppingClock())}, opts...)
	engine := stock.NewEngine(s, opts...)
	return fixture{
		store:   s,
		engine:  engine,
		catalog: stock.NewCatalog(engine),
		query:   stock.NewQuery(s, stock.WithDisplayFormat("", time.UTC)),
	}
}

func (f fixture) createProduct(t *testing.T, code string, initial int64) stock.ProductID {
	t.Helper()
	id, err := f.catalog.Create(context.Background(), stock.NewProduct{
		ProductDetails: stock.ProductDetails{
			Name:      "Filtro de óleo " + code,
			Code:      code,
			CostPrice: decimal.RequireFromString("8.40"),
			SalePrice: decimal.RequireFromString("14.90"),
		},
		InitialQuantity: initial,
		Actor:           "maria",
	})
	require.NoError(t, err)
	return id
}

func (f fixture) balance(t *testing.T, id stock.ProductID) int64 {
	t.Helper()
	p, err := f.query.Product(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

func (f fixture) history(t *testing.T, id stock.ProductID) []stock.HistoryEntry {
	t.Helper()
	entries, err := f.query.History(context.Background(), stock.HistoryQuery{ProductID: id})
	require.NoError(t, err)
	return entries
}

func (f fixture) assertConsistent(t *testing.T) {
	t.Helper()
	drifts, err := stock.NewReconciler(f.store).Verify(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drifts, "every balance should equal its ledger sum")
}

func sale(id stock.ProductID, qty int64) stock.MovementRequest {
	return stock.MovementRequest{ProductID: id, Quantity: qty, Change: stock.Exit{}, Actor: "caixa"}
}

func purchase(id stock.ProductID, qty int64, unitCost string) stock.MovementRequest {
	return stock.MovementRequest{
		ProductID: id,
		Quantity:  qty,
		Change:    stock.Entry{UnitCost: decimal.NewNullDecimal(decimal.RequireFromString(unitCost))},
		Actor:     "compras",
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestEngine_SaleAfterInitialStock(t *testing.T) {
	// GIVEN: A product created with initial quantity 10
	// WHEN: A Saida of 3 is recorded
	// THEN: Balance is 7 and one new Saida row with quantity 3 is in the ledger
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "FO-100", 10)

		receipt, err := f.engine.Record(ctx, sale(id, 3))
		require.NoError(t, err)
		assert.Equal(t, int64(7), receipt.Balance)
		assert.Equal(t, int64(7), f.balance(t, id))

		entries := f.history(t, id)
		require.Len(t, entries, 2)
		assert.Equal(t, stock.KindExit, entries[0].Kind)
		assert.Equal(t, int64(3), entries[0].Quantity)
		assert.Equal(t, stock.Decrease, entries[0].Direction)
		assert.Equal(t, receipt.MovementID, entries[0].ID)
		assert.Equal(t, stock.KindInitial, entries[1].Kind)
		assert.Equal(t, int64(10), entries[1].Quantity)
		f.assertConsistent(t)
	})
}

func TestEngine_InsufficientStock_Rejected(t *testing.T) {
	// GIVEN: A product with balance 2
	// WHEN: A Saida of 5 is recorded
	// THEN: InsufficientStockError; balance stays 2 and the ledger is unchanged
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "FO-200", 2)

		before := f.history(t, id)

		_, err := f.engine.Record(ctx, sale(id, 5))
		require.Error(t, err)
		assert.ErrorIs(t, err, stock.ErrInsufficientStock)

		var insufficient *stock.InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, int64(2), insufficient.Available)
		assert.Equal(t, int64(5), insufficient.Requested)

		assert.Equal(t, int64(2), f.balance(t, id))
		assert.Equal(t, before, f.history(t, id))
	})
}

func TestEngine_EntryRecordsUnitCost(t *testing.T) {
	// GIVEN: A product with balance 7
	// WHEN: An Entrada of 5 at unit cost 2.50 is recorded
	// THEN: Balance is 12; the row carries the cost and no sale price
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "FO-300", 7)

		receipt, err := f.engine.Record(ctx, purchase(id, 5, "2.50"))
		require.NoError(t, err)
		assert.Equal(t, int64(12), receipt.Balance)
		assert.Equal(t, int64(12), f.balance(t, id))

		latest := f.history(t, id)[0]
		assert.Equal(t, stock.KindEntry, latest.Kind)
		assert.Equal(t, int64(5), latest.Quantity)
		require.True(t, latest.UnitCost.Valid)
		assert.True(t, latest.UnitCost.Decimal.Equal(decimal.RequireFromString("2.50")))
		assert.False(t, latest.UnitSalePrice.Valid)
	})
}

func TestEngine_ZeroQuantity_RejectedBeforeMutation(t *testing.T) {
	// GIVEN: A product with balance 4
	// WHEN: An Ajuste (or any kind) of quantity 0 or less is recorded
	// THEN: ValidationError; nothing changes
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "FO-400", 4)

		for _, qty := range []int64{0, -3} {
			_, err := f.engine.Record(ctx, stock.MovementRequest{ProductID: id, Quantity: qty, Change: stock.Adjustment{}})
			require.Error(t, err)
			assert.ErrorIs(t, err, stock.ErrValidation)

			var ve *stock.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "quantity", ve.Field)
		}

		assert.Equal(t, int64(4), f.balance(t, id))
		assert.Len(t, f.history(t, id), 1)
	})
}

func TestEngine_IncreasePastMaxBalance_Rejected(t *testing.T) {
	// GIVEN: A product whose balance is the largest int64
	// WHEN: An Entrada or increasing Ajuste of 1 is recorded
	// THEN: ValidationError on quantity; the balance, the ledger and every
	//       read over the catalog stay intact
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "OV-1", math.MaxInt64)

		for _, req := range []stock.MovementRequest{
			purchase(id, 1, "1.00"),
			{ProductID: id, Quantity: 1, Change: stock.Adjustment{}},
		} {
			_, err := f.engine.Record(ctx, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, stock.ErrValidation)
			assert.NotErrorIs(t, err, stock.ErrNegativeStock)

			var ve *stock.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "quantity", ve.Field)
		}

		assert.Equal(t, int64(math.MaxInt64), f.balance(t, id))
		assert.Len(t, f.history(t, id), 1)

		products, err := f.query.Products(ctx, stock.ProductQuery{})
		require.NoError(t, err)
		assert.Len(t, products, 1)
		f.assertConsistent(t)

		// Selling brings room back.
		_, err = f.engine.Record(ctx, sale(id, 1))
		require.NoError(t, err)
		_, err = f.engine.Record(ctx, purchase(id, 1, "1.00"))
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), f.balance(t, id))
	})
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestEngine_KindGatedPrices(t *testing.T) {
	// GIVEN: A caller supplying both prices for every kind
	// WHEN: Movements are recorded through ChangeFor
	// THEN: Entrada never stores a sale price, Saida never stores a unit cost
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "FO-500", 10)

		cost := decimal.NewNullDecimal(decimal.RequireFromString("3.10"))
		price := decimal.NewNullDecimal(decimal.RequireFromString("5.99"))

		for _, kind := range []stock.Kind{stock.KindEntry, stock.KindExit, stock.KindAdjustment} {
			change, err := stock.ChangeFor(kind, cost, price, false)
			require.NoError(t, err)
			_, err = f.engine.Record(ctx, stock.MovementRequest{ProductID: id, Quantity: 1, Change: change})
			require.NoError(t, err)
		}

		for _, e := range f.history(t, id) {
			switch e.Kind {
			case stock.KindEntry, stock.KindInitial:
				assert.False(t, e.UnitSalePrice.Valid, "%s must not carry a sale price", e.Kind)
			case stock.KindExit:
				assert.False(t, e.UnitCost.Valid, "Saida must not carry a unit cost")
				require.True(t, e.UnitSalePrice.Valid)
				assert.True(t, e.UnitSalePrice.Decimal.Equal(price.Decimal))
			case stock.KindAdjustment:
				assert.False(t, e.UnitCost.Valid)
				assert.False(t, e.UnitSalePrice.Valid)
			}
		}
	})
}

func TestEngine_ReadAfterWrite(t *testing.T) {
	// GIVEN: A product
	// WHEN: Each movement commits
	// THEN: getProduct shows the new balance and the movement heads the history
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "FO-600", 0)

		reqs := []stock.MovementRequest{
			purchase(id, 12, "1.00"),
			sale(id, 5),
			{ProductID: id, Quantity: 2, Change: stock.Adjustment{}},
			sale(id, 9),
		}
		for _, req := range reqs {
			receipt, err := f.engine.Record(ctx, req)
			require.NoError(t, err)

			assert.Equal(t, receipt.Balance, f.balance(t, id))
			assert.Equal(t, receipt.MovementID, f.history(t, id)[0].ID)
		}
		assert.Equal(t, int64(0), f.balance(t, id))
		f.assertConsistent(t)
	})
}

func TestEngine_NeverNegative_UnderRandomSequence(t *testing.T) {
	// GIVEN: A deterministic pseudo-random mix of purchases and sales
	// WHEN: All are attempted
	// THEN: The balance never goes negative and always equals the ledger sum
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "FO-700", 3)

		seed := uint32(7)
		next := func(n uint32) int64 {
			seed = seed*1664525 + 1013904223
			return int64(seed>>16)%int64(n) + 1
		}

		expected := int64(3)
		for i := 0; i < 60; i++ {
			qty := next(6)
			if next(2) == 1 {
				_, err := f.engine.Record(ctx, purchase(id, qty, "1.00"))
				require.NoError(t, err)
				expected += qty
			} else {
				_, err := f.engine.Record(ctx, sale(id, qty))
				if qty > expected {
					assert.ErrorIs(t, err, stock.ErrInsufficientStock)
				} else {
					require.NoError(t, err)
					expected -= qty
				}
			}

			got := f.balance(t, id)
			assert.GreaterOrEqual(t, got, int64(0))
			assert.Equal(t, expected, got)
		}
		f.assertConsistent(t)
	})
}

func TestEngine_ConcurrentSales_NoOversell(t *testing.T) {
	// GIVEN: A product with balance 10
	// WHEN: 25 concurrent Saida of 1 are recorded
	// THEN: Exactly 10 succeed, the rest fail with insufficient stock
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "FO-800", 10)

		var (
			wg        sync.WaitGroup
			succeeded int64
			rejected  int64
		)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.engine.Record(ctx, sale(id, 1))
				switch {
				case err == nil:
					atomic.AddInt64(&succeeded, 1)
				case errors.Is(err, stock.ErrInsufficientStock):
					atomic.AddInt64(&rejected, 1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(10), succeeded)
		assert.Equal(t, int64(15), rejected)
		assert.Equal(t, int64(0), f.balance(t, id))
		f.assertConsistent(t)
	})
}

// =============================================================================
// BUSINESS RULES
// =============================================================================

func TestEngine_UnknownProduct(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)

		_, err := f.engine.Record(context.Background(), purchase("missing", 1, "1.00"))
		assert.ErrorIs(t, err, stock.ErrProductNotFound)
		assert.True(t, stock.IsNotFound(err))
	})
}

func TestEngine_InvalidRequests(t *testing.T) {
	tests := []struct {
		name  string
		req   stock.MovementRequest
		field string
	}{
		{"missing product", stock.MovementRequest{Quantity: 1, Change: stock.Exit{}}, "product_id"},
		{"missing change", stock.MovementRequest{ProductID: "p", Quantity: 1}, "kind"},
		{"negative cost", stock.MovementRequest{ProductID: "p", Quantity: 1,
			Change: stock.Entry{UnitCost: decimal.NewNullDecimal(decimal.NewFromInt(-1))}}, "unit_cost"},
		{"negative sale price", stock.MovementRequest{ProductID: "p", Quantity: 1,
			Change: stock.Exit{UnitSalePrice: decimal.NewNullDecimal(decimal.NewFromInt(-1))}}, "unit_sale_price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := stock.NewEngine(store.NewMemory())
			_, err := engine.Record(context.Background(), tt.req)

			var ve *stock.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.True(t, stock.IsClientError(err))
		})
	}
}

func TestEngine_DecreasingAdjustment_GatedByPolicy(t *testing.T) {
	// GIVEN: Default policy (increase-only adjustments)
	// WHEN: A decreasing Ajuste is recorded
	// THEN: Rejected; with AllowDecrease it lowers the balance
	forEachBackend(t, func(t *testing.T, s closableStore) {
		ctx := context.Background()
		f := newFixture(t, s)
		id := f.createProduct(t, "FO-900", 6)

		down := stock.MovementRequest{ProductID: id, Quantity: 2, Change: stock.Adjustment{Decrease: true}}

		_, err := f.engine.Record(ctx, down)
		assert.ErrorIs(t, err, stock.ErrValidation)
		assert.Equal(t, int64(6), f.balance(t, id))

		permissive := stock.NewEngine(s, stock.WithAdjustmentPolicy(stock.AdjustmentPolicy{AllowDecrease: true}))
		receipt, err := permissive.Record(ctx, down)
		require.NoError(t, err)
		assert.Equal(t, int64(4), receipt.Balance)

		latest := f.history(t, id)[0]
		assert.Equal(t, stock.KindAdjustment, latest.Kind)
		assert.Equal(t, stock.Decrease, latest.Direction)
		assert.Equal(t, int64(-2), latest.Delta())

		_, err = permissive.Record(ctx, stock.MovementRequest{ProductID: id, Quantity: 5, Change: stock.Adjustment{Decrease: true}})
		assert.ErrorIs(t, err, stock.ErrInsufficientStock)
		f.assertConsistent(t)
	})
}

func TestEngine_InactiveProduct(t *testing.T) {
	// GIVEN: A deactivated product with stock
	// WHEN: Selling it, or receiving stock for it
	// THEN: The sale is rejected; the purchase is still accepted
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "FO-950", 5)
		require.NoError(t, f.catalog.Deactivate(ctx, id))

		_, err := f.engine.Record(ctx, sale(id, 1))
		assert.ErrorIs(t, err, stock.ErrProductInactive)

		_, err = f.engine.Record(ctx, purchase(id, 1, "1.00"))
		assert.NoError(t, err)
		assert.Equal(t, int64(6), f.balance(t, id))
	})
}

// =============================================================================
// BATCH
// =============================================================================

func TestEngine_RecordBatch_AllOrNothing(t *testing.T) {
	// GIVEN: Two products with balances 5 and 1
	// WHEN: A sale with lines (A:2, B:3) is finalized
	// THEN: The second line fails and the first line is rolled back too
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		a := f.createProduct(t, "BT-A", 5)
		b := f.createProduct(t, "BT-B", 1)

		_, err := f.engine.RecordBatch(ctx, []stock.MovementRequest{sale(a, 2), sale(b, 3)})
		require.Error(t, err)
		assert.ErrorIs(t, err, stock.ErrInsufficientStock)

		assert.Equal(t, int64(5), f.balance(t, a))
		assert.Equal(t, int64(1), f.balance(t, b))
		assert.Len(t, f.history(t, a), 1)
		assert.Len(t, f.history(t, b), 1)
	})
}

func TestEngine_RecordBatch_LinesSeeEarlierLines(t *testing.T) {
	// GIVEN: A product with balance 4
	// WHEN: One sale has two lines of 3 for the same product
	// THEN: The second line sees balance 1 and the whole sale is rejected
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "BT-C", 4)

		_, err := f.engine.RecordBatch(ctx, []stock.MovementRequest{sale(id, 3), sale(id, 3)})
		var insufficient *stock.InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, int64(1), insufficient.Available)
		assert.Equal(t, int64(4), f.balance(t, id))

		receipts, err := f.engine.RecordBatch(ctx, []stock.MovementRequest{purchase(id, 2, "1.00"), sale(id, 3), sale(id, 3)})
		require.NoError(t, err)
		require.Len(t, receipts, 3)
		assert.Equal(t, []int64{6, 3, 0}, []int64{receipts[0].Balance, receipts[1].Balance, receipts[2].Balance})
		f.assertConsistent(t)
	})
}

func TestEngine_RecordBatch_Empty(t *testing.T) {
	engine := stock.NewEngine(store.NewMemory())
	_, err := engine.RecordBatch(context.Background(), nil)
	assert.ErrorIs(t, err, stock.ErrValidation)
}

// =============================================================================
// STORE LIFECYCLE
// =============================================================================

func TestEngine_ClosedStore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "CL-1", 3)

		require.NoError(t, s.Close())

		_, err := f.engine.Record(ctx, sale(id, 1))
		assert.ErrorIs(t, err, stock.ErrStoreClosed)
		_, err = f.query.Product(ctx, id)
		assert.ErrorIs(t, err, stock.ErrStoreClosed)
	})
}
