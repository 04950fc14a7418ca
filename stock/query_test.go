package stock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-engine/stock"
)

func TestQuery_Products_SearchIgnoresAccentsAndCase(t *testing.T) {
	// GIVEN: Products named with accents
	// WHEN: Searching without accents, in another case, or by code/brand
	// THEN: The matching products are returned, ordered by folded name
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()

		for _, d := range []stock.ProductDetails{
			details("Óleo de motor 5W30", "OL-530", ""),
			details("Correia dentada", "CD-01", ""),
			details("óleo de câmbio", "OL-CX", ""),
		} {
			_, err := f.catalog.Create(ctx, stock.NewProduct{ProductDetails: d})
			require.NoError(t, err)
		}

		got, err := f.query.Products(ctx, stock.ProductQuery{Search: "OLEO"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "óleo de câmbio", got[0].Name)
		assert.Equal(t, "Óleo de motor 5W30", got[1].Name)

		got, err = f.query.Products(ctx, stock.ProductQuery{Search: "cambio"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "OL-CX", got[0].Code)

		got, err = f.query.Products(ctx, stock.ProductQuery{Search: "cd-01"})
		require.NoError(t, err)
		require.Len(t, got, 1)

		got, err = f.query.Products(ctx, stock.ProductQuery{Search: "cambio ol-cx"})
		require.NoError(t, err)
		assert.Empty(t, got, "a term never spans name and code")

		got, err = f.query.Products(ctx, stock.ProductQuery{Search: "bosch"})
		require.NoError(t, err)
		assert.Len(t, got, 3)

		got, err = f.query.Products(ctx, stock.ProductQuery{Search: "50%"})
		require.NoError(t, err)
		assert.Empty(t, got, "wildcards are matched literally")

		got, err = f.query.Products(ctx, stock.ProductQuery{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "Correia dentada", got[0].Name)
	})
}

func TestQuery_LowStock(t *testing.T) {
	// GIVEN: Products above, at and below their minimum (2), one inactive
	// THEN: Only active products at or below the minimum are listed
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()

		create := func(code string, qty int64) stock.ProductID {
			id, err := f.catalog.Create(ctx, stock.NewProduct{ProductDetails: details("Item "+code, code, ""), InitialQuantity: qty})
			require.NoError(t, err)
			return id
		}
		create("LS-HIGH", 9)
		at := create("LS-AT", 2)
		below := create("LS-LOW", 1)
		hidden := create("LS-OFF", 0)
		require.NoError(t, f.catalog.Deactivate(ctx, hidden))

		got, err := f.query.LowStock(ctx)
		require.NoError(t, err)
		var ids []stock.ProductID
		for _, p := range got {
			ids = append(ids, p.ID)
			assert.True(t, p.IsLowStock())
		}
		assert.ElementsMatch(t, []stock.ProductID{at, below}, ids)
	})
}

func TestQuery_History_NewestFirstWithFilters(t *testing.T) {
	// GIVEN: A product with Inicial, Entrada, Saida, Entrada, Ajuste
	// WHEN: Reading history with kind filters and pagination
	// THEN: Entries come newest first and pages do not overlap
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "HS-1", 5)

		for _, req := range []stock.MovementRequest{
			purchase(id, 4, "2.00"),
			sale(id, 3),
			purchase(id, 1, "2.10"),
			{ProductID: id, Quantity: 1, Change: stock.Adjustment{}},
		} {
			_, err := f.engine.Record(ctx, req)
			require.NoError(t, err)
		}

		all := f.history(t, id)
		require.Len(t, all, 5)
		kinds := make([]stock.Kind, len(all))
		for i, e := range all {
			kinds[i] = e.Kind
			if i > 0 {
				assert.False(t, e.CreatedAt.After(all[i-1].CreatedAt))
			}
		}
		assert.Equal(t, []stock.Kind{stock.KindAdjustment, stock.KindEntry, stock.KindExit, stock.KindEntry, stock.KindInitial}, kinds)

		entries, err := f.query.History(ctx, stock.HistoryQuery{ProductID: id, Kinds: []stock.Kind{stock.KindEntry}})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, int64(1), entries[0].Quantity)
		assert.Equal(t, int64(4), entries[1].Quantity)

		page1, err := f.query.History(ctx, stock.HistoryQuery{ProductID: id, Limit: 2})
		require.NoError(t, err)
		page2, err := f.query.History(ctx, stock.HistoryQuery{ProductID: id, Limit: 2, Offset: 2})
		require.NoError(t, err)
		page3, err := f.query.History(ctx, stock.HistoryQuery{ProductID: id, Limit: 2, Offset: 4})
		require.NoError(t, err)
		require.Len(t, page1, 2)
		require.Len(t, page2, 2)
		require.Len(t, page3, 1)
		assert.Equal(t, all[0].ID, page1[0].ID)
		assert.Equal(t, all[2].ID, page2[0].ID)
		assert.Equal(t, all[4].ID, page3[0].ID)

		beyond, err := f.query.History(ctx, stock.HistoryQuery{ProductID: id, Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, beyond)
	})
}

func TestQuery_History_Errors(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "HE-1", 1)

		_, err := f.query.History(ctx, stock.HistoryQuery{ProductID: "missing"})
		assert.ErrorIs(t, err, stock.ErrProductNotFound)

		_, err = f.query.History(ctx, stock.HistoryQuery{ProductID: id, Limit: -1})
		assert.ErrorIs(t, err, stock.ErrValidation)

		_, err = f.query.History(ctx, stock.HistoryQuery{ProductID: id, Kinds: []stock.Kind{"Transferencia"}})
		assert.ErrorIs(t, err, stock.ErrValidation)
	})
}

func TestQuery_DisplayTime(t *testing.T) {
	sp, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skip("tzdata not available")
	}

	q := stock.NewQuery(nil, stock.WithDisplayFormat("", sp))
	at := time.Date(2025, time.March, 10, 15, 4, 0, 0, time.UTC)
	assert.Equal(t, "10/03/2025 12:04", q.FormatTime(at))

	q = stock.NewQuery(nil, stock.WithDisplayFormat("2006-01-02 15:04:05", time.UTC))
	assert.Equal(t, "2025-03-10 15:04:00", q.FormatTime(at))
}
