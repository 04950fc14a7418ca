package stock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-engine/stock"
)

func TestReconciler_DetectsDrift(t *testing.T) {
	// GIVEN: Two products kept in sync by the engine
	// WHEN: One balance is changed without a ledger row
	// THEN: Verify reports exactly that product with both totals
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		ok := f.createProduct(t, "RC-1", 4)
		bad := f.createProduct(t, "RC-2", 6)
		_, err := f.engine.Record(ctx, sale(bad, 1))
		require.NoError(t, err)

		reconciler := stock.NewReconciler(s)
		drifts, err := reconciler.Verify(ctx)
		require.NoError(t, err)
		assert.Empty(t, drifts)

		err = s.WithTx(ctx, func(tx stock.Tx) error {
			return tx.ApplyDelta(ctx, bad, 3, time.Now())
		})
		require.NoError(t, err)

		drifts, err = reconciler.Verify(ctx)
		require.NoError(t, err)
		require.Len(t, drifts, 1)
		assert.Equal(t, bad, drifts[0].ProductID)
		assert.Equal(t, "RC-2", drifts[0].Code)
		assert.Equal(t, int64(8), drifts[0].Balance)
		assert.Equal(t, int64(5), drifts[0].LedgerTotal)
		assert.NotEqual(t, ok, drifts[0].ProductID)
	})
}

func TestReconciler_IncludesInactiveProducts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "RC-3", 2)
		require.NoError(t, f.catalog.Deactivate(ctx, id))

		require.NoError(t, s.WithTx(ctx, func(tx stock.Tx) error {
			return tx.ApplyDelta(ctx, id, -1, time.Now())
		}))

		drifts, err := stock.NewReconciler(s).Verify(ctx)
		require.NoError(t, err)
		require.Len(t, drifts, 1)
		assert.Equal(t, id, drifts[0].ProductID)
	})
}

// interleavingStore runs a hook right before the ledger sums are read,
// whether Verify reads them through the store or through a unit of work.
type interleavingStore struct {
	closableStore
	once   sync.Once
	before func()
}

func (s *interleavingStore) hook() { s.once.Do(s.before) }

func (s *interleavingStore) LedgerSums(ctx context.Context) (map[stock.ProductID]int64, error) {
	s.hook()
	return s.closableStore.LedgerSums(ctx)
}

func (s *interleavingStore) WithTx(ctx context.Context, fn func(tx stock.Tx) error) error {
	return s.closableStore.WithTx(ctx, func(tx stock.Tx) error {
		return fn(&interleavingTx{Tx: tx, store: s})
	})
}

type interleavingTx struct {
	stock.Tx
	store *interleavingStore
}

func (tx *interleavingTx) LedgerSums(ctx context.Context) (map[stock.ProductID]int64, error) {
	tx.store.hook()
	return tx.Tx.LedgerSums(ctx)
}

func TestReconciler_WriteDuringVerifyIsNotDrift(t *testing.T) {
	// GIVEN: A consistent ledger
	// WHEN: A purchase is submitted between Verify reading balances and
	//       reading ledger sums
	// THEN: Verify reports no drift, and the purchase still commits
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "VD-1", 10)

		var wg sync.WaitGroup
		var writeErr error
		wrapped := &interleavingStore{closableStore: s, before: func() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, writeErr = f.engine.Record(ctx, purchase(id, 5, "1.00"))
			}()
			// Give the writer a chance to commit if nothing holds it back.
			time.Sleep(20 * time.Millisecond)
		}}

		drifts, err := stock.NewReconciler(wrapped).Verify(ctx)
		require.NoError(t, err)
		assert.Empty(t, drifts)

		wg.Wait()
		require.NoError(t, writeErr)
		assert.Equal(t, int64(15), f.balance(t, id))
		f.assertConsistent(t)
	})
}

func TestUnitOfWork_RollsBackOnError(t *testing.T) {
	// GIVEN: A unit of work that changes a balance and then fails
	// THEN: The balance change is not visible afterwards
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "UW-1", 5)

		boom := assert.AnError
		err := s.WithTx(ctx, func(tx stock.Tx) error {
			if err := tx.ApplyDelta(ctx, id, 10, time.Now()); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int64(5), f.balance(t, id))
	})
}

func TestStore_EnforcesNonNegativeBalance(t *testing.T) {
	// GIVEN: A caller that bypasses the engine's balance check
	// WHEN: It drives the balance below zero
	// THEN: The store itself refuses with a constraint violation
	forEachBackend(t, func(t *testing.T, s closableStore) {
		f := newFixture(t, s)
		ctx := context.Background()
		id := f.createProduct(t, "NN-1", 1)

		err := s.WithTx(ctx, func(tx stock.Tx) error {
			return tx.ApplyDelta(ctx, id, -2, time.Now())
		})
		assert.ErrorIs(t, err, stock.ErrConstraint)
		assert.ErrorIs(t, err, stock.ErrNegativeStock)
		assert.Equal(t, int64(1), f.balance(t, id))
	})
}

func TestStore_RejectsDanglingMovement(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s closableStore) {
		ctx := context.Background()
		err := s.WithTx(ctx, func(tx stock.Tx) error {
			return tx.AppendMovement(ctx, stock.Movement{
				ID:        "mv-orphan",
				ProductID: "missing",
				Kind:      stock.KindEntry,
				Direction: stock.Increase,
				Quantity:  1,
				CreatedAt: time.Now(),
			})
		})
		assert.ErrorIs(t, err, stock.ErrDanglingReference)
	})
}
