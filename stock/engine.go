/*
engine.go - The single writer of stock changes

PURPOSE:
  Records movements. Each movement validates the request, re-reads the
  product inside the unit of work, applies the signed delta to the balance
  and appends the ledger row. Either both writes commit or neither does.

ALGORITHM (inside one unit of work):
  1. Read the product in the same transaction that will mutate it
  2. Decreasing movements: reject Saida on inactive products, reject any
     decrease larger than the current balance. Increasing movements: reject
     any increase the int64 balance cannot hold
  3. UPDATE balance = balance + delta, updated_at = now (0 rows = abort)
  4. INSERT the movement with the unsigned quantity and kind-gated prices
  5. Commit

CONCURRENCY:
  The store serializes units of work (writer mutex + IMMEDIATE transaction),
  so no other write to the product can land between step 1 and step 3.

NO RETRIES:
  A rejected movement is returned to the caller as a typed error. The
  engine never resubmits.

SEE ALSO:
  - movement.go: Request and tagged variants
  - catalog.go: Issues the Inicial movement on product creation
*/
package stock

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AdjustmentPolicy decides whether Ajuste movements may lower the balance.
// The zero value keeps adjustments increase-only.
type AdjustmentPolicy struct {
	AllowDecrease bool
}

// Engine records stock movements.
type Engine struct {
	store  Store
	policy AdjustmentPolicy
	clock  func() time.Time
	newID  func() string
	log    zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithAdjustmentPolicy(p AdjustmentPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithClock overrides the commit timestamp source (tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates an engine bound to the given store handle.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		clock: time.Now,
		newID: uuid.NewString,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// =============================================================================
// RECORD
// =============================================================================

// Record applies one movement atomically.
func (e *Engine) Record(ctx context.Context, req MovementRequest) (Receipt, error) {
	if err := e.validate(req); err != nil {
		e.logRejected(req, err)
		return Receipt{}, err
	}

	var receipt Receipt
	err := e.store.WithTx(ctx, func(tx Tx) error {
		r, err := e.apply(ctx, tx, req, e.now())
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		e.logRejected(req, err)
		return Receipt{}, err
	}

	e.logCommitted(req, receipt)
	return receipt, nil
}

// RecordBatch applies several movements in one unit of work (purchase or
// sale finalization). Lines are applied in order, so a later line sees the
// balance left by an earlier one. If any line fails, nothing is written.
func (e *Engine) RecordBatch(ctx context.Context, reqs []MovementRequest) ([]Receipt, error) {
	if len(reqs) == 0 {
		return nil, &ValidationError{Field: "lines", Reason: "at least one movement is required"}
	}
	for _, req := range reqs {
		if err := e.validate(req); err != nil {
			e.logRejected(req, err)
			return nil, err
		}
	}

	receipts := make([]Receipt, 0, len(reqs))
	err := e.store.WithTx(ctx, func(tx Tx) error {
		now := e.now()
		for _, req := range reqs {
			r, err := e.apply(ctx, tx, req, now)
			if err != nil {
				return err
			}
			receipts = append(receipts, r)
		}
		return nil
	})
	if err != nil {
		e.log.Info().Err(err).Int("lines", len(reqs)).Msg("movement batch rejected")
		return nil, err
	}

	for i, req := range reqs {
		e.logCommitted(req, receipts[i])
	}
	return receipts, nil
}

func (e *Engine) validate(req MovementRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.Change.Kind() == KindAdjustment && req.Change.Direction() == Decrease && !e.policy.AllowDecrease {
		return &ValidationError{Field: "direction", Reason: "decreasing adjustments are disabled"}
	}
	return nil
}

// apply runs steps 1-4 against an open unit of work. It is shared with the
// Catalog so the Inicial movement commits together with the product row.
func (e *Engine) apply(ctx context.Context, tx Tx, req MovementRequest, now time.Time) (Receipt, error) {
	product, err := tx.GetProduct(ctx, req.ProductID)
	if err != nil {
		return Receipt{}, err
	}

	direction := req.Change.Direction()
	if direction == Decrease {
		if req.Change.Kind() == KindExit && product.Status != StatusActive {
			return Receipt{}, ErrProductInactive
		}
		if product.StockQuantity < req.Quantity {
			return Receipt{}, &InsufficientStockError{
				ProductID: product.ID,
				Available: product.StockQuantity,
				Requested: req.Quantity,
			}
		}
	} else if product.StockQuantity > math.MaxInt64-req.Quantity {
		return Receipt{}, &ValidationError{Field: "quantity", Reason: "balance would exceed the maximum stock quantity"}
	}

	delta := int64(direction) * req.Quantity
	if err := tx.ApplyDelta(ctx, product.ID, delta, now); err != nil {
		return Receipt{}, err
	}

	unitCost, unitSalePrice := req.Change.prices()
	movement := Movement{
		ID:            MovementID(e.newID()),
		ProductID:     product.ID,
		Kind:          req.Change.Kind(),
		Direction:     direction,
		Quantity:      req.Quantity,
		UnitCost:      unitCost,
		UnitSalePrice: unitSalePrice,
		Note:          req.Note,
		Actor:         req.Actor,
		CreatedAt:     now,
	}
	if err := tx.AppendMovement(ctx, movement); err != nil {
		return Receipt{}, err
	}

	return Receipt{
		MovementID: movement.ID,
		ProductID:  product.ID,
		Balance:    product.StockQuantity + delta,
	}, nil
}

func (e *Engine) logCommitted(req MovementRequest, r Receipt) {
	e.log.Debug().
		Str("product_id", string(r.ProductID)).
		Str("movement_id", string(r.MovementID)).
		Str("kind", string(req.Change.Kind())).
		Int64("quantity", req.Quantity).
		Int64("balance", r.Balance).
		Str("actor", req.Actor).
		Msg("movement recorded")
}

func (e *Engine) logRejected(req MovementRequest, err error) {
	ev := e.log.Info().Err(err).Str("product_id", string(req.ProductID)).Int64("quantity", req.Quantity)
	if req.Change != nil {
		ev = ev.Str("kind", string(req.Change.Kind()))
	}
	ev.Msg("movement rejected")
}
