package stock

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG - Product registration and maintenance
// =============================================================================

// Catalog manages product rows. It never writes StockQuantity: opening
// stock goes through the engine as an Inicial movement, and updates only
// accept ProductDetails.
type Catalog struct {
	engine *Engine
}

func NewCatalog(engine *Engine) *Catalog {
	return &Catalog{engine: engine}
}

// NewProduct is the input of Catalog.Create.
type NewProduct struct {
	ProductDetails

	InitialQuantity int64
	InitialUnitCost decimal.NullDecimal // defaults to CostPrice
	Actor           string
}

// Create registers a product. When InitialQuantity is positive, the
// Inicial movement is recorded in the same unit of work as the insert.
func (c *Catalog) Create(ctx context.Context, np NewProduct) (ProductID, error) {
	details := normalizeDetails(np.ProductDetails)
	if err := validateDetails(details); err != nil {
		return "", err
	}
	if np.InitialQuantity < 0 {
		return "", &ValidationError{Field: "initial_quantity", Reason: "must not be negative"}
	}

	now := c.engine.now()
	product := Product{
		ID:             ProductID(c.engine.newID()),
		ProductDetails: details,
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	unitCost := np.InitialUnitCost
	if !unitCost.Valid {
		unitCost = decimal.NewNullDecimal(details.CostPrice)
	}

	initial := MovementRequest{
		ProductID: product.ID,
		Quantity:  np.InitialQuantity,
		Change:    Initial{UnitCost: unitCost},
		Note:      "initial stock",
		Actor:     np.Actor,
	}
	var receipt Receipt
	err := c.engine.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertProduct(ctx, product); err != nil {
			return err
		}
		if np.InitialQuantity == 0 {
			return nil
		}
		if err := initial.Validate(); err != nil {
			return err
		}
		r, err := c.engine.apply(ctx, tx, initial, now)
		receipt = r
		return err
	})
	if err != nil {
		return "", err
	}
	if np.InitialQuantity > 0 {
		c.engine.logCommitted(initial, receipt)
	}

	c.engine.log.Info().
		Str("product_id", string(product.ID)).
		Str("code", details.Code).
		Int64("initial_quantity", np.InitialQuantity).
		Msg("product created")
	return product.ID, nil
}

// Update rewrites the editable fields of a product.
func (c *Catalog) Update(ctx context.Context, id ProductID, d ProductDetails) error {
	d = normalizeDetails(d)
	if err := validateDetails(d); err != nil {
		return err
	}
	return c.engine.store.WithTx(ctx, func(tx Tx) error {
		return tx.UpdateProductDetails(ctx, id, d, c.engine.now())
	})
}

// Deactivate hides a product from default listings and blocks new sales.
func (c *Catalog) Deactivate(ctx context.Context, id ProductID) error {
	return c.setStatus(ctx, id, StatusInactive)
}

// Reactivate reverses Deactivate.
func (c *Catalog) Reactivate(ctx context.Context, id ProductID) error {
	return c.setStatus(ctx, id, StatusActive)
}

func (c *Catalog) setStatus(ctx context.Context, id ProductID, status Status) error {
	return c.engine.store.WithTx(ctx, func(tx Tx) error {
		return tx.SetProductStatus(ctx, id, status, c.engine.now())
	})
}

// Delete hard-deletes a product that has no stock history. Products with
// movements must be deactivated instead; their ledger is the audit trail.
func (c *Catalog) Delete(ctx context.Context, id ProductID) error {
	return c.engine.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.GetProduct(ctx, id); err != nil {
			return err
		}
		n, err := tx.CountMovements(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return &ConstraintError{Constraint: "stock_movements.product_id", Err: ErrProductHasHistory}
		}
		return tx.DeleteProduct(ctx, id)
	})
}

func normalizeDetails(d ProductDetails) ProductDetails {
	d.Name = strings.TrimSpace(d.Name)
	d.Description = strings.TrimSpace(d.Description)
	d.Code = strings.TrimSpace(d.Code)
	d.Barcode = strings.TrimSpace(d.Barcode)
	d.Brand = strings.TrimSpace(d.Brand)
	d.Application = strings.TrimSpace(d.Application)
	return d
}

func validateDetails(d ProductDetails) error {
	switch {
	case d.Name == "":
		return &ValidationError{Field: "name", Reason: "is required"}
	case d.Code == "":
		return &ValidationError{Field: "code", Reason: "is required"}
	case d.CostPrice.IsNegative():
		return &ValidationError{Field: "cost_price", Reason: "must not be negative"}
	case d.SalePrice.IsNegative():
		return &ValidationError{Field: "sale_price", Reason: "must not be negative"}
	case d.MinimumStock < 0:
		return &ValidationError{Field: "minimum_stock", Reason: "must not be negative"}
	}
	return nil
}
