package sqlite

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/stock-engine/stock"
)

// translate maps SQLite constraint failures onto stock.ConstraintError so
// callers never see driver types. Other errors pass through unchanged.
func translate(err error) error {
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) || sqErr.Code != sqlite3.ErrConstraint {
		return err
	}

	msg := sqErr.Error()
	switch sqErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		switch {
		case strings.Contains(msg, "products.code"):
			return &stock.ConstraintError{Constraint: "products.code", Err: stock.ErrDuplicateCode}
		case strings.Contains(msg, "products.barcode"):
			return &stock.ConstraintError{Constraint: "products.barcode", Err: stock.ErrDuplicateBarcode}
		}
		return &stock.ConstraintError{Constraint: constraintName(msg), Err: stock.ErrCheckFailed}

	case sqlite3.ErrConstraintCheck:
		name := constraintName(msg)
		switch name {
		case "stock_non_negative":
			return &stock.ConstraintError{Constraint: name, Err: stock.ErrNegativeStock}
		case "movement_kind":
			return &stock.ConstraintError{Constraint: name, Err: stock.ErrInvalidKind}
		}
		return &stock.ConstraintError{Constraint: name, Err: stock.ErrCheckFailed}

	case sqlite3.ErrConstraintForeignKey:
		return &stock.ConstraintError{Constraint: "stock_movements.product_id", Err: stock.ErrDanglingReference}

	case sqlite3.ErrConstraintTrigger:
		if strings.Contains(msg, "immutable") {
			return &stock.ConstraintError{Constraint: "stock_movements_immutable", Err: stock.ErrImmutableMovement}
		}
	}
	return &stock.ConstraintError{Constraint: constraintName(msg), Err: stock.ErrCheckFailed}
}

// constraintName extracts the part after "constraint failed: ".
func constraintName(msg string) string {
	if _, after, ok := strings.Cut(msg, "constraint failed: "); ok {
		return strings.TrimSpace(after)
	}
	return msg
}
