/*
errors.go - Centralized error types for the stock engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The bridge layer maps these onto user-visible messages; nothing in this
  package swallows or retries an error.

ERROR CATEGORIES:
  1. Validation errors - Bad input, rejected before any mutation
  2. Balance errors - Exit larger than the current balance
  3. Constraint errors - Unique/check/foreign-key violations from the store
  4. Lookup errors - Product does not exist
  5. Store errors - Handle closed

USAGE:
  var insufficient *stock.InsufficientStockError
  if errors.As(err, &insufficient) {
      fmt.Printf("only %d left\n", insufficient.Available)
  }

SEE ALSO:
  - engine.go: Raises validation and balance errors
  - store/sqlite/errors.go: Translates driver errors into ConstraintError
*/
package stock

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every input validation failure.
	ErrValidation = errors.New("invalid input")

	// ErrInsufficientStock is returned when an exit exceeds the current balance.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrProductNotFound is returned when a referenced product doesn't exist.
	ErrProductNotFound = errors.New("product not found")

	// ErrProductInactive is returned when selling a deactivated product.
	ErrProductInactive = errors.New("product is inactive")

	// ErrStoreClosed is returned by every operation once the store handle is closed.
	ErrStoreClosed = errors.New("store is not connected")

	// ErrConstraint is the root of every storage constraint violation.
	ErrConstraint = errors.New("constraint violation")

	// Constraint details, carried inside ConstraintError.
	ErrDuplicateCode     = errors.New("manufacturer code already registered")
	ErrDuplicateBarcode  = errors.New("barcode already registered")
	ErrNegativeStock     = errors.New("stock quantity cannot be negative")
	ErrInvalidKind       = errors.New("movement kind is not recognized")
	ErrDanglingReference = errors.New("movement references a missing product")
	ErrProductHasHistory = errors.New("product has stock movements")
	ErrImmutableMovement = errors.New("stock movements are immutable")
	ErrCheckFailed       = errors.New("check constraint failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// InsufficientStockError provides details about a balance shortage.
type InsufficientStockError struct {
	ProductID ProductID
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// ConstraintError wraps a violation reported by the store.
// It matches both ErrConstraint and its specific detail with errors.Is.
type ConstraintError struct {
	Constraint string // e.g. "products.code", "stock_non_negative"
	Err        error  // one of the constraint detail sentinels
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Err, e.Constraint)
}

func (e *ConstraintError) Unwrap() []error {
	return []error{ErrConstraint, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can fix the error by changing input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrProductInactive) ||
		errors.Is(err, ErrConstraint)
}

// IsNotFound returns true if the error indicates a missing product.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound)
}
