/*
errors.go - Centralized error taxonomy for the points core

PURPOSE:
  Every failure site in the core returns a value of this closed set. The HTTP
  layer maps each kind to a status and a stable symbolic code; nothing anywhere
  string-matches on error text.

ERROR CATEGORIES:
  1. Not-found errors  - an id did not resolve
  2. Conflict errors   - a domain rule rejected the mutation
  3. Validation errors - malformed or out-of-range input
  4. Store errors      - persistence failures (wrapped, surfaced as internal)

USAGE:
  if errors.Is(err, points.ErrInsufficientPoints) { ... }
  or use the classifiers: points.IsNotFound(err), points.IsConflict(err).
*/
package points

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStudentNotFound is returned when a student id does not resolve.
	ErrStudentNotFound = errors.New("student not found")

	// ErrProductNotFound is returned when a product id does not resolve.
	ErrProductNotFound = errors.New("product not found")

	// ErrOrderNotFound is returned when an order id does not resolve.
	ErrOrderNotFound = errors.New("order not found")

	// ErrProductInactive is returned when reserving a soft-deleted product.
	ErrProductInactive = errors.New("product is inactive")

	// ErrOutOfStock is returned when reserving a product with zero stock.
	ErrOutOfStock = errors.New("product is out of stock")

	// ErrInsufficientPoints is returned when the live balance cannot cover
	// the product price.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrDuplicateReservation is returned when a pending order already exists
	// for the same (student, product) pair.
	ErrDuplicateReservation = errors.New("duplicate reservation")

	// ErrOrderNotPending is returned when confirming or cancelling an order
	// that already reached a terminal state.
	ErrOrderNotPending = errors.New("order is not pending")

	// ErrNameTaken is returned on a case-insensitive product name collision
	// among active products.
	ErrNameTaken = errors.New("product name already in use")

	// ErrConflict is returned when a versioned write lost a race and the
	// caller must re-read and retry.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrValidation is the base of all input validation failures.
	ErrValidation = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a malformed or out-of-range input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientPointsError reports the shortfall on a failed reserve.
type InsufficientPointsError struct {
	StudentID string
	Balance   int
	Price     int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: balance %d, price %d, short %d",
		e.Balance, e.Price, e.Price-e.Balance)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// DuplicateReservationError identifies the pending order blocking a reserve.
type DuplicateReservationError struct {
	StudentID string
	ProductID string
	OrderID   string
}

func (e *DuplicateReservationError) Error() string {
	return fmt.Sprintf("pending reservation already exists for student %s and product %s (order %s)",
		e.StudentID, e.ProductID, e.OrderID)
}

func (e *DuplicateReservationError) Unwrap() error { return ErrDuplicateReservation }

// =============================================================================
// CLASSIFIERS
// =============================================================================

// IsNotFound reports whether err is any of the missing-entity kinds.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}

// IsConflict reports whether err is a domain-rule rejection that maps to 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrDuplicateReservation) ||
		errors.Is(err, ErrOrderNotPending) ||
		errors.Is(err, ErrNameTaken) ||
		errors.Is(err, ErrProductInactive) ||
		errors.Is(err, ErrConflict)
}

// IsValidation reports whether err is a client input problem that maps to 400.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Code returns the stable symbolic identifier the HTTP envelope carries.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrStudentNotFound):
		return "STUDENT_NOT_FOUND"
	case errors.Is(err, ErrProductNotFound):
		return "PRODUCT_NOT_FOUND"
	case errors.Is(err, ErrOrderNotFound):
		return "ORDER_NOT_FOUND"
	case errors.Is(err, ErrProductInactive):
		return "PRODUCT_INACTIVE"
	case errors.Is(err, ErrOutOfStock):
		return "OUT_OF_STOCK"
	case errors.Is(err, ErrInsufficientPoints):
		return "INSUFFICIENT_POINTS"
	case errors.Is(err, ErrDuplicateReservation):
		return "DUPLICATE_RESERVATION"
	case errors.Is(err, ErrOrderNotPending):
		return "ORDER_NOT_PENDING"
	case errors.Is(err, ErrNameTaken):
		return "NAME_TAKEN"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	}
	return "INTERNAL_ERROR"
}
