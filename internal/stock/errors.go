package stock

import (
	"errors"
	"fmt"
)

var (
	// ErrVariantNotFound is returned when no inventory record exists for a variant
	ErrVariantNotFound = errors.New("variant not found in inventory")

	// ErrReservationNotFound is returned when no reservation exists for an order
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrDuplicateReservation is returned when an order already holds a committed reservation
	ErrDuplicateReservation = errors.New("order already has a reservation")

	// ErrMissingOrderID is returned when Reserve or Restore is called without an order ID
	ErrMissingOrderID = errors.New("order id is required")

	// ErrNoItems is returned when Reserve is called with an empty item list
	ErrNoItems = errors.New("reservation requires at least one item")

	// ErrNonPositiveQuantity is returned when a reservation line has quantity <= 0.
	// Zero-quantity lines are a caller bug, not a no-op.
	ErrNonPositiveQuantity = errors.New("item quantity must be positive")

	// ErrVariantInStock is returned when subscribing to restock alerts for a
	// variant that is not out of stock
	ErrVariantInStock = errors.New("variant is not out of stock")
)

// InsufficientStockError is returned when a reservation asks for more units
// than a variant has. Available reflects the count after any concurrent
// winner committed, so the caller can report it accurately.
type InsufficientStockError struct {
	VariantID string
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s: requested=%d, available=%d",
		e.VariantID, e.Requested, e.Available)
}

// NegativeAdjustmentError is a precondition violation: an adjustment or set
// outside the guarded reservation path would leave quantity negative. It is
// never clamped to zero.
type NegativeAdjustmentError struct {
	VariantID string
	Quantity  int32
	Delta     int32
}

func (e *NegativeAdjustmentError) Error() string {
	return fmt.Sprintf("adjustment would make stock negative for variant %s: quantity=%d, delta=%d",
		e.VariantID, e.Quantity, e.Delta)
}

// LockTimeoutError is returned when a row lock could not be acquired within
// the configured bound. Reserve and Restore have no partial effects, so the
// whole call is safe to retry.
type LockTimeoutError struct {
	VariantID string
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for stock lock on variant %s", e.VariantID)
}

// IsRetryable reports whether the caller may safely retry the whole operation
func IsRetryable(err error) bool {
	var lockErr *LockTimeoutError
	return errors.As(err, &lockErr)
}
