package stock

import (
	"context"
	"errors"
	"testing"

	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveDecrementsAllItems(t *testing.T) {
	c := setupCore(t)
	ctx := context.Background()

	_, err := c.ledger.SetQuantity(ctx, "VAR-A", "STORE-1", 10, nil)
	require.NoError(t, err)
	_, err = c.ledger.SetQuantity(ctx, "VAR-B", "STORE-1", 8, nil)
	require.NoError(t, err)

	reservation, err := c.coordinator.Reserve(ctx, "ord-1", []Line{
		{VariantID: "VAR-B", Quantity: 2},
		{VariantID: "VAR-A", Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, db.ReservationCommitted, reservation.Status)
	assert.Len(t, reservation.Lines, 2)

	qtyA, _ := c.ledger.GetQuantity(ctx, "VAR-A")
	qtyB, _ := c.ledger.GetQuantity(ctx, "VAR-B")
	assert.Equal(t, int32(7), qtyA)
	assert.Equal(t, int32(6), qtyB)

	// Reservation persisted with the decrement
	var stored db.Reservation
	require.NoError(t, c.db.Preload("Lines").Where("order_id = ?", "ord-1").First(&stored).Error)
	assert.Equal(t, db.ReservationCommitted, stored.Status)
	assert.Len(t, stored.Lines, 2)
}

func TestReserveInsufficientStockRollsBack(t *testing.T) {
	c := setupCore(t)
	ctx := context.Background()

	_, err := c.ledger.SetQuantity(ctx, "VAR-A", "STORE-1", 10, nil)
	require.NoError(t, err)
	_, err = c.ledger.SetQuantity(ctx, "VAR-B", "STORE-1", 1, nil)
	require.NoError(t, err)

	_, err = c.coordinator.Reserve(ctx, "ord-1", []Line{
		{VariantID: "VAR-A", Quantity: 3},
		{VariantID: "VAR-B", Quantity: 2},
	})
	require.Error(t, err)

	var insufficient *InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "VAR-B", insufficient.VariantID)
	assert.Equal(t, int32(2), insufficient.Requested)
	assert.Equal(t, int32(1), insufficient.Available)

	// Both variants keep their pre-call quantities
	qtyA, _ := c.ledger.GetQuantity(ctx, "VAR-A")
	qtyB, _ := c.ledger.GetQuantity(ctx, "VAR-B")
	assert.Equal(t, int32(10), qtyA)
	assert.Equal(t, int32(1), qtyB)

	// And no reservation was written
	var count int64
	c.db.Model(&db.Reservation{}).Where("order_id = ?", "ord-1").Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestReserveValidation(t *testing.T) {
	c := setupCore(t)
	ctx := context.Background()

	_, err := c.coordinator.Reserve(ctx, "", []Line{{VariantID: "VAR-A", Quantity: 1}})
	assert.ErrorIs(t, err, ErrMissingOrderID)

	_, err = c.coordinator.Reserve(ctx, "ord-1", nil)
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = c.coordinator.Reserve(ctx, "ord-1", []Line{{VariantID: "VAR-A", Quantity: 0}})
	assert.ErrorIs(t, err, ErrNonPositiveQuantity)

	_, err = c.coordinator.Reserve(ctx, "ord-1", []Line{{VariantID: "VAR-A", Quantity: -2}})
	assert.ErrorIs(t, err, ErrNonPositiveQuantity)
}

func TestReserveUnknownVariant(t *testing.T) {
	c := setupCore(t)

	_, err := c.coordinator.Reserve(context.Background(), "ord-1", []Line{
		{VariantID: "NOPE", Quantity: 1},
	})
	assert.ErrorIs(t, err, ErrVariantNotFound)
}

func TestReserveMergesDuplicateLines(t *testing.T) {
	c := setupCore(t)
	ctx := context.Background()

	_, err := c.ledger.SetQuantity(ctx, "VAR-A", "STORE-1", 10, nil)
	require.NoError(t, err)

	reservation, err := c.coordinator.Reserve(ctx, "ord-1", []Line{
		{VariantID: "VAR-A", Quantity: 2},
		{VariantID: "VAR-A", Quantity: 3},
	})
	require.NoError(t, err)
	require.Len(t, reservation.Lines, 1)
	assert.Equal(t, int32(5), reservation.Lines[0].Quantity)

	qty, _ := c.ledger.GetQuantity(ctx, "VAR-A")
	assert.Equal(t, int32(5), qty)
}

func TestReserveDuplicateOrder(t *testing.T) {
	c := setupCore(t)
	ctx := context.Background()

	_, err := c.ledger.SetQuantity(ctx, "VAR-A", "STORE-1", 10, nil)
	require.NoError(t, err)

	_, err = c.coordinator.Reserve(ctx, "ord-1", []Line{{VariantID: "VAR-A", Quantity: 2}})
	require.NoError(t, err)

	_, err = c.coordinator.Reserve(ctx, "ord-1", []Line{{VariantID: "VAR-A", Quantity: 2}})
	assert.ErrorIs(t, err, ErrDuplicateReservation)

	// The duplicate took nothing
	qty, _ := c.ledger.GetQuantity(ctx, "VAR-A")
	assert.Equal(t, int32(8), qty)
}

// Two orders racing for the same scarce variant: the row lock serializes
// them, so whichever commits first wins and the loser sees the post-decrement
// count in its error.
func TestCompetingReservesOneWins(t *testing.T) {
	c := setupCore(t)
	ctx := context.Background()

	_, err := c.ledger.SetQuantity(ctx, "VAR-A", "STORE-1", 50, nil)
	require.NoError(t, err)

	_, err = c.coordinator.Reserve(ctx, "ord-1", []Line{{VariantID: "VAR-A", Quantity: 30}})
	require.NoError(t, err)

	_, err = c.coordinator.Reserve(ctx, "ord-2", []Line{{VariantID: "VAR-A", Quantity: 25}})
	require.Error(t, err)

	var insufficient *InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int32(20), insufficient.Available)

	qty, _ := c.ledger.GetQuantity(ctx, "VAR-A")
	assert.Equal(t, int32(20), qty)
}
