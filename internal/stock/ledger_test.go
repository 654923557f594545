package stock

import (
	"context"
	"errors"
	"testing"

	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetQuantityCreatesRecord(t *testing.T) {
	c := setupCore(t)
	ctx := context.Background()

	rec, err := c.ledger.SetQuantity(ctx, "VAR-001", "STORE-1", 100, threshold(20))
	require.NoError(t, err)
	assert.Equal(t, int32(100), rec.Quantity)
	assert.Equal(t, db.StateNormal, rec.NotifiedState)
	require.NotNil(t, rec.LowStockThreshold)
	assert.Equal(t, int32(20), *rec.LowStockThreshold)
	assert.NotNil(t, rec.LastRestockedAt)

	qty, err := c.ledger.GetQuantity(ctx, "VAR-001")
	require.NoError(t, err)
	assert.Equal(t, int32(100), qty)
}

func TestSetQuantityRejectsNegative(t *testing.T) {
	c := setupCore(t)

	_, err := c.ledger.SetQuantity(context.Background(), "VAR-001", "STORE-1", -5, nil)
	require.Error(t, err)

	var negative *NegativeAdjustmentError
	assert.True(t, errors.As(err, &negative))
}

func TestSetQuantityRestock(t *testing.T) {
	c := setupCore(t)
	ctx := context.Background()

	// Initial stocking at zero: no restock timestamp yet
	rec, err := c.ledger.SetQuantity(ctx, "VAR-001", "STORE-1", 0, nil)
	require.NoError(t, err)
	assert.Nil(t, rec.LastRestockedAt)

	// Restock stamps the timestamp and keeps the threshold untouched
	rec, err = c.ledger.SetQuantity(ctx, "VAR-001", "", 40, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(40), rec.Quantity)
	assert.NotNil(t, rec.LastRestockedAt)
}

func TestAdjustQuantity(t *testing.T) {
	c := setupCore(t)
	ctx := context.Background()

	_, err := c.ledger.SetQuantity(ctx, "VAR-001", "STORE-1", 10, nil)
	require.NoError(t, err)

	adj, err := c.ledger.AdjustQuantity(ctx, "VAR-001", -4)
	require.NoError(t, err)
	assert.Equal(t, int32(10), adj.Previous)
	assert.Equal(t, int32(6), adj.New)

	adj, err = c.ledger.AdjustQuantity(ctx, "VAR-001", 2)
	require.NoError(t, err)
	assert.Equal(t, int32(6), adj.Previous)
	assert.Equal(t, int32(8), adj.New)
	assert.NotNil(t, adj.Record.LastRestockedAt)
}

func TestAdjustQuantityRejectsUnderflow(t *testing.T) {
	c := setupCore(t)
	ctx := context.Background()

	_, err := c.ledger.SetQuantity(ctx, "VAR-001", "STORE-1", 3, nil)
	require.NoError(t, err)

	_, err = c.ledger.AdjustQuantity(ctx, "VAR-001", -5)
	require.Error(t, err)

	var negative *NegativeAdjustmentError
	require.True(t, errors.As(err, &negative))
	assert.Equal(t, int32(3), negative.Quantity)
	assert.Equal(t, int32(-5), negative.Delta)

	// Record left unchanged on failure
	qty, err := c.ledger.GetQuantity(ctx, "VAR-001")
	require.NoError(t, err)
	assert.Equal(t, int32(3), qty)
}

func TestAdjustQuantityUnknownVariant(t *testing.T) {
	c := setupCore(t)

	_, err := c.ledger.AdjustQuantity(context.Background(), "NOPE", -1)
	assert.ErrorIs(t, err, ErrVariantNotFound)
}

func TestGetQuantityUnknownVariant(t *testing.T) {
	c := setupCore(t)

	_, err := c.ledger.GetQuantity(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrVariantNotFound)
}

func TestArchive(t *testing.T) {
	c := setupCore(t)
	ctx := context.Background()

	_, err := c.ledger.SetQuantity(ctx, "VAR-001", "STORE-1", 5, nil)
	require.NoError(t, err)

	require.NoError(t, c.ledger.Archive(ctx, "VAR-001"))

	var rec db.InventoryRecord
	require.NoError(t, c.db.Where("variant_id = ?", "VAR-001").First(&rec).Error)
	assert.True(t, rec.Archived)

	assert.ErrorIs(t, c.ledger.Archive(ctx, "NOPE"), ErrVariantNotFound)
}
