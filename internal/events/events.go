package events

import (
	"context"
	"time"
)

// Intent types emitted by the threshold watcher. The routing key doubles as
// the event type on the wire.
const (
	IntentLowStock   = "inventory.low_stock"
	IntentOutOfStock = "inventory.out_of_stock"
	IntentRestock    = "inventory.restock"
)

// Intent is a notification decision: that something is due and what data it
// carries. Delivery (recipient resolution, email, push) belongs to the
// dispatcher on the other side of the interface.
type Intent struct {
	Type       string    `json:"type"`
	VariantID  string    `json:"variant_id"`
	StoreID    string    `json:"store_id,omitempty"`
	Quantity   int32     `json:"quantity"`
	Threshold  *int32    `json:"threshold,omitempty"`
	UserID     string    `json:"user_id,omitempty"` // set for per-subscriber restock intents
	OccurredAt time.Time `json:"occurred_at"`
}

// Dispatcher consumes notification intents. A failing dispatcher must never
// roll back the stock transaction that produced the intent, so the core only
// calls it after commit.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent Intent) error
}
