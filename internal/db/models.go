package db

import (
	"time"

	"gorm.io/gorm"
)

// Notified states persisted on an inventory record. The stored value is the
// last state a notification intent was emitted for, which is what makes
// threshold detection idempotent across restarts.
const (
	StateNormal = "NORMAL"
	StateLow    = "LOW"
	StateOut    = "OUT"
)

// Reservation statuses
const (
	ReservationCommitted = "COMMITTED"
	ReservationRestored  = "RESTORED"
)

// InventoryRecord holds the stock count for one (variant, store) pair
type InventoryRecord struct {
	VariantID         string     `gorm:"primaryKey;type:varchar(50)" json:"variant_id"`
	StoreID           string     `gorm:"type:varchar(50);index:idx_inventory_store" json:"store_id"`
	Quantity          int32      `gorm:"not null;default:0" json:"quantity"`
	LowStockThreshold *int32     `json:"low_stock_threshold,omitempty"` // nil disables low-stock detection
	NotifiedState     string     `gorm:"type:varchar(10);not null;default:'NORMAL'" json:"notified_state"`
	LastRestockedAt   *time.Time `json:"last_restocked_at,omitempty"`
	Archived          bool       `gorm:"not null;default:false;index:idx_inventory_archived" json:"archived"`
	CreatedAt         time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for InventoryRecord model
func (InventoryRecord) TableName() string {
	return "inventory_records"
}

// BeforeCreate hook to set timestamps
func (r *InventoryRecord) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	return nil
}

// BeforeUpdate hook to update timestamp
func (r *InventoryRecord) BeforeUpdate(tx *gorm.DB) error {
	r.UpdatedAt = time.Now()
	return nil
}

// Reservation records the effect one order had on stock. Its lines sum to
// exactly what was subtracted from the inventory records in the same
// transaction.
type Reservation struct {
	OrderID   string            `gorm:"primaryKey;type:varchar(64)" json:"order_id"`
	Status    string            `gorm:"type:varchar(10);not null" json:"status"`
	Lines     []ReservationLine `gorm:"foreignKey:OrderID;references:OrderID" json:"lines"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for Reservation model
func (Reservation) TableName() string {
	return "reservations"
}

// ReservationLine is one (variant, quantity) entry of a reservation
type ReservationLine struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   string `gorm:"type:varchar(64);index:idx_reservation_lines_order" json:"order_id"`
	VariantID string `gorm:"type:varchar(50);not null" json:"variant_id"`
	Quantity  int32  `gorm:"not null" json:"quantity"`
}

// TableName specifies the table name for ReservationLine model
func (ReservationLine) TableName() string {
	return "reservation_lines"
}

// RestockSubscription is a user's request to be told when an out-of-stock
// variant comes back. Deleted once the restock intent for it is emitted.
type RestockSubscription struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	VariantID string    `gorm:"type:varchar(50);index:idx_restock_subs_variant" json:"variant_id"`
	UserID    string    `gorm:"type:varchar(64);not null" json:"user_id"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName specifies the table name for RestockSubscription model
func (RestockSubscription) TableName() string {
	return "restock_subscriptions"
}
