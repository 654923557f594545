package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/db"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/events"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Line is one (variant, quantity) entry of a reservation request
type Line struct {
	VariantID string
	Quantity  int32
}

// Coordinator performs the all-or-nothing stock decrement for one order.
// Items are locked in ascending variant order so two orders sharing variants
// in different input orders cannot deadlock each other.
type Coordinator struct {
	db      *db.DB
	ledger  *Ledger
	watcher *Watcher
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewCoordinator creates a reservation coordinator
func NewCoordinator(database *db.DB, ledger *Ledger, watcher *Watcher, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		db:      database,
		ledger:  ledger,
		watcher: watcher,
		metrics: m,
		log:     logger,
	}
}

// Reserve decrements stock for every item of an order inside one transaction
// and records the reservation alongside. The first insufficient-stock failure
// rolls the whole transaction back; no partial state is ever observable.
// Threshold intents collected along the way are dispatched after commit.
func (c *Coordinator) Reserve(ctx context.Context, orderID string, items []Line) (*db.Reservation, error) {
	if orderID == "" {
		return nil, ErrMissingOrderID
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	merged, err := mergeLines(items)
	if err != nil {
		return nil, err
	}

	reservation := &db.Reservation{
		OrderID: orderID,
		Status:  db.ReservationCommitted,
	}
	var intents []events.Intent

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c.ledger.applyLockTimeout(tx)

		var existing int64
		if err := tx.Model(&db.Reservation{}).Where("order_id = ?", orderID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrDuplicateReservation
		}

		for _, item := range merged {
			adj, err := c.ledger.adjustLocked(tx, item.VariantID, -item.Quantity)
			if err != nil {
				return err
			}

			in, err := c.watcher.Observe(tx, adj)
			if err != nil {
				return err
			}
			intents = append(intents, in...)

			reservation.Lines = append(reservation.Lines, db.ReservationLine{
				OrderID:   orderID,
				VariantID: item.VariantID,
				Quantity:  item.Quantity,
			})
		}

		return tx.Create(reservation).Error
	})
	if err != nil {
		var insufficient *InsufficientStockError
		if errors.As(err, &insufficient) {
			c.metrics.ReservationsRejected.Inc()
			c.log.Info("Reservation rejected",
				zap.String("order_id", orderID),
				zap.String("variant_id", insufficient.VariantID),
				zap.Int32("requested", insufficient.Requested),
				zap.Int32("available", insufficient.Available),
			)
		}
		return nil, err
	}

	c.metrics.ReservationsCommitted.Inc()
	c.log.Info("Reservation committed",
		zap.String("order_id", orderID),
		zap.Int("items", len(merged)),
	)

	c.watcher.Emit(ctx, intents)
	return reservation, nil
}

// mergeLines validates quantities, merges duplicate variants and returns the
// lines in ascending variant order, fixing the lock acquisition order
func mergeLines(items []Line) ([]Line, error) {
	byVariant := make(map[string]int32, len(items))
	for _, item := range items {
		if item.VariantID == "" {
			return nil, fmt.Errorf("reservation line has empty variant id")
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: variant %s has quantity %d",
				ErrNonPositiveQuantity, item.VariantID, item.Quantity)
		}
		byVariant[item.VariantID] += item.Quantity
	}

	merged := make([]Line, 0, len(byVariant))
	for variantID, quantity := range byVariant {
		merged = append(merged, Line{VariantID: variantID, Quantity: quantity})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].VariantID < merged[j].VariantID
	})
	return merged, nil
}
