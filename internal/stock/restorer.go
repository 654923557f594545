package stock

import (
	"context"
	"errors"
	"sort"

	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/db"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/events"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Restorer reverses a committed reservation exactly once, giving back the
// precise quantities the reservation took.
type Restorer struct {
	db      *db.DB
	ledger  *Ledger
	watcher *Watcher
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewRestorer creates a restoration handler
func NewRestorer(database *db.DB, ledger *Ledger, watcher *Watcher, m *metrics.Metrics, logger *zap.Logger) *Restorer {
	return &Restorer{
		db:      database,
		ledger:  ledger,
		watcher: watcher,
		metrics: m,
		log:     logger,
	}
}

// Restore puts a reservation's quantities back on the shelf and marks it
// RESTORED in the same transaction. Restoring an already-restored reservation
// is a successful no-op, which makes duplicate cancellation events harmless.
func (r *Restorer) Restore(ctx context.Context, orderID string) error {
	if orderID == "" {
		return ErrMissingOrderID
	}

	var intents []events.Intent
	restored := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r.ledger.applyLockTimeout(tx)

		var reservation db.Reservation
		err := withRowLock(tx).Preload("Lines").Where("order_id = ?", orderID).First(&reservation).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReservationNotFound
			}
			if isLockTimeout(err) {
				return &LockTimeoutError{}
			}
			return err
		}

		if reservation.Status == db.ReservationRestored {
			return nil
		}

		lines := reservation.Lines
		sort.Slice(lines, func(i, j int) bool {
			return lines[i].VariantID < lines[j].VariantID
		})

		for _, line := range lines {
			adj, err := r.ledger.adjustLocked(tx, line.VariantID, line.Quantity)
			if err != nil {
				return err
			}

			in, err := r.watcher.Observe(tx, adj)
			if err != nil {
				return err
			}
			intents = append(intents, in...)
		}

		restored = true
		return tx.Model(&db.Reservation{}).
			Where("order_id = ?", orderID).
			Update("status", db.ReservationRestored).Error
	})
	if err != nil {
		return err
	}

	if !restored {
		r.log.Info("Reservation already restored, nothing to do",
			zap.String("order_id", orderID),
		)
		return nil
	}

	r.metrics.ReservationsRestored.Inc()
	r.log.Info("Reservation restored", zap.String("order_id", orderID))

	r.watcher.Emit(ctx, intents)
	return nil
}
