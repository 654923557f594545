package stock

import (
	"context"
	"errors"
	"time"

	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/db"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/events"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Watcher classifies post-adjustment stock state and decides which
// notification intents are due. The check-and-mark runs inside the same
// transaction as the quantity change, so a variant that stays below threshold
// across several decrements notifies exactly once.
type Watcher struct {
	db         *db.DB
	dispatcher events.Dispatcher
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// NewWatcher creates a threshold watcher
func NewWatcher(database *db.DB, dispatcher events.Dispatcher, m *metrics.Metrics, logger *zap.Logger) *Watcher {
	return &Watcher{
		db:         database,
		dispatcher: dispatcher,
		metrics:    m,
		log:        logger,
	}
}

// Classify maps a quantity and optional threshold to a stock state
func Classify(quantity int32, threshold *int32) string {
	switch {
	case quantity == 0:
		return db.StateOut
	case threshold != nil && quantity <= *threshold:
		return db.StateLow
	default:
		return db.StateNormal
	}
}

// Observe inspects an adjustment inside its transaction. When the target
// state differs from the last notified state it persists the new state in the
// same transaction and returns the intents to dispatch after commit.
//
// Downward transitions produce LOW_STOCK / OUT_OF_STOCK. Transitions out of
// OUT produce RESTOCK, fanned out to the variant's active subscriptions,
// which are consumed (deleted) here. LOW -> NORMAL updates state silently.
func (w *Watcher) Observe(tx *gorm.DB, adj *Adjustment) ([]events.Intent, error) {
	rec := adj.Record
	target := Classify(rec.Quantity, rec.LowStockThreshold)
	if target == rec.NotifiedState {
		return nil, nil
	}

	previous := rec.NotifiedState
	rec.NotifiedState = target
	if err := tx.Model(&db.InventoryRecord{}).
		Where("variant_id = ?", rec.VariantID).
		Update("notified_state", target).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	base := events.Intent{
		VariantID:  rec.VariantID,
		StoreID:    rec.StoreID,
		Quantity:   rec.Quantity,
		Threshold:  rec.LowStockThreshold,
		OccurredAt: now,
	}

	switch {
	case target == db.StateOut:
		base.Type = events.IntentOutOfStock
		return []events.Intent{base}, nil

	case previous == db.StateOut:
		return w.restockIntents(tx, base)

	case target == db.StateLow:
		base.Type = events.IntentLowStock
		return []events.Intent{base}, nil

	default:
		// LOW -> NORMAL: state recorded, nothing owed to anyone
		return nil, nil
	}
}

// restockIntents fans a RESTOCK intent out to every active subscription and
// deletes them in the same transaction, so each subscriber hears at most once
// per subscription. With no subscribers a single variant-level intent is
// still emitted for the transition.
func (w *Watcher) restockIntents(tx *gorm.DB, base events.Intent) ([]events.Intent, error) {
	var subs []db.RestockSubscription
	if err := tx.Where("variant_id = ?", base.VariantID).Find(&subs).Error; err != nil {
		return nil, err
	}

	base.Type = events.IntentRestock
	if len(subs) == 0 {
		return []events.Intent{base}, nil
	}

	if err := tx.Where("variant_id = ?", base.VariantID).
		Delete(&db.RestockSubscription{}).Error; err != nil {
		return nil, err
	}

	intents := make([]events.Intent, 0, len(subs))
	for _, sub := range subs {
		intent := base
		intent.UserID = sub.UserID
		intents = append(intents, intent)
	}
	return intents, nil
}

// Emit hands committed intents to the dispatcher. Dispatch failures are
// logged and counted, never propagated: the stock change they describe is
// already committed.
func (w *Watcher) Emit(ctx context.Context, intents []events.Intent) {
	for _, intent := range intents {
		if err := w.dispatcher.Dispatch(ctx, intent); err != nil {
			w.metrics.IntentFailures.Inc()
			w.log.Error("Failed to dispatch notification intent",
				zap.String("type", intent.Type),
				zap.String("variant_id", intent.VariantID),
				zap.Error(err),
			)
			continue
		}
		w.metrics.IntentsEmitted.WithLabelValues(intent.Type).Inc()
	}
}

// Subscribe registers a restock notification request for an out-of-stock
// variant. Re-subscribing after a sent notification is allowed; subscribing
// while the variant still has stock is refused.
func (w *Watcher) Subscribe(ctx context.Context, variantID, userID string) error {
	var rec db.InventoryRecord
	err := w.db.WithContext(ctx).Select("quantity").Where("variant_id = ?", variantID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrVariantNotFound
		}
		return err
	}
	if rec.Quantity > 0 {
		return ErrVariantInStock
	}

	sub := &db.RestockSubscription{VariantID: variantID, UserID: userID}
	if err := w.db.WithContext(ctx).Create(sub).Error; err != nil {
		return err
	}

	w.log.Info("Restock subscription created",
		zap.String("variant_id", variantID),
		zap.String("user_id", userID),
	)
	return nil
}
