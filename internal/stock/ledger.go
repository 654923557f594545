package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/db"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/events"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Adjustment describes one committed quantity change. It carries everything
// the threshold watcher needs so no second read happens after the update.
type Adjustment struct {
	Record   *db.InventoryRecord
	Previous int32
	New      int32
}

// Ledger is the sole mutator of InventoryRecord.Quantity. Every change goes
// through a row lock so the per-variant adjustment sequence is linearizable.
type Ledger struct {
	db          *db.DB
	watcher     *Watcher
	lockTimeout time.Duration
	log         *zap.Logger
}

// NewLedger creates a new stock ledger
func NewLedger(database *db.DB, watcher *Watcher, lockTimeout time.Duration, logger *zap.Logger) *Ledger {
	return &Ledger{
		db:          database,
		watcher:     watcher,
		lockTimeout: lockTimeout,
		log:         logger,
	}
}

// AdjustQuantity applies quantity += delta in its own transaction. An
// adjustment that would go negative fails with NegativeAdjustmentError and
// leaves the record unchanged. Threshold intents for the new state are
// dispatched after commit.
func (l *Ledger) AdjustQuantity(ctx context.Context, variantID string, delta int32) (*Adjustment, error) {
	var adj *Adjustment
	var intents []events.Intent

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l.applyLockTimeout(tx)

		a, err := l.adjustLocked(tx, variantID, delta)
		if err != nil {
			var insufficient *InsufficientStockError
			if errors.As(err, &insufficient) {
				// Outside the guarded reservation path an underflow is a
				// precondition violation, not a business outcome.
				return &NegativeAdjustmentError{
					VariantID: variantID,
					Quantity:  insufficient.Available,
					Delta:     delta,
				}
			}
			return err
		}
		adj = a

		in, err := l.watcher.Observe(tx, a)
		if err != nil {
			return err
		}
		intents = in
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.watcher.Emit(ctx, intents)
	return adj, nil
}

// SetQuantity stocks or restocks a variant to an absolute count, creating the
// record on first stocking. A nil threshold leaves the configured threshold
// untouched. Negative absolutes are rejected.
func (l *Ledger) SetQuantity(ctx context.Context, variantID, storeID string, absolute int32, threshold *int32) (*db.InventoryRecord, error) {
	if absolute < 0 {
		return nil, &NegativeAdjustmentError{VariantID: variantID, Delta: absolute}
	}
	if threshold != nil && *threshold < 0 {
		return nil, fmt.Errorf("low stock threshold must be >= 0, got %d", *threshold)
	}

	var rec *db.InventoryRecord
	var intents []events.Intent

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l.applyLockTimeout(tx)

		existing, err := l.lockRecord(tx, variantID)
		if err != nil && !errors.Is(err, ErrVariantNotFound) {
			return err
		}

		now := time.Now()
		if existing == nil {
			rec = &db.InventoryRecord{
				VariantID:         variantID,
				StoreID:           storeID,
				Quantity:          absolute,
				LowStockThreshold: threshold,
				NotifiedState:     db.StateNormal,
			}
			if absolute > 0 {
				rec.LastRestockedAt = &now
			}
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
			in, err := l.watcher.Observe(tx, &Adjustment{Record: rec, Previous: 0, New: absolute})
			if err != nil {
				return err
			}
			intents = in
			return nil
		}

		rec = existing
		previous := rec.Quantity
		updates := map[string]interface{}{"quantity": absolute}
		rec.Quantity = absolute
		if threshold != nil {
			rec.LowStockThreshold = threshold
			updates["low_stock_threshold"] = *threshold
		}
		if absolute > previous {
			rec.LastRestockedAt = &now
			updates["last_restocked_at"] = now
		}
		if err := tx.Model(&db.InventoryRecord{}).Where("variant_id = ?", variantID).Updates(updates).Error; err != nil {
			return err
		}

		in, err := l.watcher.Observe(tx, &Adjustment{Record: rec, Previous: previous, New: absolute})
		if err != nil {
			return err
		}
		intents = in
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("Stock set",
		zap.String("variant_id", variantID),
		zap.Int32("quantity", absolute),
	)
	l.watcher.Emit(ctx, intents)
	return rec, nil
}

// GetQuantity returns an unlocked snapshot of a variant's stock count. Good
// enough for display, never for reservation decisions.
func (l *Ledger) GetQuantity(ctx context.Context, variantID string) (int32, error) {
	var rec db.InventoryRecord
	err := l.db.WithContext(ctx).Select("quantity").Where("variant_id = ?", variantID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrVariantNotFound
		}
		return 0, err
	}
	return rec.Quantity, nil
}

// Archive soft-archives a variant's record alongside the variant itself.
// Records are never deleted.
func (l *Ledger) Archive(ctx context.Context, variantID string) error {
	result := l.db.WithContext(ctx).Model(&db.InventoryRecord{}).
		Where("variant_id = ?", variantID).
		Update("archived", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVariantNotFound
	}
	return nil
}

// lockRecord loads a record under a row lock inside the given transaction
func (l *Ledger) lockRecord(tx *gorm.DB, variantID string) (*db.InventoryRecord, error) {
	var rec db.InventoryRecord
	err := withRowLock(tx).Where("variant_id = ?", variantID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVariantNotFound
		}
		if isLockTimeout(err) {
			return nil, &LockTimeoutError{VariantID: variantID}
		}
		return nil, err
	}
	return &rec, nil
}

// adjustLocked applies a delta inside the caller's transaction. Underflow is
// reported as InsufficientStockError carrying the count the caller lost to.
func (l *Ledger) adjustLocked(tx *gorm.DB, variantID string, delta int32) (*Adjustment, error) {
	rec, err := l.lockRecord(tx, variantID)
	if err != nil {
		return nil, err
	}

	next := rec.Quantity + delta
	if next < 0 {
		return nil, &InsufficientStockError{
			VariantID: variantID,
			Requested: -delta,
			Available: rec.Quantity,
		}
	}

	previous := rec.Quantity
	updates := map[string]interface{}{"quantity": next}
	rec.Quantity = next
	if delta > 0 {
		now := time.Now()
		rec.LastRestockedAt = &now
		updates["last_restocked_at"] = now
	}
	if err := tx.Model(&db.InventoryRecord{}).Where("variant_id = ?", variantID).Updates(updates).Error; err != nil {
		return nil, err
	}

	return &Adjustment{Record: rec, Previous: previous, New: next}, nil
}

// applyLockTimeout bounds row lock waits for this transaction so a contended
// reservation fails retryably instead of blocking indefinitely
func (l *Ledger) applyLockTimeout(tx *gorm.DB) {
	if l.lockTimeout <= 0 || tx.Dialector.Name() != "postgres" {
		return
	}
	tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.lockTimeout.Milliseconds()))
}

// withRowLock adds SELECT ... FOR UPDATE on postgres. SQLite (used by the
// test harness) serializes writers with a database-level lock and rejects the
// FOR UPDATE syntax.
func withRowLock(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// isLockTimeout matches the postgres lock_not_available error class
func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}
