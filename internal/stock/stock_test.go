package stock

import (
	"context"
	"sync"
	"testing"

	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/db"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/events"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/internal/metrics"
	"github.com/akaeyuhi/SwiftE-commerce-sub000/pkg/logger"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *db.DB {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Run migrations
	err = gormDB.AutoMigrate(
		&db.InventoryRecord{},
		&db.Reservation{},
		&db.ReservationLine{},
		&db.RestockSubscription{},
	)
	require.NoError(t, err)

	return &db.DB{DB: gormDB}
}

// intentRecorder collects dispatched intents for assertions
type intentRecorder struct {
	mu      sync.Mutex
	intents []events.Intent
}

func (r *intentRecorder) Dispatch(ctx context.Context, intent events.Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, intent)
	return nil
}

func (r *intentRecorder) ofType(intentType string) []events.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []events.Intent
	for _, intent := range r.intents {
		if intent.Type == intentType {
			matched = append(matched, intent)
		}
	}
	return matched
}

func (r *intentRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.intents)
}

type core struct {
	db          *db.DB
	ledger      *Ledger
	watcher     *Watcher
	coordinator *Coordinator
	restorer    *Restorer
	recorder    *intentRecorder
}

func setupCore(t *testing.T) *core {
	database := setupTestDB(t)
	log := logger.NewLogger("test", "error")
	recorder := &intentRecorder{}
	m := metrics.New("test")

	watcher := NewWatcher(database, recorder, m, log)
	ledger := NewLedger(database, watcher, 0, log)

	return &core{
		db:          database,
		ledger:      ledger,
		watcher:     watcher,
		coordinator: NewCoordinator(database, ledger, watcher, m, log),
		restorer:    NewRestorer(database, ledger, watcher, m, log),
		recorder:    recorder,
	}
}

func threshold(v int32) *int32 {
	return &v
}
