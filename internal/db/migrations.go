package db

// RunMigrations runs all database migrations
func RunMigrations(db *DB) error {
	return db.AutoMigrate(
		&InventoryRecord{},
		&Reservation{},
		&ReservationLine{},
		&RestockSubscription{},
	)
}
