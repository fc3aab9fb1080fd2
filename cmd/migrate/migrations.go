package main

import (
	"gorm.io/gorm"

	"github.com/vmfleet/engine/internal/models"
)

// registerModels returns all models that need migration
func registerModels() []interface{} {
	return []interface{}{
		// Operators
		&models.User{},

		// Fleet
		&models.VM{},
		&models.Disk{},
		&models.StateTransition{},
	}
}

// runMigrations executes all database migrations
func runMigrations(db *gorm.DB) error {
	models := registerModels()

	// Run AutoMigrate for all models
	if err := db.AutoMigrate(models...); err != nil {
		return err
	}

	// Run custom migrations
	return runCustomMigrations(db)
}

// runCustomMigrations handles schema changes AutoMigrate can't handle
func runCustomMigrations(db *gorm.DB) error {
	migrations := []func(*gorm.DB) error{
		enableUUIDExtension,
		addStaleScanIndex,
		addTransitionLookupIndex,
	}

	for _, migration := range migrations {
		if err := migration(db); err != nil {
			return err
		}
	}

	return nil
}

// enableUUIDExtension ensures UUID generation is available
func enableUUIDExtension(db *gorm.DB) error {
	return db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error
}

// addStaleScanIndex backs the reconciler's stale-row query, which filters on
// observed state and orders by last update.
func addStaleScanIndex(db *gorm.DB) error {
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_vms_state_updated
		ON vms(observed_state, updated_at)
		WHERE deleted_at IS NULL
	`).Error
}

// addTransitionLookupIndex serves the per-VM audit listing, newest first.
func addTransitionLookupIndex(db *gorm.DB) error {
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_state_transitions_vm_created
		ON state_transitions(vm_id, created_at DESC)
	`).Error
}
