package db

import (
	"fmt"

	"github.com/trestle-dev/trestle/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.SessionMapping{},
		&models.IdempotencyRecord{},
		&models.UserPreference{},
	}
}

// AutoMigrate creates or updates all Trestle tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
