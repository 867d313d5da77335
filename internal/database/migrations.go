package database

import (
	"gorm.io/gorm"

	"github.com/rewriteguard/rewriteguard/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.DailyUsage{},
		&models.JobRecord{},
		&models.CacheEntry{},
	)
}

// SeedData inserts rows the service expects to exist. The schema is small
// enough that there is nothing beyond an operator account to seed.
func SeedData(db *gorm.DB) error {
	admin := models.User{
		ID:       "00000000-0000-0000-0000-000000000001",
		PlanTier: models.PlanPremium,
		IsAdmin:  true,
	}

	return db.Where(models.User{ID: admin.ID}).
		Attrs(admin).
		FirstOrCreate(&models.User{}).Error
}
