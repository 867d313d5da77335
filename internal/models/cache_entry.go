package models

import (
	"time"
)

// CacheEntry represents a cached inference result in the database fallback
// store. Keys are content fingerprints; expired rows are ignored on read and
// swept opportunistically by maintenance.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
