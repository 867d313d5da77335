package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Plan tiers understood by the quota ledger. Tier changes arrive from the
// billing collaborator; the core only reads them.
const (
	PlanFree    = "free"
	PlanPremium = "premium"
)

// User describes an already-authenticated platform user. Identity issuance
// and credential validation happen upstream; this row only carries the
// subscription state the gateway needs.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	PlanTier string `gorm:"not null;default:free;index" json:"plan_tier"`

	// DailyLimit overrides the plan default when non-zero. Operators use it
	// for grandfathered accounts and abuse containment.
	DailyLimit int64 `gorm:"default:0" json:"daily_limit,omitempty"`

	IsAdmin bool `gorm:"default:false" json:"is_admin"`

	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.PlanTier == "" {
		u.PlanTier = PlanFree
	}
	return nil
}
