package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job statuses written by the gateway.
const (
	JobStatusSuccess  = "success"
	JobStatusCacheHit = "cache_hit"
	JobStatusTimeout  = "timeout"
	JobStatusError    = "error"
)

// JobRecord is an append-only audit entry written once per completed or
// failed request and immutable thereafter. The input text is stored only as
// a bounded preview.
type JobRecord struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string `gorm:"type:uuid;not null;index" json:"user_id"`
	Operation string `gorm:"size:16;not null;index" json:"operation"`

	InputPreview string `gorm:"size:128" json:"input_preview"`
	WordCount    int64  `gorm:"not null" json:"word_count"`
	Status       string `gorm:"size:16;not null;index" json:"status"`

	CacheHit    bool           `json:"cache_hit"`
	LatencyMS   float64        `json:"latency_ms"`
	TotalTokens int            `json:"total_tokens"`
	Params      datatypes.JSON `json:"params,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (j *JobRecord) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	return nil
}
