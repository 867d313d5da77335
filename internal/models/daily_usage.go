package models

import "time"

// DailyUsage accumulates words reserved per user per calendar day. Rows are
// created lazily on the first request of a date and never deleted; a new
// date simply supersedes the old row. The quota ledger is the only writer
// and always mutates rows inside a locking transaction.
type DailyUsage struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID    string `gorm:"type:uuid;not null;uniqueIndex:idx_daily_usage_user_date" json:"user_id"`
	UsageDate string `gorm:"size:10;not null;uniqueIndex:idx_daily_usage_user_date" json:"usage_date"`

	WordsDetect     int64 `gorm:"not null;default:0" json:"words_detect"`
	WordsParaphrase int64 `gorm:"not null;default:0" json:"words_paraphrase"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalWords returns the combined reservation for the day.
func (d *DailyUsage) TotalWords() int64 {
	return d.WordsDetect + d.WordsParaphrase
}
