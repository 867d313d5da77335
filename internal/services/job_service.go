package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rewriteguard/rewriteguard/internal/models"
)

const (
	previewMaxChars = 100
	recentJobsCap   = 50
)

// JobEntry captures one finished or failed request for the audit trail.
type JobEntry struct {
	UserID      string
	Operation   string
	InputText   string
	WordCount   int64
	Status      string
	CacheHit    bool
	LatencyMS   float64
	TotalTokens int
	Params      map[string]any
}

// JobService appends immutable job records and lists a user's recent
// history. Records are written once and never updated.
type JobService struct {
	db *gorm.DB
}

// NewJobService constructs a job service once a database handle is supplied.
func NewJobService(db *gorm.DB) (*JobService, error) {
	if db == nil {
		return nil, errors.New("job service: db is required")
	}
	return &JobService{db: db}, nil
}

// Record persists one audit entry. Only a bounded preview of the input text
// is stored.
func (s *JobService) Record(ctx context.Context, entry JobEntry) error {
	if s == nil {
		return errors.New("job service: not initialised")
	}
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.UserID) == "" {
		return errors.New("job service: user id is required")
	}
	if strings.TrimSpace(entry.Operation) == "" {
		return errors.New("job service: operation is required")
	}
	if strings.TrimSpace(entry.Status) == "" {
		return errors.New("job service: status is required")
	}

	var params datatypes.JSON
	if entry.Params != nil {
		encoded, err := json.Marshal(entry.Params)
		if err != nil {
			return errors.New("job service: marshal params: " + err.Error())
		}
		params = datatypes.JSON(encoded)
	}

	record := models.JobRecord{
		UserID:       entry.UserID,
		Operation:    entry.Operation,
		InputPreview: truncatePreview(entry.InputText),
		WordCount:    entry.WordCount,
		Status:       entry.Status,
		CacheHit:     entry.CacheHit,
		LatencyMS:    entry.LatencyMS,
		TotalTokens:  entry.TotalTokens,
		Params:       params,
	}

	return s.db.WithContext(ctx).Create(&record).Error
}

// Recent returns the user's newest job records, capped at recentJobsCap.
func (s *JobService) Recent(ctx context.Context, userID string, limit int) ([]models.JobRecord, error) {
	if s == nil {
		return nil, errors.New("job service: not initialised")
	}
	ctx = ensureContext(ctx)

	if limit < 1 {
		limit = 10
	}
	if limit > recentJobsCap {
		limit = recentJobsCap
	}

	var records []models.JobRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func truncatePreview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewMaxChars {
		return text
	}
	return string(runes[:previewMaxChars]) + "..."
}
