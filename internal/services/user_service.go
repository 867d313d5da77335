package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/rewriteguard/rewriteguard/internal/models"
)

// ErrUnknownTier indicates a plan change referenced a tier the quota ledger
// does not understand.
var ErrUnknownTier = errors.New("user service: unknown plan tier")

// UserService reads and provisions user rows. Identity is issued upstream;
// the gateway only needs the subscription state attached to an id.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs a user service once a database handle is supplied.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db}, nil
}

// GetOrCreate returns the user row for an upstream-authenticated id,
// provisioning a free-tier row on first sight.
func (s *UserService) GetOrCreate(ctx context.Context, userID string) (*models.User, error) {
	if s == nil {
		return nil, errors.New("user service: not initialised")
	}
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user service: user id is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Where(models.User{ID: userID}).
		Attrs(models.User{ID: userID, PlanTier: models.PlanFree}).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SetPlan applies an externally-decided tier change. It takes effect on the
// user's next request; usage already reserved today is not rewritten.
func (s *UserService) SetPlan(ctx context.Context, userID, tier string) (*models.User, error) {
	if s == nil {
		return nil, errors.New("user service: not initialised")
	}
	ctx = ensureContext(ctx)

	tier = strings.ToLower(strings.TrimSpace(tier))
	if tier != models.PlanFree && tier != models.PlanPremium {
		return nil, ErrUnknownTier
	}

	user, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user.PlanTier = tier
	user.LastSeenAt = &now
	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
