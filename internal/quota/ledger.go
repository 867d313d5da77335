package quota

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rewriteguard/rewriteguard/internal/models"
	"github.com/rewriteguard/rewriteguard/pkg/logger"
	"github.com/rewriteguard/rewriteguard/pkg/metrics"
)

// Operations the ledger meters. Each has its own column so usage can be
// broken down per feature.
const (
	OpDetect     = "detect"
	OpParaphrase = "paraphrase"
)

// Reservation is the outcome of an admitted reserve call.
type Reservation struct {
	WordsReserved  int64
	WordsRemaining int64
	TotalUsed      int64
	Limit          int64
}

// Usage summarises a user's consumption for one date.
type Usage struct {
	UserID          string  `json:"user_id"`
	PlanTier        string  `json:"plan_type"`
	DailyLimit      int64   `json:"daily_limit"`
	WordsUsedToday  int64   `json:"words_used_today"`
	WordsDetect     int64   `json:"words_detect"`
	WordsParaphrase int64   `json:"words_paraphrase"`
	WordsRemaining  int64   `json:"words_remaining"`
	UsageDate       string  `json:"usage_date"`
	PercentageUsed  float64 `json:"percentage_used"`
}

// Ledger enforces per-user daily word limits against the durable store.
// Reservations are linearizable per (user, date): the read, the comparison
// against the limit and the increment happen inside one locking transaction,
// so concurrent requests can never jointly overrun the allowance. Rows for
// different users never contend.
type Ledger struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewLedger constructs a Ledger once a database handle is supplied.
func NewLedger(db *gorm.DB) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("quota ledger: db is required")
	}
	return &Ledger{db: db, log: logger.WithModule("quota")}, nil
}

// Today returns the current UTC date key used for daily accounting.
func Today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// Reserve atomically charges words against the user's allowance for a date.
// A request is admitted only when the new total stays within the limit; a
// request landing exactly on the limit completes with zero remaining. On
// rejection the returned error is a *QuotaExceededError carrying the
// untouched remaining balance. Any storage failure is returned verbatim so
// the caller can fail closed.
func (l *Ledger) Reserve(ctx context.Context, userID, day string, words int64, op string, tier string, limit int64) (*Reservation, error) {
	if l == nil {
		return nil, errors.New("quota ledger: not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("quota ledger: user id is required")
	}
	if words <= 0 {
		return nil, errors.New("quota ledger: word count must be positive")
	}
	if op != OpDetect && op != OpParaphrase {
		return nil, errors.New("quota ledger: unknown operation " + op)
	}
	if day == "" {
		day = Today()
	}

	res, err := l.reserveOnce(ctx, userID, day, words, op, tier, limit)
	if err != nil && isUniqueConstraintError(err) {
		// Two first-requests of the day raced to create the row; the
		// insert loser retries against the now-committed row.
		res, err = l.reserveOnce(ctx, userID, day, words, op, tier, limit)
	}
	if err != nil {
		var qe *QuotaExceededError
		if errors.As(err, &qe) {
			metrics.QuotaReservations.WithLabelValues(op, "rejected").Inc()
			l.log.Info("reservation rejected",
				logger.UserHash(userID),
				zap.String("operation", op),
				zap.Int64("requested", words),
				zap.Int64("remaining", qe.Remaining),
			)
			return nil, err
		}
		return nil, err
	}

	metrics.QuotaReservations.WithLabelValues(op, "allowed").Inc()
	metrics.WordsReserved.WithLabelValues(op).Add(float64(words))
	return res, nil
}

func (l *Ledger) reserveOnce(ctx context.Context, userID, day string, words int64, op, tier string, limit int64) (*Reservation, error) {
	var result Reservation

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var usage models.DailyUsage
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&usage, "user_id = ? AND usage_date = ?", userID, day).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			usage = models.DailyUsage{UserID: userID, UsageDate: day}
			if err := tx.Create(&usage).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		total := usage.TotalWords()
		if total+words > limit {
			return &QuotaExceededError{
				Tier:      tier,
				Limit:     limit,
				Used:      total,
				Requested: words,
				Remaining: maxInt64(0, limit-total),
			}
		}

		switch op {
		case OpDetect:
			usage.WordsDetect += words
		case OpParaphrase:
			usage.WordsParaphrase += words
		}

		if err := tx.Save(&usage).Error; err != nil {
			return err
		}

		result = Reservation{
			WordsReserved:  words,
			WordsRemaining: limit - (total + words),
			TotalUsed:      total + words,
			Limit:          limit,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UsageFor reads a user's consumption for a date without mutating anything.
// A missing row means nothing was reserved yet.
func (l *Ledger) UsageFor(ctx context.Context, userID, day, tier string, limit int64) (*Usage, error) {
	if l == nil {
		return nil, errors.New("quota ledger: not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if day == "" {
		day = Today()
	}

	var usage models.DailyUsage
	err := l.db.WithContext(ctx).Take(&usage, "user_id = ? AND usage_date = ?", userID, day).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	used := usage.TotalWords()
	percentage := 0.0
	if limit > 0 {
		percentage = float64(used) / float64(limit) * 100
		if percentage > 100 {
			percentage = 100
		}
	}

	return &Usage{
		UserID:          userID,
		PlanTier:        tier,
		DailyLimit:      limit,
		WordsUsedToday:  used,
		WordsDetect:     usage.WordsDetect,
		WordsParaphrase: usage.WordsParaphrase,
		WordsRemaining:  maxInt64(0, limit-used),
		UsageDate:       day,
		PercentageUsed:  percentage,
	}, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
