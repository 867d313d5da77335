// Package maintenance runs scheduled background cleanup: sweeping expired
// cache rows from the SQL store and pruning old job records. Daily usage rows
// are kept; they are the billing record.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rewriteguard/rewriteguard/internal/cache"
	"github.com/rewriteguard/rewriteguard/internal/models"
	"github.com/rewriteguard/rewriteguard/pkg/logger"
)

const (
	defaultJobRetentionDays = 30
	defaultCacheSweepSpec   = "@hourly"
	defaultJobSweepSpec     = "@daily"
)

// Cleaner coordinates background maintenance tasks.
type Cleaner struct {
	db        *gorm.DB
	cacheSQL  *cache.DatabaseStore
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int

	cacheSchedule string
	jobSchedule   string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithJobRetentionDays adjusts how long job records are retained.
func WithJobRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithCacheSchedule overrides the cron specification for the cache sweep.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithJobSchedule overrides the cron specification for job record pruning.
func WithJobSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.jobSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil cacheSQL
// skips the cache sweep, which is the case when Redis handles expiry itself.
func NewCleaner(db *gorm.DB, cacheSQL *cache.DatabaseStore, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:            db,
		cacheSQL:      cacheSQL,
		now:           time.Now,
		retention:     defaultJobRetentionDays,
		cacheSchedule: defaultCacheSweepSpec,
		jobSchedule:   defaultJobSweepSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.cacheSQL != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if swept, err := c.cacheSQL.SweepExpired(context.Background()); err != nil {
				c.log.Warn("cache sweep failed", zap.Error(err))
			} else if swept > 0 {
				c.log.Info("swept expired cache entries", zap.Int64("count", swept))
			}
		}); err != nil {
			return err
		}
	}

	if c.db != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.jobSchedule, func() {
			if pruned, err := PruneJobRecords(context.Background(), c.db, c.now(), c.retention); err != nil {
				c.log.Warn("job record pruning failed", zap.Error(err))
			} else if pruned > 0 {
				c.log.Info("pruned old job records", zap.Int64("count", pruned))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily
// used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.cacheSQL != nil {
		if _, err := c.cacheSQL.SweepExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil && c.retention > 0 {
		if _, err := PruneJobRecords(ctx, c.db, c.now(), c.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// PruneJobRecords deletes job records older than the retention window.
func PruneJobRecords(ctx context.Context, db *gorm.DB, now time.Time, retentionDays int) (int64, error) {
	if db == nil || retentionDays <= 0 {
		return 0, nil
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	result := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.JobRecord{})
	return result.RowsAffected, result.Error
}
