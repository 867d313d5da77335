package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rewriteguard/rewriteguard/pkg/logger"
	"github.com/rewriteguard/rewriteguard/pkg/metrics"
)

const defaultResultOpTimeout = 500 * time.Millisecond

// ResultStore wraps a Store with the failure semantics the gateway needs for
// inference results: the cache is a performance concern, not a correctness
// one, so a backend error degrades to a miss on read and a silent no-op on
// write. Every backend round-trip runs under a short timeout so a storage
// outage cannot hang a request.
type ResultStore struct {
	store     Store
	ttl       time.Duration
	opTimeout time.Duration
	log       *zap.Logger
}

// NewResultStore builds a ResultStore. ttl bounds how long results are
// served; opTimeout bounds each backend round-trip.
func NewResultStore(store Store, ttl, opTimeout time.Duration) *ResultStore {
	if opTimeout <= 0 {
		opTimeout = defaultResultOpTimeout
	}
	return &ResultStore{
		store:     store,
		ttl:       ttl,
		opTimeout: opTimeout,
		log:       logger.WithModule("result_cache"),
	}
}

// TTL reports the configured entry lifetime.
func (r *ResultStore) TTL() time.Duration {
	return r.ttl
}

// Get returns the cached payload for a fingerprint, or ok=false on a miss.
// Backend failures are logged, counted and reported as misses.
func (r *ResultStore) Get(ctx context.Context, key string) ([]byte, bool) {
	if r == nil || r.store == nil {
		return nil, false
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	value, found, err := r.store.Get(ctx, key)
	if err != nil {
		metrics.CacheOperations.WithLabelValues("get", "degraded").Inc()
		r.log.Warn("cache lookup degraded to miss", zap.Error(err))
		return nil, false
	}
	if !found {
		metrics.CacheOperations.WithLabelValues("get", "miss").Inc()
		return nil, false
	}

	metrics.CacheOperations.WithLabelValues("get", "hit").Inc()
	return value, true
}

// Put stores a payload under a fingerprint. Backend failures are swallowed;
// the next identical request simply recomputes.
func (r *ResultStore) Put(ctx context.Context, key string, payload []byte) {
	if r == nil || r.store == nil {
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.store.Set(ctx, key, payload, r.ttl); err != nil {
		metrics.CacheOperations.WithLabelValues("set", "degraded").Inc()
		r.log.Warn("cache store skipped", zap.Error(err))
		return
	}
	metrics.CacheOperations.WithLabelValues("set", "stored").Inc()
}
