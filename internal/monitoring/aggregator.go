// Package monitoring maintains the bounded-memory operational telemetry
// behind the admin dashboard: per-endpoint counters, windowed latency
// percentiles, detection classification tallies and a ring of recent
// errors. Everything lives in fixed-size structures; nothing is persisted.
package monitoring

import (
	"sync"
	"time"
)

// Outcome classifies a finished request.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

const (
	defaultReservoirSize = 256
	defaultErrorRingSize = 100
)

// ErrorEvent is one entry in the operator-facing recent-errors view.
type ErrorEvent struct {
	Endpoint  string    `json:"endpoint"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type endpointStats struct {
	mu        sync.Mutex
	requests  int64
	errors    int64
	timeouts  int64
	cacheHits int64
	latency   *reservoir
}

// Aggregator accepts concurrent writers across all endpoints. The endpoint
// map is guarded by a read-write mutex only for lookup and insert; each
// endpoint carries its own lock, so unrelated endpoints never serialize
// against one another.
type Aggregator struct {
	mu        sync.RWMutex
	endpoints map[string]*endpointStats

	classMu sync.Mutex
	aiCount int64
	humans  int64

	errMu     sync.Mutex
	errRing   []ErrorEvent
	errNext   int
	errFilled bool

	reservoirSize int
	startedAt     time.Time
	now           func() time.Time
}

// Option customises Aggregator construction.
type Option func(*Aggregator)

// WithReservoirSize overrides the per-endpoint latency window size.
func WithReservoirSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.reservoirSize = n
		}
	}
}

// WithErrorRingSize overrides how many recent errors are retained.
func WithErrorRingSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.errRing = make([]ErrorEvent, n)
		}
	}
}

// NewAggregator builds an empty Aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		endpoints:     make(map[string]*endpointStats),
		errRing:       make([]ErrorEvent, defaultErrorRingSize),
		reservoirSize: defaultReservoirSize,
		startedAt:     time.Now(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) endpoint(name string) *endpointStats {
	a.mu.RLock()
	st, ok := a.endpoints[name]
	a.mu.RUnlock()
	if ok {
		return st
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok = a.endpoints[name]; ok {
		return st
	}
	st = &endpointStats{latency: newReservoir(a.reservoirSize)}
	a.endpoints[name] = st
	return st
}

// Record registers one finished request for an endpoint.
func (a *Aggregator) Record(endpoint string, latency time.Duration, outcome Outcome, cacheHit bool) {
	st := a.endpoint(endpoint)

	st.mu.Lock()
	st.requests++
	switch outcome {
	case OutcomeError:
		st.errors++
	case OutcomeTimeout:
		st.timeouts++
	}
	if cacheHit {
		st.cacheHits++
	}
	st.latency.add(float64(latency.Microseconds()) / 1000.0)
	st.mu.Unlock()
}

// RecordClassification tallies a detection label ("ai" or "human")
// independently of latency tracking.
func (a *Aggregator) RecordClassification(label string) {
	a.classMu.Lock()
	defer a.classMu.Unlock()
	switch label {
	case "ai":
		a.aiCount++
	case "human":
		a.humans++
	}
}

// RecordError appends to the bounded recent-errors ring.
func (a *Aggregator) RecordError(endpoint, message string) {
	a.errMu.Lock()
	defer a.errMu.Unlock()

	a.errRing[a.errNext] = ErrorEvent{
		Endpoint:  endpoint,
		Message:   message,
		Timestamp: a.now(),
	}
	a.errNext++
	if a.errNext == len(a.errRing) {
		a.errNext = 0
		a.errFilled = true
	}
}
