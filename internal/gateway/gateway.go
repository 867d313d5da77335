// Package gateway orchestrates one metered inference request: admission
// against the quota ledger, content-addressed cache lookup, a single model
// invocation per distinct request, and bookkeeping for the audit trail and
// monitoring. Words are charged at admission and never refunded.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rewriteguard/rewriteguard/internal/cache"
	"github.com/rewriteguard/rewriteguard/internal/fingerprint"
	"github.com/rewriteguard/rewriteguard/internal/inference"
	"github.com/rewriteguard/rewriteguard/internal/models"
	"github.com/rewriteguard/rewriteguard/internal/monitoring"
	"github.com/rewriteguard/rewriteguard/internal/quota"
	"github.com/rewriteguard/rewriteguard/internal/services"
	apperrors "github.com/rewriteguard/rewriteguard/pkg/errors"
	"github.com/rewriteguard/rewriteguard/pkg/logger"
	"github.com/rewriteguard/rewriteguard/pkg/metrics"
)

// Default per-operation model deadlines. Detection is a lightweight
// classifier; paraphrasing runs a generative model and gets longer.
const (
	DefaultDetectTimeout     = 10 * time.Second
	DefaultParaphraseTimeout = 30 * time.Second
)

// Request is one admitted unit of work. Tier and limit come from the user row
// resolved by the identity middleware.
type Request struct {
	UserID     string
	PlanTier   string
	DailyLimit int64

	Operation inference.Operation
	Text      string
	Params    inference.Params
}

// Response pairs the model result with the metering outcome the client needs
// to display remaining allowance.
type Response struct {
	Result    *inference.Result `json:"result"`
	CacheHit  bool              `json:"cache_hit"`
	WordCount int64             `json:"word_count"`
	Remaining int64             `json:"words_remaining"`
	LatencyMS float64           `json:"latency_ms"`
}

// Gateway wires the ledger, cache, engine and bookkeeping together.
type Gateway struct {
	ledger  *quota.Ledger
	results *cache.ResultStore
	engine  inference.Engine
	jobs    *services.JobService
	monitor *monitoring.Aggregator

	flight singleflight.Group
	log    *zap.Logger

	detectTimeout     time.Duration
	paraphraseTimeout time.Duration
}

// Option tweaks gateway construction.
type Option func(*Gateway)

// WithTimeouts overrides the per-operation model deadlines.
func WithTimeouts(detect, paraphrase time.Duration) Option {
	return func(g *Gateway) {
		if detect > 0 {
			g.detectTimeout = detect
		}
		if paraphrase > 0 {
			g.paraphraseTimeout = paraphrase
		}
	}
}

// New builds a gateway. All collaborators are required except the monitor,
// which may be nil in tests that only exercise the data path.
func New(ledger *quota.Ledger, results *cache.ResultStore, engine inference.Engine, jobs *services.JobService, monitor *monitoring.Aggregator, opts ...Option) (*Gateway, error) {
	if ledger == nil {
		return nil, errors.New("gateway: quota ledger is required")
	}
	if results == nil {
		return nil, errors.New("gateway: result store is required")
	}
	if engine == nil {
		return nil, errors.New("gateway: inference engine is required")
	}
	if jobs == nil {
		return nil, errors.New("gateway: job service is required")
	}

	g := &Gateway{
		ledger:            ledger,
		results:           results,
		engine:            engine,
		jobs:              jobs,
		monitor:           monitor,
		log:               logger.WithModule("gateway"),
		detectTimeout:     DefaultDetectTimeout,
		paraphraseTimeout: DefaultParaphraseTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Process runs one request end to end. The order is fixed: validate, charge
// the ledger, then consult the cache. A cache hit is still charged; identical
// work costs the same whether or not the model ran.
func (g *Gateway) Process(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()

	if !req.Operation.Valid() {
		return nil, apperrors.ErrBadRequest.WithMessage(fmt.Sprintf("unknown operation %q", req.Operation))
	}

	text := fingerprint.Normalize(req.Text)
	words := fingerprint.WordCount(text)
	if words == 0 {
		// Rejected before admission, so nothing is charged.
		return nil, apperrors.ErrBadRequest.WithMessage("text must contain at least one word")
	}

	reservation, err := g.reserve(ctx, req, words)
	if err != nil {
		return nil, err
	}

	key := fingerprint.Key(string(req.Operation), text, req.Params.Mode, req.Params.Temperature, req.Params.MaxLength)

	if result, ok := g.lookup(ctx, key); ok {
		return g.finish(ctx, req, words, reservation, result, true, started, models.JobStatusCacheHit)
	}

	result, err := g.invoke(ctx, req, text, key)
	if err != nil {
		g.recordFailure(ctx, req, words, err, started)
		return nil, err
	}

	// Followers of the in-flight leader did not run the model themselves;
	// their response is served from the leader's result like a cache hit.
	cacheHit := result.shared
	status := models.JobStatusSuccess
	if cacheHit {
		status = models.JobStatusCacheHit
	}
	return g.finish(ctx, req, words, reservation, result.value, cacheHit, started, status)
}

// reserve charges the ledger and maps ledger failures onto the API error
// taxonomy. A full quota is a normal client outcome, not a system error.
func (g *Gateway) reserve(ctx context.Context, req Request, words int64) (*quota.Reservation, error) {
	reservation, err := g.ledger.Reserve(ctx, req.UserID, quota.Today(), words, string(req.Operation), req.PlanTier, quota.LimitFor(req.PlanTier, req.DailyLimit))
	if err == nil {
		return reservation, nil
	}

	var exceeded *quota.QuotaExceededError
	if errors.As(err, &exceeded) {
		return nil, apperrors.ErrQuotaExceeded.
			WithMessage(fmt.Sprintf("daily word limit reached: %d of %d used, %d requested", exceeded.Used, exceeded.Limit, exceeded.Requested)).
			WithInternal(err)
	}

	// The ledger is the source of billing truth. If it cannot answer, the
	// request is refused rather than served unmetered.
	g.log.Error("quota ledger unavailable",
		logger.UserHash(req.UserID),
		zap.String("operation", string(req.Operation)),
		zap.Error(err))
	return nil, apperrors.ErrQuotaStoreUnavailable.WithInternal(err)
}

func (g *Gateway) lookup(ctx context.Context, key string) (*inference.Result, bool) {
	payload, ok := g.results.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var result inference.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		g.log.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &result, true
}

type flightResult struct {
	value  *inference.Result
	shared bool
}

// invoke runs the model at most once per fingerprint. Concurrent identical
// requests wait on the leader's flight instead of racing the engine.
func (g *Gateway) invoke(ctx context.Context, req Request, text, key string) (*flightResult, error) {
	var leader bool
	value, err, shared := g.flight.Do(key, func() (any, error) {
		leader = true
		result, err := g.callEngine(ctx, req.Operation, text, req.Params)
		if err != nil {
			return nil, err
		}
		if payload, merr := json.Marshal(result); merr == nil {
			g.results.Put(ctx, key, payload)
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	// shared is true for every caller of a collapsed flight, the leader
	// included. Only followers were served from someone else's work.
	return &flightResult{value: value.(*inference.Result), shared: shared && !leader}, nil
}

// callEngine applies the per-operation deadline on a context detached from
// the caller's. A client that disconnects must not cancel work that other
// waiters of the same flight depend on.
func (g *Gateway) callEngine(ctx context.Context, op inference.Operation, text string, params inference.Params) (*inference.Result, error) {
	timeout := g.detectTimeout
	if op == inference.OpParaphrase {
		timeout = g.paraphraseTimeout
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	type outcome struct {
		result *inference.Result
		err    error
	}
	// Buffered so a late engine return after the deadline does not leak the
	// goroutine. The late result is dropped, never cached.
	done := make(chan outcome, 1)
	go func() {
		result, err := g.engine.Infer(callCtx, op, text, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return nil, apperrors.ErrInferenceTimeout.WithInternal(out.err)
			}
			return nil, apperrors.ErrInternalServer.
				WithMessage("inference failed").
				WithInternal(out.err)
		}
		return out.result, nil
	case <-callCtx.Done():
		return nil, apperrors.ErrInferenceTimeout.WithInternal(callCtx.Err())
	}
}

// finish records the successful outcome everywhere it is observed: the job
// trail, prometheus, and the in-memory monitor.
func (g *Gateway) finish(ctx context.Context, req Request, words int64, reservation *quota.Reservation, result *inference.Result, cacheHit bool, started time.Time, status string) (*Response, error) {
	latency := float64(time.Since(started).Milliseconds())
	endpoint := string(req.Operation)

	cacheLabel := "miss"
	if cacheHit {
		cacheLabel = "hit"
	}
	metrics.InferenceRequests.WithLabelValues(endpoint, "success", cacheLabel).Inc()
	if req.Operation == inference.OpDetect && result.Label != "" {
		metrics.Classifications.WithLabelValues(result.Label).Inc()
	}

	if g.monitor != nil {
		g.monitor.Record(endpoint, time.Since(started), monitoring.OutcomeSuccess, cacheHit)
		if req.Operation == inference.OpDetect && result.Label != "" {
			g.monitor.RecordClassification(result.Label)
		}
	}

	if err := g.jobs.Record(ctx, services.JobEntry{
		UserID:      req.UserID,
		Operation:   endpoint,
		InputText:   req.Text,
		WordCount:   words,
		Status:      status,
		CacheHit:    cacheHit,
		LatencyMS:   latency,
		TotalTokens: result.TotalTokens,
		Params:      paramsMap(req.Operation, req.Params),
	}); err != nil {
		// The response is already owed to the client; a lost audit row is
		// logged, not surfaced.
		g.log.Error("failed to record job", logger.UserHash(req.UserID), zap.Error(err))
	}

	g.log.Info("request served",
		logger.UserHash(req.UserID),
		zap.String("operation", endpoint),
		zap.Bool("cache_hit", cacheHit),
		zap.Int64("words", words),
		zap.Int64("words_remaining", reservation.WordsRemaining),
		zap.Float64("latency_ms", latency),
		logger.TextPreview(req.Text))

	return &Response{
		Result:    result,
		CacheHit:  cacheHit,
		WordCount: words,
		Remaining: reservation.WordsRemaining,
		LatencyMS: latency,
	}, nil
}

// recordFailure books a timeout or model fault. Reserved words stay spent.
func (g *Gateway) recordFailure(ctx context.Context, req Request, words int64, err error, started time.Time) {
	latency := float64(time.Since(started).Milliseconds())
	endpoint := string(req.Operation)

	status := models.JobStatusError
	outcome := monitoring.OutcomeError
	if errors.Is(err, apperrors.ErrInferenceTimeout) {
		status = models.JobStatusTimeout
		outcome = monitoring.OutcomeTimeout
	}

	metrics.InferenceRequests.WithLabelValues(endpoint, status, "miss").Inc()
	if g.monitor != nil {
		g.monitor.Record(endpoint, time.Since(started), outcome, false)
		g.monitor.RecordError(endpoint, err.Error())
	}

	if jerr := g.jobs.Record(ctx, services.JobEntry{
		UserID:    req.UserID,
		Operation: endpoint,
		InputText: req.Text,
		WordCount: words,
		Status:    status,
		LatencyMS: latency,
		Params:    paramsMap(req.Operation, req.Params),
	}); jerr != nil {
		g.log.Error("failed to record failed job", logger.UserHash(req.UserID), zap.Error(jerr))
	}

	g.log.Warn("request failed",
		logger.UserHash(req.UserID),
		zap.String("operation", endpoint),
		zap.String("status", status),
		zap.Int64("words", words),
		zap.Float64("latency_ms", latency),
		zap.Error(err))
}

func paramsMap(op inference.Operation, params inference.Params) map[string]any {
	if op != inference.OpParaphrase {
		return nil
	}
	return map[string]any{
		"mode":        params.Mode,
		"temperature": params.Temperature,
		"max_length":  params.MaxLength,
	}
}
