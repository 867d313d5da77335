package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rewriteguard/rewriteguard/internal/cache"
	"github.com/rewriteguard/rewriteguard/internal/database/testutil"
	"github.com/rewriteguard/rewriteguard/internal/inference"
	"github.com/rewriteguard/rewriteguard/internal/models"
	"github.com/rewriteguard/rewriteguard/internal/monitoring"
	"github.com/rewriteguard/rewriteguard/internal/quota"
	"github.com/rewriteguard/rewriteguard/internal/services"
	apperrors "github.com/rewriteguard/rewriteguard/pkg/errors"
)

// fakeEngine counts invocations and can be slowed down or made to fail.
type fakeEngine struct {
	calls int32
	delay time.Duration
	err   error
}

func (f *fakeEngine) Infer(ctx context.Context, op inference.Operation, text string, params inference.Params) (*inference.Result, error) {
	atomic.AddInt32(&f.calls, 1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	if op == inference.OpDetect {
		return &inference.Result{Label: inference.LabelAI, Probability: 0.91, TotalTokens: 5}, nil
	}
	return &inference.Result{ParaphrasedText: "rewritten " + text, Mode: "standard", TotalTokens: 10}, nil
}

func (f *fakeEngine) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

type fixture struct {
	gw     *Gateway
	db     *gorm.DB
	engine *fakeEngine
	ledger *quota.Ledger
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ledger, err := quota.NewLedger(db)
	require.NoError(t, err)
	jobs, err := services.NewJobService(db)
	require.NoError(t, err)

	engine := &fakeEngine{}
	results := cache.NewResultStore(cache.NewDatabaseStore(db), time.Hour, 0)

	gw, err := New(ledger, results, engine, jobs, monitoring.NewAggregator(), opts...)
	require.NoError(t, err)

	return &fixture{gw: gw, db: db, engine: engine, ledger: ledger}
}

func detectRequest(text string) Request {
	return Request{
		UserID:    "user-1",
		PlanTier:  models.PlanFree,
		Operation: inference.OpDetect,
		Text:      text,
	}
}

func (f *fixture) usedWords(t *testing.T) int64 {
	t.Helper()
	usage, err := f.ledger.UsageFor(context.Background(), "user-1", quota.Today(), models.PlanFree, quota.FreeDailyLimit)
	require.NoError(t, err)
	return usage.WordsUsedToday
}

func (f *fixture) jobStatuses(t *testing.T) []string {
	t.Helper()
	var records []models.JobRecord
	require.NoError(t, f.db.Order("created_at ASC").Find(&records).Error)
	statuses := make([]string, 0, len(records))
	for _, r := range records {
		statuses = append(statuses, r.Status)
	}
	return statuses
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t)

	resp, err := f.gw.Process(context.Background(), detectRequest("the quick brown fox"))
	require.NoError(t, err)
	require.False(t, resp.CacheHit)
	require.Equal(t, int64(4), resp.WordCount)
	require.Equal(t, int64(quota.FreeDailyLimit-4), resp.Remaining)
	require.Equal(t, inference.LabelAI, resp.Result.Label)

	require.Equal(t, int64(4), f.usedWords(t))
	require.Equal(t, []string{models.JobStatusSuccess}, f.jobStatuses(t))
}

func TestProcessServesIdenticalRequestFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.gw.Process(ctx, detectRequest("the quick brown fox"))
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	second, err := f.gw.Process(ctx, detectRequest("the quick brown fox"))
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	require.Equal(t, first.Result.Label, second.Result.Label)

	// The model ran once; both requests were charged.
	require.Equal(t, 1, f.engine.callCount())
	require.Equal(t, int64(8), f.usedWords(t))
}

func TestProcessCacheIsSharedAcrossUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gw.Process(ctx, detectRequest("the quick brown fox"))
	require.NoError(t, err)

	other := detectRequest("the  quick   brown fox") // same text after normalisation
	other.UserID = "user-2"
	resp, err := f.gw.Process(ctx, other)
	require.NoError(t, err)
	require.True(t, resp.CacheHit)
	require.Equal(t, 1, f.engine.callCount())
}

func TestProcessParamsChangeMissesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := Request{
		UserID:    "user-1",
		PlanTier:  models.PlanFree,
		Operation: inference.OpParaphrase,
		Text:      "some text to rewrite",
		Params:    inference.Params{Mode: "formal"},
	}
	_, err := f.gw.Process(ctx, req)
	require.NoError(t, err)

	req.Params.Mode = "casual"
	resp, err := f.gw.Process(ctx, req)
	require.NoError(t, err)
	require.False(t, resp.CacheHit)
	require.Equal(t, 2, f.engine.callCount())
}

func TestProcessRejectsEmptyTextWithoutCharging(t *testing.T) {
	f := newFixture(t)

	_, err := f.gw.Process(context.Background(), detectRequest("   \n\t  "))
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	require.Equal(t, 0, f.engine.callCount())
	require.Equal(t, int64(0), f.usedWords(t))
	require.Empty(t, f.jobStatuses(t))
}

func TestProcessRejectsUnknownOperation(t *testing.T) {
	f := newFixture(t)

	req := detectRequest("text")
	req.Operation = inference.Operation("summarize")
	_, err := f.gw.Process(context.Background(), req)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestProcessQuotaExceededShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gw.Process(ctx, detectRequestWithLimit("one two three", 3))
	require.NoError(t, err)

	_, err = f.gw.Process(ctx, detectRequestWithLimit("one more word now", 3))
	require.ErrorIs(t, err, apperrors.ErrQuotaExceeded)

	var exceeded *quota.QuotaExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, int64(0), exceeded.Remaining)

	// The engine never ran for the rejected request.
	require.Equal(t, 1, f.engine.callCount())
	require.Equal(t, int64(3), f.usedWords(t))
}

func detectRequestWithLimit(text string, limit int64) Request {
	req := detectRequest(text)
	req.DailyLimit = limit
	return req
}

func TestProcessTimeout(t *testing.T) {
	f := newFixture(t, WithTimeouts(30*time.Millisecond, 30*time.Millisecond))
	f.engine.delay = 500 * time.Millisecond

	_, err := f.gw.Process(context.Background(), detectRequest("the quick brown fox"))
	require.ErrorIs(t, err, apperrors.ErrInferenceTimeout)

	// Words stay charged and the failure is recorded.
	require.Equal(t, int64(4), f.usedWords(t))
	require.Equal(t, []string{models.JobStatusTimeout}, f.jobStatuses(t))

	// The late result was never cached: once the engine recovers the same
	// request runs the model again.
	f.engine.delay = 0
	resp, err := f.gw.Process(context.Background(), detectRequest("the quick brown fox"))
	require.NoError(t, err)
	require.False(t, resp.CacheHit)
}

func TestProcessModelFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.err = fmt.Errorf("%w: weights not loaded", inference.ErrModel)

	_, err := f.gw.Process(context.Background(), detectRequest("the quick brown fox"))
	require.ErrorIs(t, err, apperrors.ErrInternalServer)

	require.Equal(t, int64(4), f.usedWords(t))
	require.Equal(t, []string{models.JobStatusError}, f.jobStatuses(t))
}

func TestProcessFailedRequestsAreNotCached(t *testing.T) {
	f := newFixture(t)
	f.engine.err = errors.New("transient fault")

	_, err := f.gw.Process(context.Background(), detectRequest("the quick brown fox"))
	require.Error(t, err)

	f.engine.err = nil
	resp, err := f.gw.Process(context.Background(), detectRequest("the quick brown fox"))
	require.NoError(t, err)
	require.False(t, resp.CacheHit)
	require.Equal(t, 2, f.engine.callCount())
}

func TestProcessDegradedCacheStillServes(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ledger, err := quota.NewLedger(db)
	require.NoError(t, err)
	jobs, err := services.NewJobService(db)
	require.NoError(t, err)

	engine := &fakeEngine{}
	results := cache.NewResultStore(brokenStore{}, time.Hour, 0)

	gw, err := New(ledger, results, engine, jobs, nil)
	require.NoError(t, err)

	// Both calls succeed; with the cache down the model just runs twice.
	for i := 0; i < 2; i++ {
		resp, err := gw.Process(context.Background(), detectRequest("the quick brown fox"))
		require.NoError(t, err)
		require.False(t, resp.CacheHit)
	}
	require.Equal(t, 2, engine.callCount())
}

type brokenStore struct{}

func (brokenStore) IncrementWithTTL(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("cache down")
}
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}
func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}
func (brokenStore) Delete(context.Context, ...string) error {
	return errors.New("cache down")
}

func TestProcessSingleFlightCollapsesConcurrentRequests(t *testing.T) {
	f := newFixture(t)
	f.engine.delay = 50 * time.Millisecond

	const workers = 4
	var wg sync.WaitGroup
	responses := make([]*Response, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := detectRequest("the quick brown fox")
			req.UserID = fmt.Sprintf("user-%d", i)
			responses[i], errs[i] = f.gw.Process(context.Background(), req)
		}(i)
	}
	wg.Wait()

	cacheHits := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, inference.LabelAI, responses[i].Result.Label)
		if responses[i].CacheHit {
			cacheHits++
		}
	}

	// The leader ran the model and reports a miss; everyone else waited on
	// its flight or read the cached result and reports a hit.
	require.Equal(t, 1, f.engine.callCount())
	require.Equal(t, workers-1, cacheHits)

	successes, hits := 0, 0
	for _, status := range f.jobStatuses(t) {
		switch status {
		case models.JobStatusSuccess:
			successes++
		case models.JobStatusCacheHit:
			hits++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, workers-1, hits)
}
