package quota

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rewriteguard/rewriteguard/internal/database/testutil"
	"github.com/rewriteguard/rewriteguard/internal/models"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ledger, err := NewLedger(db)
	require.NoError(t, err)
	return ledger
}

func TestReserveAdmitsWithinLimit(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	res, err := ledger.Reserve(ctx, "user-1", "2026-08-28", 600, OpDetect, models.PlanFree, FreeDailyLimit)
	require.NoError(t, err)
	require.Equal(t, int64(600), res.WordsReserved)
	require.Equal(t, int64(400), res.WordsRemaining)
	require.Equal(t, int64(600), res.TotalUsed)
}

func TestReserveRejectsWhenLimitWouldBeExceeded(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	day := "2026-08-28"

	_, err := ledger.Reserve(ctx, "user-1", day, 600, OpDetect, models.PlanFree, FreeDailyLimit)
	require.NoError(t, err)

	// 600 used, 800 requested: 1400 > 1000 so the request is refused and
	// nothing is charged.
	_, err = ledger.Reserve(ctx, "user-1", day, 800, OpParaphrase, models.PlanFree, FreeDailyLimit)
	require.Error(t, err)
	require.True(t, IsQuotaExceeded(err))

	var exceeded *QuotaExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, int64(600), exceeded.Used)
	require.Equal(t, int64(800), exceeded.Requested)
	require.Equal(t, int64(400), exceeded.Remaining)

	// A smaller request that fits the remaining balance is still admitted.
	res, err := ledger.Reserve(ctx, "user-1", day, 300, OpParaphrase, models.PlanFree, FreeDailyLimit)
	require.NoError(t, err)
	require.Equal(t, int64(900), res.TotalUsed)
	require.Equal(t, int64(100), res.WordsRemaining)
}

func TestReserveAdmitsExactlyToTheLimit(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	day := "2026-08-28"

	res, err := ledger.Reserve(ctx, "user-1", day, FreeDailyLimit, OpDetect, models.PlanFree, FreeDailyLimit)
	require.NoError(t, err)
	require.Equal(t, int64(0), res.WordsRemaining)

	_, err = ledger.Reserve(ctx, "user-1", day, 1, OpDetect, models.PlanFree, FreeDailyLimit)
	require.True(t, IsQuotaExceeded(err))
}

func TestReserveRejectsOversizedSingleRequest(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.Reserve(context.Background(), "user-1", "2026-08-28", FreeDailyLimit+1, OpDetect, models.PlanFree, FreeDailyLimit)
	require.True(t, IsQuotaExceeded(err))

	var exceeded *QuotaExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, int64(0), exceeded.Used)
	require.Equal(t, int64(FreeDailyLimit), exceeded.Remaining)
}

func TestReserveValidatesInput(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, "", "2026-08-28", 10, OpDetect, models.PlanFree, FreeDailyLimit)
	require.Error(t, err)

	_, err = ledger.Reserve(ctx, "user-1", "2026-08-28", 0, OpDetect, models.PlanFree, FreeDailyLimit)
	require.Error(t, err)

	_, err = ledger.Reserve(ctx, "user-1", "2026-08-28", 10, "translate", models.PlanFree, FreeDailyLimit)
	require.Error(t, err)
}

func TestReserveTracksOperationsSeparately(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	day := "2026-08-28"

	_, err := ledger.Reserve(ctx, "user-1", day, 100, OpDetect, models.PlanFree, FreeDailyLimit)
	require.NoError(t, err)
	_, err = ledger.Reserve(ctx, "user-1", day, 250, OpParaphrase, models.PlanFree, FreeDailyLimit)
	require.NoError(t, err)

	usage, err := ledger.UsageFor(ctx, "user-1", day, models.PlanFree, FreeDailyLimit)
	require.NoError(t, err)
	require.Equal(t, int64(100), usage.WordsDetect)
	require.Equal(t, int64(250), usage.WordsParaphrase)
	require.Equal(t, int64(350), usage.WordsUsedToday)
	require.Equal(t, int64(650), usage.WordsRemaining)
	require.InDelta(t, 35.0, usage.PercentageUsed, 0.01)
}

func TestReserveIsolatesUsersAndDays(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, "user-1", "2026-08-28", FreeDailyLimit, OpDetect, models.PlanFree, FreeDailyLimit)
	require.NoError(t, err)

	// Another user is unaffected.
	_, err = ledger.Reserve(ctx, "user-2", "2026-08-28", 500, OpDetect, models.PlanFree, FreeDailyLimit)
	require.NoError(t, err)

	// The same user starts fresh on the next date.
	res, err := ledger.Reserve(ctx, "user-1", "2026-08-29", 500, OpDetect, models.PlanFree, FreeDailyLimit)
	require.NoError(t, err)
	require.Equal(t, int64(500), res.WordsRemaining)
}

func TestUsageForWithoutActivity(t *testing.T) {
	ledger := newTestLedger(t)

	usage, err := ledger.UsageFor(context.Background(), "ghost", "2026-08-28", models.PlanFree, FreeDailyLimit)
	require.NoError(t, err)
	require.Equal(t, int64(0), usage.WordsUsedToday)
	require.Equal(t, int64(FreeDailyLimit), usage.WordsRemaining)
	require.Equal(t, float64(0), usage.PercentageUsed)
}

func TestConcurrentReservationsNeverOverrun(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	// SQLite serialises writers anyway; capping the pool at one connection
	// keeps the concurrency pressure on the ledger, not the driver.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ledger, err := NewLedger(db)
	require.NoError(t, err)

	ctx := context.Background()
	day := "2026-08-28"

	const (
		workers = 20
		words   = 100
	)
	// With a 1000-word limit exactly 10 of the 20 requests can be admitted.
	var wg sync.WaitGroup
	admitted := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Reserve(ctx, "user-1", day, words, OpDetect, models.PlanFree, FreeDailyLimit); err == nil {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	require.Equal(t, 10, count)

	usage, err := ledger.UsageFor(ctx, "user-1", day, models.PlanFree, FreeDailyLimit)
	require.NoError(t, err)
	require.Equal(t, int64(FreeDailyLimit), usage.WordsUsedToday)
}

func TestPlanLimits(t *testing.T) {
	require.Equal(t, int64(FreeDailyLimit), LimitFor(models.PlanFree, 0))
	require.Equal(t, int64(PremiumDailyLimit), LimitFor(models.PlanPremium, 0))
	// A per-user override wins over the tier default.
	require.Equal(t, int64(5000), LimitFor(models.PlanFree, 5000))
	// Unknown tiers fall back to the free allowance.
	require.Equal(t, int64(FreeDailyLimit), LimitFor("enterprise", 0))
}
