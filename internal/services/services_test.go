package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rewriteguard/rewriteguard/internal/database/testutil"
	"github.com/rewriteguard/rewriteguard/internal/models"
)

func TestGetOrCreateProvisionsFreeTier(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewUserService(db)
	require.NoError(t, err)

	user, err := svc.GetOrCreate(context.Background(), "user-abc")
	require.NoError(t, err)
	require.Equal(t, "user-abc", user.ID)
	require.Equal(t, models.PlanFree, user.PlanTier)
	require.False(t, user.IsAdmin)
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewUserService(db)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, "user-abc")
	require.NoError(t, err)

	_, err = svc.SetPlan(ctx, "user-abc", models.PlanPremium)
	require.NoError(t, err)

	// A second resolve returns the stored row, not a fresh free-tier one.
	again, err := svc.GetOrCreate(ctx, "user-abc")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, models.PlanPremium, again.PlanTier)

	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestGetOrCreateRejectsEmptyID(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewUserService(db)
	require.NoError(t, err)

	_, err = svc.GetOrCreate(context.Background(), "   ")
	require.Error(t, err)
}

func TestSetPlanRejectsUnknownTier(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewUserService(db)
	require.NoError(t, err)

	_, err = svc.SetPlan(context.Background(), "user-abc", "enterprise")
	require.ErrorIs(t, err, ErrUnknownTier)
}

func TestJobRecordTruncatesPreview(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewJobService(db)
	require.NoError(t, err)
	ctx := context.Background()

	long := strings.Repeat("word ", 100)
	require.NoError(t, svc.Record(ctx, JobEntry{
		UserID:    "user-abc",
		Operation: "detect",
		InputText: long,
		WordCount: 100,
		Status:    models.JobStatusSuccess,
	}))

	records, err := svc.Recent(ctx, "user-abc", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.LessOrEqual(t, len([]rune(records[0].InputPreview)), previewMaxChars+3)
	require.True(t, strings.HasSuffix(records[0].InputPreview, "..."))
}

func TestJobRecordValidatesRequiredFields(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewJobService(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.Error(t, svc.Record(ctx, JobEntry{Operation: "detect", Status: "success"}))
	require.Error(t, svc.Record(ctx, JobEntry{UserID: "u", Status: "success"}))
	require.Error(t, svc.Record(ctx, JobEntry{UserID: "u", Operation: "detect"}))
}

func TestRecentOrdersNewestFirstAndClampsLimit(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewJobService(db)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		require.NoError(t, svc.Record(ctx, JobEntry{
			UserID:    "user-abc",
			Operation: "detect",
			InputText: "text",
			Status:    models.JobStatusSuccess,
		}))
	}

	records, err := svc.Recent(ctx, "user-abc", 500)
	require.NoError(t, err)
	require.Len(t, records, recentJobsCap)

	// Another user sees nothing.
	records, err = svc.Recent(ctx, "someone-else", 10)
	require.NoError(t, err)
	require.Empty(t, records)
}
