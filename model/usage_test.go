package model

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupUsageTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:usage_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&PendingUsage{}, &CandidateAttempt{}, &MonthlyUsageCounter{}))
	orig := DB
	DB = db
	t.Cleanup(func() { DB = orig })
}

func mustAdmit(t *testing.T, requestID string) {
	t.Helper()
	require.NoError(t, DB.Create(&PendingUsage{
		RequestID:     requestID,
		RequestStatus: RequestStatusPending,
		BillingStatus: BillingStatusPending,
	}).Error)
}

func TestFinalizeSettledWinsOnce(t *testing.T) {
	setupUsageTestDB(t)
	mustAdmit(t, "req-1")

	result, err := FinalizeSettled("req-1", RequestStatusCompleted, 100, 50, 0, 0, 0.01, 0.01, `{"total_cost":0.01}`)
	require.NoError(t, err)
	require.True(t, result.Won)

	var row PendingUsage
	require.NoError(t, DB.Where("request_id = ?", "req-1").First(&row).Error)
	require.Equal(t, BillingStatusSettled, row.BillingStatus)
	require.Equal(t, RequestStatusCompleted, row.RequestStatus)
	require.NotNil(t, row.FinalizedAt)

	// Duplicate finalize is a no-op.
	dup, err := FinalizeVoid("req-1", RequestStatusFailed, 500, "provider_error")
	require.NoError(t, err)
	require.False(t, dup.Won)

	var after PendingUsage
	require.NoError(t, DB.Where("request_id = ?", "req-1").First(&after).Error)
	require.Equal(t, BillingStatusSettled, after.BillingStatus, "duplicate finalize must not flip a settled row to void")
}

func TestFinalizeVoidZeroesCost(t *testing.T) {
	setupUsageTestDB(t)
	mustAdmit(t, "req-2")

	result, err := FinalizeVoid("req-2", RequestStatusFailed, 502, "upstream_error")
	require.NoError(t, err)
	require.True(t, result.Won)

	var row PendingUsage
	require.NoError(t, DB.Where("request_id = ?", "req-2").First(&row).Error)
	require.Equal(t, BillingStatusVoid, row.BillingStatus)
	require.Zero(t, row.TotalCostUSD)
	require.Zero(t, row.ActualTotalCostUSD)
}

func TestFinalizeSubmittedThenAmendAndVoid(t *testing.T) {
	setupUsageTestDB(t)
	mustAdmit(t, "req-3")

	result, err := FinalizeSubmitted("req-3")
	require.NoError(t, err)
	require.True(t, result.Won)

	require.NoError(t, UpdateSettledBilling("req-3", 1.5, 1.5, `{"total_cost":1.5}`))
	var row PendingUsage
	require.NoError(t, DB.Where("request_id = ?", "req-3").First(&row).Error)
	require.Equal(t, 1.5, row.TotalCostUSD)

	require.NoError(t, VoidSettled("req-3"))
	require.NoError(t, DB.Where("request_id = ?", "req-3").First(&row).Error)
	require.Equal(t, BillingStatusVoid, row.BillingStatus)
	require.Zero(t, row.TotalCostUSD)
}

func TestApplyMonthlyDeltaCreatesThenAccumulates(t *testing.T) {
	setupUsageTestDB(t)

	scopes := map[string]int{"user": 1, "key": 2, "provider": 3}
	require.NoError(t, ApplyMonthlyDelta("2026-07", scopes, 0.5))
	require.NoError(t, ApplyMonthlyDelta("2026-07", scopes, 0.25))

	var counter MonthlyUsageCounter
	require.NoError(t, DB.Where("scope_type = ? AND scope_id = ? AND year_month = ?", "user", 1, "2026-07").First(&counter).Error)
	require.InDelta(t, 0.75, counter.UsedUSD, 1e-9)
}
