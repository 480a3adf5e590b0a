package usage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/relaymesh/gateway/model"
	"github.com/relaymesh/gateway/relay/billing"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:usage_recorder_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.PendingUsage{}, &model.CandidateAttempt{}, &model.MonthlyUsageCounter{}))
	orig := model.DB
	model.DB = db
	t.Cleanup(func() { model.DB = orig })
}

func TestAdmitThenMarkStreamingThenSettle(t *testing.T) {
	setupTestDB(t)
	r := New(billing.New())

	require.NoError(t, r.Admit("req-a", 1, 2, 3, 4, "gpt-4o", []byte(`{}`), "{}"))
	require.NoError(t, r.MarkStreaming("req-a"))

	result, err := r.Settle(Settlement{
		RequestID:     "req-a",
		RequestStatus: model.RequestStatusCompleted,
		Dimensions:    billing.Dimensions{InputTokens: 1000, OutputTokens: 500},
		Tiers:         []model.PricingTier{{InputPricePerMillion: 3, OutputPricePerMillion: 15}},
		Key:           &model.Key{RateMultiplier: 1},
		ScopeIDs:      map[string]int{"user": 1, "key": 2, "provider": 3},
		YearMonth:     "2026-07",
	})
	require.NoError(t, err)
	require.True(t, result.Won)

	var row model.PendingUsage
	require.NoError(t, model.DB.Where("request_id = ?", "req-a").First(&row).Error)
	require.Equal(t, model.BillingStatusSettled, row.BillingStatus)
	require.Greater(t, row.TotalCostUSD, 0.0)

	var counter model.MonthlyUsageCounter
	require.NoError(t, model.DB.Where("scope_type = ? AND scope_id = ?", "user", 1).First(&counter).Error)
	require.Greater(t, counter.UsedUSD, 0.0)
}

func TestVoidLeavesZeroCost(t *testing.T) {
	setupTestDB(t)
	r := New(billing.New())
	require.NoError(t, r.Admit("req-b", 1, 2, 3, 4, "gpt-4o", nil, ""))

	result, err := r.Void("req-b", model.RequestStatusFailed, 502, "upstream_error")
	require.NoError(t, err)
	require.True(t, result.Won)

	var row model.PendingUsage
	require.NoError(t, model.DB.Where("request_id = ?", "req-b").First(&row).Error)
	require.Equal(t, model.BillingStatusVoid, row.BillingStatus)
	require.Zero(t, row.TotalCostUSD)
}

func TestSettleBatchCommitsEveryItem(t *testing.T) {
	setupTestDB(t)
	r := New(billing.New())

	ids := []string{"batch-1", "batch-2", "batch-3"}
	items := make([]Settlement, 0, len(ids))
	for _, id := range ids {
		require.NoError(t, r.Admit(id, 1, 2, 3, 4, "gpt-4o", nil, ""))
		items = append(items, Settlement{
			RequestID:     id,
			RequestStatus: model.RequestStatusCompleted,
			Dimensions:    billing.Dimensions{InputTokens: 100},
			Tiers:         []model.PricingTier{{InputPricePerMillion: 1}},
			Key:           &model.Key{},
		})
	}

	results, err := r.SettleBatch(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, result := range results {
		require.True(t, result.Won)
	}

	var count int64
	require.NoError(t, model.DB.Model(&model.PendingUsage{}).Where("billing_status = ?", model.BillingStatusSettled).Count(&count).Error)
	require.Equal(t, int64(3), count)
}
