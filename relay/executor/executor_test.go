package executor

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/relaymesh/gateway/credential"
	"github.com/relaymesh/gateway/model"
	"github.com/relaymesh/gateway/relay/billing"
	"github.com/relaymesh/gateway/relay/candidate"
	"github.com/relaymesh/gateway/relay/format"
	"github.com/relaymesh/gateway/relay/pool"
	"github.com/relaymesh/gateway/relay/usage"
)

func setupExecutorTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.PendingUsage{}, &model.CandidateAttempt{}, &model.MonthlyUsageCounter{}))
	model.DB = db

	store, err := credential.NewStore("01234567890123456789012345678901")
	require.NoError(t, err)
	credential.Default = store
}

func claudeCandidate(t *testing.T, baseURL string) candidate.Candidate {
	t.Helper()
	secret, err := credential.Encrypt("sk-test-secret")
	require.NoError(t, err)
	return candidate.Candidate{
		Provider: model.Provider{Id: 1, Kind: model.ProviderKindClaude, Enabled: true},
		Endpoint: model.Endpoint{Id: 1, BaseURL: baseURL, Enabled: true},
		Key:      model.Key{Id: 1, Status: model.KeyStatusEnabled, EncryptedSecret: secret},
	}
}

const claudeStreamBody = "event: message_start\n" +
	"data: {\"message\":{\"id\":\"msg_1\",\"usage\":{\"input_tokens\":10}}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"delta\":{\"text\":\"hi\"}}\n\n" +
	"event: message_delta\n" +
	"data: {\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":5}}\n\n" +
	"event: message_stop\n" +
	"data: {}\n\n"

func TestExecuteSucceedsOnFirstCandidate(t *testing.T) {
	setupExecutorTestDB(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(claudeStreamBody))
	}))
	defer upstream.Close()

	require.NoError(t, usage.New(billing.New()).Admit("req-1", 0, 1, 1, 1, "claude-3", nil, ""))

	e := New(format.NewRegistry(), pool.New(nil), usage.New(billing.New()))
	candidates := []candidate.Candidate{claudeCandidate(t, upstream.URL)}

	req := Request{
		RequestID:       "req-1",
		ClientDialect:   format.ClaudeChat,
		Body:            []byte(`{"model":"claude-3","messages":[]}`),
		Stream:          true,
		GlobalModelName: "claude-3",
	}
	var out bytes.Buffer
	outcome := e.Execute(context.Background(), req, &out, candidates, pool.Config{})

	require.True(t, outcome.Success)
	require.True(t, outcome.BytesForwarded)
	require.Equal(t, claudeStreamBody, out.String())

	var row model.PendingUsage
	require.NoError(t, model.DB.Where("request_id = ?", "req-1").First(&row).Error)
	require.Equal(t, model.BillingStatusSettled, row.BillingStatus)
	require.Equal(t, int64(10), row.InputTokens)
	require.Equal(t, int64(5), row.OutputTokens)

	var attempts []model.CandidateAttempt
	require.NoError(t, model.DB.Where("request_id = ?", "req-1").Find(&attempts).Error)
	require.Len(t, attempts, 1)
	require.Equal(t, model.CandidateAttemptSuccess, attempts[0].Status)
}

func TestExecuteAdvancesPastFailedCandidate(t *testing.T) {
	setupExecutorTestDB(t)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer failing.Close()

	succeeding := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(claudeStreamBody))
	}))
	defer succeeding.Close()

	require.NoError(t, usage.New(billing.New()).Admit("req-2", 0, 1, 1, 1, "claude-3", nil, ""))

	e := New(format.NewRegistry(), pool.New(nil), usage.New(billing.New()))
	first := claudeCandidate(t, failing.URL)
	first.Key.Id = 2
	second := claudeCandidate(t, succeeding.URL)
	second.Key.Id = 3
	candidates := []candidate.Candidate{first, second}

	req := Request{
		RequestID:       "req-2",
		ClientDialect:   format.ClaudeChat,
		Body:            []byte(`{"model":"claude-3","messages":[]}`),
		Stream:          true,
		GlobalModelName: "claude-3",
	}
	var out bytes.Buffer
	outcome := e.Execute(context.Background(), req, &out, candidates, pool.Config{})

	require.True(t, outcome.Success)
	require.Equal(t, 3, outcome.Candidate.Key.Id)

	var attempts []model.CandidateAttempt
	require.NoError(t, model.DB.Where("request_id = ?", "req-2").Order("candidate_index").Find(&attempts).Error)
	require.Len(t, attempts, 2)
	require.Equal(t, model.CandidateAttemptFailed, attempts[0].Status)
	require.Equal(t, model.CandidateAttemptSuccess, attempts[1].Status)
}

func TestExecuteVoidsOnClientFatal(t *testing.T) {
	setupExecutorTestDB(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid request"}`))
	}))
	defer upstream.Close()

	require.NoError(t, usage.New(billing.New()).Admit("req-3", 0, 1, 1, 1, "claude-3", nil, ""))

	e := New(format.NewRegistry(), pool.New(nil), usage.New(billing.New()))
	candidates := []candidate.Candidate{claudeCandidate(t, upstream.URL)}

	req := Request{
		RequestID:       "req-3",
		ClientDialect:   format.ClaudeChat,
		Body:            []byte(`{"model":"claude-3","messages":[]}`),
		GlobalModelName: "claude-3",
	}
	var out bytes.Buffer
	outcome := e.Execute(context.Background(), req, &out, candidates, pool.Config{})

	require.False(t, outcome.Success)
	require.NotNil(t, outcome.Err)

	var row model.PendingUsage
	require.NoError(t, model.DB.Where("request_id = ?", "req-3").First(&row).Error)
	require.Equal(t, model.BillingStatusVoid, row.BillingStatus)
	require.Equal(t, 0.0, row.ActualTotalCostUSD)
}
