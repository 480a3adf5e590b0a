package pool

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/gateway/coordination"
	"github.com/relaymesh/gateway/model"
	"github.com/relaymesh/gateway/relay/candidate"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(coordination.New(client)), mr
}

func cand(providerID, keyID int, priority int) candidate.Candidate {
	return candidate.Candidate{
		Provider: model.Provider{Id: providerID},
		Key:      model.Key{Id: keyID, Priority: priority},
	}
}

func baseConfig() Config {
	return Config{
		StickyTTL:             time.Minute,
		LRUEnabled:            true,
		CostWindow:            time.Hour,
		CostSoftThresholdPct:  80,
		RateLimitCooldown:     30 * time.Second,
		OverloadCooldown:      time.Minute,
		AuthCooldown:          time.Minute,
		KeyFatalCooldown:      time.Hour,
	}
}

// TestReorderStickySessionPromotesBoundKey is scenario S1: a session bound to a key by a prior
// OnSuccess call must be promoted to the front of a later Reorder for the same session, even when
// LRU would otherwise have ordered it last.
func TestReorderStickySessionPromotesBoundKey(t *testing.T) {
	mgr, _ := newTestManager(t)
	cfg := baseConfig()
	ctx := context.Background()

	candidates := []candidate.Candidate{cand(1, 11, 0), cand(1, 12, 0)}
	mgr.OnSuccess(ctx, 1, 11, "", 50, cfg)
	mgr.OnSuccess(ctx, 1, 12, "", 100, cfg)
	// Bind the session directly so the promotion is exercised independent of whichever key the
	// LRU sort would otherwise have placed first.
	mgr.store.Set(ctx, stickyKey(1, "sess-a"), "12", cfg.StickyTTL)

	ordered, trace := mgr.Reorder(ctx, 1, "sess-a", "", candidates, cfg)
	require.True(t, trace.StickyHit)
	require.Equal(t, 12, ordered[0].Key.Id)
}

// TestReorderCooldownSkipsKeyThenHalfOpenAdmitsProbe is scenario S2: a 429 places a key in
// cooldown so it's skipped entirely while the cooldown TTL is active; once that TTL lapses but the
// half-open window is still armed, exactly one probe is admitted and a second concurrent candidate
// in the same state is held back.
func TestReorderCooldownSkipsKeyThenHalfOpenAdmitsProbe(t *testing.T) {
	mgr, mr := newTestManager(t)
	cfg := baseConfig()
	cfg.HalfOpenProbeTTL = time.Minute
	ctx := context.Background()

	candidates := []candidate.Candidate{cand(1, 11, 0)}
	outcome := mgr.OnError(ctx, 11, 429, 0, "", cfg)
	require.Equal(t, "rate_limited_429", outcome.Reason)
	require.Equal(t, cfg.RateLimitCooldown, outcome.Cooldown)

	_, trace := mgr.Reorder(ctx, 1, "", "", candidates, cfg)
	require.Equal(t, "cooldown", trace.Skipped[11])

	mr.FastForward(cfg.RateLimitCooldown + time.Second)

	ordered, trace2 := mgr.Reorder(ctx, 1, "", "", candidates, cfg)
	require.Len(t, ordered, 1)
	require.Equal(t, []int{11}, trace2.HalfOpenProbe)

	// A second concurrent Reorder call competes for the same claimed probe slot and loses.
	_, trace3 := mgr.Reorder(ctx, 1, "", "", candidates, cfg)
	require.Equal(t, "half_open_wait", trace3.Skipped[11])
}

// TestOnSuccessClosesHalfOpenWindow confirms a successful probe fully closes the circuit rather
// than leaving the half-open window armed for the next request.
func TestOnSuccessClosesHalfOpenWindow(t *testing.T) {
	mgr, mr := newTestManager(t)
	cfg := baseConfig()
	cfg.HalfOpenProbeTTL = time.Minute
	ctx := context.Background()

	mgr.OnError(ctx, 11, 429, 0, "", cfg)
	mr.FastForward(cfg.RateLimitCooldown + time.Second)

	candidates := []candidate.Candidate{cand(1, 11, 0)}
	_, trace := mgr.Reorder(ctx, 1, "", "", candidates, cfg)
	require.Equal(t, []int{11}, trace.HalfOpenProbe)

	mgr.OnSuccess(ctx, 1, 11, "", 10, cfg)

	_, trace2 := mgr.Reorder(ctx, 1, "", "", candidates, cfg)
	require.Empty(t, trace2.Skipped)
	require.Empty(t, trace2.HalfOpenProbe)
}

// TestReorderCostExhaustedSkipsKey is scenario S4's hard-limit edge: a key whose cost window sum
// has already reached its token limit is skipped outright.
func TestReorderCostExhaustedSkipsKey(t *testing.T) {
	mgr, _ := newTestManager(t)
	cfg := baseConfig()
	cfg.CostLimitPerKeyTokens = 100
	ctx := context.Background()

	mgr.OnSuccess(ctx, 1, 11, "", 100, cfg)

	candidates := []candidate.Candidate{cand(1, 11, 0)}
	ordered, trace := mgr.Reorder(ctx, 1, "", "", candidates, cfg)
	require.Empty(t, ordered)
	require.Equal(t, "cost_exhausted", trace.Skipped[11])
}

// TestReorderCostSoftThresholdPenalizesButDoesNotSkip is scenario S4's soft-threshold case: a key
// past the soft percentage is deprioritized (sorted after keys not yet at the threshold) but still
// usable, never skipped.
func TestReorderCostSoftThresholdPenalizesButDoesNotSkip(t *testing.T) {
	mgr, _ := newTestManager(t)
	cfg := baseConfig()
	cfg.CostLimitPerKeyTokens = 100
	cfg.CostSoftThresholdPct = 80
	ctx := context.Background()

	mgr.OnSuccess(ctx, 1, 11, "", 85, cfg) // past the 80% soft threshold
	mgr.OnSuccess(ctx, 1, 12, "", 10, cfg) // well under

	candidates := []candidate.Candidate{cand(1, 11, 0), cand(1, 12, 0)}
	ordered, trace := mgr.Reorder(ctx, 1, "", "", candidates, cfg)
	require.Len(t, ordered, 2)
	require.Empty(t, trace.Skipped)
	require.Equal(t, []int{11}, trace.SoftPenalized)
	require.Equal(t, 12, ordered[0].Key.Id) // non-penalized key sorts first
	require.Equal(t, 11, ordered[1].Key.Id)
}

// TestReorderDegradesToPriorityOrderWhenStoreNil confirms a nil store (Redis never configured)
// preserves the incoming candidate order rather than blocking or panicking.
func TestReorderDegradesToPriorityOrderWhenStoreNil(t *testing.T) {
	mgr := New(nil)
	candidates := []candidate.Candidate{cand(1, 11, 0), cand(1, 12, 0)}
	ordered, trace := mgr.Reorder(context.Background(), 1, "", "", candidates, baseConfig())
	require.True(t, trace.DegradedToPriority)
	require.Equal(t, candidates, ordered)
}

// TestReorderBeforeSelectStrategyVetoesCandidate exercises the §4.5.1 step 6 strategy-hook
// extension point added to supplement the original's registered-strategy-hook pattern.
type vetoStrategy struct{ vetoKeyID int }

func (vetoStrategy) Name() string { return "veto" }
func (v vetoStrategy) BeforeSelect(_ context.Context, _ int, c candidate.Candidate) (bool, string) {
	if c.Key.Id == v.vetoKeyID {
		return true, "vetoed_by_strategy"
	}
	return false, ""
}

func TestReorderBeforeSelectStrategyVetoesCandidate(t *testing.T) {
	mgr, _ := newTestManager(t)
	cfg := baseConfig()
	cfg.Strategies = []Strategy{vetoStrategy{vetoKeyID: 11}}
	ctx := context.Background()

	candidates := []candidate.Candidate{cand(1, 11, 0), cand(1, 12, 0)}
	ordered, trace := mgr.Reorder(ctx, 1, "", "", candidates, cfg)
	require.Len(t, ordered, 1)
	require.Equal(t, 12, ordered[0].Key.Id)
	require.Equal(t, "vetoed_by_strategy", trace.Skipped[11])
}

// scoreOverrideStrategy forces every candidate's sort score to its key ID's negation, inverting
// the default ascending-LRU order, to prove ComputeScore is actually consulted.
type scoreOverrideStrategy struct{}

func (scoreOverrideStrategy) Name() string { return "score_override" }
func (scoreOverrideStrategy) ComputeScore(_ context.Context, _ int, c candidate.Candidate, _ float64) float64 {
	return float64(-c.Key.Id)
}

func TestReorderScoreComputerStrategyOverridesSortKey(t *testing.T) {
	mgr, _ := newTestManager(t)
	cfg := baseConfig()
	cfg.Strategies = []Strategy{scoreOverrideStrategy{}}
	ctx := context.Background()

	candidates := []candidate.Candidate{cand(1, 11, 0), cand(1, 12, 0)}
	ordered, _ := mgr.Reorder(ctx, 1, "", "", candidates, cfg)
	require.Equal(t, 12, ordered[0].Key.Id) // -12 < -11, so key 12 sorts first under the override
}

// afterSelectRecorder records the ordered candidate list it was handed, to prove AfterSelect runs
// once Reorder has finished all promotion/sorting.
type afterSelectRecorder struct{ seen *[]int }

func (afterSelectRecorder) Name() string { return "after_select_recorder" }
func (r afterSelectRecorder) AfterSelect(_ context.Context, _ int, ordered []candidate.Candidate) {
	for _, c := range ordered {
		*r.seen = append(*r.seen, c.Key.Id)
	}
}

func TestReorderAfterSelectStrategyObservesFinalOrder(t *testing.T) {
	mgr, _ := newTestManager(t)
	var seen []int
	cfg := baseConfig()
	cfg.Strategies = []Strategy{afterSelectRecorder{seen: &seen}}
	ctx := context.Background()

	candidates := []candidate.Candidate{cand(1, 11, 0), cand(1, 12, 0)}
	ordered, _ := mgr.Reorder(ctx, 1, "", "", candidates, cfg)
	require.Equal(t, []int{ordered[0].Key.Id, ordered[1].Key.Id}, seen)
}

func TestRegisterStrategyAndNamedStrategyRoundTrip(t *testing.T) {
	RegisterStrategy(vetoStrategy{vetoKeyID: 99})
	s, ok := NamedStrategy("veto")
	require.True(t, ok)
	require.Equal(t, "veto", s.Name())

	_, ok = NamedStrategy("does_not_exist")
	require.False(t, ok)
}

func TestOnErrorClassifiesStatusCodes(t *testing.T) {
	mgr, _ := newTestManager(t)
	cfg := baseConfig()
	ctx := context.Background()

	outcome := mgr.OnError(ctx, 1, 401, 0, "", cfg)
	require.Equal(t, "auth_failed_401", outcome.Reason)
	require.Equal(t, cfg.AuthCooldown, outcome.Cooldown)

	outcome = mgr.OnError(ctx, 2, 529, 0, "", cfg)
	require.Equal(t, "overloaded_529", outcome.Reason)
	require.Equal(t, cfg.OverloadCooldown, outcome.Cooldown)

	outcome = mgr.OnError(ctx, 3, 400, 0, "your account has been disabled", cfg)
	require.Contains(t, outcome.Reason, "account_disabled_400")
	require.Equal(t, cfg.KeyFatalCooldown, outcome.Cooldown)

	outcome = mgr.OnError(ctx, 4, 400, 0, "bad request", cfg)
	require.Empty(t, outcome.Reason)
	require.Zero(t, outcome.Cooldown)
}

func TestOnErrorUnschedulableRuleMatchesBodyKeyword(t *testing.T) {
	mgr, _ := newTestManager(t)
	cfg := baseConfig()
	cfg.UnschedulableRules = []UnschedulableRule{{Keyword: "quota exceeded", CooldownMinutes: 5, Reason: "quota"}}
	ctx := context.Background()

	outcome := mgr.OnError(ctx, 1, 500, 0, "Error: Quota Exceeded for this billing period", cfg)
	require.Equal(t, "keyword:quota exceeded", outcome.Reason)
	require.Equal(t, 5*time.Minute, outcome.Cooldown)
}

func TestAdmitSessionRejectsOverConcurrencyLimit(t *testing.T) {
	mgr, _ := newTestManager(t)
	cfg := baseConfig()
	cfg.MaxSessionsPerScope = 1
	cfg.SessionIdleTimeout = time.Hour
	ctx := context.Background()

	_, _, err := mgr.AdmitSession(ctx, "tenant-a", "user_session_aaaa", cfg)
	require.NoError(t, err)

	_, _, err = mgr.AdmitSession(ctx, "tenant-a", "user_session_bbbb", cfg)
	require.Error(t, err)
}

func TestAdmitSessionMasksSessionIDStably(t *testing.T) {
	mgr, _ := newTestManager(t)
	cfg := baseConfig()
	cfg.MaxSessionsPerScope = 10
	cfg.SessionIdleTimeout = time.Hour
	cfg.MaskSessionIDs = true
	ctx := context.Background()

	_, masked1, err := mgr.AdmitSession(ctx, "tenant-a", "user_session_cccc", cfg)
	require.NoError(t, err)
	require.NotEqual(t, "cccc", masked1)

	_, masked2, err := mgr.AdmitSession(ctx, "tenant-a", "user_session_cccc", cfg)
	require.NoError(t, err)
	require.Equal(t, masked1, masked2)
}

func TestRecordStreamTimeoutTriggersCooldownAtThreshold(t *testing.T) {
	mgr, _ := newTestManager(t)
	cfg := baseConfig()
	ctx := context.Background()

	require.False(t, mgr.RecordStreamTimeout(ctx, 11, 3, time.Minute, cfg))
	require.False(t, mgr.RecordStreamTimeout(ctx, 11, 3, time.Minute, cfg))
	require.True(t, mgr.RecordStreamTimeout(ctx, 11, 3, time.Minute, cfg))

	ttl, ok := mgr.store.TTL(ctx, cooldownKey(11))
	require.True(t, ok)
	require.Greater(t, ttl, time.Duration(0))
}
