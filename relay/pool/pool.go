// Package pool implements the per-Provider Pool Manager (§4.5): sticky sessions, LRU, a cost
// sliding window, cooldowns, and Claude-code session-count admission, all backed by the
// coordination store and degrading to priority-only ordering when that store is unreachable.
package pool

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/gateway/common/config"
	"github.com/relaymesh/gateway/common/dispatcherr"
	"github.com/relaymesh/gateway/coordination"
	"github.com/relaymesh/gateway/model"
	"github.com/relaymesh/gateway/monitor"
	"github.com/relaymesh/gateway/relay/candidate"
)

// Config mirrors the PoolConfig of §6.2, resolved from common/config defaults or a per-provider
// override.
type Config struct {
	StickyTTL              time.Duration
	LRUEnabled             bool
	CostWindow             time.Duration
	CostLimitPerKeyTokens  int64 // 0 = unlimited
	CostSoftThresholdPct   int
	RateLimitCooldown      time.Duration
	OverloadCooldown       time.Duration
	AuthCooldown           time.Duration
	KeyFatalCooldown       time.Duration
	MaxSessionsPerScope    int
	SessionIdleTimeout     time.Duration
	MaskSessionIDs         bool
	NormalizeCacheControl  bool
	UnschedulableRules     []UnschedulableRule
	// HalfOpenProbeTTL bounds how long a single probe claim is held once a cooldown's TTL has
	// expired (§4.5.1 step 6 / GLOSSARY "Half-open"); 0 disables half-open probing entirely, so a
	// key returns directly to fully schedulable once its cooldown TTL lapses.
	HalfOpenProbeTTL time.Duration
	// Strategies are optionally-implemented plugins consulted during Reorder/OnSuccess, run in
	// the order given. A strategy that implements none of BeforeSelecter/ScoreComputer/
	// AfterSelecter is accepted but never invoked.
	Strategies []Strategy
}

// ConfigFromEnv resolves a Config from the common/config package's Pool* defaults/env
// overrides. rules is the operator-configured keyword -> cooldown table (§4.5.2's last row);
// it has no environment-variable form since it is a list, so callers load it from wherever
// per-deployment policy lives (today: none wired, so this is always nil at the top level).
func ConfigFromEnv(rules []UnschedulableRule) Config {
	return Config{
		StickyTTL:             time.Duration(config.PoolStickyTTLSec) * time.Second,
		LRUEnabled:            config.PoolLRUEnabled,
		CostWindow:            time.Duration(config.PoolCostWindowSec) * time.Second,
		CostLimitPerKeyTokens: int64(config.PoolCostLimitPerKeyTokens),
		CostSoftThresholdPct:  config.PoolCostSoftThresholdPct,
		RateLimitCooldown:     time.Duration(config.PoolRateLimitCooldownSec) * time.Second,
		OverloadCooldown:      time.Duration(config.PoolOverloadCooldownSec) * time.Second,
		AuthCooldown:          time.Duration(config.PoolAuthCooldownSec) * time.Second,
		KeyFatalCooldown:      time.Duration(config.PoolKeyFatalCooldownSec) * time.Second,
		MaxSessionsPerScope:   config.PoolMaxSessionsPerScope,
		SessionIdleTimeout:    time.Duration(config.PoolSessionIdleTimeoutMinutes) * time.Minute,
		MaskSessionIDs:        config.PoolMaskSessionIDs,
		NormalizeCacheControl: config.PoolNormalizeCacheControlTTL,
		UnschedulableRules:    rules,
		HalfOpenProbeTTL:      time.Duration(config.PoolHalfOpenProbeTTLSec) * time.Second,
	}
}

// UnschedulableRule matches a response body keyword to a configured cooldown duration (§4.5.2,
// last row of the table: "Any status whose decoded body contains a configured keyword").
type UnschedulableRule struct {
	Keyword         string
	CooldownMinutes int
	Reason          string
}

// Strategy is a pluggable reordering extension (§4.5.1 step 6), grounded on the original
// implementation's registered-strategy-hook pattern (a Protocol + name-keyed registry in
// src/services/provider/pool/strategy.py). Go has no structural-typing Protocol, so a Strategy
// implements whichever of BeforeSelecter/ScoreComputer/AfterSelecter it needs -- the same
// optional-interface idiom as io.Closer/http.Flusher -- and Reorder type-asserts rather than
// calling three always-present methods. Implementations must not block on the coordination store.
type Strategy interface {
	// Name identifies the strategy for the registry and for Trace/log output.
	Name() string
}

// BeforeSelecter runs before cooldown/cost/LRU classification, and may veto a candidate by
// returning skip=true (skipReason is recorded in Trace.Skipped).
type BeforeSelecter interface {
	Strategy
	BeforeSelect(ctx context.Context, providerID int, c candidate.Candidate) (skip bool, skipReason string)
}

// ScoreComputer overrides a candidate's LRU-ascending sort key; a lower score sorts earlier.
// Only consulted when cfg.LRUEnabled is true.
type ScoreComputer interface {
	Strategy
	ComputeScore(ctx context.Context, providerID int, c candidate.Candidate, defaultScore float64) float64
}

// AfterSelecter observes the final reordered candidate list once sticky/affinity promotion has
// been applied, for metrics or side-channel bookkeeping; it cannot alter the order.
type AfterSelecter interface {
	Strategy
	AfterSelect(ctx context.Context, providerID int, ordered []candidate.Candidate)
}

var (
	strategyRegistryMu sync.Mutex
	strategyRegistry   = map[string]Strategy{}
)

// RegisterStrategy adds (or replaces) a named Strategy in the process-wide registry, mirroring
// the original's register_pool_strategy/get_pool_strategy global table. Safe for concurrent use.
func RegisterStrategy(s Strategy) {
	strategyRegistryMu.Lock()
	defer strategyRegistryMu.Unlock()
	strategyRegistry[s.Name()] = s
}

// NamedStrategy looks up a previously registered Strategy by name.
func NamedStrategy(name string) (Strategy, bool) {
	strategyRegistryMu.Lock()
	defer strategyRegistryMu.Unlock()
	s, ok := strategyRegistry[name]
	return s, ok
}

// Manager drives the reordering algorithm and post-request hooks for one coordination Store.
type Manager struct {
	store *coordination.Store
}

// New builds a Manager over store. store may be nil (degraded mode throughout).
func New(store *coordination.Store) *Manager {
	return &Manager{store: store}
}

func streamTimeoutKey(keyID int) string { return fmt.Sprintf("stream_timeout:%d", keyID) }

func stickyKey(providerID int, sessionUUID string) string {
	return fmt.Sprintf("sticky:%d:%s", providerID, sessionUUID)
}
func cooldownKey(keyID int) string   { return fmt.Sprintf("cooldown:%d", keyID) }
func lruKey(providerID int) string   { return fmt.Sprintf("lru:%d", providerID) }
func costKey(keyID int) string       { return fmt.Sprintf("cost:%d", keyID) }
func oauthCacheKey(keyID int) string { return fmt.Sprintf("oauth_cache:%d", keyID) }
func affinityKey(fingerprint string) string {
	return fmt.Sprintf("affinity:%s", fingerprint)
}
func sessionScopeKey(providerID int) string { return fmt.Sprintf("sessions:%d", providerID) }
func maskedSessionKey(scope, sessionID string) string {
	return fmt.Sprintf("session_mask:%s:%s", scope, sessionID)
}

// Trace records why the reorder algorithm did what it did, for observability.
type Trace struct {
	StickyHit         bool
	AffinityHit       bool
	Skipped           map[int]string // key id -> reason
	SoftPenalized     []int
	DegradedToPriority bool
	// HalfOpenProbe lists key IDs admitted as a half-open probe despite an active cooldown TTL.
	HalfOpenProbe []int
}

// Reorder implements §4.5.1: sticky promotion, cooldown/cost/LRU lookups, skip/soft-penalty
// classification, then an LRU-ascending sort with random tie-break. The lookups are not batched:
// each candidate costs one store call per lookup. requestFingerprint
// enables the cache-affinity hint (§9 open question) when non-empty.
func (m *Manager) Reorder(ctx context.Context, providerID int, sessionUUID, requestFingerprint string, candidates []candidate.Candidate, cfg Config) ([]candidate.Candidate, Trace) {
	trace := Trace{Skipped: map[int]string{}}
	usable := candidate.Usable(candidates)
	if len(usable) == 0 {
		return usable, trace
	}

	if m.store == nil {
		trace.DegradedToPriority = true
		return usable, trace
	}

	now := time.Now()
	type scored struct {
		c     candidate.Candidate
		score float64
		soft  bool
	}
	items := make([]scored, 0, len(usable))

	for _, c := range usable {
		if skip, reason := runBeforeSelect(ctx, providerID, c, cfg.Strategies); skip {
			trace.Skipped[c.Key.Id] = reason
			continue
		}

		cooldownTTL, cdOK := m.store.TTL(ctx, cooldownKey(c.Key.Id))
		if cdOK && cooldownTTL > 0 {
			trace.Skipped[c.Key.Id] = "cooldown"
			continue
		}
		if windowTTL, wOK := m.store.TTL(ctx, halfOpenWindowKey(c.Key.Id)); wOK && windowTTL > 0 {
			if !m.claimHalfOpenProbe(ctx, c.Key.Id, cfg) {
				trace.Skipped[c.Key.Id] = "half_open_wait"
				continue
			}
			trace.HalfOpenProbe = append(trace.HalfOpenProbe, c.Key.Id)
		}

		limit := cfg.CostLimitPerKeyTokens
		if c.Key.CostLimitTokens > 0 {
			limit = c.Key.CostLimitTokens
		}
		var total int64
		var costOK bool
		if limit > 0 {
			total, costOK = m.store.ZSum(ctx, costKey(c.Key.Id), now.Add(-cfg.CostWindow), now)
			if costOK && total >= limit {
				trace.Skipped[c.Key.Id] = "cost_exhausted"
				monitor.CandidatesSkipped.WithLabelValues("cost_exhausted").Inc()
				continue
			}
		}

		score, lruOK := m.store.ZScore(ctx, lruKey(providerID), strconv.Itoa(c.Key.Id))
		if !lruOK {
			score = float64(now.Unix()) // unseen key sorts as if just used -- neutral, not preferred
		}
		score = runComputeScore(ctx, providerID, c, score, cfg.Strategies)

		soft := limit > 0 && costOK && cfg.CostSoftThresholdPct > 0 &&
			total*100 >= limit*int64(cfg.CostSoftThresholdPct)
		if soft {
			trace.SoftPenalized = append(trace.SoftPenalized, c.Key.Id)
		}
		items = append(items, scored{c: c, score: score, soft: soft})
	}

	if !cfg.LRUEnabled {
		// Preserve incoming (priority) order, only applying skip/soft classification above.
		out := make([]candidate.Candidate, 0, len(items))
		var softItems []candidate.Candidate
		for _, it := range items {
			if it.soft {
				softItems = append(softItems, it.c)
				continue
			}
			out = append(out, it.c)
		}
		out = append(out, softItems...)
		usable = out
	} else {
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].soft != items[j].soft {
				return !items[i].soft // non-soft first
			}
			if items[i].score != items[j].score {
				return items[i].score < items[j].score
			}
			return rand.Intn(2) == 0
		})
		usable = make([]candidate.Candidate, 0, len(items))
		for _, it := range items {
			usable = append(usable, it.c)
		}
	}

	if requestFingerprint != "" {
		if targetID, ok := m.store.Get(ctx, affinityKey(requestFingerprint)); ok {
			if promoteByKeyID(usable, targetID) {
				trace.AffinityHit = true
			}
		}
	}

	if sessionUUID != "" {
		if targetID, ok := m.store.StickyLookupAndRefresh(ctx, stickyKey(providerID, sessionUUID), cfg.StickyTTL); ok {
			if _, skipped := trace.Skipped[atoiOr(targetID, -1)]; !skipped && promoteByKeyID(usable, targetID) {
				trace.StickyHit = true
			}
		}
	}

	runAfterSelect(ctx, providerID, usable, cfg.Strategies)
	return usable, trace
}

func runBeforeSelect(ctx context.Context, providerID int, c candidate.Candidate, strategies []Strategy) (skip bool, reason string) {
	for _, s := range strategies {
		if bs, ok := s.(BeforeSelecter); ok {
			if skip, reason = bs.BeforeSelect(ctx, providerID, c); skip {
				return true, reason
			}
		}
	}
	return false, ""
}

func runComputeScore(ctx context.Context, providerID int, c candidate.Candidate, score float64, strategies []Strategy) float64 {
	for _, s := range strategies {
		if sc, ok := s.(ScoreComputer); ok {
			score = sc.ComputeScore(ctx, providerID, c, score)
		}
	}
	return score
}

func runAfterSelect(ctx context.Context, providerID int, ordered []candidate.Candidate, strategies []Strategy) {
	for _, s := range strategies {
		if as, ok := s.(AfterSelecter); ok {
			as.AfterSelect(ctx, providerID, ordered)
		}
	}
}

func halfOpenWindowKey(keyID int) string { return fmt.Sprintf("half_open_window:%d", keyID) }
func halfOpenClaimKey(keyID int) string  { return fmt.Sprintf("half_open_claim:%d", keyID) }

// claimHalfOpenProbe implements the GLOSSARY's "Half-open" transitional state: OnError arms a
// half-open window (halfOpenWindowKey) alongside every cooldown it sets, with a TTL that outlasts
// the cooldown itself by cfg.HalfOpenProbeTTL. Once the cooldown's own TTL has lapsed but the
// window is still armed, the key is half-open: every candidate in that state competes for a
// single short-lived CAS claim (halfOpenClaimKey) instead of flooding back in all at once. The
// claim's own TTL equals cfg.HalfOpenProbeTTL, so if the probe request never reports back (e.g.
// the process crashes mid-attempt) the slot frees itself for the next caller rather than wedging
// the key half-open forever. OnSuccess clears the window outright, fully closing the circuit;
// OnError re-arms it (and the full cooldown) if the probe itself fails.
func (m *Manager) claimHalfOpenProbe(ctx context.Context, keyID int, cfg Config) bool {
	if cfg.HalfOpenProbeTTL <= 0 {
		return false
	}
	won, ok := m.store.CAS(ctx, halfOpenClaimKey(keyID), "1", cfg.HalfOpenProbeTTL)
	return ok && won
}

func promoteByKeyID(candidates []candidate.Candidate, keyIDStr string) bool {
	keyID := atoiOr(keyIDStr, -1)
	if keyID < 0 {
		return false
	}
	for i, c := range candidates {
		if c.Key.Id == keyID {
			if i > 0 {
				chosen := candidates[i]
				copy(candidates[1:i+1], candidates[0:i])
				candidates[0] = chosen
			}
			return true
		}
	}
	return false
}

func atoiOr(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

// OnSuccess implements the §4.5.2 post-request hooks for a successful attempt: refresh the
// sticky binding, touch LRU, and append the token usage to the cost sliding window.
func (m *Manager) OnSuccess(ctx context.Context, providerID int, keyID int, sessionUUID string, tokensUsed int64, cfg Config) {
	if m.store == nil {
		return
	}
	now := time.Now()
	if sessionUUID != "" {
		m.store.Set(ctx, stickyKey(providerID, sessionUUID), strconv.Itoa(keyID), cfg.StickyTTL)
	}
	m.store.ZAdd(ctx, lruKey(providerID), strconv.Itoa(keyID), float64(now.Unix()))
	if tokensUsed > 0 {
		m.store.ZAddCostEntry(ctx, costKey(keyID), tokensUsed, now, cfg.CostWindow+10*time.Minute)
	}
	// A successful attempt -- whether ordinary or a half-open probe -- fully closes the circuit.
	m.store.Del(ctx, halfOpenWindowKey(keyID), halfOpenClaimKey(keyID))
}

// CooldownOutcome reports the cooldown the OnError hook actually applied, for logging/metrics.
type CooldownOutcome struct {
	Kind     dispatcherr.Kind
	Reason   string
	Cooldown time.Duration
}

// OnError implements the §4.5.2 error -> action table. retryAfter is the parsed Retry-After
// header (0 if absent); body is the decoded response body used for account-disabled / configured
// keyword pattern matching.
func (m *Manager) OnError(ctx context.Context, keyID, statusCode int, retryAfter time.Duration, body string, cfg Config) CooldownOutcome {
	outcome := classify(statusCode, retryAfter, body, cfg)
	if outcome.Cooldown > 0 {
		if m.store != nil {
			m.store.Set(ctx, cooldownKey(keyID), outcome.Reason, outcome.Cooldown)
			if cfg.HalfOpenProbeTTL > 0 {
				m.store.Set(ctx, halfOpenWindowKey(keyID), outcome.Reason, outcome.Cooldown+cfg.HalfOpenProbeTTL)
			}
		}
		monitor.CooldownsEntered.WithLabelValues(outcome.Reason).Inc()
	}
	if outcome.Kind == dispatcherr.RetryableAuth && m.store != nil {
		m.store.Del(ctx, oauthCacheKey(keyID))
	}
	return outcome
}

var accountDisabledPatterns = []string{
	"organization has been disabled",
	"account has been disabled",
	"account is suspended",
}

func classify(statusCode int, retryAfter time.Duration, body string, cfg Config) CooldownOutcome {
	lowerBody := strings.ToLower(body)

	for _, rule := range cfg.UnschedulableRules {
		if rule.Keyword != "" && strings.Contains(lowerBody, strings.ToLower(rule.Keyword)) {
			return CooldownOutcome{
				Kind:     dispatcherr.ClassifyStatus(statusCode),
				Reason:   fmt.Sprintf("keyword:%s", rule.Keyword),
				Cooldown: time.Duration(rule.CooldownMinutes) * time.Minute,
			}
		}
	}

	switch statusCode {
	case 401:
		return CooldownOutcome{Kind: dispatcherr.RetryableAuth, Reason: "auth_failed_401", Cooldown: cfg.AuthCooldown}
	case 402:
		return CooldownOutcome{Kind: dispatcherr.KeyFatal, Reason: "payment_required_402", Cooldown: cfg.KeyFatalCooldown}
	case 403:
		return CooldownOutcome{Kind: dispatcherr.KeyFatal, Reason: "forbidden_403", Cooldown: cfg.KeyFatalCooldown}
	case 400:
		for _, pattern := range accountDisabledPatterns {
			if strings.Contains(lowerBody, pattern) {
				return CooldownOutcome{
					Kind:     dispatcherr.KeyFatal,
					Reason:   fmt.Sprintf("account_disabled_400:%s", pattern),
					Cooldown: cfg.KeyFatalCooldown,
				}
			}
		}
		return CooldownOutcome{Kind: dispatcherr.ClientFatal, Reason: ""}
	case 429:
		d := retryAfter
		if d <= 0 {
			d = cfg.RateLimitCooldown
		}
		if d < time.Second {
			d = time.Second
		}
		if d > time.Hour {
			d = time.Hour
		}
		return CooldownOutcome{Kind: dispatcherr.RetryableRateLimit, Reason: "rate_limited_429", Cooldown: d}
	case 529:
		return CooldownOutcome{Kind: dispatcherr.RetryableRateLimit, Reason: "overloaded_529", Cooldown: cfg.OverloadCooldown}
	}

	return CooldownOutcome{Kind: dispatcherr.ClassifyStatus(statusCode)}
}

// RecordStreamTimeout implements the §5 "repeated stream timeouts trigger a cooldown" rule: it
// appends a timeout marker to a per-key sliding window and, once the count within
// cfg threshold/window is reached, applies cfg.OverloadCooldown, the cooldown a 529 gets. Unlike
// OnError it arms no half-open window.
func (m *Manager) RecordStreamTimeout(ctx context.Context, keyID int, threshold int, window time.Duration, cfg Config) (triggered bool) {
	if m.store == nil || threshold <= 0 {
		return false
	}
	now := time.Now()
	m.store.ZAddCostEntry(ctx, streamTimeoutKey(keyID), 1, now, window+time.Minute)
	count, ok := m.store.ZSum(ctx, streamTimeoutKey(keyID), now.Add(-window), now)
	if !ok || count < int64(threshold) {
		return false
	}
	m.store.Set(ctx, cooldownKey(keyID), "stream_timeout_repeated", cfg.OverloadCooldown)
	monitor.CooldownsEntered.WithLabelValues("stream_timeout_repeated").Inc()
	return true
}

// AdmitSession implements §4.5.3: extracts a trailing "..._session_{UUID}" marker from
// metadataUserID, atomically prunes-and-adds it to the provider/scope active-session set, and
// rejects with a Concurrency error once the resulting cardinality exceeds maxSessions. When
// session-id masking is enabled the real id is swapped, after admission, for a stable masked
// UUID scoped to (scope, sessionID) with a 15 minute TTL.
func (m *Manager) AdmitSession(ctx context.Context, scope, metadataUserID string, cfg Config) (sessionID string, masked string, err error) {
	sessionID = extractSessionID(metadataUserID)
	if sessionID == "" || cfg.MaxSessionsPerScope <= 0 {
		return sessionID, sessionID, nil
	}

	scopeKey := sessionScopeKey(0) + ":" + scope
	idleTimeout := cfg.SessionIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	now := time.Now()

	if m.store != nil {
		count, ok := m.store.SessionAdmit(ctx, scopeKey, sessionID, now, now.Add(-idleTimeout), idleTimeout+time.Minute)
		if ok && int(count) > cfg.MaxSessionsPerScope {
			return sessionID, sessionID, dispatcherr.New(dispatcherr.Concurrency, 429, fmt.Errorf("session concurrency limit exceeded for scope %q", scope))
		}
	}

	if !cfg.MaskSessionIDs {
		return sessionID, sessionID, nil
	}

	mk := maskedSessionKey(scope, sessionID)
	if m.store != nil {
		if existing, ok := m.store.Get(ctx, mk); ok {
			return sessionID, existing, nil
		}
		newMasked := uuid.NewString()
		m.store.Set(ctx, mk, newMasked, 15*time.Minute)
		return sessionID, newMasked, nil
	}
	return sessionID, uuid.NewString(), nil
}

func extractSessionID(metadataUserID string) string {
	const marker = "_session_"
	idx := strings.LastIndex(metadataUserID, marker)
	if idx < 0 {
		return ""
	}
	return metadataUserID[idx+len(marker):]
}
