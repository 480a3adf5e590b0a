package config

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/relaymesh/gateway/common/env"
)

var (
	// ServerPort overrides the --port flag when running inside container or PaaS environments.
	ServerPort = strings.TrimSpace(env.String("PORT", ""))
	// GinMode allows forcing Gin into release mode (or other modes) without recompiling.
	GinMode = strings.TrimSpace(env.String("GIN_MODE", ""))

	// DebugEnabled toggles verbose structured logging when DEBUG=true.
	DebugEnabled = env.Bool("DEBUG", false)
	// DebugSQLEnabled toggles per-query SQL logging when DEBUG_SQL=true.
	DebugSQLEnabled = env.Bool("DEBUG_SQL", false)

	// ShutdownTimeoutSec specifies the graceful shutdown timeout (seconds) for the HTTP server and background workers.
	ShutdownTimeoutSec = env.Int("SHUTDOWN_TIMEOUT", 30)

	// SQLDSN provides the primary relational store DSN; empty indicates that SQLite should be used.
	SQLDSN = strings.TrimSpace(env.String("SQL_DSN", ""))
	// SQLitePath specifies the SQLite database file path when SQL_DSN is absent.
	SQLitePath = env.String("SQLITE_PATH", "gateway.db")
	// SQLiteBusyTimeout configures SQLite busy timeout in milliseconds to mitigate locking errors.
	SQLiteBusyTimeout = env.Int("SQLITE_BUSY_TIMEOUT", 3000)
	// SQLMaxIdleConns controls the relational store pool's idle connection count.
	SQLMaxIdleConns = env.Int("SQL_MAX_IDLE_CONNS", 100)
	// SQLMaxOpenConns controls the relational store pool's maximum open connections.
	SQLMaxOpenConns = env.Int("SQL_MAX_OPEN_CONNS", 1000)
	// SQLMaxLifetimeSeconds sets how long database connections live before being recycled (seconds).
	SQLMaxLifetimeSeconds = env.Int("SQL_MAX_LIFETIME", 300)

	// IsMasterNode determines whether this process should run schema migration and retention sweeps.
	IsMasterNode = !strings.EqualFold(env.String("NODE_TYPE", ""), "slave")

	// RedisConnString defines the coordination store connection string; empty disables it (degraded mode).
	RedisConnString = strings.TrimSpace(env.String("REDIS_CONN_STRING", ""))
	// RedisMasterName enables Redis sentinel/cluster discovery when provided.
	RedisMasterName = strings.TrimSpace(env.String("REDIS_MASTER_NAME", ""))
	// RedisPassword supplies the Redis authentication password when required.
	RedisPassword = env.String("REDIS_PASSWORD", "")

	// CredentialEncryptionKey seeds the Credential Store's authenticated symmetric cipher.
	// It must decode to exactly 32 bytes (base64) or be exactly 32 raw bytes; see credential.NewStore.
	CredentialEncryptionKey = env.String("CREDENTIAL_ENCRYPTION_KEY", "")

	// SchedulerMode selects provider_first or global_key_first ordering (§4.7).
	SchedulerMode = env.String("SCHEDULER_MODE", "provider_first")
	// CacheAffinityEnabled toggles the additive prefix-fingerprint scheduling hint.
	CacheAffinityEnabled = env.Bool("CACHE_AFFINITY_ENABLED", false)

	// PoolStickyTTLSec is the TTL (seconds) of a sticky session binding.
	PoolStickyTTLSec = env.Int("POOL_STICKY_TTL_SEC", 3600)
	// PoolLoadThresholdPct is unused directly but retained for strategy hooks that read load percentages.
	PoolLoadThresholdPct = env.Int("POOL_LOAD_THRESHOLD_PCT", 80)
	// PoolLRUEnabled toggles LRU-based reordering of healthy candidates.
	PoolLRUEnabled = env.Bool("POOL_LRU_ENABLED", true)
	// PoolCostWindowSec is the rolling window (seconds) over which per-key token usage is summed.
	PoolCostWindowSec = env.Int("POOL_COST_WINDOW_SEC", 18000)
	// PoolCostLimitPerKeyTokens caps tokens per key within the cost window; 0 means unlimited.
	PoolCostLimitPerKeyTokens = env.Int("POOL_COST_LIMIT_PER_KEY_TOKENS", 0)
	// PoolCostSoftThresholdPct places a key last (not skipped) once this percent of its cost limit is used.
	PoolCostSoftThresholdPct = env.Int("POOL_COST_SOFT_THRESHOLD_PCT", 80)
	// PoolRateLimitCooldownSec is the default cooldown (seconds) for 429s lacking Retry-After.
	PoolRateLimitCooldownSec = env.Int("POOL_RATE_LIMIT_COOLDOWN_SEC", 300)
	// PoolOverloadCooldownSec is the cooldown (seconds) applied to 529 overloaded responses.
	PoolOverloadCooldownSec = env.Int("POOL_OVERLOAD_COOLDOWN_SEC", 30)
	// PoolAuthCooldownSec is the cooldown (seconds) applied after a 401.
	PoolAuthCooldownSec = env.Int("POOL_AUTH_COOLDOWN_SEC", 60)
	// PoolKeyFatalCooldownSec is the cooldown (seconds) applied after 402/403/disabled-account 400s.
	PoolKeyFatalCooldownSec = env.Int("POOL_KEY_FATAL_COOLDOWN_SEC", 3600)
	// PoolProactiveRefreshSec controls how early an OAuth token is refreshed before expiry.
	PoolProactiveRefreshSec = env.Int("POOL_PROACTIVE_REFRESH_SEC", 180)
	// PoolMaxSessionsPerScope caps concurrent Claude-code sessions per provider scope; 0 disables the check.
	PoolMaxSessionsPerScope = env.Int("POOL_MAX_SESSIONS_PER_SCOPE", 0)
	// PoolSessionIdleTimeoutMinutes prunes session entries idle beyond this window.
	PoolSessionIdleTimeoutMinutes = env.Int("POOL_SESSION_IDLE_TIMEOUT_MINUTES", 30)
	// PoolMaskSessionIDs replaces the real session id with a stable masked UUID once admission succeeds.
	PoolMaskSessionIDs = env.Bool("POOL_MASK_SESSION_IDS", false)
	// PoolNormalizeCacheControlTTL unifies cache_control.ttl across requests to avoid fingerprinting.
	PoolNormalizeCacheControlTTL = env.Bool("POOL_NORMALIZE_CACHE_CONTROL_TTL", false)
	// PoolHalfOpenProbeTTLSec bounds the half-open probe window (seconds) a key enters once its
	// cooldown TTL lapses; 0 disables half-open probing (a key returns directly to schedulable).
	PoolHalfOpenProbeTTLSec = env.Int("POOL_HALF_OPEN_PROBE_TTL_SEC", 10)

	// ExecutorStreamFirstByteTimeoutSec bounds time-to-first-byte and per-chunk inactivity for streaming calls.
	ExecutorStreamFirstByteTimeoutSec = env.Int("EXECUTOR_STREAM_FIRST_BYTE_TIMEOUT_SEC", 60)
	// ExecutorRequestTimeoutSec bounds a whole non-streaming (or overall) upstream call.
	ExecutorRequestTimeoutSec = env.Int("EXECUTOR_REQUEST_TIMEOUT_SEC", 600)
	// ExecutorStreamTimeoutThreshold is the number of stream timeouts within ExecutorStreamTimeoutWindowSec
	// that trigger a cooldown on the offending key.
	ExecutorStreamTimeoutThreshold = env.Int("EXECUTOR_STREAM_TIMEOUT_THRESHOLD", 3)
	// ExecutorStreamTimeoutWindowSec is the window (seconds) used by ExecutorStreamTimeoutThreshold.
	ExecutorStreamTimeoutWindowSec = env.Int("EXECUTOR_STREAM_TIMEOUT_WINDOW_SEC", 600)

	// RetentionDetailDays is the age (days) at which request/response bodies are gzip-compressed.
	RetentionDetailDays = env.Int("RETENTION_DETAIL_DAYS", 7)
	// RetentionCompressedDays is the age (days) at which compressed bodies are cleared; headers
	// follow RetentionHeaderDays.
	RetentionCompressedDays = env.Int("RETENTION_COMPRESSED_DAYS", 90)
	// RetentionHeaderDays is the age (days) at which headers are cleared (independent axis from bodies).
	RetentionHeaderDays = env.Int("RETENTION_HEADER_DAYS", 90)
	// RetentionLogDays is the age (days) at which usage rows are deleted outright.
	RetentionLogDays = env.Int("RETENTION_LOG_DAYS", 365)
	// RetentionBatchSize bounds how many rows a single retention sweep step touches.
	RetentionBatchSize = env.Int("RETENTION_BATCH_SIZE", 1000)

	// BatchUpdateEnabled is loaded from BATCH_UPDATE_ENABLED; nothing in this build reads it.
	BatchUpdateEnabled = env.Bool("BATCH_UPDATE_ENABLED", true)
	// BatchUpdateIntervalSec is loaded from BATCH_UPDATE_INTERVAL_SEC; nothing in this build reads it.
	BatchUpdateIntervalSec = env.Int("BATCH_UPDATE_INTERVAL_SEC", 5)
	// BillingRecorderConcurrency bounds the fan-out of the batch Usage Recorder's prepare phase.
	BillingRecorderConcurrency = env.Int("BILLING_RECORDER_CONCURRENCY", 50)

	// TLSProfile names an entry in the transport's named TLS-profile registry (opaque JA3 hint, §6.4).
	TLSProfile = env.String("TLS_PROFILE", "")

	// GeminiSafetySetting is loaded from GEMINI_SAFETY_SETTING; nothing in this build applies it to requests.
	GeminiSafetySetting = env.String("GEMINI_SAFETY_SETTING", "BLOCK_NONE")
	// GeminiVersion is loaded from GEMINI_VERSION; nothing in this build reads it.
	GeminiVersion = env.String("GEMINI_VERSION", "v1")

	// RelayProxy provides an HTTP proxy for outbound relay requests to upstream providers.
	RelayProxy = env.String("RELAY_PROXY", "")
	// RelayTimeout bounds outbound provider requests in seconds; 0 means no client-side timeout
	// (the Executor's own stream/request timeouts still apply).
	RelayTimeout = env.Int("RELAY_TIMEOUT", 0)

	// UserContentRequestProxy optionally proxies outbound fetches of caller-supplied URLs
	// (e.g. multimodal image inputs), kept separate from RelayProxy since it touches
	// untrusted destinations.
	UserContentRequestProxy = env.String("USER_CONTENT_REQUEST_PROXY", "")
	// UserContentRequestTimeout bounds fetches of caller-supplied URLs, in seconds.
	UserContentRequestTimeout = env.Int("USER_CONTENT_REQUEST_TIMEOUT", 30)

	// LogSQLDSN overrides the DSN used for the usage-log database; falls back to SQL_DSN when empty.
	LogSQLDSN = env.String("LOG_SQL_DSN", "")

	// MaxInlineImageSizeMB bounds how large a user-supplied image URL may be before the OpenAI
	// dialect refuses to inline it as base64 request content.
	MaxInlineImageSizeMB = env.Int("MAX_INLINE_IMAGE_SIZE_MB", 20)

	// EnablePrometheusMetrics exposes the /metrics endpoint for Prometheus scrapers when true.
	EnablePrometheusMetrics = env.Bool("ENABLE_PROMETHEUS_METRICS", true)

	// RetentionSweepIntervalMinutes controls how often the master node runs the Usage Recorder's
	// body/header retention sweep (§4.11). Zero disables the background sweeper.
	RetentionSweepIntervalMinutes = env.Int("RETENTION_SWEEP_INTERVAL_MINUTES", 60)
)

var (
	// logConsumeEnabled is the consumption-logging flag, mutated at runtime via
	// SetLogConsumeEnabled; nothing in this build consults IsLogConsumeEnabled.
	logConsumeEnabled atomic.Bool
)

func init() {
	logConsumeEnabled.Store(true)
}

// IsLogConsumeEnabled reports whether consumption logging is enabled.
func IsLogConsumeEnabled() bool {
	return logConsumeEnabled.Load()
}

// SetLogConsumeEnabled toggles consumption logging in a concurrency-safe way.
func SetLogConsumeEnabled(enabled bool) {
	logConsumeEnabled.Store(enabled)
}

// RateLimitKeyExpirationDuration is a rate-limit key lifetime; nothing in this build reads it.
var RateLimitKeyExpirationDuration = 20 * time.Minute
