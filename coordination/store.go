// Package coordination is the Pool Manager's async key-value + sorted-set + pub/sub facade over
// the coordination store (Redis). Every method degrades safely: when the store is unreachable it
// returns ok=false instead of an error, so callers treat the result as "unknown" and fall back to
// a safe default rather than blocking a request on a store outage (§4.3).
package coordination

import (
	"context"
	"strconv"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/relaymesh/gateway/common"
	"github.com/relaymesh/gateway/common/logger"
	"github.com/relaymesh/gateway/monitor"
)

// Store wraps the shared common.RDB client with degraded-safe semantics. New always returns a
// non-nil *Store; one wrapping a nil client (Redis never configured) behaves identically to one
// backed by an unreachable Redis: every call reports ok=false.
type Store struct {
	rdb redis.Cmdable
}

// Default is the process-wide Store, built once at startup from common.RDB.
var Default *Store

// Init constructs Default from the shared Redis client. Safe to call even when Redis was never
// configured (common.RDB stays nil and every operation degrades).
func Init() {
	Default = New(common.RDB)
}

// New wraps an existing redis.Cmdable. rdb may be nil.
func New(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) available() bool {
	return s != nil && s.rdb != nil && common.IsRedisEnabled()
}

func (s *Store) degraded(err error) bool {
	if err == nil {
		return false
	}
	monitor.CoordinationStoreDegraded.Inc()
	return true
}

// Get fetches a string value. ok=false means either the key is absent or the store is
// unreachable; callers that must distinguish "absent" from "unknown" should use GetExists.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool) {
	val, ok, _ := s.GetExists(ctx, key)
	return val, ok
}

// GetExists fetches a string value, additionally reporting whether the read succeeded
// (degraded=false) so callers that need to tell "absent" from "store unreachable" apart can.
func (s *Store) GetExists(ctx context.Context, key string) (value string, ok bool, degraded bool) {
	if !s.available() {
		return "", false, true
	}
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, false
	}
	if err != nil {
		logger.Logger.Warn("coordination store get failed, degrading to unknown", zap.String("key", key), zap.Error(err))
		s.degraded(err)
		return "", false, true
	}
	return val, true, false
}

// Set writes a string value with a TTL (0 means no expiration). Returns ok=false when the store
// is unreachable; the caller decides whether that is fatal to the operation it is backing.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) (ok bool) {
	if !s.available() {
		return false
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		logger.Logger.Warn("coordination store set failed", zap.String("key", key), zap.Error(err))
		s.degraded(err)
		return false
	}
	return true
}

// Del removes a key. Best-effort: a failure here never blocks the caller, it is simply logged.
func (s *Store) Del(ctx context.Context, keys ...string) {
	if !s.available() || len(keys) == 0 {
		return
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		logger.Logger.Warn("coordination store del failed", zap.Strings("keys", keys), zap.Error(err))
		s.degraded(err)
	}
}

// TTL reports the remaining time-to-live of key. ok=false means unknown (absent key or store
// down); callers must treat "unknown" the same as "no active cooldown/binding".
func (s *Store) TTL(ctx context.Context, key string) (ttl time.Duration, ok bool) {
	if !s.available() {
		return 0, false
	}
	d, err := s.rdb.TTL(ctx, key).Result()
	if err != nil || d < 0 {
		if err != nil {
			s.degraded(err)
		}
		return 0, false
	}
	return d, true
}

// ZAdd records member at score in the sorted set key.
func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) (ok bool) {
	if !s.available() {
		return false
	}
	if err := s.rdb.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err(); err != nil {
		logger.Logger.Warn("coordination store zadd failed", zap.String("key", key), zap.Error(err))
		s.degraded(err)
		return false
	}
	return true
}

// ZScore reports a member's score in the sorted set key.
func (s *Store) ZScore(ctx context.Context, key, member string) (score float64, ok bool) {
	if !s.available() {
		return 0, false
	}
	val, err := s.rdb.ZScore(ctx, key, member).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.degraded(err)
		}
		return 0, false
	}
	return val, true
}

// ZRangeByScoreAsc returns members of the sorted set key with score in [min, max], ascending, so
// callers get the oldest (smallest-score) entries first -- e.g. LRU candidate ordering.
func (s *Store) ZRangeByScoreAsc(ctx context.Context, key string, min, max float64) (members []string, ok bool) {
	if !s.available() {
		return nil, false
	}
	vals, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min), Max: formatScore(max),
	}).Result()
	if err != nil {
		s.degraded(err)
		return nil, false
	}
	return vals, true
}

// ZSum sums the numeric token counts encoded in "entryUUID:tokens"-shaped members whose score
// (a unix timestamp) falls within [since, now], i.e. the Pool Manager's cost sliding window.
func (s *Store) ZSum(ctx context.Context, key string, since, now time.Time) (sum int64, ok bool) {
	if !s.available() {
		return 0, false
	}
	members, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(float64(since.Unix())), Max: formatScore(float64(now.Unix())),
	}).Result()
	if err != nil {
		s.degraded(err)
		return 0, false
	}
	var total int64
	for _, m := range members {
		total += parseTokensSuffix(m)
	}
	return total, true
}

// ZAddCostEntry appends a (uuid, tokens) pair to a cost sliding-window sorted set, scored by
// ts.Unix(), and refreshes the set's TTL so abandoned keys get garbage-collected.
func (s *Store) ZAddCostEntry(ctx context.Context, key string, tokens int64, ts time.Time, ttl time.Duration) (ok bool) {
	if !s.available() {
		return false
	}
	member := uuid.NewString() + ":" + strconv.FormatInt(tokens, 10)
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(ts.Unix()), Member: member})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Logger.Warn("coordination store cost entry append failed", zap.String("key", key), zap.Error(err))
		s.degraded(err)
		return false
	}
	return true
}

// ZRemRangeByScore trims a sorted set, removing members with score in [min, max] -- used to prune
// idle session entries.
func (s *Store) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (ok bool) {
	if !s.available() {
		return false
	}
	if err := s.rdb.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err(); err != nil {
		s.degraded(err)
		return false
	}
	return true
}

// ZCard reports the cardinality of the sorted set key.
func (s *Store) ZCard(ctx context.Context, key string) (count int64, ok bool) {
	if !s.available() {
		return 0, false
	}
	n, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		s.degraded(err)
		return 0, false
	}
	return n, true
}

// CAS performs a conditional put: set key=value with ttl only if key does not already exist
// (SET NX), reporting whether this call won the race. Used by the Pool Manager's half-open
// probe claim; request finalization does not use it.
func (s *Store) CAS(ctx context.Context, key, value string, ttl time.Duration) (won bool, ok bool) {
	if !s.available() {
		return false, false
	}
	won, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		s.degraded(err)
		return false, false
	}
	return won, true
}

// Publish broadcasts message on channel. Best-effort, no ack.
func (s *Store) Publish(ctx context.Context, channel, message string) {
	if !s.available() {
		return
	}
	if err := s.rdb.Publish(ctx, channel, message).Err(); err != nil {
		s.degraded(err)
	}
}

// subscriber is satisfied by every concrete redis client this gateway constructs
// (common.InitRedisClient builds either *redis.Client or *redis.UniversalClient / ClusterClient).
type subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Subscribe returns a channel of messages published to channel, or nil when the store is
// unavailable.
func (s *Store) Subscribe(ctx context.Context, channel string) <-chan *redis.Message {
	if !s.available() {
		return nil
	}
	sub, ok := s.rdb.(subscriber)
	if !ok {
		return nil
	}
	return sub.Subscribe(ctx, channel).Channel()
}

// stickyRefreshScript atomically reads a sticky binding and refreshes its TTL in one round trip,
// so a lookup never races a concurrent expiry.
var stickyRefreshScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return v
`)

// StickyLookupAndRefresh reads the sticky binding at key and, if present, refreshes its TTL to
// ttlSeconds in the same round trip (§4.5.1 step 1).
func (s *Store) StickyLookupAndRefresh(ctx context.Context, key string, ttl time.Duration) (value string, ok bool) {
	if !s.available() {
		return "", false
	}
	res, err := stickyRefreshScript.Run(ctx, s.rdb, []string{key}, int(ttl.Seconds())).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.degraded(err)
		}
		return "", false
	}
	str, isStr := res.(string)
	if !isStr || str == "" {
		return "", false
	}
	return str, true
}

// sessionAdmitScript atomically prunes session members idle past the cutoff score, adds the new
// member, and returns the resulting cardinality, so admission-check-then-add never races a
// concurrent admission for the same scope (§4.5.3 steps 1-2).
var sessionAdmitScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[3])
redis.call("EXPIRE", KEYS[1], ARGV[4])
return redis.call("ZCARD", KEYS[1])
`)

// SessionAdmit prunes session entries idle before idleCutoff, adds sessionID scored at now, and
// returns the resulting cardinality for the caller to compare against max_sessions.
func (s *Store) SessionAdmit(ctx context.Context, scopeKey, sessionID string, now, idleCutoff time.Time, setTTL time.Duration) (count int64, ok bool) {
	if !s.available() {
		return 0, false
	}
	res, err := sessionAdmitScript.Run(ctx, s.rdb, []string{scopeKey},
		idleCutoff.Unix(), now.Unix(), sessionID, int(setTTL.Seconds())).Result()
	if err != nil {
		s.degraded(err)
		return 0, false
	}
	n, isInt := res.(int64)
	if !isInt {
		return 0, false
	}
	return n, true
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseTokensSuffix(member string) int64 {
	idx := lastColon(member)
	if idx < 0 {
		return 0
	}
	v, err := strconv.ParseInt(member[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
