package session

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arvolo/claimgate"
)

const (
	keyPrefix       = "claim"
	timestampLayout = "20060102150405"
)

// saveScript refreshes or evicts before writing, atomically:
//  1. keys matching the exact (session, claimer, resource) triple are deleted
//     (idempotent re-save, not counted against the cap);
//  2. otherwise, when the claimer already holds max sessions, the oldest ones
//     are deleted to make room (the timestamp key segment sorts lexically in
//     chronological order);
//  3. the new key is written with the token as value and the given TTL.
//
// Returns {refreshedCount, evictedCount, setAcknowledged}.
const saveScript = `
local refreshed = 0
local evicted = 0

local exact = redis.call("KEYS", ARGV[1])
if #exact > 0 then
  for _, k in ipairs(exact) do
    redis.call("DEL", k)
  end
  refreshed = #exact
else
  local owned = redis.call("KEYS", ARGV[2])
  local excess = #owned - tonumber(ARGV[3]) + 1
  if excess > 0 then
    table.sort(owned)
    for i = 1, excess do
      redis.call("DEL", owned[i])
    end
    evicted = excess
  end
end

local ok = redis.call("SET", KEYS[1], ARGV[4], "EX", tonumber(ARGV[5]))
if not ok then
  return {refreshed, evicted, 0}
end
return {refreshed, evicted, 1}
`

var saveLua = redis.NewScript(saveScript)

// getScript finds the key for a triple and re-reads its value in the same
// atomic unit, so a TTL expiry between the two steps cannot be observed.
// Returns {} when no key matches, {key} when the key vanished before the
// re-read, {key, value} otherwise.
const getScript = `
local matches = redis.call("KEYS", ARGV[1])
if #matches == 0 then
  return {}
end
table.sort(matches)
local key = matches[1]
local value = redis.call("GET", key)
if not value then
  return {key}
end
return {key, value}
`

var getLua = redis.NewScript(getScript)

// expireScript deletes every key matching the pattern. Idempotent.
const expireScript = `
local matches = redis.call("KEYS", ARGV[1])
for _, k in ipairs(matches) do
  redis.call("DEL", k)
end
return #matches
`

var expireLua = redis.NewScript(expireScript)

// Session is the result of a successful GetSession lookup.
type Session struct {
	Claimer     uuid.UUID
	Session     uuid.UUID
	Resource    string
	BearerToken string
	// ExpiresAt is the instant parsed back from the key's timestamp segment.
	ExpiresAt time.Time
}

// Store is the Redis-backed session store. Safe for concurrent use; multiple
// service instances may share the same Redis.
type Store struct {
	redis   redis.UniversalClient
	metrics *claimgate.Metrics
	now     func() time.Time
}

// NewStore creates a Store on the given Redis client. metrics may be nil.
func NewStore(rdb redis.UniversalClient, metrics *claimgate.Metrics) *Store {
	return &Store{redis: rdb, metrics: metrics, now: time.Now}
}

// SaveSession records a login session, evicting as needed to keep at most
// maxSimultaneous live sessions for the claimer. Re-saving the same
// (session, claimer, resource) triple replaces the prior entry and is not
// counted against the cap. maxSimultaneous values below one are treated as
// one.
func (s *Store) SaveSession(
	ctx context.Context,
	claimer, session uuid.UUID,
	resource, bearerToken string,
	expiration time.Duration,
	maxSimultaneous int,
) error {
	if err := validateTriple(claimer, session, resource); err != nil {
		return err
	}
	if bearerToken == "" {
		return fmt.Errorf("%w: bearer token is required", claimgate.ErrArgument)
	}
	if expiration <= 0 {
		return fmt.Errorf("%w: expiration must be positive", claimgate.ErrArgument)
	}
	if maxSimultaneous < 1 {
		maxSimultaneous = 1
	}

	key := sessionKey(s.now().UTC(), session, claimer, resource)
	seconds := int64(math.Ceil(expiration.Seconds()))

	result, err := saveLua.Run(ctx, s.redis,
		[]string{key},
		triplePattern(session, claimer, resource),
		claimerPattern(claimer),
		maxSimultaneous,
		bearerToken,
		seconds,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", claimgate.ErrStoreUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) != 3 {
		return fmt.Errorf("%w: unexpected save script response", claimgate.ErrInvalidOperation)
	}
	refreshed, _ := parts[0].(int64)
	evicted, _ := parts[1].(int64)
	acknowledged, _ := parts[2].(int64)
	if acknowledged != 1 {
		return fmt.Errorf("%w: store did not acknowledge session write", claimgate.ErrInvalidOperation)
	}

	if refreshed > 0 {
		s.metrics.Inc(claimgate.MetricSessionRefreshed)
	}
	if evicted > 0 {
		s.metrics.Inc(claimgate.MetricSessionEvicted)
	}
	s.metrics.Inc(claimgate.MetricSessionSaved)
	return nil
}

// GetSession looks up the session for a triple. A missing session is not an
// error: the result is nil, nil. Store-protocol anomalies (key found but
// value gone, malformed key layout) surface as ErrInvalidOperation.
func (s *Store) GetSession(
	ctx context.Context,
	claimer, session uuid.UUID,
	resource string,
) (*Session, error) {
	if err := validateTriple(claimer, session, resource); err != nil {
		return nil, err
	}

	result, err := getLua.Run(ctx, s.redis,
		[]string{sessionKeyTag(claimer)},
		triplePattern(session, claimer, resource),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", claimgate.ErrStoreUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: unexpected get script response", claimgate.ErrInvalidOperation)
	}
	if len(parts) == 0 {
		s.metrics.Inc(claimgate.MetricSessionMiss)
		return nil, nil
	}
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: session key present without value", claimgate.ErrInvalidOperation)
	}

	key, ok := parts[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected get script key type", claimgate.ErrInvalidOperation)
	}
	value, ok := parts[1].(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected get script value type", claimgate.ErrInvalidOperation)
	}

	expiresAt, err := parseKeyTimestamp(key)
	if err != nil {
		return nil, err
	}

	return &Session{
		Claimer:     claimer,
		Session:     session,
		Resource:    resource,
		BearerToken: value,
		ExpiresAt:   expiresAt,
	}, nil
}

// ExpireSession deletes every key for the triple. Defensively plural, though
// the save invariant keeps at most one live. Idempotent.
func (s *Store) ExpireSession(ctx context.Context, claimer, session uuid.UUID, resource string) error {
	if err := validateTriple(claimer, session, resource); err != nil {
		return err
	}
	return s.expireByPattern(ctx, claimer, triplePattern(session, claimer, resource))
}

// ExpireAllSessions deletes every session belonging to the claimer across all
// sessions and resources. Idempotent.
func (s *Store) ExpireAllSessions(ctx context.Context, claimer uuid.UUID) error {
	if claimer == uuid.Nil {
		return fmt.Errorf("%w: claimer id is required", claimgate.ErrArgument)
	}
	return s.expireByPattern(ctx, claimer, claimerPattern(claimer))
}

func (s *Store) expireByPattern(ctx context.Context, claimer uuid.UUID, pattern string) error {
	result, err := expireLua.Run(ctx, s.redis, []string{sessionKeyTag(claimer)}, pattern).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", claimgate.ErrStoreUnavailable, err)
	}
	if deleted, ok := result.(int64); ok && deleted > 0 {
		s.metrics.Inc(claimgate.MetricSessionExpired)
	}
	return nil
}

func validateTriple(claimer, session uuid.UUID, resource string) error {
	if claimer == uuid.Nil {
		return fmt.Errorf("%w: claimer id is required", claimgate.ErrArgument)
	}
	if session == uuid.Nil {
		return fmt.Errorf("%w: session id is required", claimgate.ErrArgument)
	}
	if resource == "" {
		return fmt.Errorf("%w: resource is required", claimgate.ErrArgument)
	}
	return nil
}

func sessionKey(now time.Time, session, claimer uuid.UUID, resource string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		keyPrefix, now.Format(timestampLayout), session, claimer, resource)
}

func triplePattern(session, claimer uuid.UUID, resource string) string {
	return fmt.Sprintf("%s:*:%s:%s:%s", keyPrefix, session, claimer, globEscape(resource))
}

// globEscape neutralizes Redis glob metacharacters in a key segment so a
// literal resource name never widens a KEYS pattern onto sibling keys.
func globEscape(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func claimerPattern(claimer uuid.UUID) string {
	return fmt.Sprintf("%s:*:*:%s:*", keyPrefix, claimer)
}

// sessionKeyTag gives cluster clients a hash key for script routing; the
// scripts themselves address keys by pattern.
func sessionKeyTag(claimer uuid.UUID) string {
	return keyPrefix + ":{" + claimer.String() + "}"
}

// parseKeyTimestamp recovers the absolute instant embedded in the key's
// second segment.
func parseKeyTimestamp(key string) (time.Time, error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != keyPrefix {
		return time.Time{}, fmt.Errorf("%w: malformed session key %q", claimgate.ErrInvalidOperation, key)
	}
	ts, err := time.ParseInLocation(timestampLayout, parts[1], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: malformed session key timestamp %q", claimgate.ErrInvalidOperation, parts[1])
	}
	return ts, nil
}
