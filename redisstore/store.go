package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis transport failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Options tunes key layout and retention.
type Options struct {
	// Prefix namespaces every key. Default "authcore".
	Prefix string
	// RevokedRetention keeps revoked and expired refresh tokens readable so
	// a replay is recognized instead of reported as unknown. Default 24h.
	RevokedRetention time.Duration
}

// Store groups the Redis-backed stores over one client.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// New returns a Store. The client is owned by the caller.
func New(rdb redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "authcore"
	}
	if opts.RevokedRetention <= 0 {
		opts.RevokedRetention = 24 * time.Hour
	}
	return &Store{
		redis:     rdb,
		prefix:    opts.Prefix,
		retention: opts.RevokedRetention,
	}
}

// Sessions returns the authcore.SessionStore view.
func (s *Store) Sessions() *SessionStore {
	return &SessionStore{s: s}
}

// RefreshTokens returns the authcore.RefreshTokenStore view.
func (s *Store) RefreshTokens() *RefreshTokenStore {
	return &RefreshTokenStore{s: s}
}

// OneTime returns the authcore.OneTimeCredentialStore view.
func (s *Store) OneTime() *OneTimeStore {
	return &OneTimeStore{s: s}
}

var (
	_ authcore.SessionStore           = (*SessionStore)(nil)
	_ authcore.RefreshTokenStore      = (*RefreshTokenStore)(nil)
	_ authcore.OneTimeCredentialStore = (*OneTimeStore)(nil)
	_ authcore.CascadeRevoker         = (*Store)(nil)
	_ authcore.SessionCounter         = (*SessionStore)(nil)
)

func (s *Store) sessionKey(sessionID string) string {
	return s.prefix + ":sess:" + sessionID
}

func (s *Store) userSessionsKey(userID string) string {
	return s.prefix + ":sessu:" + userID
}

func (s *Store) refreshKey(tokenHash string) string {
	return s.prefix + ":rt:" + tokenHash
}

func (s *Store) refreshIDKey(id string) string {
	return s.prefix + ":rtid:" + id
}

func (s *Store) userRefreshKey(userID string) string {
	return s.prefix + ":rtu:" + userID
}

func (s *Store) sessionRefreshKey(sessionID string) string {
	return s.prefix + ":rts:" + sessionID
}

func (s *Store) oneTimeKey(kind authcore.CredentialKind, email string) string {
	return s.prefix + ":ot:" + string(kind) + ":" + email
}

func (s *Store) oneTimeHashKey(kind authcore.CredentialKind, codeHash string) string {
	return s.prefix + ":oth:" + string(kind) + ":" + codeHash
}

// indexScript adds a member to an index set and extends the set's TTL to
// cover it. The TTL only grows, so the set outlives its longest member.
const indexScript = `
local ttl = tonumber(ARGV[2])
if ttl <= 0 then
  return 0
end
redis.call("SADD", KEYS[1], ARGV[1])
local current = redis.call("PTTL", KEYS[1])
if current < ttl then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`

var indexLua = redis.NewScript(indexScript)

func (s *Store) index(ctx context.Context, key, member string, until time.Time) error {
	ttl := time.Until(until).Milliseconds()
	if err := indexLua.Run(ctx, s.redis, []string{key}, member, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

const cascadeScript = `
local sess_prefix = ARGV[1]
local rt_prefix = ARGV[2]
local revoked_at = ARGV[3]

for _, sid in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = sess_prefix .. sid
  if redis.call("EXISTS", key) == 1 then
    redis.call("HSET", key, "active", "0")
  else
    redis.call("SREM", KEYS[1], sid)
  end
end

for _, hash in ipairs(redis.call("SMEMBERS", KEYS[2])) do
  local key = rt_prefix .. hash
  if redis.call("EXISTS", key) == 1 then
    local current = redis.call("HGET", key, "revoked_at")
    if not current or current == "" then
      redis.call("HSET", key, "revoked_at", revoked_at)
    end
  else
    redis.call("SREM", KEYS[2], hash)
  end
end
return 1
`

var cascadeLua = redis.NewScript(cascadeScript)

// RevokeUserCredentials deactivates every session and revokes every refresh
// token of userID in one script, so neither store is left more permissive.
func (s *Store) RevokeUserCredentials(ctx context.Context, userID string, at time.Time) error {
	keys := []string{s.userSessionsKey(userID), s.userRefreshKey(userID)}
	err := cascadeLua.Run(ctx, s.redis, keys,
		s.prefix+":sess:",
		s.prefix+":rt:",
		millis(at),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
