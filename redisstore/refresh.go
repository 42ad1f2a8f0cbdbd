package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/redis/go-redis/v9"
)

// revokeScript sets revoked_at only when it is still empty. It returns 1 to
// the single caller that performed the transition.
const revokeScript = `
local hash = redis.call("GET", KEYS[1])
if not hash then
  return 0
end
local key = ARGV[1] .. hash
if redis.call("EXISTS", key) == 0 then
  return 0
end
local current = redis.call("HGET", key, "revoked_at")
if current and current ~= "" then
  return 0
end
redis.call("HSET", key, "revoked_at", ARGV[2])
return 1
`

var revokeLua = redis.NewScript(revokeScript)

const revokeAllScript = `
for _, hash in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[1] .. hash
  if redis.call("EXISTS", key) == 1 then
    local current = redis.call("HGET", key, "revoked_at")
    if not current or current == "" then
      redis.call("HSET", key, "revoked_at", ARGV[2])
    end
  else
    redis.call("SREM", KEYS[1], hash)
  end
end
return 1
`

var revokeAllLua = redis.NewScript(revokeAllScript)

// RefreshTokenStore keys refresh tokens by hash, with an id index for
// revocation. Records outlive their expiry by Options.RevokedRetention.
type RefreshTokenStore struct {
	s *Store
}

func (st *RefreshTokenStore) Create(ctx context.Context, t *authcore.RefreshToken) error {
	key := st.s.refreshKey(t.TokenHash)
	idKey := st.s.refreshIDKey(t.ID)
	expireAt := t.ExpiresAt.Add(st.s.retention)

	revoked := ""
	if t.RevokedAt != nil {
		revoked = millis(*t.RevokedAt)
	}

	_, err := st.s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", t.ID,
			"user_id", t.UserID,
			"session_id", t.SessionID,
			"remember_me", boolField(t.RememberMe),
			"expires_at", millis(t.ExpiresAt),
			"revoked_at", revoked,
			"created_at", millis(t.CreatedAt),
		)
		pipe.PExpireAt(ctx, key, expireAt)
		pipe.Set(ctx, idKey, t.TokenHash, 0)
		pipe.PExpireAt(ctx, idKey, expireAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if err := st.s.index(ctx, st.s.userRefreshKey(t.UserID), t.TokenHash, expireAt); err != nil {
		return err
	}
	if t.SessionID == "" {
		return nil
	}
	return st.s.index(ctx, st.s.sessionRefreshKey(t.SessionID), t.TokenHash, expireAt)
}

func (st *RefreshTokenStore) FindByHash(ctx context.Context, tokenHash string) (*authcore.RefreshToken, error) {
	fields, err := st.s.redis.HGetAll(ctx, st.s.refreshKey(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	t := &authcore.RefreshToken{
		ID:         fields["id"],
		TokenHash:  tokenHash,
		UserID:     fields["user_id"],
		SessionID:  fields["session_id"],
		RememberMe: fields["remember_me"] == "1",
		ExpiresAt:  parseMillis(fields["expires_at"]),
		CreatedAt:  parseMillis(fields["created_at"]),
	}
	if v := fields["revoked_at"]; v != "" {
		at := parseMillis(v)
		t.RevokedAt = &at
	}
	return t, nil
}

func (st *RefreshTokenStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := revokeLua.Run(ctx, st.s.redis,
		[]string{st.s.refreshIDKey(id)},
		st.s.prefix+":rt:",
		millis(at),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

func (st *RefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) error {
	return st.revokeIndexed(ctx, st.s.userRefreshKey(userID), at)
}

func (st *RefreshTokenStore) RevokeAllForSession(ctx context.Context, sessionID string, at time.Time) error {
	return st.revokeIndexed(ctx, st.s.sessionRefreshKey(sessionID), at)
}

func (st *RefreshTokenStore) revokeIndexed(ctx context.Context, indexKey string, at time.Time) error {
	err := revokeAllLua.Run(ctx, st.s.redis,
		[]string{indexKey},
		st.s.prefix+":rt:",
		millis(at),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
