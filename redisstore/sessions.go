package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/redis/go-redis/v9"
)

const deactivateScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  redis.call("HSET", KEYS[1], "active", "0")
  return 1
end
return 0
`

var deactivateLua = redis.NewScript(deactivateScript)

const deactivateAllScript = `
local count = 0
for _, sid in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[1] .. sid
  if redis.call("EXISTS", key) == 1 then
    redis.call("HSET", key, "active", "0")
    count = count + 1
  else
    redis.call("SREM", KEYS[1], sid)
  end
end
return count
`

var deactivateAllLua = redis.NewScript(deactivateAllScript)

// SessionStore keeps each session as a hash that expires with the session.
type SessionStore struct {
	s *Store
}

func (st *SessionStore) Create(ctx context.Context, sess *authcore.Session) error {
	key := st.s.sessionKey(sess.ID)
	_, err := st.s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user_id", sess.UserID,
			"token", sess.SessionToken,
			"ip", sess.IPAddress,
			"ua", sess.UserAgent,
			"expires_at", millis(sess.ExpiresAt),
			"remember_me", boolField(sess.RememberMe),
			"active", boolField(sess.Active),
			"created_at", millis(sess.CreatedAt),
		)
		pipe.PExpireAt(ctx, key, sess.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return st.s.index(ctx, st.s.userSessionsKey(sess.UserID), sess.ID, sess.ExpiresAt)
}

// Get returns (nil, nil) when the session is unknown or has expired out of Redis.
func (st *SessionStore) Get(ctx context.Context, sessionID string) (*authcore.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	fields, err := st.s.redis.HGetAll(ctx, st.s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &authcore.Session{
		ID:           sessionID,
		UserID:       fields["user_id"],
		SessionToken: fields["token"],
		IPAddress:    fields["ip"],
		UserAgent:    fields["ua"],
		ExpiresAt:    parseMillis(fields["expires_at"]),
		RememberMe:   fields["remember_me"] == "1",
		Active:       fields["active"] == "1",
		CreatedAt:    parseMillis(fields["created_at"]),
	}, nil
}

func (st *SessionStore) Deactivate(ctx context.Context, sessionID string) error {
	if err := deactivateLua.Run(ctx, st.s.redis, []string{st.s.sessionKey(sessionID)}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (st *SessionStore) DeactivateAllForUser(ctx context.Context, userID string) error {
	err := deactivateAllLua.Run(ctx, st.s.redis,
		[]string{st.s.userSessionsKey(userID)},
		st.s.prefix+":sess:",
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ActiveCount reports how many sessions of userID are active and unexpired at now.
func (st *SessionStore) ActiveCount(ctx context.Context, userID string, now time.Time) (int, error) {
	ids, err := st.s.redis.SMembers(ctx, st.s.userSessionsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := st.s.redis.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, st.s.sessionKey(id), "active", "expires_at")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	active := 0
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 2 {
			continue
		}
		flag, _ := vals[0].(string)
		exp, _ := vals[1].(string)
		if flag == "1" && now.Before(parseMillis(exp)) {
			active++
		}
	}
	return active, nil
}
