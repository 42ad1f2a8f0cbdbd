package redisstore

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/redis/go-redis/v9"
)

const maxConsumeRetries = 4

// OneTimeStore keeps at most one pending credential per kind and email.
// A secondary key maps the code hash back to the email so tokens that
// arrive without an email can still be resolved.
type OneTimeStore struct {
	s *Store
}

func (st *OneTimeStore) Create(ctx context.Context, c *authcore.OneTimeCredential) error {
	rec, err := recordFromCredential(c)
	if err != nil {
		return err
	}
	encoded, err := encodeOneTimeRecord(rec)
	if err != nil {
		return err
	}

	key := st.s.oneTimeKey(c.Kind, c.Email)
	hashKey := st.s.oneTimeHashKey(c.Kind, c.CodeHash)

	for i := 0; i < maxConsumeRetries; i++ {
		err = st.s.redis.Watch(ctx, func(tx *redis.Tx) error {
			var staleHashKey string
			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				if old, decErr := decodeOneTimeRecord(data); decErr == nil {
					staleHashKey = st.s.oneTimeHashKey(c.Kind, hex.EncodeToString(old.CodeHash[:]))
				}
			case !errors.Is(err, redis.Nil):
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if staleHashKey != "" && staleHashKey != hashKey {
					pipe.Del(ctx, staleHashKey)
				}
				pipe.Set(ctx, key, encoded, 0)
				pipe.PExpireAt(ctx, key, c.ExpiresAt)
				pipe.Set(ctx, hashKey, c.Email, 0)
				pipe.PExpireAt(ctx, hashKey, c.ExpiresAt)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return nil
	}
	return fmt.Errorf("%w: create one-time credential: too much contention", ErrRedisUnavailable)
}

func (st *OneTimeStore) FindValid(ctx context.Context, kind authcore.CredentialKind, email, codeHash string, now time.Time) (*authcore.OneTimeCredential, error) {
	email, err := st.resolveEmail(ctx, kind, email, codeHash)
	if err != nil || email == "" {
		return nil, err
	}

	data, err := st.s.redis.Get(ctx, st.s.oneTimeKey(kind, email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	rec, err := decodeOneTimeRecord(data)
	if err != nil {
		return nil, err
	}
	if !matches(rec, codeHash, now) {
		return nil, nil
	}
	return rec.credential(), nil
}

// Consume deletes the record only if it still matches inside a WATCH
// transaction; a concurrent consumer makes the loser see no record.
func (st *OneTimeStore) Consume(ctx context.Context, kind authcore.CredentialKind, email, codeHash string, now time.Time) (bool, error) {
	email, err := st.resolveEmail(ctx, kind, email, codeHash)
	if err != nil || email == "" {
		return false, err
	}

	key := st.s.oneTimeKey(kind, email)
	hashKey := st.s.oneTimeHashKey(kind, codeHash)

	for i := 0; i < maxConsumeRetries; i++ {
		consumed := false
		err := st.s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			rec, err := decodeOneTimeRecord(data)
			if err != nil {
				return err
			}
			if !matches(rec, codeHash, now) {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key, hashKey)
				return nil
			})
			if err != nil {
				return err
			}
			consumed = true
			return nil
		}, key)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return false, nil
		case errors.Is(err, errCorruptRecord):
			return false, err
		case err != nil:
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return consumed, nil
	}
	return false, nil
}

// RecordFailure bumps the attempt counter inside a WATCH transaction and
// deletes the record, with its hash index, once maxAttempts is reached.
func (st *OneTimeStore) RecordFailure(ctx context.Context, kind authcore.CredentialKind, email string, maxAttempts int, now time.Time) (bool, error) {
	key := st.s.oneTimeKey(kind, email)

	for i := 0; i < maxConsumeRetries; i++ {
		removed := false
		err := st.s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			rec, err := decodeOneTimeRecord(data)
			if err != nil {
				return err
			}
			if now.UnixMilli() >= rec.ExpiresAt {
				return nil
			}
			hashKey := st.s.oneTimeHashKey(kind, hex.EncodeToString(rec.CodeHash[:]))

			if rec.Attempts < 0xffff {
				rec.Attempts++
			}
			if int(rec.Attempts) >= maxAttempts {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key, hashKey)
					return nil
				})
				if err != nil {
					return err
				}
				removed = true
				return nil
			}

			encoded, err := encodeOneTimeRecord(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				pipe.PExpireAt(ctx, key, time.UnixMilli(rec.ExpiresAt))
				return nil
			})
			return err
		}, key)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return false, nil
		case errors.Is(err, errCorruptRecord):
			return false, err
		case err != nil:
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return removed, nil
	}
	return false, fmt.Errorf("%w: record one-time failure: too much contention", ErrRedisUnavailable)
}

func (st *OneTimeStore) resolveEmail(ctx context.Context, kind authcore.CredentialKind, email, codeHash string) (string, error) {
	if email != "" {
		return email, nil
	}
	email, err := st.s.redis.Get(ctx, st.s.oneTimeHashKey(kind, codeHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return email, nil
}

func matches(rec *oneTimeRecord, codeHash string, now time.Time) bool {
	raw, err := hex.DecodeString(codeHash)
	if err != nil || len(raw) != len(rec.CodeHash) {
		return false
	}
	if subtle.ConstantTimeCompare(rec.CodeHash[:], raw) != 1 {
		return false
	}
	return now.UnixMilli() < rec.ExpiresAt
}
