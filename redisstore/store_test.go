package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New(rdb, Options{Prefix: "t"}), mr, rdb
}

func testSession(id, userID string, now time.Time) *authcore.Session {
	return &authcore.Session{
		ID:           id,
		UserID:       userID,
		SessionToken: "tok-" + id,
		IPAddress:    "203.0.113.7",
		UserAgent:    "agent",
		ExpiresAt:    now.Add(time.Hour),
		Active:       true,
		CreatedAt:    now,
	}
}

func testRefresh(id, userID, secret string, now time.Time) *authcore.RefreshToken {
	return &authcore.RefreshToken{
		ID:        id,
		TokenHash: internal.HashToken(secret),
		UserID:    userID,
		SessionID: "s-1",
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now,
	}
}

func TestSessionRoundTripAndDeactivate(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	sessions := store.Sessions()

	sess := testSession("s-1", "u-1", now)
	sess.RememberMe = true
	if err := sessions.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := sessions.Get(ctx, "s-1")
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "u-1" || !got.Active || !got.RememberMe || got.IPAddress != "203.0.113.7" {
		t.Fatalf("unexpected session %+v", got)
	}
	if !got.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Fatalf("expires at mismatch: %v vs %v", got.ExpiresAt, sess.ExpiresAt)
	}

	for i := 0; i < 2; i++ {
		if err := sessions.Deactivate(ctx, "s-1"); err != nil {
			t.Fatalf("deactivate %d: %v", i, err)
		}
	}
	got, _ = sessions.Get(ctx, "s-1")
	if got.Active {
		t.Fatal("expected inactive session")
	}

	if err := sessions.Deactivate(ctx, "missing"); err != nil {
		t.Fatalf("deactivate missing: %v", err)
	}
	if got, _ := sessions.Get(ctx, "missing"); got != nil {
		t.Fatal("deactivating an unknown session must not create it")
	}
}

func TestSessionExpiresWithTTL(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Sessions().Create(ctx, testSession("s-1", "u-1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	mr.FastForward(2 * time.Hour)

	got, err := store.Sessions().Get(ctx, "s-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatal("expected session to expire out of redis")
	}
}

func TestDeactivateAllForUser(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	sessions := store.Sessions()

	for _, id := range []string{"s-1", "s-2", "s-3"} {
		_ = sessions.Create(ctx, testSession(id, "u-1", now))
	}
	_ = sessions.Create(ctx, testSession("s-other", "u-2", now))

	n, _ := sessions.ActiveCount(ctx, "u-1", now)
	if n != 3 {
		t.Fatalf("expected 3 active, got %d", n)
	}
	if err := sessions.DeactivateAllForUser(ctx, "u-1"); err != nil {
		t.Fatalf("deactivate all: %v", err)
	}
	if n, _ := sessions.ActiveCount(ctx, "u-1", now); n != 0 {
		t.Fatalf("expected 0 active, got %d", n)
	}
	if n, _ := sessions.ActiveCount(ctx, "u-2", now); n != 1 {
		t.Fatalf("other user must be untouched, got %d", n)
	}
}

func TestRefreshRevokeIsConditional(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	tokens := store.RefreshTokens()

	rec := testRefresh("r-1", "u-1", "secret-1", now)
	if err := tokens.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := tokens.FindByHash(ctx, rec.TokenHash)
	if err != nil || got == nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != "r-1" || got.RevokedAt != nil || !got.Usable(now) {
		t.Fatalf("unexpected token %+v", got)
	}

	won, err := tokens.Revoke(ctx, "r-1", now)
	if err != nil || !won {
		t.Fatalf("first revoke: won=%v err=%v", won, err)
	}
	won, err = tokens.Revoke(ctx, "r-1", now.Add(time.Second))
	if err != nil || won {
		t.Fatalf("second revoke must lose: won=%v err=%v", won, err)
	}

	got, _ = tokens.FindByHash(ctx, rec.TokenHash)
	if got.RevokedAt == nil || !got.RevokedAt.Equal(now) {
		t.Fatalf("expected revoked_at %v, got %v", now, got.RevokedAt)
	}

	if won, _ := tokens.Revoke(ctx, "unknown", now); won {
		t.Fatal("revoking an unknown id must report false")
	}
	if got, _ := tokens.FindByHash(ctx, internal.HashToken("nope")); got != nil {
		t.Fatal("unknown hash must return nil")
	}
}

func TestRefreshRevokeConcurrentSingleWinner(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	tokens := store.RefreshTokens()
	_ = tokens.Create(ctx, testRefresh("r-1", "u-1", "secret-1", now))

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			won, err := tokens.Revoke(ctx, "r-1", now)
			if err != nil {
				t.Errorf("revoke: %v", err)
				return
			}
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestRevokeUserCredentialsCascade(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = store.Sessions().Create(ctx, testSession("s-1", "u-1", now))
	_ = store.Sessions().Create(ctx, testSession("s-2", "u-1", now))
	_ = store.RefreshTokens().Create(ctx, testRefresh("r-1", "u-1", "secret-1", now))
	_ = store.RefreshTokens().Create(ctx, testRefresh("r-2", "u-1", "secret-2", now))
	_ = store.RefreshTokens().Create(ctx, testRefresh("r-3", "u-2", "secret-3", now))

	if err := store.RevokeUserCredentials(ctx, "u-1", now); err != nil {
		t.Fatalf("cascade: %v", err)
	}

	if n, _ := store.Sessions().ActiveCount(ctx, "u-1", now); n != 0 {
		t.Fatalf("expected no active sessions, got %d", n)
	}
	for _, secret := range []string{"secret-1", "secret-2"} {
		got, _ := store.RefreshTokens().FindByHash(ctx, internal.HashToken(secret))
		if got == nil || got.RevokedAt == nil {
			t.Fatalf("expected %s revoked, got %+v", secret, got)
		}
	}
	other, _ := store.RefreshTokens().FindByHash(ctx, internal.HashToken("secret-3"))
	if other.RevokedAt != nil {
		t.Fatal("other user's token must stay usable")
	}
}

func TestRevokeAllForUserKeepsFirstRevocationTime(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	tokens := store.RefreshTokens()

	_ = tokens.Create(ctx, testRefresh("r-1", "u-1", "secret-1", now))
	_ = tokens.Create(ctx, testRefresh("r-2", "u-1", "secret-2", now))
	_, _ = tokens.Revoke(ctx, "r-1", now)

	later := now.Add(time.Minute)
	if err := tokens.RevokeAllForUser(ctx, "u-1", later); err != nil {
		t.Fatalf("revoke all: %v", err)
	}

	first, _ := tokens.FindByHash(ctx, internal.HashToken("secret-1"))
	second, _ := tokens.FindByHash(ctx, internal.HashToken("secret-2"))
	if !first.RevokedAt.Equal(now) {
		t.Fatalf("first revocation time overwritten: %v", first.RevokedAt)
	}
	if second.RevokedAt == nil || !second.RevokedAt.Equal(later) {
		t.Fatalf("expected second revoked at %v, got %v", later, second.RevokedAt)
	}
}

func TestRevokeAllForSessionOnlyTouchesThatSession(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	tokens := store.RefreshTokens()

	_ = tokens.Create(ctx, testRefresh("r-1", "u-1", "secret-1", now))
	_ = tokens.Create(ctx, testRefresh("r-2", "u-1", "secret-2", now))
	other := testRefresh("r-3", "u-1", "secret-3", now)
	other.SessionID = "s-2"
	_ = tokens.Create(ctx, other)

	if err := tokens.RevokeAllForSession(ctx, "s-1", now); err != nil {
		t.Fatalf("revoke session: %v", err)
	}
	if err := tokens.RevokeAllForSession(ctx, "s-unknown", now); err != nil {
		t.Fatalf("revoke unknown session: %v", err)
	}

	for secret, revoked := range map[string]bool{"secret-1": true, "secret-2": true, "secret-3": false} {
		got, _ := tokens.FindByHash(ctx, internal.HashToken(secret))
		if got == nil || (got.RevokedAt != nil) != revoked {
			t.Fatalf("%s: expected revoked=%v, got %+v", secret, revoked, got)
		}
	}
}

// Logging out a session must hold even after the session hash expires out
// of Redis: its tokens are already revoked and stay so until retention ends.
func TestSessionRevocationOutlivesSessionKey(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = store.Sessions().Create(ctx, testSession("s-1", "u-1", now))
	_ = store.RefreshTokens().Create(ctx, testRefresh("r-1", "u-1", "secret-1", now))

	_ = store.Sessions().Deactivate(ctx, "s-1")
	_ = store.RefreshTokens().RevokeAllForSession(ctx, "s-1", now)

	mr.FastForward(2 * time.Hour)
	if sess, _ := store.Sessions().Get(ctx, "s-1"); sess != nil {
		t.Fatalf("session should have expired, got %+v", sess)
	}
	got, _ := store.RefreshTokens().FindByHash(ctx, internal.HashToken("secret-1"))
	if got == nil || got.RevokedAt == nil {
		t.Fatalf("expected token to remain revoked, got %+v", got)
	}
}

func TestIndexSetsExpire(t *testing.T) {
	store, mr, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	short := testSession("s-1", "u-1", now)
	long := testSession("s-2", "u-1", now)
	long.ExpiresAt = now.Add(30 * 24 * time.Hour)
	_ = store.Sessions().Create(ctx, long)
	_ = store.Sessions().Create(ctx, short)
	_ = store.RefreshTokens().Create(ctx, testRefresh("r-1", "u-1", "secret-1", now))

	sessTTL := mr.TTL(store.userSessionsKey("u-1"))
	if sessTTL < 29*24*time.Hour {
		t.Fatalf("session index TTL must cover the longest session, got %v", sessTTL)
	}
	for _, key := range []string{store.userRefreshKey("u-1"), store.sessionRefreshKey("s-1")} {
		ttl := mr.TTL(key)
		if ttl <= 24*time.Hour || ttl > 24*time.Hour+store.retention {
			t.Fatalf("%s: expected TTL covering expiry plus retention, got %v", key, ttl)
		}
	}

	mr.FastForward(31 * 24 * time.Hour)
	for _, key := range []string{store.userSessionsKey("u-1"), store.userRefreshKey("u-1"), store.sessionRefreshKey("s-1")} {
		if mr.Exists(key) {
			t.Fatalf("%s should have expired", key)
		}
	}
}
