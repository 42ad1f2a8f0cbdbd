package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

/*
====================================
IN-MEMORY STORES
====================================
*/

type memCredentials struct {
	mu      sync.Mutex
	users   map[string]*User
	byEmail map[string]string

	updatePasswordErr error
	updatePasswordN   int
}

func newMemCredentials() *memCredentials {
	return &memCredentials{users: map[string]*User{}, byEmail: map[string]string{}}
}

func (m *memCredentials) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	u := *m.users[id]
	return &u, nil
}

func (m *memCredentials) FindByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memCredentials) Create(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(user.Email)
	if _, ok := m.byEmail[key]; ok {
		return ErrDuplicateEmail
	}
	cp := *user
	m.users[user.ID] = &cp
	m.byEmail[key] = user.ID
	return nil
}

func (m *memCredentials) UpdatePassword(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatePasswordN++
	if m.updatePasswordErr != nil {
		return m.updatePasswordErr
	}
	if u, ok := m.users[userID]; ok {
		u.PasswordHash = hash
	}
	return nil
}

func (m *memCredentials) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (m *memCredentials) EnableTwoFactor(_ context.Context, userID string) error {
	return m.setTwoFactor(userID, true)
}

func (m *memCredentials) DisableTwoFactor(_ context.Context, userID string) error {
	return m.setTwoFactor(userID, false)
}

func (m *memCredentials) setTwoFactor(userID string, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return errors.New("no such user")
	}
	u.TwoFactorEnabled = on
	return nil
}

func (m *memCredentials) mutate(userID string, fn func(*User)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.users[userID])
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*Session

	deactivateAllErr error
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: map[string]*Session{}}
}

func (m *memSessions) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessions) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Active = false
	}
	return nil
}

func (m *memSessions) DeactivateAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deactivateAllErr != nil {
		return m.deactivateAllErr
	}
	for _, s := range m.sessions {
		if s.UserID == userID {
			s.Active = false
		}
	}
	return nil
}

func (m *memSessions) ActiveCount(_ context.Context, userID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID && s.Active && now.Before(s.ExpiresAt) {
			n++
		}
	}
	return n, nil
}

func (m *memSessions) forUser(userID string) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out
}

// drop removes a session the way a TTL-backed store forgets it.
func (m *memSessions) drop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

type memRefreshTokens struct {
	mu     sync.Mutex
	tokens map[string]*RefreshToken
}

func newMemRefreshTokens() *memRefreshTokens {
	return &memRefreshTokens{tokens: map[string]*RefreshToken{}}
}

func (m *memRefreshTokens) Create(_ context.Context, t *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tokens[t.ID] = &cp
	return nil
}

func (m *memRefreshTokens) FindByHash(_ context.Context, hash string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRefreshTokens) Revoke(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	t.RevokedAt = &at
	return true, nil
}

func (m *memRefreshTokens) RevokeAllForUser(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			stamp := at
			t.RevokedAt = &stamp
		}
	}
	return nil
}

func (m *memRefreshTokens) RevokeAllForSession(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.SessionID == sessionID && t.RevokedAt == nil {
			stamp := at
			t.RevokedAt = &stamp
		}
	}
	return nil
}

func (m *memRefreshTokens) usableForUser(userID string, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.UserID == userID && t.Usable(now) {
			n++
		}
	}
	return n
}

type memOneTime struct {
	mu    sync.Mutex
	creds map[CredentialKind]map[string]*OneTimeCredential
}

func newMemOneTime() *memOneTime {
	return &memOneTime{creds: map[CredentialKind]map[string]*OneTimeCredential{}}
}

func (m *memOneTime) Create(_ context.Context, c *OneTimeCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds[c.Kind] == nil {
		m.creds[c.Kind] = map[string]*OneTimeCredential{}
	}
	cp := *c
	m.creds[c.Kind][c.Email] = &cp
	return nil
}

func (m *memOneTime) match(kind CredentialKind, email, hash string, now time.Time) *OneTimeCredential {
	for e, c := range m.creds[kind] {
		if email != "" && e != email {
			continue
		}
		if c.CodeHash == hash && !c.Consumed && now.Before(c.ExpiresAt) {
			return c
		}
	}
	return nil
}

func (m *memOneTime) FindValid(_ context.Context, kind CredentialKind, email, hash string, now time.Time) (*OneTimeCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.match(kind, email, hash, now)
	if c == nil {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memOneTime) Consume(_ context.Context, kind CredentialKind, email, hash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.match(kind, email, hash, now)
	if c == nil {
		return false, nil
	}
	delete(m.creds[kind], c.Email)
	return true, nil
}

func (m *memOneTime) RecordFailure(_ context.Context, kind CredentialKind, email string, maxAttempts int, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[kind][email]
	if !ok || !now.Before(c.ExpiresAt) {
		return false, nil
	}
	c.Attempts++
	if c.Attempts >= maxAttempts {
		delete(m.creds[kind], email)
		return true, nil
	}
	return false, nil
}

func (m *memOneTime) count(kind CredentialKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creds[kind])
}

type memLedger struct {
	mu       sync.Mutex
	attempts []LoginAttempt
	block    chan struct{}
}

func (m *memLedger) Append(_ context.Context, a LoginAttempt) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memLedger) snapshot() []LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LoginAttempt(nil), m.attempts...)
}

/*
====================================
NOTIFIER AND CLOCK
====================================
*/

type sentMessage struct {
	Kind  string
	Email string
	Code  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *recordingNotifier) record(kind, email, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{Kind: kind, Email: email, Code: code})
	return n.err
}

func (n *recordingNotifier) SendTwoFactorToken(_ context.Context, email, code, _ string) error {
	return n.record("two_factor", email, code)
}

func (n *recordingNotifier) SendPasswordResetEmail(_ context.Context, email, token, _ string) error {
	return n.record("password_reset", email, token)
}

func (n *recordingNotifier) SendPasswordResetSuccessEmail(_ context.Context, email, _ string) error {
	return n.record("password_reset_success", email, "")
}

func (n *recordingNotifier) last(kind string) (sentMessage, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind {
			return n.sent[i], true
		}
	}
	return sentMessage{}, false
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

/*
====================================
HARNESS
====================================
*/

type harness struct {
	engine   *Engine
	users    *memCredentials
	sessions *memSessions
	refresh  *memRefreshTokens
	oneTime  *memOneTime
	ledger   *memLedger
	notifier *recordingNotifier
	clock    *testClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.Audience = "authcore-test"
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newHarness(t testing.TB, mutate ...func(*Config)) *harness {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	h := &harness{
		users:    newMemCredentials(),
		sessions: newMemSessions(),
		refresh:  newMemRefreshTokens(),
		oneTime:  newMemOneTime(),
		ledger:   &memLedger{},
		notifier: &recordingNotifier{},
		clock:    &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}

	engine, err := New().
		WithConfig(cfg).
		WithCredentialStore(h.users).
		WithSessionStore(h.sessions).
		WithRefreshTokenStore(h.refresh).
		WithOneTimeStore(h.oneTime).
		WithLoginAttemptLedger(h.ledger).
		WithNotificationGateway(h.notifier).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

func (h *harness) register(t testing.TB, email, pass string) *User {
	t.Helper()
	u, err := h.engine.Register(context.Background(), RegisterRequest{Email: email, Password: pass})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

func (h *harness) login(t testing.TB, email, pass string) *LoginResult {
	t.Helper()
	res, err := h.engine.Login(context.Background(), LoginRequest{Email: email, Password: pass})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return res
}

func requireKind(t *testing.T, err, kind error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", kind)
	}
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

func requireMessage(t *testing.T, err error, msg string) {
	t.Helper()
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *Error, got %T (%v)", err, err)
	}
	if ae.Message != msg {
		t.Fatalf("expected message %q, got %q", msg, ae.Message)
	}
}
