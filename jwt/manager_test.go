package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t testing.TB) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newTestManager(t testing.TB, now func() time.Time) *Manager {
	t.Helper()
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     5 * time.Minute,
		TempTTL:       10 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "authcore",
		Audience:      "api",
		Now:           now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestIssueAndParseAccess(t *testing.T) {
	m := newTestManager(t, nil)

	token, issued, err := m.IssueAccess(AccessSubject{
		UserID:      "u1",
		Email:       "a@test.com",
		Role:        "member",
		Permissions: []string{"listing:read"},
		SessionID:   "s1",
	})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if issued.ID == "" {
		t.Fatal("expected jti to be set")
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if claims.Subject != "u1" || claims.SessionID != "s1" || claims.Email != "a@test.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Role != "member" || len(claims.Permissions) != 1 {
		t.Fatalf("role claims not carried: %+v", claims)
	}
	if claims.Issuer != "authcore" || len(claims.Audience) != 1 || claims.Audience[0] != "api" {
		t.Fatalf("unexpected iss/aud: %v %v", claims.Issuer, claims.Audience)
	}
}

func TestTempTokenCarriesTypeAndRememberMe(t *testing.T) {
	m := newTestManager(t, nil)

	token, err := m.IssueTemp("u1", true)
	if err != nil {
		t.Fatalf("IssueTemp: %v", err)
	}

	claims, err := m.ParseTemp(token)
	if err != nil {
		t.Fatalf("ParseTemp: %v", err)
	}
	if claims.Type != TypeTemp2FA || !claims.RememberMe || claims.Subject != "u1" {
		t.Fatalf("unexpected temp claims: %+v", claims)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 10*time.Minute {
		t.Fatalf("temp ttl = %v", got)
	}
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	m := newTestManager(t, nil)

	temp, err := m.IssueTemp("u1", false)
	if err != nil {
		t.Fatalf("IssueTemp: %v", err)
	}
	if _, err := m.ParseAccess(temp); err == nil {
		t.Fatal("temp token must not authorize as access token")
	}

	access, _, err := m.IssueAccess(AccessSubject{UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := m.ParseTemp(access); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
}

func TestTempTokenExpires(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	m := newTestManager(t, func() time.Time { return clock() })

	token, err := m.IssueTemp("u1", false)
	if err != nil {
		t.Fatalf("IssueTemp: %v", err)
	}

	later := now.Add(11 * time.Minute)
	clock = func() time.Time { return later }
	if _, err := m.ParseTemp(token); !errors.Is(err, gjwt.ErrTokenExpired) {
		t.Fatalf("expected expired temp token, got %v", err)
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	m := newTestManager(t, nil)

	claims := AccessClaims{SessionID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		Issuer:    "authcore",
		Audience:  gjwt.ClaimStrings{"api"},
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseAccessRejectsForeignIssuer(t *testing.T) {
	pub, priv := newEdKeys(t)
	issuer, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Issuer: "other"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	verifier, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub, Issuer: "authcore"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, _, err := issuer.IssueAccess(AccessSubject{UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := verifier.ParseAccess(token); err == nil {
		t.Fatal("expected issuer mismatch to be rejected")
	}
}

func TestHS256RequiresLongKey(t *testing.T) {
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short hs256 key to be rejected")
	}

	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, _, err := m.IssueAccess(AccessSubject{UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := m.ParseAccess(token); err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
}

func TestNewRefreshTokenIsOpaque(t *testing.T) {
	m := newTestManager(t, nil)
	a, err := m.NewRefreshToken()
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	b, _ := m.NewRefreshToken()
	if a == b || len(a) < 43 {
		t.Fatalf("unexpected refresh tokens %q %q", a, b)
	}
	if _, err := m.ParseAccess(a); err == nil {
		t.Fatal("refresh token must not parse as a JWT")
	}
}

func FuzzParseAccess(f *testing.F) {
	m := newTestManager(f, nil)
	if valid, _, err := m.IssueAccess(AccessSubject{UserID: "u1", SessionID: "s1"}); err == nil {
		f.Add(valid)
	}
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := m.ParseAccess(input)
		if err == nil && claims == nil {
			t.Fatal("ParseAccess returned nil claims without error")
		}
	})
}
