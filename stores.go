package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/jwt"
)

// CredentialStore persists users. Finders return (nil, nil) when no row matches.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	// Create assigns ID and CreatedAt when empty and returns ErrDuplicateEmail
	// if the email is taken.
	Create(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
	EnableTwoFactor(ctx context.Context, userID string) error
	DisableTwoFactor(ctx context.Context, userID string) error
}

// SessionStore persists sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Deactivate is idempotent.
	Deactivate(ctx context.Context, sessionID string) error
	DeactivateAllForUser(ctx context.Context, userID string) error
}

// RefreshTokenStore persists refresh tokens by hash.
type RefreshTokenStore interface {
	Create(ctx context.Context, t *RefreshToken) error
	FindByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// Revoke sets RevokedAt only if it is unset and reports whether this call
	// did so. Two concurrent callers never both get true.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) error
	// RevokeAllForSession revokes every token bound to sessionID, so a
	// logged-out session cannot be recovered through an old token.
	RevokeAllForSession(ctx context.Context, sessionID string, at time.Time) error
}

// CascadeRevoker is implemented by backends that own both sessions and
// refresh tokens and can revoke them for a user in one unit of work.
type CascadeRevoker interface {
	RevokeUserCredentials(ctx context.Context, userID string, at time.Time) error
}

// OneTimeCredentialStore persists single-use codes keyed by kind and email.
type OneTimeCredentialStore interface {
	// Create replaces any pending credential of the same kind for the email.
	Create(ctx context.Context, c *OneTimeCredential) error
	// FindValid returns the unconsumed, unexpired credential matching codeHash,
	// or (nil, nil).
	FindValid(ctx context.Context, kind CredentialKind, email, codeHash string, now time.Time) (*OneTimeCredential, error)
	// Consume atomically matches and removes the credential. It reports false
	// when nothing valid matched, including when a concurrent caller won.
	Consume(ctx context.Context, kind CredentialKind, email, codeHash string, now time.Time) (bool, error)
	// RecordFailure counts a wrong code against the pending credential of
	// kind and email and deletes it once maxAttempts is reached. It reports
	// whether the credential was removed.
	RecordFailure(ctx context.Context, kind CredentialKind, email string, maxAttempts int, now time.Time) (bool, error)
}

// LoginAttemptLedger appends login outcomes.
type LoginAttemptLedger interface {
	Append(ctx context.Context, a LoginAttempt) error
}

// NotificationGateway delivers codes and reset links. Implementations should
// honor ctx cancellation; the engine bounds each call with a timeout.
type NotificationGateway interface {
	SendTwoFactorToken(ctx context.Context, email, code, displayName string) error
	SendPasswordResetEmail(ctx context.Context, email, token, displayName string) error
	SendPasswordResetSuccessEmail(ctx context.Context, email, displayName string) error
}

// TokenIssuer signs and verifies bearer and temp tokens and mints refresh
// secrets. *jwt.Manager implements it.
type TokenIssuer interface {
	IssueAccess(sub jwt.AccessSubject) (string, *jwt.AccessClaims, error)
	ParseAccess(token string) (*jwt.AccessClaims, error)
	IssueTemp(userID string, rememberMe bool) (string, error)
	ParseTemp(token string) (*jwt.TempClaims, error)
	NewRefreshToken() (string, error)
}

var _ TokenIssuer = (*jwt.Manager)(nil)
