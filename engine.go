package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine runs login, two-factor, refresh, logout and password flows over the
// injected stores. It holds no mutable state of its own beyond counters and
// the ledger queue, so methods are safe for concurrent use.
type Engine struct {
	config        Config
	credentials   CredentialStore
	sessions      SessionStore
	refreshTokens RefreshTokenStore
	cascade       CascadeRevoker
	notifier      NotificationGateway
	issuer        TokenIssuer
	hasher        *password.Argon2

	twoFactorCodes *oneTimeIssuer
	resetTokens    *oneTimeIssuer

	ledger  *ledgerDispatcher
	metrics *Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Close flushes pending ledger writes.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.ledger.Close()
}

// LedgerDropped reports login attempts dropped because the ledger queue was full.
func (e *Engine) LedgerDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.ledger.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) ready() error {
	if e == nil || e.issuer == nil || e.hasher == nil || e.credentials == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "authcore."+name)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

/*
====================================
SESSION ISSUANCE
====================================
*/

func (e *Engine) sessionTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return e.config.Session.RememberMeTTL
	}
	return e.config.Session.DefaultTTL
}

func (e *Engine) refreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return e.config.Refresh.RememberMeTTL
	}
	return e.config.Refresh.DefaultTTL
}

func (e *Engine) createSession(ctx context.Context, user *User, rememberMe bool) (*Session, error) {
	token, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("authcore: session token: %w", err)
	}

	now := e.now()
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		SessionToken: token,
		IPAddress:    clientIPFromContext(ctx),
		UserAgent:    userAgentFromContext(ctx),
		ExpiresAt:    now.Add(e.sessionTTL(rememberMe)),
		RememberMe:   rememberMe,
		Active:       true,
		CreatedAt:    now,
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("authcore: create session: %w", err)
	}
	e.metrics.Inc(MetricSessionCreated)
	return sess, nil
}

// mintPair signs an access token for sessionID and stores a new refresh token.
func (e *Engine) mintPair(ctx context.Context, user *User, sessionID string, rememberMe bool) (*TokenPair, error) {
	access, claims, err := e.issuer.IssueAccess(jwt.AccessSubject{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role.Name,
		Permissions: user.Role.Permissions,
		SessionID:   sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("authcore: issue access token: %w", err)
	}

	refresh, err := e.issuer.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("authcore: refresh secret: %w", err)
	}

	now := e.now()
	rec := &RefreshToken{
		ID:         uuid.NewString(),
		TokenHash:  internal.HashToken(refresh),
		UserID:     user.ID,
		SessionID:  sessionID,
		RememberMe: rememberMe,
		ExpiresAt:  now.Add(e.refreshTTL(rememberMe)),
		CreatedAt:  now,
	}
	if err := e.refreshTokens.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("authcore: store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresAt:        claims.ExpiresAt.Time,
		RefreshExpiresAt: rec.ExpiresAt,
		SessionID:        sessionID,
	}, nil
}

// issueSession is the terminal step of every successful login.
func (e *Engine) issueSession(ctx context.Context, user *User, rememberMe bool) (*TokenPair, error) {
	sess, err := e.createSession(ctx, user, rememberMe)
	if err != nil {
		return nil, err
	}
	return e.mintPair(ctx, user, sess.ID, rememberMe)
}

/*
====================================
REVOCATION
====================================
*/

// revokeUserCredentials deactivates every session and revokes every refresh
// token of the user. Password flows must not report success if this fails.
func (e *Engine) revokeUserCredentials(ctx context.Context, userID string) error {
	at := e.now()

	if e.cascade != nil {
		if err := e.cascade.RevokeUserCredentials(ctx, userID, at); err != nil {
			return errors.Join(ErrCascadeFailed, err)
		}
	} else {
		if err := e.sessions.DeactivateAllForUser(ctx, userID); err != nil {
			return errors.Join(ErrCascadeFailed, err)
		}
		if err := e.refreshTokens.RevokeAllForUser(ctx, userID, at); err != nil {
			return errors.Join(ErrCascadeFailed, err)
		}
	}

	e.metrics.Inc(MetricCascadeRevocation)
	return nil
}

/*
====================================
SIDE CHANNELS
====================================
*/

// notify calls the gateway under the configured timeout. Failures are
// warnings: the credential is already persisted and can be resent.
func (e *Engine) notify(ctx context.Context, kind, userID string, send func(context.Context) error) {
	nctx, cancel := context.WithTimeout(ctx, e.config.Notification.Timeout)
	defer cancel()

	if err := send(nctx); err != nil {
		e.metrics.Inc(MetricNotificationFailure)
		e.logger.Warn("notification not delivered",
			zap.String("kind", kind),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func (e *Engine) recordAttempt(ctx context.Context, email string, success bool, reason string) {
	e.ledger.Record(ctx, LoginAttempt{
		ID:            uuid.NewString(),
		Email:         email,
		IPAddress:     clientIPFromContext(ctx),
		UserAgent:     userAgentFromContext(ctx),
		Success:       success,
		FailureReason: reason,
		Timestamp:     e.now(),
	})
}

/*
====================================
PASSWORD HELPERS
====================================
*/

func (e *Engine) verifyPassword(plain string, user *User) bool {
	ok, err := e.hasher.Verify(plain, user.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrTooLong) {
		e.logger.Error("stored password hash unreadable", zap.String("user_id", user.ID), zap.Error(err))
	}
	return err == nil && ok
}

func (e *Engine) hashPassword(plain string) (string, error) {
	hash, err := e.hasher.Hash(plain)
	switch {
	case errors.Is(err, password.ErrTooShort):
		return "", Validation(fmt.Sprintf(msgPasswordPolicyFormat, e.hasher.MinLength()))
	case errors.Is(err, password.ErrTooLong):
		return "", Validation("Password is too long")
	case err != nil:
		return "", fmt.Errorf("authcore: hash password: %w", err)
	}
	return hash, nil
}

// checkPasswordPolicy runs before any comparison so policy errors do not
// depend on the stored hash.
func (e *Engine) checkPasswordPolicy(plain string) error {
	if len(plain) < e.hasher.MinLength() {
		return Validation(fmt.Sprintf(msgPasswordPolicyFormat, e.hasher.MinLength()))
	}
	return nil
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, user *User, plain string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		return
	}
	if err := e.credentials.UpdatePassword(ctx, user.ID, hash); err != nil {
		e.logger.Warn("password hash upgrade failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	user.PasswordHash = hash
}

func (e *Engine) findUserByID(ctx context.Context, userID string) (*User, error) {
	user, err := e.credentials.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("authcore: find user: %w", err)
	}
	return user, nil
}
