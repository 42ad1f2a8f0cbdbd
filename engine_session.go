package authcore

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/jwt"
	"go.uber.org/zap"
)

// Refresh rotates a refresh token. The presented token is revoked with a
// conditional update; if it was already revoked or expired, every refresh
// token of the user is revoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "Refresh")
	defer func() {
		if err != nil {
			e.metrics.Inc(MetricRefreshFailure)
		}
		finishSpan(span, err)
	}()

	refreshToken = strings.TrimSpace(refreshToken)
	if !internal.ValidOpaqueToken(refreshToken) {
		return nil, Unauthorized(msgInvalidRefresh)
	}

	rec, err := e.refreshTokens.FindByHash(ctx, internal.HashToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("authcore: find refresh token: %w", err)
	}
	if rec == nil {
		return nil, Unauthorized(msgInvalidRefresh)
	}

	now := e.now()
	if !rec.Usable(now) {
		return nil, e.rejectReplayedRefresh(ctx, rec.UserID)
	}

	user, err := e.findUserByID(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, Unauthorized(msgUserNotFound)
	}
	if !user.IsActive {
		return nil, Unauthorized(msgAccountDisabled)
	}

	sess, err := e.sessions.Get(ctx, rec.SessionID)
	if err != nil {
		return nil, fmt.Errorf("authcore: load session: %w", err)
	}
	if sess != nil && !sess.Active {
		if _, err := e.refreshTokens.Revoke(ctx, rec.ID, now); err != nil {
			e.logger.Warn("refresh token for closed session not revoked", zap.String("user_id", user.ID), zap.Error(err))
		}
		return nil, Unauthorized(msgExpiredRefresh)
	}

	won, err := e.refreshTokens.Revoke(ctx, rec.ID, now)
	if err != nil {
		return nil, fmt.Errorf("authcore: revoke refresh token: %w", err)
	}
	if !won {
		return nil, e.rejectReplayedRefresh(ctx, rec.UserID)
	}

	sessionID := rec.SessionID
	if sess == nil || !now.Before(sess.ExpiresAt) {
		fresh, err := e.createSession(ctx, user, rec.RememberMe)
		if err != nil {
			return nil, err
		}
		sessionID = fresh.ID
	}

	pair, err = e.mintPair(ctx, user, sessionID, rec.RememberMe)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricRefreshSuccess)
	return pair, nil
}

func (e *Engine) rejectReplayedRefresh(ctx context.Context, userID string) error {
	e.metrics.Inc(MetricRefreshReuseDetected)
	if err := e.refreshTokens.RevokeAllForUser(ctx, userID, e.now()); err != nil {
		e.logger.Error("revoke all refresh tokens failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("authcore: revoke refresh chain: %w", err)
	}
	e.logger.Warn("refresh token replay", zap.String("user_id", userID))
	return Unauthorized(msgExpiredRefresh)
}

// Logout revokes the refresh token and deactivates the session when given.
// When a refresh token is presented, only its own session may be
// deactivated; a different session id, or any session id next to an
// unknown token, is ignored. Deactivating a session
// also revokes every refresh token bound to it. Unknown or already revoked
// values are not errors.
func (e *Engine) Logout(ctx context.Context, req LogoutRequest) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, "Logout")
	defer func() { finishSpan(span, err) }()

	now := e.now()
	sessionID := strings.TrimSpace(req.SessionID)

	token := strings.TrimSpace(req.RefreshToken)
	if token != "" {
		var rec *RefreshToken
		if internal.ValidOpaqueToken(token) {
			rec, err = e.refreshTokens.FindByHash(ctx, internal.HashToken(token))
			if err != nil {
				return fmt.Errorf("authcore: find refresh token: %w", err)
			}
		}
		switch {
		case rec == nil:
			sessionID = ""
		case sessionID != "" && sessionID != rec.SessionID:
			e.logger.Warn("logout session does not match refresh token",
				zap.String("user_id", rec.UserID), zap.String("session_id", sessionID))
			sessionID = ""
		}
		if rec != nil {
			if _, err := e.refreshTokens.Revoke(ctx, rec.ID, now); err != nil {
				return fmt.Errorf("authcore: revoke refresh token: %w", err)
			}
		}
	}

	if sessionID != "" {
		if err := e.sessions.Deactivate(ctx, sessionID); err != nil {
			return fmt.Errorf("authcore: deactivate session: %w", err)
		}
		if err := e.refreshTokens.RevokeAllForSession(ctx, sessionID, now); err != nil {
			return fmt.Errorf("authcore: revoke session refresh tokens: %w", err)
		}
	}

	e.metrics.Inc(MetricLogout)
	return nil
}

// ValidateAccess verifies a bearer token and checks that its session is
// still active.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (claims *jwt.AccessClaims, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := e.now()
	defer func() { e.metrics.Observe(MetricValidateLatency, e.now().Sub(start)) }()

	claims, err = e.issuer.ParseAccess(token)
	if err != nil {
		return nil, Unauthorized(msgInvalidAccessToken)
	}

	sess, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("authcore: load session: %w", err)
	}
	if sess == nil || !sess.Active || sess.UserID != claims.Subject || !e.now().Before(sess.ExpiresAt) {
		return nil, Unauthorized(msgSessionInactive)
	}
	return claims, nil
}
