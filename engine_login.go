package authcore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Login authenticates by email and password. When the user has two-factor
// enabled and no code is supplied, a code is emailed and the result carries
// only a temp token; no session exists until the code is verified.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (res *LoginResult, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "Login")
	defer func() { finishSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := e.credentials.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("authcore: find user: %w", err)
	}
	if user == nil {
		return nil, e.loginFailure(ctx, req.Email, ReasonUserNotFound, msgInvalidCredentials)
	}
	if !user.IsActive {
		return nil, e.loginFailure(ctx, req.Email, ReasonAccountDisabled, msgAccountDisabled)
	}
	if !e.verifyPassword(req.Password, user) {
		return nil, e.loginFailure(ctx, req.Email, ReasonInvalidPassword, msgInvalidCredentials)
	}
	if e.config.Login.RequireEmailVerification && !user.IsEmailVerified {
		return nil, e.loginFailure(ctx, req.Email, ReasonEmailUnverified, msgEmailUnverified)
	}

	e.maybeUpgradeHash(ctx, user, req.Password)

	if user.TwoFactorEnabled {
		if req.TwoFactorCode == "" {
			return e.challengeTwoFactor(ctx, user, req.RememberMe)
		}
		ok, err := e.twoFactorCodes.Consume(ctx, user.Email, req.TwoFactorCode)
		if err != nil {
			return nil, err
		}
		if !ok {
			e.metrics.Inc(MetricTwoFactorFailure)
			return nil, e.loginFailure(ctx, req.Email, ReasonInvalid2FA, msgInvalid2FACode)
		}
		e.metrics.Inc(MetricTwoFactorSuccess)
	}

	return e.completeLogin(ctx, user, req.RememberMe)
}

// Complete2FA finishes a login that returned RequiresTwoFactor.
func (e *Engine) Complete2FA(ctx context.Context, req Complete2FARequest) (res *LoginResult, err error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "Complete2FA")
	defer func() { finishSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	claims, err := e.issuer.ParseTemp(req.TempToken)
	if err != nil {
		return nil, Unauthorized(msgInvalidTempToken)
	}

	user, err := e.findUserByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, Unauthorized(msgUserNotFound)
	}
	if !user.IsActive {
		return nil, e.loginFailure(ctx, user.Email, ReasonAccountDisabled, msgAccountDisabled)
	}

	ok, err := e.twoFactorCodes.Consume(ctx, user.Email, req.Code)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metrics.Inc(MetricTwoFactorFailure)
		return nil, e.loginFailure(ctx, user.Email, ReasonInvalid2FA, msgInvalid2FACode)
	}
	e.metrics.Inc(MetricTwoFactorSuccess)

	return e.completeLogin(ctx, user, claims.RememberMe)
}

// Resend2FACode issues a fresh code for a pending two-factor login. The
// previous code stops working.
func (e *Engine) Resend2FACode(ctx context.Context, tempToken string) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, "Resend2FACode")
	defer func() { finishSpan(span, err) }()

	claims, err := e.issuer.ParseTemp(tempToken)
	if err != nil {
		return Unauthorized(msgInvalidTempToken)
	}
	user, err := e.findUserByID(ctx, claims.Subject)
	if err != nil {
		return err
	}
	if user == nil {
		return Unauthorized(msgUserNotFound)
	}
	if !user.IsActive || !user.TwoFactorEnabled {
		return Unauthorized(msgInvalidTempToken)
	}

	return e.sendTwoFactorCode(ctx, user)
}

// challengeTwoFactor persists a code before sending it, then returns the temp token.
func (e *Engine) challengeTwoFactor(ctx context.Context, user *User, rememberMe bool) (*LoginResult, error) {
	code, err := e.twoFactorCodes.Issue(ctx, user.Email)
	if err != nil {
		return nil, err
	}

	temp, err := e.issuer.IssueTemp(user.ID, rememberMe)
	if err != nil {
		return nil, fmt.Errorf("authcore: issue temp token: %w", err)
	}

	e.notify(ctx, "two_factor_code", user.ID, func(nctx context.Context) error {
		return e.notifier.SendTwoFactorToken(nctx, user.Email, code, user.DisplayName)
	})
	e.metrics.Inc(MetricTwoFactorChallenge)

	return &LoginResult{
		RequiresTwoFactor: true,
		TempToken:         temp,
		UserID:            user.ID,
	}, nil
}

func (e *Engine) completeLogin(ctx context.Context, user *User, rememberMe bool) (*LoginResult, error) {
	pair, err := e.issueSession(ctx, user, rememberMe)
	if err != nil {
		return nil, err
	}

	if err := e.credentials.UpdateLastLogin(ctx, user.ID, e.now()); err != nil {
		e.logger.Warn("last login not updated", zap.String("user_id", user.ID), zap.Error(err))
	}

	e.recordAttempt(ctx, user.Email, true, "")
	e.metrics.Inc(MetricLoginSuccess)

	return &LoginResult{
		Tokens: pair,
		UserID: user.ID,
	}, nil
}

func (e *Engine) loginFailure(ctx context.Context, email, reason, msg string) error {
	e.metrics.Inc(MetricLoginFailure)
	e.recordAttempt(ctx, email, false, reason)
	e.logger.Debug("login rejected", zap.String("reason", reason))
	return Unauthorized(msg)
}
