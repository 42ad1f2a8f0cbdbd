package authcore

import (
	"context"
	"fmt"
	"strings"
)

// Enable2FA turns on email second factor for the user. Codes go to the
// verified account email, so there is no secret to enroll.
func (e *Engine) Enable2FA(ctx context.Context, userID string) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, "Enable2FA")
	defer func() { finishSpan(span, err) }()

	user, err := e.requireUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorEnabled {
		return Conflict(msg2FAAlreadyEnabled)
	}
	return e.setTwoFactor(ctx, user.ID, true)
}

// Request2FAEnrollment emails a code that Confirm2FA accepts.
func (e *Engine) Request2FAEnrollment(ctx context.Context, userID string) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, "Request2FAEnrollment")
	defer func() { finishSpan(span, err) }()

	user, err := e.requireUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorEnabled {
		return Conflict(msg2FAAlreadyEnabled)
	}
	return e.sendTwoFactorCode(ctx, user)
}

// Confirm2FA consumes an out-of-band code and makes sure the flag is on.
func (e *Engine) Confirm2FA(ctx context.Context, userID, code string) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, "Confirm2FA")
	defer func() { finishSpan(span, err) }()

	user, err := e.requireUser(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.twoFactorCodes.Consume(ctx, user.Email, strings.TrimSpace(code))
	if err != nil {
		return err
	}
	if !ok {
		e.metrics.Inc(MetricTwoFactorFailure)
		return Validation(msgInvalidAuthCode)
	}
	e.metrics.Inc(MetricTwoFactorSuccess)

	if user.TwoFactorEnabled {
		return nil
	}
	return e.setTwoFactor(ctx, user.ID, true)
}

// Request2FADisable emails the code that confirms Disable2FA.
func (e *Engine) Request2FADisable(ctx context.Context, userID string) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, "Request2FADisable")
	defer func() { finishSpan(span, err) }()

	user, err := e.requireUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return Validation(msg2FANotEnabled)
	}
	return e.sendTwoFactorCode(ctx, user)
}

// Disable2FA turns the second factor off after checking the password and,
// when required or supplied, a code from Request2FADisable.
func (e *Engine) Disable2FA(ctx context.Context, req Disable2FARequest) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, "Disable2FA")
	defer func() { finishSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return err
	}

	user, err := e.requireUser(ctx, req.UserID)
	if err != nil {
		return err
	}
	if !user.TwoFactorEnabled {
		return Validation(msg2FANotEnabled)
	}
	if !e.verifyPassword(req.Password, user) {
		return Unauthorized(msgInvalidCredentials)
	}

	if e.config.TwoFactor.RequireCodeToDisable || req.Code != "" {
		ok, err := e.twoFactorCodes.Consume(ctx, user.Email, req.Code)
		if err != nil {
			return err
		}
		if !ok {
			e.metrics.Inc(MetricTwoFactorFailure)
			return Validation(msgInvalidAuthCode)
		}
	}

	return e.setTwoFactor(ctx, user.ID, false)
}

func (e *Engine) requireUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, NotFound(msgUserNotFound)
	}
	user, err := e.findUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, NotFound(msgUserNotFound)
	}
	return user, nil
}

func (e *Engine) sendTwoFactorCode(ctx context.Context, user *User) error {
	code, err := e.twoFactorCodes.Issue(ctx, user.Email)
	if err != nil {
		return err
	}
	e.notify(ctx, "two_factor_code", user.ID, func(nctx context.Context) error {
		return e.notifier.SendTwoFactorToken(nctx, user.Email, code, user.DisplayName)
	})
	return nil
}

func (e *Engine) setTwoFactor(ctx context.Context, userID string, enabled bool) error {
	if enabled {
		if err := e.credentials.EnableTwoFactor(ctx, userID); err != nil {
			return fmt.Errorf("authcore: enable two-factor: %w", err)
		}
		e.metrics.Inc(MetricTwoFactorEnabled)
		return nil
	}
	if err := e.credentials.DisableTwoFactor(ctx, userID); err != nil {
		return fmt.Errorf("authcore: disable two-factor: %w", err)
	}
	e.metrics.Inc(MetricTwoFactorDisabled)
	return nil
}
