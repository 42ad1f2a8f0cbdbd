package authcore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ChangePassword replaces the password of an authenticated user and revokes
// every session and refresh token the user holds.
func (e *Engine) ChangePassword(ctx context.Context, req ChangePasswordRequest) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, "ChangePassword")
	defer func() { finishSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return err
	}

	user, err := e.findUserByID(ctx, req.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		return NotFound(msgUserNotFound)
	}
	if !e.verifyPassword(req.CurrentPassword, user) {
		e.metrics.Inc(MetricPasswordChangeInvalidOld)
		return Unauthorized(msgInvalidCredentials)
	}
	if err := e.checkPasswordPolicy(req.NewPassword); err != nil {
		return err
	}
	if req.NewPassword == req.CurrentPassword {
		e.metrics.Inc(MetricPasswordReuseRejected)
		return Validation(msgPasswordReuse)
	}

	if err := e.storePasswordAndRevoke(ctx, user, req.NewPassword); err != nil {
		return err
	}
	e.metrics.Inc(MetricPasswordChangeSuccess)
	return nil
}

// ForgotPassword issues a reset token and emails it. The result is nil
// whether or not the email belongs to an account.
func (e *Engine) ForgotPassword(ctx context.Context, email string) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, "ForgotPassword")
	defer func() { finishSpan(span, err) }()

	email = normalizeEmail(email)
	if email == "" {
		return nil
	}

	user, err := e.credentials.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("authcore: find user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil
	}

	token, err := e.resetTokens.Issue(ctx, user.Email)
	if err != nil {
		return err
	}
	e.metrics.Inc(MetricPasswordResetRequest)

	e.notify(ctx, "password_reset", user.ID, func(nctx context.Context) error {
		return e.notifier.SendPasswordResetEmail(nctx, user.Email, token, user.DisplayName)
	})
	return nil
}

// ResetPassword sets a new password using a reset token. The token is
// consumed before the password is written.
func (e *Engine) ResetPassword(ctx context.Context, req ResetPasswordRequest) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, "ResetPassword")
	defer func() {
		if err != nil {
			e.metrics.Inc(MetricPasswordResetFailure)
		}
		finishSpan(span, err)
	}()

	if err := req.Validate(); err != nil {
		return err
	}

	rec, err := e.resetTokens.Find(ctx, "", req.Token)
	if err != nil {
		return err
	}
	if rec == nil {
		return Validation(msgInvalidResetToken)
	}

	user, err := e.credentials.FindByEmail(ctx, rec.Email)
	if err != nil {
		return fmt.Errorf("authcore: find user: %w", err)
	}
	if user == nil {
		return NotFound(msgUserNotFound)
	}

	if err := e.checkPasswordPolicy(req.NewPassword); err != nil {
		return err
	}
	if e.verifyPassword(req.NewPassword, user) {
		e.metrics.Inc(MetricPasswordReuseRejected)
		return Validation(msgPasswordReuse)
	}

	ok, err := e.resetTokens.Consume(ctx, rec.Email, req.Token)
	if err != nil {
		return err
	}
	if !ok {
		return Validation(msgInvalidResetToken)
	}

	if err := e.storePasswordAndRevoke(ctx, user, req.NewPassword); err != nil {
		return err
	}
	e.metrics.Inc(MetricPasswordResetSuccess)

	e.notify(ctx, "password_reset_success", user.ID, func(nctx context.Context) error {
		return e.notifier.SendPasswordResetSuccessEmail(nctx, user.Email, user.DisplayName)
	})
	return nil
}

func (e *Engine) storePasswordAndRevoke(ctx context.Context, user *User, plain string) error {
	hash, err := e.hashPassword(plain)
	if err != nil {
		return err
	}
	if err := e.credentials.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("authcore: update password: %w", err)
	}
	if err := e.revokeUserCredentials(ctx, user.ID); err != nil {
		e.logger.Error("password updated but revocation failed", zap.String("user_id", user.ID), zap.Error(err))
		return errors.Join(errors.New("authcore: password updated, sessions not revoked"), err)
	}
	return nil
}
