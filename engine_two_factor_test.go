package authcore

import (
	"context"
	"testing"
)

func TestEnable2FA(t *testing.T) {
	h := newHarness(t)
	u := h.register(t, "a@test.com", "Pass123!")

	if err := h.engine.Enable2FA(context.Background(), u.ID); err != nil {
		t.Fatalf("enable: %v", err)
	}
	err := h.engine.Enable2FA(context.Background(), u.ID)
	requireKind(t, err, ErrConflict)
	requireMessage(t, err, msg2FAAlreadyEnabled)

	err = h.engine.Enable2FA(context.Background(), "missing")
	requireKind(t, err, ErrNotFound)
}

func TestConfirm2FAEnrollment(t *testing.T) {
	h := newHarness(t)
	u := h.register(t, "a@test.com", "Pass123!")

	if err := h.engine.Request2FAEnrollment(context.Background(), u.ID); err != nil {
		t.Fatalf("request enrollment: %v", err)
	}
	msg, ok := h.notifier.last("two_factor")
	if !ok {
		t.Fatal("expected enrollment code")
	}

	err := h.engine.Confirm2FA(context.Background(), u.ID, "000000x")
	requireKind(t, err, ErrValidation)
	requireMessage(t, err, msgInvalidAuthCode)

	if err := h.engine.Confirm2FA(context.Background(), u.ID, msg.Code); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	stored, _ := h.users.FindByID(context.Background(), u.ID)
	if !stored.TwoFactorEnabled {
		t.Fatal("expected two-factor enabled after confirmation")
	}

	err = h.engine.Confirm2FA(context.Background(), u.ID, msg.Code)
	requireKind(t, err, ErrValidation)

	err = h.engine.Request2FAEnrollment(context.Background(), u.ID)
	requireKind(t, err, ErrConflict)
}

func TestDisable2FA(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.TwoFactor.RequireCodeToDisable = true })
	u := h.register(t, "a@test.com", "Pass123!")

	err := h.engine.Disable2FA(context.Background(), Disable2FARequest{UserID: u.ID, Password: "Pass123!"})
	requireKind(t, err, ErrValidation)
	requireMessage(t, err, msg2FANotEnabled)

	err = h.engine.Request2FADisable(context.Background(), u.ID)
	requireKind(t, err, ErrValidation)

	_ = h.engine.Enable2FA(context.Background(), u.ID)

	err = h.engine.Disable2FA(context.Background(), Disable2FARequest{UserID: u.ID, Password: "wrong-pass"})
	requireKind(t, err, ErrUnauthorized)

	err = h.engine.Disable2FA(context.Background(), Disable2FARequest{UserID: u.ID, Password: "Pass123!"})
	requireKind(t, err, ErrValidation)
	requireMessage(t, err, msgInvalidAuthCode)

	if err := h.engine.Request2FADisable(context.Background(), u.ID); err != nil {
		t.Fatalf("request disable: %v", err)
	}
	msg, _ := h.notifier.last("two_factor")

	if err := h.engine.Disable2FA(context.Background(), Disable2FARequest{UserID: u.ID, Password: "Pass123!", Code: msg.Code}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	stored, _ := h.users.FindByID(context.Background(), u.ID)
	if stored.TwoFactorEnabled {
		t.Fatal("expected two-factor disabled")
	}

	res := h.login(t, "a@test.com", "Pass123!")
	if res.RequiresTwoFactor {
		t.Fatal("login should not challenge after disabling two-factor")
	}
}

func TestDisable2FAWithoutCodeWhenOptional(t *testing.T) {
	h := newHarness(t)
	u := h.register(t, "a@test.com", "Pass123!")
	_ = h.engine.Enable2FA(context.Background(), u.ID)

	if err := h.engine.Disable2FA(context.Background(), Disable2FARequest{UserID: u.ID, Password: "Pass123!"}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	snap := h.engine.MetricsSnapshot()
	if snap.Counters[MetricTwoFactorEnabled] != 1 || snap.Counters[MetricTwoFactorDisabled] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}
