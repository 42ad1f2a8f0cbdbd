package authcore

import (
	"context"
	"testing"
)

func TestRegister(t *testing.T) {
	h := newHarness(t)

	u, err := h.engine.Register(context.Background(), RegisterRequest{Email: " Bob@Example.com", Password: "Pass123!", DisplayName: "Bob"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.ID == "" || u.Email != "bob@example.com" || !u.IsActive {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.PasswordHash != "" {
		t.Fatal("returned user must not carry the hash")
	}
	stored, _ := h.users.FindByID(context.Background(), u.ID)
	if stored.PasswordHash == "" || stored.PasswordHash == "Pass123!" {
		t.Fatalf("expected stored hash, got %q", stored.PasswordHash)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a@test.com", "Pass123!")

	_, err := h.engine.Register(context.Background(), RegisterRequest{Email: "A@TEST.com", Password: "Pass123!"})
	requireKind(t, err, ErrConflict)
	requireMessage(t, err, msgEmailTaken)
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)

	cases := []RegisterRequest{
		{Email: "", Password: "Pass123!"},
		{Email: "not-an-email", Password: "Pass123!"},
		{Email: "a@test.com", Password: "short"},
	}
	for _, req := range cases {
		_, err := h.engine.Register(context.Background(), req)
		requireKind(t, err, ErrValidation)
	}
}

func TestEngineNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Login(context.Background(), LoginRequest{}); err != ErrEngineNotReady {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	e.Close()
}
