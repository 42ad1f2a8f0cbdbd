package authcore

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
)

// OneTimePolicy describes one flavor of single-use credential.
type OneTimePolicy struct {
	Kind     CredentialKind
	TTL      time.Duration
	Generate func() (string, error)
	// KeyedByCode means the code alone identifies the credential, so lookups
	// may omit the email. Only safe for high-entropy codes.
	KeyedByCode bool
	// MaxAttempts deletes the pending credential after that many wrong
	// codes. Zero disables the cap.
	MaxAttempts int
}

// TwoFactorPolicy returns the numeric OTP policy.
func TwoFactorPolicy(digits int, ttl time.Duration, maxAttempts int) OneTimePolicy {
	return OneTimePolicy{
		Kind: KindTwoFactor,
		TTL:  ttl,
		Generate: func() (string, error) {
			return internal.NewOTP(digits)
		},
		MaxAttempts: maxAttempts,
	}
}

// PasswordResetPolicy returns the opaque reset-token policy.
func PasswordResetPolicy(ttl time.Duration) OneTimePolicy {
	return OneTimePolicy{
		Kind:        KindPasswordReset,
		TTL:         ttl,
		Generate:    internal.NewOpaqueToken,
		KeyedByCode: true,
	}
}

// oneTimeIssuer runs issue, verify and consume for one policy. Plaintext
// codes are returned to the caller once and never stored.
type oneTimeIssuer struct {
	policy OneTimePolicy
	store  OneTimeCredentialStore
	now    func() time.Time
}

func newOneTimeIssuer(policy OneTimePolicy, store OneTimeCredentialStore, now func() time.Time) *oneTimeIssuer {
	return &oneTimeIssuer{policy: policy, store: store, now: now}
}

// Issue generates and persists a credential for email and returns the plaintext.
func (o *oneTimeIssuer) Issue(ctx context.Context, email string) (string, error) {
	code, err := o.policy.Generate()
	if err != nil {
		return "", fmt.Errorf("authcore: generate %s credential: %w", o.policy.Kind, err)
	}

	now := o.now()
	rec := &OneTimeCredential{
		Kind:      o.policy.Kind,
		Email:     email,
		CodeHash:  internal.HashToken(code),
		IPAddress: clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		ExpiresAt: now.Add(o.policy.TTL),
		CreatedAt: now,
	}
	if err := o.store.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("authcore: store %s credential: %w", o.policy.Kind, err)
	}
	return code, nil
}

// Find returns the valid credential for code without consuming it.
func (o *oneTimeIssuer) Find(ctx context.Context, email, code string) (*OneTimeCredential, error) {
	if !o.wellFormed(email, code) {
		return nil, nil
	}
	rec, err := o.store.FindValid(ctx, o.policy.Kind, email, internal.HashToken(code), o.now())
	if err != nil {
		return nil, fmt.Errorf("authcore: find %s credential: %w", o.policy.Kind, err)
	}
	return rec, nil
}

// Consume atomically verifies and removes the credential. False means the
// code was wrong, expired or already used. A wrong code counts against the
// pending credential when the policy caps attempts.
func (o *oneTimeIssuer) Consume(ctx context.Context, email, code string) (bool, error) {
	ok := false
	if o.wellFormed(email, code) {
		var err error
		ok, err = o.store.Consume(ctx, o.policy.Kind, email, internal.HashToken(code), o.now())
		if err != nil {
			return false, fmt.Errorf("authcore: consume %s credential: %w", o.policy.Kind, err)
		}
	}
	if !ok && o.policy.MaxAttempts > 0 && email != "" {
		if _, err := o.store.RecordFailure(ctx, o.policy.Kind, email, o.policy.MaxAttempts, o.now()); err != nil {
			return false, fmt.Errorf("authcore: record %s failure: %w", o.policy.Kind, err)
		}
	}
	return ok, nil
}

func (o *oneTimeIssuer) wellFormed(email, code string) bool {
	if code == "" {
		return false
	}
	if o.policy.KeyedByCode {
		return internal.ValidOpaqueToken(code)
	}
	return email != "" && internal.IsNumeric(code)
}
