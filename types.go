package authcore

import (
	"net/mail"
	"strings"
	"time"
)

// Role carries the authorization data stamped into access tokens. The engine
// does not evaluate it.
type Role struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
}

// User is the credential record owned by CredentialStore.
type User struct {
	ID               string
	Email            string
	DisplayName      string
	PasswordHash     string
	IsActive         bool
	IsEmailVerified  bool
	TwoFactorEnabled bool
	Role             Role
	LastLoginAt      *time.Time
	CreatedAt        time.Time
}

// Session is the server-side record correlated with access tokens by session id.
type Session struct {
	ID           string
	UserID       string
	SessionToken string
	IPAddress    string
	UserAgent    string
	ExpiresAt    time.Time
	RememberMe   bool
	Active       bool
	CreatedAt    time.Time
}

// RefreshToken is the stored form of an opaque refresh secret. Only the
// SHA-256 of the secret is kept.
type RefreshToken struct {
	ID        string
	TokenHash string
	UserID    string
	SessionID string
	// RememberMe selects the lifetime of the replacement token on rotation.
	RememberMe bool
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// Usable reports whether the token may still be rotated at now.
func (r *RefreshToken) Usable(now time.Time) bool {
	return r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

// CredentialKind distinguishes one-time credential flavors sharing a store.
type CredentialKind string

const (
	KindTwoFactor     CredentialKind = "two_factor"
	KindPasswordReset CredentialKind = "password_reset"
)

// OneTimeCredential is a short-lived, single-use code or token keyed by email.
type OneTimeCredential struct {
	Kind      CredentialKind
	Email     string
	CodeHash  string
	IPAddress string
	UserAgent string
	ExpiresAt time.Time
	Consumed  bool
	// Attempts counts wrong codes presented against this credential.
	Attempts  int
	CreatedAt time.Time
}

// LoginAttempt is one ledger entry.
type LoginAttempt struct {
	ID            string
	Email         string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Timestamp     time.Time
}

// Ledger failure reasons.
const (
	ReasonUserNotFound    = "user_not_found"
	ReasonAccountDisabled = "account_disabled"
	ReasonInvalidPassword = "invalid_password"
	ReasonEmailUnverified = "email_unverified"
	ReasonInvalid2FA      = "invalid_2fa"
)

/*
====================================
REQUESTS AND RESULTS
====================================
*/

// LoginRequest is the input to Engine.Login.
type LoginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	RememberMe    bool   `json:"rememberMe"`
	TwoFactorCode string `json:"twoFactorCode,omitempty"`
}

// Validate normalizes the email and checks required fields.
func (r *LoginRequest) Validate() error {
	r.Email = normalizeEmail(r.Email)
	if r.Email == "" || r.Password == "" {
		return Validation("Email and password are required")
	}
	r.TwoFactorCode = strings.TrimSpace(r.TwoFactorCode)
	return nil
}

// TokenPair is a bearer token plus its rotating refresh token.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenType        string    `json:"tokenType"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	SessionID        string    `json:"sessionId"`
}

// LoginResult is returned by Login and Complete2FA. Exactly one of Tokens or
// TempToken is set.
type LoginResult struct {
	RequiresTwoFactor bool       `json:"requiresTwoFactor"`
	TempToken         string     `json:"tempToken,omitempty"`
	Tokens            *TokenPair `json:"tokens,omitempty"`
	UserID            string     `json:"userId"`
}

// Complete2FARequest is the input to Engine.Complete2FA.
type Complete2FARequest struct {
	TempToken string `json:"tempToken"`
	Code      string `json:"code"`
}

func (r *Complete2FARequest) Validate() error {
	r.TempToken = strings.TrimSpace(r.TempToken)
	r.Code = strings.TrimSpace(r.Code)
	if r.TempToken == "" || r.Code == "" {
		return Validation("Temporary token and code are required")
	}
	return nil
}

// RefreshRequest is the HTTP payload for token refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (r *RefreshRequest) Validate() error {
	r.RefreshToken = strings.TrimSpace(r.RefreshToken)
	if r.RefreshToken == "" {
		return Validation("Refresh token is required")
	}
	return nil
}

// LogoutRequest is the input to Engine.Logout. Both fields are optional.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
}

// RegisterRequest is the input to Engine.Register.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
	Role        Role   `json:"-"`
}

func (r *RegisterRequest) Validate() error {
	r.Email = normalizeEmail(r.Email)
	if r.Email == "" || r.Password == "" {
		return Validation("Email and password are required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return Validation("Email address is invalid")
	}
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	return nil
}

// ChangePasswordRequest is the input to Engine.ChangePassword.
type ChangePasswordRequest struct {
	UserID          string `json:"-"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (r *ChangePasswordRequest) Validate() error {
	if r.UserID == "" {
		return Validation("User id is required")
	}
	if r.CurrentPassword == "" || r.NewPassword == "" {
		return Validation("Current and new password are required")
	}
	return nil
}

// ForgotPasswordRequest is the HTTP payload for a reset request.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the input to Engine.ResetPassword.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (r *ResetPasswordRequest) Validate() error {
	r.Token = strings.TrimSpace(r.Token)
	if r.Token == "" || r.NewPassword == "" {
		return Validation("Token and new password are required")
	}
	return nil
}

// CodeRequest carries a one-time code for Confirm2FA.
type CodeRequest struct {
	Code string `json:"code"`
}

// Disable2FARequest is the input to Engine.Disable2FA.
type Disable2FARequest struct {
	UserID   string `json:"-"`
	Password string `json:"password"`
	Code     string `json:"code,omitempty"`
}

func (r *Disable2FARequest) Validate() error {
	if r.UserID == "" || r.Password == "" {
		return Validation("Password is required")
	}
	r.Code = strings.TrimSpace(r.Code)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
