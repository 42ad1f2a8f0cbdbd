package authcore

import "errors"

// Error kinds. Every *Error matches exactly one of these with errors.Is, and
// the HTTP layer maps them to status codes.
var (
	// ErrUnauthorized marks bad credentials, invalid or expired tokens and wrong codes.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict marks duplicate registration or a state that is already set.
	ErrConflict = errors.New("conflict")
	// ErrValidation marks business-rule violations.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an absent user or record.
	ErrNotFound = errors.New("not found")
)

var (
	// ErrDuplicateEmail is returned by CredentialStore.Create on a unique violation.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrEngineNotReady is returned when an Engine was not built through Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrCascadeFailed wraps a failure to revoke sessions or refresh tokens after a password change.
	ErrCascadeFailed = errors.New("session revocation failed")
)

// User-facing messages.
const (
	msgInvalidCredentials   = "Invalid credentials"
	msgAccountDisabled      = "Account is disabled"
	msgEmailUnverified      = "Email verification required"
	msgInvalid2FACode       = "Invalid two-factor authentication code"
	msgInvalidTempToken     = "Invalid temporary token"
	msgUserNotFound         = "User not found"
	msgInvalidRefresh       = "Invalid refresh token"
	msgExpiredRefresh       = "Expired or revoked refresh token"
	msgInvalidResetToken    = "Invalid or expired reset token"
	msgInvalidAuthCode      = "Invalid authentication code"
	msgPasswordReuse        = "New password must differ from the current password"
	msg2FAAlreadyEnabled    = "Two-factor authentication is already enabled"
	msg2FANotEnabled        = "Two-factor authentication is not enabled"
	msgEmailTaken           = "Email is already registered"
	msgSessionInactive      = "Session is no longer active"
	msgInvalidAccessToken   = "Invalid access token"
	msgPasswordPolicyFormat = "Password must be at least %d characters"
)

// Error is the typed error returned by Engine operations.
type Error struct {
	Kind    error
	Message string
	// Err is an optional underlying cause. It is never shown to clients.
	Err error
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches the error kind, so errors.Is(err, ErrUnauthorized) works.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Unauthorized returns an *Error of kind ErrUnauthorized.
func Unauthorized(msg string) *Error {
	return &Error{Kind: ErrUnauthorized, Message: msg}
}

// Conflict returns an *Error of kind ErrConflict.
func Conflict(msg string) *Error {
	return &Error{Kind: ErrConflict, Message: msg}
}

// Validation returns an *Error of kind ErrValidation.
func Validation(msg string) *Error {
	return &Error{Kind: ErrValidation, Message: msg}
}

// NotFound returns an *Error of kind ErrNotFound.
func NotFound(msg string) *Error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

// KindOf returns the kind sentinel of err, or nil when err is not an *Error.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
