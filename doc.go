// Package authcore is an authentication and session lifecycle engine: password
// login with optional email OTP second factor, short-lived JWT access tokens,
// rotating opaque refresh tokens, and password change/reset with cascading
// revocation.
//
// Engine methods are safe for concurrent use once built with [Builder.Build].
// Persistence and delivery are injected as interfaces ([CredentialStore],
// [SessionStore], [RefreshTokenStore], [OneTimeCredentialStore],
// [LoginAttemptLedger], [NotificationGateway]); the sqlstore, redisstore and
// notify packages provide implementations.
//
// # Invariants
//
//   - A refresh token is usable at most once. Rotation revokes the presented
//     token with a conditional write, so concurrent refreshes yield a single winner.
//   - Changing or resetting a password revokes every session and refresh token
//     of the user before the call returns.
//   - Stores only ever see SHA-256 digests of refresh tokens, OTPs and reset tokens.
//   - Notification delivery happens after persistence and never fails the flow.
//
// # Errors
//
// Every failure returned to callers is an [*Error] whose Kind is one of
// [ErrUnauthorized], [ErrConflict], [ErrValidation] or [ErrNotFound], so
// transports can map with errors.Is.
package authcore
