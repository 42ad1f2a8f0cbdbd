// Package jwt issues and verifies the two signed token kinds the engine uses:
// short-lived access tokens bound to a session id, and temp_2fa tokens that
// only carry a pending two-factor login. It also mints the opaque refresh
// secrets that travel alongside access tokens.
package jwt
