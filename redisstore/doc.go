// Package redisstore implements the authcore session, refresh token and
// one-time credential stores on Redis.
//
// Conditional writes (refresh revocation, session deactivation, cascade
// revocation) run as Lua scripts so they are atomic on the server. One-time
// credentials are versioned binary records consumed under WATCH.
//
// Users are not stored here; pair this package with sqlstore.CredentialStore.
package redisstore
