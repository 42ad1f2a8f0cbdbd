// Package middleware adapts authcore.Engine to net/http.
//
// [Guard] reads the bearer token, calls ValidateAccess and puts the verified
// claims on the request context. [ClientMeta] copies the caller's IP and
// user agent onto the context so the engine can stamp them on sessions,
// one-time credentials and ledger entries.
//
// The package makes no authentication decisions of its own.
package middleware
