// Package internal holds secret generation and hashing helpers shared by the
// engine and the store implementations. Plaintext secrets leave this package
// only to be returned to the caller once; everything persisted is a digest.
package internal
