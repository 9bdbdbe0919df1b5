// Package ledgererr defines the typed failure kinds the library surfaces to
// callers (spec §7). No public entry point panics on a recoverable
// condition. The error paths named on each sentinel below wrap it so
// callers can branch with errors.Is; other errors carry no sentinel: storage
// open, query and row-scan failures, canon.B64URLDecode errors, and config
// errors are returned with context only.
package ledgererr

import "errors"

var (
	// ErrBadInput is returned when an unsigned entry is handed to storage.
	// A malformed base64url public key is reported by keys.FromPublicB64URL
	// with ErrCryptoFailure instead, and entry content is not checked for
	// valid UTF-8.
	ErrBadInput = errors.New("ledger: bad input")

	// ErrIntegrityViolation covers a broken hash chain, a sequence mismatch,
	// or a session-id mismatch. Verification surfaces these as failure
	// records rather than returning this error from Verify itself; it is
	// used by code paths (e.g. storage reload) that must fail hard instead
	// of reporting a partial chain.
	ErrIntegrityViolation = errors.New("ledger: integrity violation")

	// ErrCryptoFailure covers a signature mismatch or a missing/malformed
	// public key.
	ErrCryptoFailure = errors.New("ledger: crypto failure")

	// ErrStorageError covers a storage backend failing to open, read, or
	// write.
	ErrStorageError = errors.New("ledger: storage error")

	// ErrProtocolError covers misuse of the API: signing an already-signed
	// entry, or calling into closed storage.
	ErrProtocolError = errors.New("ledger: protocol error")
)
