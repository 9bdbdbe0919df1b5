// Package storage defines the persistent storage abstraction for the ledger
// (spec §4.5): an interface every backend implements, plus a URI-routing
// factory that yields a concrete implementation, following the teacher's
// "abstract backend hierarchy → interface + factory" design note.
package storage

import (
	"fmt"
	"strings"

	"github.com/krakalus/ledger/internal/entry"
)

// Storage is the abstract interface every persistence backend implements.
type Storage interface {
	// Append persists a signed entry. It must reject unsigned entries.
	Append(e entry.Entry) error

	// LoadMessages returns the ordered chain for sessionID. Implementations
	// recompute each prev_hash against the reconstructed predecessor as a
	// defense-in-depth check and fail with an error describing the broken
	// sequence if linkage does not hold.
	LoadMessages(sessionID string) ([]entry.Entry, error)

	// Close releases the backend's resources. Idempotent; after Close, all
	// other operations fail with a "closed" error.
	Close() error

	// ListSessions returns all session ids known to the backend, most
	// recently active first.
	ListSessions() ([]string, error)

	// MessageCount returns the number of entries stored for sessionID.
	MessageCount(sessionID string) (int, error)

	// LatestTimestamp returns the timestamp of the most recent entry for
	// sessionID, or ("", false) if the session has no entries.
	LatestTimestamp(sessionID string) (string, bool, error)

	// Recent returns up to limit of the most recent entries for sessionID,
	// in ascending sequence order (oldest of the returned window first).
	Recent(sessionID string, limit int) ([]entry.Entry, error)
}

// New parses uri and returns the matching backend (spec §4.5 URI routing):
//
//	sqlite://<path>  → the embedded SQL backend
//	postgres://...   → the PostgreSQL backend (supplemental; see SPEC_FULL.md)
//	jsonl:<path>     → reserved, not yet implemented
//	<bare path>      → interpreted as sqlite://<path>
func New(uri string) (Storage, error) {
	trimmed := strings.TrimSpace(uri)
	switch {
	case strings.HasPrefix(trimmed, "sqlite://"):
		return newSQLite(strings.TrimPrefix(trimmed, "sqlite://"))
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return newPostgres(trimmed)
	case strings.HasPrefix(trimmed, "jsonl:"):
		return nil, fmt.Errorf("storage: jsonl backend not yet implemented")
	case trimmed == "":
		return nil, fmt.Errorf("storage: empty URI")
	default:
		return newSQLite(trimmed)
	}
}
