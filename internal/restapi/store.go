package restapi

import "github.com/krakalus/ledger/internal/entry"

// Store is the subset of storage.Storage used by the REST handlers. Defining
// a narrow interface lets handlers be tested against a fake store without a
// live database.
type Store interface {
	// ListSessions returns all session ids, most recently active first.
	ListSessions() ([]string, error)

	// LoadMessages returns the full, order-verified chain for sessionID.
	LoadMessages(sessionID string) ([]entry.Entry, error)

	// Recent returns up to limit of the most recent entries for sessionID,
	// oldest first.
	Recent(sessionID string, limit int) ([]entry.Entry, error)
}
