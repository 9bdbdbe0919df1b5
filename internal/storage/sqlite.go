package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/krakalus/ledger/internal/canon"
	"github.com/krakalus/ledger/internal/entry"
	"github.com/krakalus/ledger/internal/hashing"
	"github.com/krakalus/ledger/internal/ledgererr"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// sqliteStorage is a WAL-mode, pure-Go (cgo-free) SQLite backend for the
// messages table of spec §4.5. It is the library's primary backend.
type sqliteStorage struct {
	db *sql.DB
}

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS messages (
	session_id      TEXT    NOT NULL,
	sequence        INTEGER NOT NULL,
	prev_hash       TEXT    NOT NULL,
	message_hash    TEXT    NOT NULL,
	timestamp       TEXT    NOT NULL,
	agent_id        TEXT    NOT NULL,
	agent_role      TEXT    NOT NULL,
	canonical_json  TEXT    NOT NULL,
	proof_json      TEXT    NOT NULL,
	PRIMARY KEY (session_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_agent ON messages(agent_id);
`

// newSQLite opens (or creates) the database at path, enables WAL journaling,
// and applies the schema. path may be ":memory:" for tests.
func newSQLite(path string) (*sqliteStorage, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("storage: create db directory %q: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %q: %w", path, err)
	}

	// SQLite permits only one writer at a time; a single-connection pool
	// serializes every Append through one connection and avoids "database
	// is locked" errors under concurrent callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: set synchronous=NORMAL: %w", err)
	}
	if _, err := db.Exec(sqliteDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	return &sqliteStorage{db: db}, nil
}

// Append persists e. Re-appending an already-stored (session_id, sequence)
// row is a silent no-op (spec §4.5 persistence policy: "ignore on
// conflict"), which makes retries after a cancelled or uncertain call safe.
func (s *sqliteStorage) Append(e entry.Entry) error {
	if s.db == nil {
		return fmt.Errorf("storage: closed: %w", ledgererr.ErrProtocolError)
	}
	if e.Proof == nil {
		return fmt.Errorf("storage: cannot persist unsigned message: %w", ledgererr.ErrBadInput)
	}

	canonBytes, err := canon.JSON(e.Map(entry.ProofOmit))
	if err != nil {
		return fmt.Errorf("storage: canonicalize entry: %w", err)
	}
	proofJSON, err := json.Marshal(e.Proof)
	if err != nil {
		return fmt.Errorf("storage: marshal proof: %w", err)
	}
	msgHash, err := hashing.Digest(e)
	if err != nil {
		return fmt.Errorf("storage: digest entry: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO messages
			(session_id, sequence, prev_hash, message_hash, timestamp,
			 agent_id, agent_role, canonical_json, proof_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Sequence, e.PrevHash, msgHash, e.Timestamp,
		e.AgentID, string(e.AgentRole), string(canonBytes), string(proofJSON),
	)
	if err != nil {
		return fmt.Errorf("storage: insert entry %s/%d: %w", e.SessionID, e.Sequence, errors.Join(ledgererr.ErrStorageError, err))
	}
	return nil
}

// LoadMessages returns the chain for sessionID in ascending sequence order,
// recomputing each prev_hash against the reconstructed predecessor as a
// defense-in-depth check (spec §4.5 reload policy).
func (s *sqliteStorage) LoadMessages(sessionID string) ([]entry.Entry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("storage: closed: %w", ledgererr.ErrProtocolError)
	}

	rows, err := s.db.Query(`
		SELECT sequence, prev_hash, timestamp, agent_id, agent_role,
		       canonical_json, proof_json
		FROM messages WHERE session_id = ? ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: query messages for %q: %w", sessionID, err)
	}
	defer rows.Close()

	var loaded []entry.Entry
	for rows.Next() {
		e, err := scanEntry(rows, sessionID)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate messages for %q: %w", sessionID, err)
	}

	if err := verifyChainLinkage(loaded); err != nil {
		return nil, err
	}
	return loaded, nil
}

// ListSessions returns all session ids, most recently active first.
func (s *sqliteStorage) ListSessions() ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("storage: closed: %w", ledgererr.ErrProtocolError)
	}
	rows, err := s.db.Query(`
		SELECT session_id FROM messages
		GROUP BY session_id
		ORDER BY MAX(timestamp) DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MessageCount returns the number of entries stored for sessionID.
func (s *sqliteStorage) MessageCount(sessionID string) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("storage: closed: %w", ledgererr.ErrProtocolError)
	}
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count messages for %q: %w", sessionID, err)
	}
	return count, nil
}

// LatestTimestamp returns the timestamp of the most recent entry for
// sessionID, or ("", false, nil) when the session has no entries.
func (s *sqliteStorage) LatestTimestamp(sessionID string) (string, bool, error) {
	if s.db == nil {
		return "", false, fmt.Errorf("storage: closed: %w", ledgererr.ErrProtocolError)
	}
	var ts sql.NullString
	err := s.db.QueryRow(`SELECT MAX(timestamp) FROM messages WHERE session_id = ?`, sessionID).Scan(&ts)
	if err != nil {
		return "", false, fmt.Errorf("storage: latest timestamp for %q: %w", sessionID, err)
	}
	if !ts.Valid {
		return "", false, nil
	}
	return ts.String, true, nil
}

// Recent returns up to limit of the most recent entries for sessionID, in
// ascending sequence order.
func (s *sqliteStorage) Recent(sessionID string, limit int) ([]entry.Entry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("storage: closed: %w", ledgererr.ErrProtocolError)
	}
	rows, err := s.db.Query(`
		SELECT sequence, prev_hash, timestamp, agent_id, agent_role,
		       canonical_json, proof_json
		FROM messages
		WHERE session_id = ?
		ORDER BY sequence DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query recent messages for %q: %w", sessionID, err)
	}
	defer rows.Close()

	var loaded []entry.Entry
	for rows.Next() {
		e, err := scanEntry(rows, sessionID)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate recent messages for %q: %w", sessionID, err)
	}

	// Query returns newest-first; reverse so the result reads oldest→newest.
	for i, j := 0, len(loaded)-1; i < j; i, j = i+1, j-1 {
		loaded[i], loaded[j] = loaded[j], loaded[i]
	}
	return loaded, nil
}

// Close closes the underlying database connection. Idempotent.
func (s *sqliteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// rowScanner is satisfied by *sql.Rows, letting scanEntry be shared between
// LoadMessages and Recent.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner, sessionID string) (entry.Entry, error) {
	var (
		seq              int64
		prevHash, ts     string
		agentID, role    string
		canonJSON, proof string
	)
	if err := row.Scan(&seq, &prevHash, &ts, &agentID, &role, &canonJSON, &proof); err != nil {
		return entry.Entry{}, fmt.Errorf("storage: scan message row: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(canonJSON), &payload); err != nil {
		return entry.Entry{}, fmt.Errorf("storage: decode canonical_json for %s/%d: %w", sessionID, seq, err)
	}
	var p entry.Proof
	if err := json.Unmarshal([]byte(proof), &p); err != nil {
		return entry.Entry{}, fmt.Errorf("storage: decode proof_json for %s/%d: %w", sessionID, seq, err)
	}

	content, _ := payload["content"].(string)
	contentType, _ := payload["content_type"].(string)
	if contentType == "" {
		contentType = entry.DefaultContentType
	}
	id, _ := payload["id"].(string)

	return entry.Entry{
		ID:          id,
		Timestamp:   ts,
		SessionID:   sessionID,
		Sequence:    seq,
		AgentID:     agentID,
		AgentRole:   entry.AgentRole(role),
		Content:     content,
		ContentType: contentType,
		PrevHash:    prevHash,
		Proof:       &p,
	}, nil
}

// verifyChainLinkage recomputes each entry's predecessor digest and
// compares it against the stored prev_hash, raising a descriptive error at
// the first mismatch (spec §4.5: "chain broken at sequence N").
func verifyChainLinkage(chain []entry.Entry) error {
	for i := 1; i < len(chain); i++ {
		want, err := hashing.Digest(chain[i-1])
		if err != nil {
			return fmt.Errorf("storage: digest entry at sequence %d: %w", i-1, err)
		}
		if chain[i].PrevHash != want {
			return fmt.Errorf("storage: chain broken at sequence %d: %w", i, ledgererr.ErrIntegrityViolation)
		}
	}
	return nil
}
