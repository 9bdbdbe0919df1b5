package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/krakalus/ledger/internal/canon"
	"github.com/krakalus/ledger/internal/entry"
	"github.com/krakalus/ledger/internal/hashing"
	"github.com/krakalus/ledger/internal/ledgererr"
)

// postgresDDL mirrors sqliteDDL's messages table. It is applied once at
// connection time so the backend is self-contained the way sqliteStorage
// is, rather than depending on an externally-applied migration.
const postgresDDL = `
CREATE TABLE IF NOT EXISTS messages (
	session_id      TEXT    NOT NULL,
	sequence        BIGINT  NOT NULL,
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

// postgresStorage is the supplemental PostgreSQL-backed storage layer
// (SPEC_FULL.md's C6 extension). It is grounded on the teacher's
// audit_entries table (entry_id, host_id, sequence_num, event_hash,
// prev_hash, payload, created_at) — already structurally the spec's
// messages table under different names — renamed and extended here rather
// than reinvented.
//
// Unlike the teacher's Store, every Append executes synchronously: the
// teacher's background batched-flush writer is not carried over, because
// spec §4.5 requires each append to be durable immediately ("writes are
// auto-committed"), which a deferred in-memory batch window cannot provide.
type postgresStorage struct {
	pool *pgxpool.Pool
}

func newPostgres(connStr string) (*postgresStorage, error) {
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("storage: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	return &postgresStorage{pool: pool}, nil
}

// Append persists e with an ON CONFLICT DO NOTHING insert, giving the same
// idempotent-retry semantics as the SQLite backend's INSERT OR IGNORE.
func (s *postgresStorage) Append(e entry.Entry) error {
	if s.pool == nil {
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

	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO messages
			(session_id, sequence, prev_hash, message_hash, timestamp,
			 agent_id, agent_role, canonical_json, proof_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`,
		e.SessionID, e.Sequence, e.PrevHash, msgHash, e.Timestamp,
		e.AgentID, string(e.AgentRole), string(canonBytes), string(proofJSON),
	)
	if err != nil {
		return fmt.Errorf("storage: insert entry %s/%d: %w", e.SessionID, e.Sequence, errors.Join(ledgererr.ErrStorageError, err))
	}
	return nil
}

// LoadMessages returns the chain for sessionID, recomputing prev_hash
// linkage the same way the SQLite backend does.
func (s *postgresStorage) LoadMessages(sessionID string) ([]entry.Entry, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("storage: closed: %w", ledgererr.ErrProtocolError)
	}

	rows, err := s.pool.Query(context.Background(), `
		SELECT sequence, prev_hash, timestamp, agent_id, agent_role,
		       canonical_json, proof_json
		FROM messages WHERE session_id = $1 ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: query messages for %q: %w", sessionID, err)
	}
	defer rows.Close()

	var loaded []entry.Entry
	for rows.Next() {
		e, err := scanEntryPgx(rows, sessionID)
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
func (s *postgresStorage) ListSessions() ([]string, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("storage: closed: %w", ledgererr.ErrProtocolError)
	}
	rows, err := s.pool.Query(context.Background(), `
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
func (s *postgresStorage) MessageCount(sessionID string) (int, error) {
	if s.pool == nil {
		return 0, fmt.Errorf("storage: closed: %w", ledgererr.ErrProtocolError)
	}
	var count int
	err := s.pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count messages for %q: %w", sessionID, err)
	}
	return count, nil
}

// LatestTimestamp returns the timestamp of the most recent entry for
// sessionID, or ("", false, nil) when the session has no entries.
func (s *postgresStorage) LatestTimestamp(sessionID string) (string, bool, error) {
	if s.pool == nil {
		return "", false, fmt.Errorf("storage: closed: %w", ledgererr.ErrProtocolError)
	}
	var ts *string
	err := s.pool.QueryRow(context.Background(),
		`SELECT MAX(timestamp) FROM messages WHERE session_id = $1`, sessionID).Scan(&ts)
	if err != nil {
		return "", false, fmt.Errorf("storage: latest timestamp for %q: %w", sessionID, err)
	}
	if ts == nil {
		return "", false, nil
	}
	return *ts, true, nil
}

// Recent returns up to limit of the most recent entries for sessionID, in
// ascending sequence order.
func (s *postgresStorage) Recent(sessionID string, limit int) ([]entry.Entry, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("storage: closed: %w", ledgererr.ErrProtocolError)
	}
	rows, err := s.pool.Query(context.Background(), `
		SELECT sequence, prev_hash, timestamp, agent_id, agent_role,
		       canonical_json, proof_json
		FROM messages
		WHERE session_id = $1
		ORDER BY sequence DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query recent messages for %q: %w", sessionID, err)
	}
	defer rows.Close()

	var loaded []entry.Entry
	for rows.Next() {
		e, err := scanEntryPgx(rows, sessionID)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate recent messages for %q: %w", sessionID, err)
	}

	for i, j := 0, len(loaded)-1; i < j; i, j = i+1, j-1 {
		loaded[i], loaded[j] = loaded[j], loaded[i]
	}
	return loaded, nil
}

// Close closes the connection pool. Idempotent.
func (s *postgresStorage) Close() error {
	if s.pool == nil {
		return nil
	}
	s.pool.Close()
	s.pool = nil
	return nil
}

// pgxScanner is satisfied by pgx.Rows, mirroring rowScanner for the SQLite
// backend so scan logic reads the same way across both backends.
type pgxScanner interface {
	Scan(dest ...any) error
}

var _ pgxScanner = (pgx.Rows)(nil)

func scanEntryPgx(row pgxScanner, sessionID string) (entry.Entry, error) {
	var (
		seq           int64
		prevHash, ts  string
		agentID, role string
		canonJSON     string
		proofJSON     string
	)
	if err := row.Scan(&seq, &prevHash, &ts, &agentID, &role, &canonJSON, &proofJSON); err != nil {
		return entry.Entry{}, fmt.Errorf("storage: scan message row: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(canonJSON), &payload); err != nil {
		return entry.Entry{}, fmt.Errorf("storage: decode canonical_json for %s/%d: %w", sessionID, seq, err)
	}
	var p entry.Proof
	if err := json.Unmarshal([]byte(proofJSON), &p); err != nil {
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
