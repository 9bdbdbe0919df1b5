// Package session manages a single conversation/session: an ordered,
// hash-chained, per-entry-signed sequence of entries, with optional
// persistent storage (spec §4.4).
//
// Session is grounded on the single-writer, mutex-guarded append pattern of
// a tamper-evident hash-chained log: a constructor that replays existing
// state before accepting new writes, and an Append that derives the next
// link from in-memory state rather than re-reading storage on every call.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/krakalus/ledger/internal/entry"
	"github.com/krakalus/ledger/internal/hashing"
	"github.com/krakalus/ledger/internal/keys"
	"github.com/krakalus/ledger/internal/storage"
)

// Session holds the in-memory chain for one session_id and, optionally, the
// storage backend it persists to. Every method holds an internal mutex, so
// concurrent calls on one Session are serialized. Nothing coordinates
// separate Session values or processes that append to the same session_id
// in shared storage (spec §5: "single writer per session" is an assumed
// precondition).
type Session struct {
	mu        sync.Mutex
	sessionID string
	entries   []entry.Entry
	storage   storage.Storage
	logger    *slog.Logger
}

// Option configures a new Session.
type Option func(*Session)

// WithStorage attaches a persistent storage backend. If the backend already
// holds entries for sessionID, New loads and validates them before
// returning (spec §4.4: "atomically load existing entries and validate
// their chain before returning").
func WithStorage(s storage.Storage) Option {
	return func(sess *Session) { sess.storage = s }
}

// WithLogger attaches a structured logger used for the non-fatal
// persistence-failure path in Append. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(sess *Session) { sess.logger = l }
}

// New constructs a Session for sessionID. When storage is attached via
// WithStorage, any existing entries for sessionID are loaded and their
// chain validated (LoadMessages already recomputes prev_hash linkage as a
// defense-in-depth check — see internal/storage); a broken chain on load is
// returned as an error here rather than silently starting empty.
func New(sessionID string, opts ...Option) (*Session, error) {
	sess := &Session{sessionID: sessionID, logger: slog.Default()}
	for _, opt := range opts {
		opt(sess)
	}

	if sess.storage != nil {
		loaded, err := sess.storage.LoadMessages(sessionID)
		if err != nil {
			return nil, fmt.Errorf("session: load %q from storage: %w", sessionID, err)
		}
		sess.entries = loaded
		sess.logger.Info("loaded session from storage", "session_id", sessionID, "count", len(loaded))
	}

	return sess, nil
}

// Len returns the number of entries currently in the chain.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Append builds, signs, and appends a new entry. It computes prev_hash from
// the current tail, signs the canonical payload via signer, appends it to
// the in-memory chain, and — if storage is attached — persists it.
//
// A persistence failure is logged at Warn level and does not roll back the
// in-memory append (spec §4.4/§9: this is the source's eventual-consistency
// semantic, kept deliberately rather than hardened to atomic rollback — the
// chain in memory remains valid, but the next reload of this session from
// storage may miss this tail entry). Callers needing atomicity should check
// the returned error and, on nil content error, independently confirm
// persistence via storage before relying on durability.
func (s *Session) Append(content string, role entry.AgentRole, signer *keys.KeyPair, agentID, timestamp, contentType string) (entry.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if contentType == "" {
		contentType = entry.DefaultContentType
	}

	prevHash := ""
	if len(s.entries) > 0 {
		h, err := hashing.Digest(s.entries[len(s.entries)-1])
		if err != nil {
			return entry.Entry{}, fmt.Errorf("session: digest predecessor: %w", err)
		}
		prevHash = h
	}

	unsigned := entry.Entry{
		ID:          entry.NewID(),
		Timestamp:   timestamp,
		SessionID:   s.sessionID,
		Sequence:    int64(len(s.entries)),
		AgentID:     agentID,
		AgentRole:   role,
		Content:     content,
		ContentType: contentType,
		PrevHash:    prevHash,
		Proof:       nil,
	}

	signed, err := signer.SignEntry(unsigned, entry.NowTimestamp())
	if err != nil {
		return entry.Entry{}, fmt.Errorf("session: sign entry: %w", err)
	}

	s.entries = append(s.entries, signed)

	if s.storage != nil {
		if err := s.storage.Append(signed); err != nil {
			s.logger.Warn("failed to persist entry",
				"session_id", s.sessionID, "sequence", signed.Sequence, "error", err)
		}
	}

	return signed, nil
}

// Chain returns an immutable copy of the ordered entries.
func (s *Session) Chain() []entry.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entry.Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	return out
}

// LastHash returns the digest of the tail entry, or ("", false) if the
// chain is empty.
func (s *Session) LastHash() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return "", false, nil
	}
	h, err := hashing.Digest(s.entries[len(s.entries)-1])
	if err != nil {
		return "", false, fmt.Errorf("session: digest tail: %w", err)
	}
	return h, true, nil
}

// Close releases the attached storage resource, if any. It is safe to call
// more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storage == nil {
		return nil
	}
	err := s.storage.Close()
	s.storage = nil
	return err
}
