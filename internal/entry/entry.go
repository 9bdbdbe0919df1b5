// Package entry defines the immutable, signed record at the heart of the
// ledger: one utterance in a multi-party conversation, sealed by its
// author's signing key and linked to its predecessor by a hash (spec §3).
package entry

import (
	"time"

	"github.com/google/uuid"
)

// AgentRole is the role an agent played when producing an entry's content.
type AgentRole string

const (
	RoleUser      AgentRole = "user"
	RoleAssistant AgentRole = "assistant"
	RoleSystem    AgentRole = "system"
	RoleTool      AgentRole = "tool"
)

// DefaultContentType is used when a caller does not specify one.
const DefaultContentType = "text/plain"

// Proof is a W3C Data Integrity style signature block (spec §3).
type Proof struct {
	Type                string `json:"type"`
	Created             string `json:"created"`
	VerificationMethod  string `json:"verification_method"`
	ProofPurpose        string `json:"proof_purpose"`
	ProofValue          string `json:"proof_value"`
}

// ProofType and ProofPurpose are the two fixed constants of the proof block.
const (
	ProofType    = "Ed25519Signature2020"
	ProofPurpose = "assertionMethod"
)

// Entry is one signed, sequenced unit of the log. It is built unsigned,
// signed exactly once, and never mutated afterward (spec §3 invariant 1).
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   string    `json:"timestamp"`
	SessionID   string    `json:"session_id"`
	Sequence    int64     `json:"sequence"`
	AgentID     string    `json:"agent_id"`
	AgentRole   AgentRole `json:"agent_role"`
	Content     string    `json:"content"`
	ContentType string    `json:"content_type"`
	PrevHash    string    `json:"prev_hash"`
	Proof       *Proof    `json:"proof,omitempty"`
}

// NewID generates a UUIDv7 entry identifier. Identity within a chain is
// carried by (session_id, sequence), not by id (see Design Notes), so a
// UUIDv7 is a drop-in replacement for the source's sequence+agent-suffix
// scheme without affecting any invariant.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the system clock/entropy source is
		// unreadable; fall back to a random v4 rather than panicking.
		return uuid.NewString()
	}
	return id.String()
}

// LegacyID reproduces the original implementation's human-readable id
// scheme (sequence + truncated agent-id suffix), kept only as a documented
// alternative id strategy; it is not used by default.
func LegacyID(sequence int64, agentID string) string {
	suffix := agentID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "msg-" + zeroPad(sequence, 4) + "-" + suffix
}

func zeroPad(n int64, width int) string {
	s := itoa(n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// NowTimestamp returns the current time formatted per spec §3: ISO-8601 UTC
// with millisecond precision and a trailing Z.
func NowTimestamp() string {
	return FormatTimestamp(time.Now())
}

// FormatTimestamp renders t per spec §3.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ProofMode selects how Entry.Map renders the proof field, matching the
// three distinct shapes spec §3/§4.2/§4.5 require for the same entry:
// digest-for-linkage hashes the real proof, digest-for-signing hashes an
// empty object in its place, and stored canonical_json omits the field
// entirely (the proof is persisted separately as proof_json).
type ProofMode int

const (
	// ProofFull includes the real, signed proof block.
	ProofFull ProofMode = iota
	// ProofEmpty replaces proof with a literal empty JSON object {}.
	ProofEmpty
	// ProofOmit drops the proof key from the map entirely.
	ProofOmit
)

// Map renders e as a plain map suitable for canon.JSON, honoring mode for
// the proof field. Using a map rather than marshaling the Entry struct
// directly guarantees ProofEmpty produces a literal {} rather than a Proof
// struct's zero-valued fields, and guarantees ProofOmit drops the key
// instead of emitting a JSON null.
func (e Entry) Map(mode ProofMode) map[string]any {
	m := map[string]any{
		"id":           e.ID,
		"timestamp":    e.Timestamp,
		"session_id":   e.SessionID,
		"sequence":     e.Sequence,
		"agent_id":     e.AgentID,
		"agent_role":   string(e.AgentRole),
		"content":      e.Content,
		"content_type": e.ContentType,
		"prev_hash":    e.PrevHash,
	}
	switch mode {
	case ProofOmit:
		// no proof key at all
	case ProofEmpty:
		m["proof"] = map[string]any{}
	case ProofFull:
		if e.Proof == nil {
			m["proof"] = map[string]any{}
		} else {
			m["proof"] = map[string]any{
				"type":                e.Proof.Type,
				"created":             e.Proof.Created,
				"verification_method": e.Proof.VerificationMethod,
				"proof_purpose":       e.Proof.ProofPurpose,
				"proof_value":         e.Proof.ProofValue,
			}
		}
	}
	return m
}

// Clone returns a deep-enough copy of e suitable for returning from
// Session.Chain(): the Proof pointer is copied into a new Proof value so
// callers cannot mutate a stored entry's signature through the returned
// slice.
func (e Entry) Clone() Entry {
	clone := e
	if e.Proof != nil {
		p := *e.Proof
		clone.Proof = &p
	}
	return clone
}
