// Package verify implements the offline verifier (spec §4.6): structural,
// linkage, and cryptographic validation of a chain against a trust map,
// independent of any storage backend.
package verify

import (
	"fmt"
	"strings"

	"github.com/krakalus/ledger/internal/canon"
	"github.com/krakalus/ledger/internal/entry"
	"github.com/krakalus/ledger/internal/hashing"
	"github.com/krakalus/ledger/internal/keys"
	"github.com/krakalus/ledger/internal/storage"
)

// Category labels the kind of check a Failure came from.
type Category string

const (
	CategorySession   Category = "session"
	CategorySequence  Category = "sequence"
	CategorySignature Category = "signature"
	CategoryHashChain Category = "hash_chain"
	CategoryStorage   Category = "storage"
)

// Failure is one detected defect, always tied to a chain index (-1 for
// failures that occur before any index-specific check, e.g. a storage load
// error).
type Failure struct {
	Index    int      `json:"index"`
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

// Result is the outcome of a verify call. Verifiers report every detected
// failure, not just the first (spec §4.6).
type Result struct {
	IsValid  bool      `json:"is_valid"`
	Message  string    `json:"message"`
	Failures []Failure `json:"failures,omitempty"`
}

// FirstFailure returns the earliest recorded failure, or nil if Result is
// valid.
func (r Result) FirstFailure() *Failure {
	if len(r.Failures) == 0 {
		return nil
	}
	return &r.Failures[0]
}

// String renders a human-readable report.
func (r Result) String() string {
	if r.IsValid {
		return "Chain is valid"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Verification FAILED (%d issues):\n", len(r.Failures))
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "  - [%d] %s: %s\n", f.Index, f.Category, f.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Verifier validates chains against a flat trust map of agent_id → Ed25519
// public key (spec §4.6, §1: "no certificate-authority / revocation
// hierarchy").
type Verifier struct {
	trustedKeys map[string]string
}

// New constructs a Verifier. Construction fails if trustedKeys is empty
// (spec §4.6: "Construction fails otherwise").
func New(trustedKeys map[string]string) (*Verifier, error) {
	if len(trustedKeys) == 0 {
		return nil, fmt.Errorf("verify: trusted_keys map is required")
	}
	cp := make(map[string]string, len(trustedKeys))
	for k, v := range trustedKeys {
		cp[k] = v
	}
	return &Verifier{trustedKeys: cp}, nil
}

// Verify runs the three-phase algorithm of spec §4.6 over chain. Phase 1
// (structural) failures prevent phases 2 (linkage) and 3 (signatures) from
// running; an empty chain is valid by convention.
func (v *Verifier) Verify(chain []entry.Entry) Result {
	if len(chain) == 0 {
		return Result{IsValid: true, Message: "Empty chain is valid"}
	}

	result := Result{IsValid: true}

	// Phase 1: structural.
	sessionID := chain[0].SessionID
	for i, e := range chain {
		if e.SessionID != sessionID {
			result.fail(i, CategorySession, fmt.Sprintf("session mismatch: %s", e.SessionID))
		}
		if e.Sequence != int64(i) {
			result.fail(i, CategorySequence, fmt.Sprintf("sequence mismatch: expected %d, got %d", i, e.Sequence))
		}
		if e.Proof == nil {
			result.fail(i, CategorySignature, "missing proof/signature")
		}
	}
	if !result.IsValid {
		result.Message = fmt.Sprintf("failed with %d issues", len(result.Failures))
		return result
	}

	// Phase 2: hash-chain linkage.
	for i := 1; i < len(chain); i++ {
		expected, err := hashing.Digest(chain[i-1])
		if err != nil {
			result.fail(i, CategoryHashChain, fmt.Sprintf("could not digest predecessor: %v", err))
			continue
		}
		if chain[i].PrevHash != expected {
			result.fail(i, CategoryHashChain, "prev_hash does not match previous message hash")
		}
	}

	// Phase 3: signatures.
	for i, e := range chain {
		signBytes, err := hashing.SigningBytes(e)
		if err != nil {
			result.fail(i, CategorySignature, fmt.Sprintf("could not canonicalize entry: %v", err))
			continue
		}
		sig, err := canon.B64URLDecode(e.Proof.ProofValue)
		if err != nil {
			result.fail(i, CategorySignature, fmt.Sprintf("invalid proof_value encoding: %v", err))
			continue
		}

		pubB64, ok := v.trustedKeys[e.AgentID]
		if !ok {
			result.fail(i, CategorySignature, fmt.Sprintf("no trusted key for agent %q", e.AgentID))
			continue
		}
		verifier, err := keys.FromPublicB64URL(pubB64)
		if err != nil {
			result.fail(i, CategorySignature, fmt.Sprintf("key loading failed: %v", err))
			continue
		}
		if !verifier.VerifyBytes(sig, signBytes) {
			result.fail(i, CategorySignature, "invalid signature")
		}
	}

	if result.IsValid {
		result.Message = "valid chain"
	} else {
		result.Message = fmt.Sprintf("failed with %d issues", len(result.Failures))
	}
	return result
}

// VerifyFromStorage loads sessionID's chain from backend and verifies it. A
// load failure produces a single failure record at index -1, category
// "storage", rather than propagating the raw error (spec §4.6).
func (v *Verifier) VerifyFromStorage(sessionID string, backend storage.Storage) Result {
	chain, err := backend.LoadMessages(sessionID)
	if err != nil {
		return Result{
			IsValid: false,
			Message: fmt.Sprintf("failed to load session %q from storage: %v", sessionID, err),
			Failures: []Failure{
				{Index: -1, Category: CategoryStorage, Message: err.Error()},
			},
		}
	}
	return v.Verify(chain)
}

func (r *Result) fail(index int, category Category, message string) {
	r.IsValid = false
	r.Failures = append(r.Failures, Failure{Index: index, Category: category, Message: message})
}
