package verify_test

import (
	"testing"

	"github.com/krakalus/ledger/internal/entry"
	"github.com/krakalus/ledger/internal/hashing"
	"github.com/krakalus/ledger/internal/keys"
	"github.com/krakalus/ledger/internal/verify"
)

// buildChain signs n entries for sessionID using signer, with agentID as the
// author of every entry, correctly hash-chained.
func buildChain(t *testing.T, signer *keys.KeyPair, sessionID, agentID string, n int) []entry.Entry {
	t.Helper()
	var chain []entry.Entry
	prevHash := ""
	for i := 0; i < n; i++ {
		unsigned := entry.Entry{
			ID:          entry.NewID(),
			Timestamp:   entry.NowTimestamp(),
			SessionID:   sessionID,
			Sequence:    int64(i),
			AgentID:     agentID,
			AgentRole:   entry.RoleUser,
			Content:     "message body",
			ContentType: entry.DefaultContentType,
			PrevHash:    prevHash,
		}
		signed, err := signer.SignEntry(unsigned, entry.NowTimestamp())
		if err != nil {
			t.Fatalf("sign entry %d: %v", i, err)
		}
		chain = append(chain, signed)

		h, err := hashing.Digest(signed)
		if err != nil {
			t.Fatalf("digest entry %d: %v", i, err)
		}
		prevHash = h
	}
	return chain
}

func TestVerify_EmptyChainIsValid(t *testing.T) {
	kp, _ := keys.Generate()
	v, err := verify.New(map[string]string{"a": kp.PublicKeyB64URL()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := v.Verify(nil)
	if !result.IsValid {
		t.Errorf("expected empty chain to be valid, got %s", result.String())
	}
}

func TestVerify_TwoEntrySignedChainIsValid(t *testing.T) {
	kp, _ := keys.Generate()
	chain := buildChain(t, kp, "sess-1", "agent-a", 2)

	v, err := verify.New(map[string]string{"agent-a": kp.PublicKeyB64URL()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := v.Verify(chain)
	if !result.IsValid {
		t.Errorf("expected valid chain, got %s", result.String())
	}
}

func TestVerify_ContentTamperIsDetected(t *testing.T) {
	kp, _ := keys.Generate()
	chain := buildChain(t, kp, "sess-1", "agent-a", 2)
	chain[1].Content = "tampered content"

	v, err := verify.New(map[string]string{"agent-a": kp.PublicKeyB64URL()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := v.Verify(chain)
	if result.IsValid {
		t.Fatal("expected tampered content to fail verification")
	}
	first := result.FirstFailure()
	if first == nil || first.Category != verify.CategorySignature {
		t.Errorf("expected a signature failure, got %+v", first)
	}
}

func TestVerify_BrokenHashChainLinkIsDetected(t *testing.T) {
	kp, _ := keys.Generate()
	chain := buildChain(t, kp, "sess-1", "agent-a", 3)
	chain[2].PrevHash = "0000000000000000000000000000000000000000000000000000000000000"

	v, err := verify.New(map[string]string{"agent-a": kp.PublicKeyB64URL()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := v.Verify(chain)
	if result.IsValid {
		t.Fatal("expected broken link to fail verification")
	}

	var sawHashChainFailure bool
	for _, f := range result.Failures {
		if f.Category == verify.CategoryHashChain && f.Index == 2 {
			sawHashChainFailure = true
		}
	}
	if !sawHashChainFailure {
		t.Errorf("expected a hash_chain failure at index 2, got %+v", result.Failures)
	}
}

func TestVerify_WrongSessionIDIsDetected(t *testing.T) {
	kp, _ := keys.Generate()
	chain := buildChain(t, kp, "sess-1", "agent-a", 2)
	chain[1].SessionID = "sess-2"

	v, err := verify.New(map[string]string{"agent-a": kp.PublicKeyB64URL()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := v.Verify(chain)
	if result.IsValid {
		t.Fatal("expected session id mismatch to fail verification")
	}
	var sawSessionFailure bool
	for _, f := range result.Failures {
		if f.Category == verify.CategorySession {
			sawSessionFailure = true
		}
	}
	if !sawSessionFailure {
		t.Errorf("expected a session failure, got %+v", result.Failures)
	}
}

func TestVerify_SequenceGapIsDetected(t *testing.T) {
	kp, _ := keys.Generate()
	chain := buildChain(t, kp, "sess-1", "agent-a", 3)
	chain[2].Sequence = 5

	v, err := verify.New(map[string]string{"agent-a": kp.PublicKeyB64URL()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := v.Verify(chain)
	if result.IsValid {
		t.Fatal("expected sequence mismatch to fail verification")
	}
	var sawSequenceFailure bool
	for _, f := range result.Failures {
		if f.Category == verify.CategorySequence {
			sawSequenceFailure = true
		}
	}
	if !sawSequenceFailure {
		t.Errorf("expected a sequence failure, got %+v", result.Failures)
	}
}

func TestVerify_MissingProofIsDetectedAndShortCircuitsLinkageCheck(t *testing.T) {
	kp, _ := keys.Generate()
	chain := buildChain(t, kp, "sess-1", "agent-a", 2)
	chain[1].Proof = nil

	v, err := verify.New(map[string]string{"agent-a": kp.PublicKeyB64URL()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := v.Verify(chain)
	if result.IsValid {
		t.Fatal("expected missing proof to fail verification")
	}
	for _, f := range result.Failures {
		if f.Category == verify.CategoryHashChain {
			t.Error("structural failures should short-circuit before hash-chain checks run")
		}
	}
}

func TestVerify_UntrustedAgentIsRejected(t *testing.T) {
	kp, _ := keys.Generate()
	chain := buildChain(t, kp, "sess-1", "agent-a", 1)

	otherKp, _ := keys.Generate()
	v, err := verify.New(map[string]string{"agent-a": otherKp.PublicKeyB64URL()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := v.Verify(chain)
	if result.IsValid {
		t.Fatal("expected verification against the wrong public key to fail")
	}
}

func TestVerify_UnknownAgentHasNoTrustedKey(t *testing.T) {
	kp, _ := keys.Generate()
	chain := buildChain(t, kp, "sess-1", "agent-a", 1)

	v, err := verify.New(map[string]string{"agent-b": kp.PublicKeyB64URL()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := v.Verify(chain)
	if result.IsValid {
		t.Fatal("expected verification to fail when signer has no entry in the trust map")
	}
}

func TestVerify_ReportsAllFailuresNotJustFirst(t *testing.T) {
	kp, _ := keys.Generate()
	chain := buildChain(t, kp, "sess-1", "agent-a", 3)
	chain[1].SessionID = "wrong-session"
	chain[2].Sequence = 99

	v, err := verify.New(map[string]string{"agent-a": kp.PublicKeyB64URL()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := v.Verify(chain)
	if len(result.Failures) < 2 {
		t.Errorf("expected multiple reported failures, got %d: %+v", len(result.Failures), result.Failures)
	}
}

func TestNew_RejectsEmptyTrustMap(t *testing.T) {
	if _, err := verify.New(map[string]string{}); err == nil {
		t.Fatal("expected error constructing a verifier with an empty trust map")
	}
}

func TestResult_StringReportsValid(t *testing.T) {
	v, _ := verify.New(map[string]string{"a": "b"})
	result := v.Verify(nil)
	if result.String() != "Chain is valid" && result.String() != "Empty chain is valid" {
		t.Errorf("unexpected valid message: %q", result.String())
	}
}
