package session_test

import (
	"testing"

	"github.com/krakalus/ledger/internal/entry"
	"github.com/krakalus/ledger/internal/hashing"
	"github.com/krakalus/ledger/internal/keys"
	"github.com/krakalus/ledger/internal/session"
	"github.com/krakalus/ledger/internal/storage"
)

func TestNew_EmptySessionHasZeroLength(t *testing.T) {
	s, err := session.New("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected length 0, got %d", s.Len())
	}
	if h, ok, err := s.LastHash(); err != nil || ok {
		t.Errorf("expected no last hash on empty session, got (%q, %v, %v)", h, ok, err)
	}
}

func TestAppend_SignsAndChainsEntries(t *testing.T) {
	kp, err := keys.Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := session.New("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := s.Append("hello", entry.RoleUser, kp, "agent-a", entry.NowTimestamp(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Proof == nil {
		t.Fatal("expected signed entry to carry a proof")
	}
	if first.PrevHash != "" {
		t.Errorf("expected empty prev_hash for first entry, got %q", first.PrevHash)
	}
	if first.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", first.Sequence)
	}
	if first.ContentType != entry.DefaultContentType {
		t.Errorf("expected default content type, got %q", first.ContentType)
	}

	second, err := s.Append("world", entry.RoleAssistant, kp, "agent-b", entry.NowTimestamp(), "text/markdown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", second.Sequence)
	}

	wantPrevHash, err := hashing.Digest(first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.PrevHash != wantPrevHash {
		t.Errorf("expected prev_hash to match first entry's digest")
	}

	if s.Len() != 2 {
		t.Errorf("expected length 2, got %d", s.Len())
	}
}

func TestChain_ReturnsIndependentCopies(t *testing.T) {
	kp, err := keys.Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := session.New("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Append("hi", entry.RoleUser, kp, "agent-a", entry.NowTimestamp(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chain := s.Chain()
	chain[0].Proof.ProofValue = "tampered"

	chainAgain := s.Chain()
	if chainAgain[0].Proof.ProofValue == "tampered" {
		t.Error("expected Chain() to return copies that cannot mutate internal state")
	}
}

func TestLastHash_MatchesTailDigest(t *testing.T) {
	kp, err := keys.Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := session.New("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tail, err := s.Append("hi", entry.RoleUser, kp, "agent-a", entry.NowTimestamp(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want, err := hashing.Digest(tail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok, err := s.LastHash()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true for a non-empty session")
	}
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNew_WithStorage_LoadsExistingEntries(t *testing.T) {
	backend, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer backend.Close()

	kp, err := keys.Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seed, err := session.New("sess-1", session.WithStorage(backend))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := seed.Append("hi", entry.RoleUser, kp, "agent-a", entry.NowTimestamp(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := seed.Append("there", entry.RoleAssistant, kp, "agent-b", entry.NowTimestamp(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded, err := session.New("sess-1", session.WithStorage(backend))
	if err != nil {
		t.Fatalf("unexpected error reloading: %v", err)
	}
	if reloaded.Len() != 2 {
		t.Errorf("expected reloaded session to have 2 entries, got %d", reloaded.Len())
	}
}

func TestAppend_PersistsToStorage(t *testing.T) {
	backend, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer backend.Close()

	kp, err := keys.Generate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := session.New("sess-1", session.WithStorage(backend))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Append("hi", entry.RoleUser, kp, "agent-a", entry.NowTimestamp(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, err := backend.MessageCount("sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 persisted message, got %d", count)
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	backend, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := session.New("sess-1", session.WithStorage(backend))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error on first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
}
