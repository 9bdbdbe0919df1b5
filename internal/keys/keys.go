// Package keys wraps Ed25519 keypairs for signing and verifying entries.
// Signing and verification are pure functions over bytes; there is no
// global or package-level key state (spec §4.3, Design Notes: "in-process
// singletons avoided").
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/krakalus/ledger/internal/canon"
	"github.com/krakalus/ledger/internal/entry"
	"github.com/krakalus/ledger/internal/hashing"
	"github.com/krakalus/ledger/internal/ledgererr"
)

// KeyPair holds an Ed25519 private key and can both sign and verify.
// A verify-only KeyPair (constructed via FromPublicB64URL) has a nil
// Private and fails any SignBytes/SignEntry call.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Generate creates a new random Ed25519 keypair.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// PublicKeyB64URL returns the base64url (unpadded) encoding of the public
// key, used as the proof's verification_method and as the trust map value.
func (k *KeyPair) PublicKeyB64URL() string {
	return canon.B64URLEncode(k.Public)
}

// FromPublicB64URL constructs a verify-only KeyPair from a base64url-encoded
// Ed25519 public key. It never panics on malformed input.
func FromPublicB64URL(s string) (*KeyPair, error) {
	raw, err := canon.B64URLDecode(s)
	if err != nil {
		return nil, fmt.Errorf("keys: decode public key: %w", errors.Join(ledgererr.ErrCryptoFailure, err))
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("keys: public key must be %d bytes, got %d: %w", ed25519.PublicKeySize, len(raw), ledgererr.ErrCryptoFailure)
	}
	return &KeyPair{Public: ed25519.PublicKey(raw)}, nil
}

// SignBytes signs msg with the private key. It returns an error rather than
// panicking if the keypair is verify-only.
func (k *KeyPair) SignBytes(msg []byte) ([]byte, error) {
	if k.Private == nil {
		return nil, fmt.Errorf("keys: keypair has no private key, cannot sign: %w", ledgererr.ErrProtocolError)
	}
	return ed25519.Sign(k.Private, msg), nil
}

// VerifyBytes reports whether sig is a valid Ed25519 signature over msg
// under k's public key. It never panics on a malformed signature; a
// malformed signature (wrong length) simply returns false.
func (k *KeyPair) VerifyBytes(sig, msg []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(k.Public, msg, sig)
}

// SignEntry builds the proof block for e and returns a new, signed Entry.
// An e that already carries a proof is rejected with an error wrapping
// ledgererr.ErrProtocolError, whether SignEntry is reached through the
// session layer or invoked directly on a hand-built Entry.
func (k *KeyPair) SignEntry(e entry.Entry, created string) (entry.Entry, error) {
	if e.Proof != nil {
		return entry.Entry{}, fmt.Errorf("keys: entry %s/%d is already signed: %w", e.SessionID, e.Sequence, ledgererr.ErrProtocolError)
	}
	signBytes, err := hashing.SigningBytes(e)
	if err != nil {
		return entry.Entry{}, err
	}
	sig, err := k.SignBytes(signBytes)
	if err != nil {
		return entry.Entry{}, fmt.Errorf("keys: sign entry: %w", err)
	}
	e.Proof = &entry.Proof{
		Type:               entry.ProofType,
		Created:            created,
		VerificationMethod: k.PublicKeyB64URL(),
		ProofPurpose:       entry.ProofPurpose,
		ProofValue:         canon.B64URLEncode(sig),
	}
	return e, nil
}
