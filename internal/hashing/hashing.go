// Package hashing computes the entry digest that links the chain together
// (spec §4.2): the lowercase hex SHA-256 of an entry's canonical JSON
// representation, with its proof block included.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/krakalus/ledger/internal/canon"
	"github.com/krakalus/ledger/internal/entry"
)

// Bytes returns the lowercase hex SHA-256 digest of raw.
func Bytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Digest computes digest(entry) = lowercase_hex(SHA256(canonical_json(entry
// with proof included))). This is the value stored as the predecessor's
// message_hash and checked against the next entry's prev_hash.
func Digest(e entry.Entry) (string, error) {
	raw, err := canon.JSON(e.Map(entry.ProofFull))
	if err != nil {
		return "", fmt.Errorf("hashing: canonicalize entry %s/%d: %w", e.SessionID, e.Sequence, err)
	}
	return Bytes(raw), nil
}

// SigningBytes returns the canonical bytes an Ed25519 signature is computed
// over: the entry with its proof field replaced by an empty object. This
// lets the signature be verified without needing the signature itself,
// while the full proof is still folded into Digest for the next entry's
// prev_hash (spec §4.2).
func SigningBytes(e entry.Entry) ([]byte, error) {
	raw, err := canon.JSON(e.Map(entry.ProofEmpty))
	if err != nil {
		return nil, fmt.Errorf("hashing: canonicalize signing payload for %s/%d: %w", e.SessionID, e.Sequence, err)
	}
	return raw, nil
}
