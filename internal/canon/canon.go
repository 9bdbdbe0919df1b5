// Package canon implements RFC 8785 (JSON Canonicalization Scheme) byte-exact
// serialization, plus the URL-safe base64 helper used throughout the ledger.
//
// Any value that round-trips through encoding/json can be canonicalized:
// object keys are sorted, insignificant whitespace is dropped, and numbers
// are rendered per ECMAScript Number.toString semantics. Two logically equal
// values always produce byte-identical output, which is the property the
// hasher (internal/hashing) and the signer (internal/keys) both depend on.
package canon

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JSON marshals v to JSON and then canonicalizes it per RFC 8785. The
// gowebpki/jcs.Transform function takes already-marshaled JSON bytes and
// returns the canonical form; it does not accept arbitrary Go values, so v
// is marshaled first with the standard encoding/json rules (struct tags,
// omitempty, etc. all apply) before canonicalization reorders keys and
// reformats numbers.
func JSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canon: transform: %w", err)
	}
	return out, nil
}

// B64URLEncode encodes data as unpadded, URL-safe base64.
func B64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// B64URLDecode decodes an unpadded or padded URL-safe base64 string.
func B64URLDecode(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	// Some producers emit padded base64url; accept it too.
	if b, err2 := base64.URLEncoding.DecodeString(s); err2 == nil {
		return b, nil
	}
	return nil, fmt.Errorf("canon: invalid base64url: %w", err)
}
