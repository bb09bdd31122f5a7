// Package canonical provides deterministic JSON serialization for signing
// and content addressing. The canonical form has keys sorted
// lexicographically at every depth, no insignificant whitespace, and UTF-8
// encoding. Proof and signature fields can be elided before hashing so the
// same bytes are used for both store addressing and Ed25519 signing.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Marshal creates the canonical JSON representation of v. The elide list
// names top-level fields to remove before serialization (typically
// "signature" or "proof").
func Marshal(v interface{}, elide ...string) ([]byte, error) {
	// Marshal first so the struct's json tags are respected, then go
	// through a map: encoding/json sorts map keys at every depth, which
	// gives us canonicalization for free.
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	var rawMap map[string]interface{}
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into map: %w", err)
	}

	for _, field := range elide {
		delete(rawMap, field)
	}

	canonical, err := json.Marshal(rawMap)
	if err != nil {
		return nil, fmt.Errorf("failed to create canonical json: %w", err)
	}

	return canonical, nil
}

// HashHex returns the lowercase hex SHA-256 of the canonical form of v.
func HashHex(v interface{}, elide ...string) (string, error) {
	data, err := Marshal(v, elide...)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytesHex returns the lowercase hex SHA-256 of raw bytes.
func HashBytesHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the lowercase hex SHA-256 of a string. Identity hashes
// over stable ids use this.
func HashString(s string) string {
	return HashBytesHex([]byte(s))
}
