// Package did implements the did:one DID method used by the trust fabric.
//
// Identifiers have the form did:one:sha256:<lowercase-hex-hash>, where the
// hash is the SHA-256 identity hash of a participant. Verification methods
// append a key reference fragment, by convention "#keys-1".
package did

import (
	"errors"
	"fmt"
	"strings"
)

// Method is the DID method name.
const Method = "one"

// HashAlgorithm is the hash algorithm segment of the method.
const HashAlgorithm = "sha256"

// DefaultKeyRef is the conventional verification method fragment.
const DefaultKeyRef = "keys-1"

const prefix = "did:" + Method + ":" + HashAlgorithm + ":"

// Common errors returned by this package.
var (
	ErrInvalidDID        = errors.New("invalid DID format")
	ErrUnsupportedMethod = errors.New("unsupported DID method (only did:one supported)")
	ErrInvalidHash       = errors.New("invalid identity hash in DID")
)

// FromHash wraps an identity hash in a did:one:sha256 identifier.
func FromHash(hash string) string {
	return prefix + strings.ToLower(hash)
}

// ToHash extracts the identity hash from a did:one:sha256 identifier.
// A trailing fragment (verification method key reference) is rejected;
// use ParseVerificationMethod for those.
func ToHash(didStr string) (string, error) {
	if didStr == "" {
		return "", ErrInvalidDID
	}

	parts := strings.Split(didStr, ":")
	if len(parts) != 4 {
		return "", fmt.Errorf("%w: expected 4 parts, got %d", ErrInvalidDID, len(parts))
	}
	if parts[0] != "did" {
		return "", fmt.Errorf("%w: must start with 'did:'", ErrInvalidDID)
	}
	if parts[1] != Method {
		return "", fmt.Errorf("%w: got did:%s", ErrUnsupportedMethod, parts[1])
	}
	if parts[2] != HashAlgorithm {
		return "", fmt.Errorf("%w: unknown hash algorithm %q", ErrInvalidDID, parts[2])
	}

	hash := parts[3]
	if !isHexHash(hash) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return hash, nil
}

// Is reports whether s looks like a did:one identifier.
func Is(s string) bool {
	return strings.HasPrefix(s, prefix)
}

// VerificationMethod builds the verification method URI for an identity
// hash: did:one:sha256:<hash>#keys-1.
func VerificationMethod(hash string) string {
	return FromHash(hash) + "#" + DefaultKeyRef
}

// ParseVerificationMethod splits a verification method URI into the
// signer's identity hash and the key reference fragment.
func ParseVerificationMethod(vm string) (hash, keyRef string, err error) {
	base, frag, found := strings.Cut(vm, "#")
	if !found || frag == "" {
		return "", "", fmt.Errorf("%w: missing key reference fragment", ErrInvalidDID)
	}
	hash, err = ToHash(base)
	if err != nil {
		return "", "", err
	}
	return hash, frag, nil
}

// isHexHash checks for a non-empty lowercase hex string.
func isHexHash(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
