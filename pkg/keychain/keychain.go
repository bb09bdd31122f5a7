// Package keychain defines the key/crypto port of the trust fabric. The
// port exposes signing and public-key retrieval without ever disclosing
// private key material to the core; verification is a pure function of
// public inputs.
//
// Two implementations ship with the module: MemoryKeychain for tests and
// FileKeychain, which persists keys as JWK files.
package keychain

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/trustfabric/trustfabric-core/pkg/canonical"
)

// Common errors returned by this package.
var (
	ErrKeyNotFound = errors.New("key not found in keychain")
	ErrInvalidKey  = errors.New("invalid key format")
)

// Keychain is the signing port. Implementations are single-writer per
// identity; the core only ever sees public keys and signatures.
type Keychain interface {
	// Sign signs data with the identity's private key.
	Sign(ctx context.Context, identity string, data []byte) ([]byte, error)

	// PublicKey returns the identity's Ed25519 public key in hex.
	PublicKey(ctx context.Context, identity string) (string, error)

	// Nonce returns n cryptographically random bytes.
	Nonce(ctx context.Context, n int) ([]byte, error)
}

// KnownKeys resolves the public keys of other participants. VC import uses
// it to recover the issuer public key that is not carried on the wire; the
// source behind it (local directory, registry, web fetch) is deliberately
// abstract.
type KnownKeys interface {
	// ResolveKey returns the hex Ed25519 public key for an identity
	// hash, or ErrKeyNotFound.
	ResolveKey(ctx context.Context, identity string) (string, error)
}

// Verify checks an Ed25519 signature against a hex public key. It is a
// pure function: no keychain state is involved.
func Verify(publicKeyHex string, data, sig []byte) (bool, error) {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(pub))
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig), nil
}

// IdentityFromPublicKey derives the identity hash of a participant from
// its hex public key: the SHA-256 of the raw key bytes.
func IdentityFromPublicKey(publicKeyHex string) (string, error) {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return canonical.HashBytesHex(pub), nil
}

// decodePublicKey parses a hex Ed25519 public key.
func decodePublicKey(publicKeyHex string) (ed25519.PublicKey, error) {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(pub))
	}
	return ed25519.PublicKey(pub), nil
}

// encodePublicKey renders a stored JWK key as hex.
func encodePublicKey(key interface{}) (string, error) {
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		if priv, isPriv := key.(ed25519.PrivateKey); isPriv {
			pub = priv.Public().(ed25519.PublicKey)
		} else {
			return "", fmt.Errorf("%w: not an Ed25519 key", ErrInvalidKey)
		}
	}
	return hex.EncodeToString(pub), nil
}

// randomNonce is the shared Nonce implementation.
func randomNonce(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}
