package keychain

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// MemoryKeychain holds Ed25519 key pairs in memory. It implements both
// Keychain and KnownKeys, which makes it the usual test double: every
// generated identity is also a known peer.
type MemoryKeychain struct {
	mu    sync.RWMutex
	keys  map[string]ed25519.PrivateKey
	known map[string]string
}

// NewMemoryKeychain creates an empty in-memory keychain.
func NewMemoryKeychain() *MemoryKeychain {
	return &MemoryKeychain{keys: make(map[string]ed25519.PrivateKey)}
}

// Generate creates a fresh Ed25519 key pair and registers it under its
// derived identity hash. Returns the identity hash and the hex public key.
func (k *MemoryKeychain) Generate() (identity, publicKeyHex string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key pair: %w", err)
	}
	publicKeyHex = hex.EncodeToString(pub)
	identity, err = IdentityFromPublicKey(publicKeyHex)
	if err != nil {
		return "", "", err
	}

	k.mu.Lock()
	k.keys[identity] = priv
	k.mu.Unlock()
	return identity, publicKeyHex, nil
}

// Sign signs data with the identity's private key.
func (k *MemoryKeychain) Sign(ctx context.Context, identity string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.RLock()
	priv, ok := k.keys[identity]
	k.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	return ed25519.Sign(priv, data), nil
}

// PublicKey returns the identity's hex public key.
func (k *MemoryKeychain) PublicKey(ctx context.Context, identity string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	k.mu.RLock()
	priv, ok := k.keys[identity]
	k.mu.RUnlock()
	if !ok {
		return "", ErrKeyNotFound
	}
	return hex.EncodeToString(priv.Public().(ed25519.PublicKey)), nil
}

// Nonce returns n random bytes.
func (k *MemoryKeychain) Nonce(ctx context.Context, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return randomNonce(n)
}

// ResolveKey implements KnownKeys over the held identities plus any keys
// registered with AddKnown.
func (k *MemoryKeychain) ResolveKey(ctx context.Context, identity string) (string, error) {
	if pub, err := k.PublicKey(ctx, identity); err == nil {
		return pub, nil
	} else if ctx.Err() != nil {
		return "", err
	}
	k.mu.RLock()
	pub, ok := k.known[identity]
	k.mu.RUnlock()
	if !ok {
		return "", ErrKeyNotFound
	}
	return pub, nil
}

// AddKnown registers a foreign public key so ResolveKey can serve it. The
// private half stays unknown; Sign for this identity fails.
func (k *MemoryKeychain) AddKnown(identity, publicKeyHex string) error {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return ErrInvalidKey
	}
	k.mu.Lock()
	if k.known == nil {
		k.known = make(map[string]string)
	}
	k.known[identity] = publicKeyHex
	k.mu.Unlock()
	return nil
}
