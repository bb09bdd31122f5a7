package keychain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-jose/go-jose/v4"
)

// DirectoryKnownKeys resolves issuer public keys from a directory of
// public JWK files, one per identity hash. It is the default known-keys
// source behind VC import; richer sources (registry lookups, web fetch)
// implement the same KnownKeys interface.
type DirectoryKnownKeys struct {
	dir string
	mu  sync.RWMutex
}

// NewDirectoryKnownKeys creates a resolver rooted at dir.
func NewDirectoryKnownKeys(dir string) (*DirectoryKnownKeys, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create known-keys directory: %w", err)
	}
	return &DirectoryKnownKeys{dir: dir}, nil
}

func (d *DirectoryKnownKeys) keyPath(identity string) string {
	return filepath.Join(d.dir, identity+".jwk")
}

// Add registers a peer's public key. The key is stored as a public JWK.
func (d *DirectoryKnownKeys) Add(identity, publicKeyHex string) error {
	pub, err := decodePublicKey(publicKeyHex)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	jwk := jose.JSONWebKey{Key: pub, KeyID: identity, Algorithm: string(jose.EdDSA), Use: "sig"}
	data, err := json.MarshalIndent(jwk, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	if err := os.WriteFile(d.keyPath(identity), data, 0600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

// ResolveKey returns the hex public key stored for an identity hash.
func (d *DirectoryKnownKeys) ResolveKey(ctx context.Context, identity string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	data, err := os.ReadFile(d.keyPath(identity))
	if os.IsNotExist(err) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read key: %w", err)
	}

	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return encodePublicKey(jwk.Key)
}

// Remove deletes a stored key.
func (d *DirectoryKnownKeys) Remove(identity string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.Remove(d.keyPath(identity)); os.IsNotExist(err) {
		return ErrKeyNotFound
	} else if err != nil {
		return fmt.Errorf("failed to remove key: %w", err)
	}
	return nil
}
