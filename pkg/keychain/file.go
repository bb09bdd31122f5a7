package keychain

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-jose/go-jose/v4"
)

// FileKeychain persists Ed25519 key pairs as JWK files, one per identity,
// under a private directory. File names are the identity hash with a .jwk
// extension; permissions are owner-only.
type FileKeychain struct {
	dir string
	mu  sync.RWMutex
}

// DefaultKeychainDir returns the default keychain directory.
func DefaultKeychainDir() string {
	if envPath := os.Getenv("TRUSTFABRIC_KEYCHAIN_PATH"); envPath != "" {
		return envPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trustfabric/keys"
	}
	return filepath.Join(home, ".trustfabric", "keys")
}

// NewFileKeychain creates a file-backed keychain rooted at dir. An empty
// dir selects DefaultKeychainDir.
func NewFileKeychain(dir string) (*FileKeychain, error) {
	if dir == "" {
		dir = DefaultKeychainDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keychain directory: %w", err)
	}
	return &FileKeychain{dir: dir}, nil
}

func (k *FileKeychain) keyPath(identity string) string {
	return filepath.Join(k.dir, identity+".jwk")
}

// Generate creates and persists a fresh Ed25519 key pair, returning the
// derived identity hash and hex public key. Generating over an existing
// identity is refused; keys are never silently rotated.
func (k *FileKeychain) Generate() (identity, publicKeyHex string, err error) {
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
	defer k.mu.Unlock()

	path := k.keyPath(identity)
	if _, err := os.Stat(path); err == nil {
		return "", "", fmt.Errorf("key for identity %s already exists", identity)
	}

	jwk := jose.JSONWebKey{Key: priv, KeyID: identity, Algorithm: string(jose.EdDSA), Use: "sig"}
	data, err := json.MarshalIndent(jwk, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal key: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", "", fmt.Errorf("failed to write key: %w", err)
	}
	return identity, publicKeyHex, nil
}

// load reads and parses the private JWK for an identity.
func (k *FileKeychain) load(identity string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(k.keyPath(identity))
	if os.IsNotExist(err) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	priv, ok := jwk.Key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an Ed25519 private key", ErrInvalidKey)
	}
	return priv, nil
}

// Sign signs data with the identity's private key.
func (k *FileKeychain) Sign(ctx context.Context, identity string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	priv, err := k.load(identity)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, data), nil
}

// PublicKey returns the identity's hex public key.
func (k *FileKeychain) PublicKey(ctx context.Context, identity string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	priv, err := k.load(identity)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(priv.Public().(ed25519.PublicKey)), nil
}

// Nonce returns n random bytes.
func (k *FileKeychain) Nonce(ctx context.Context, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return randomNonce(n)
}

// Identities lists the identity hashes with a stored key.
func (k *FileKeychain) Identities() ([]string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	entries, err := os.ReadDir(k.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read keychain directory: %w", err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jwk" {
			continue
		}
		out = append(out, entry.Name()[:len(entry.Name())-len(".jwk")])
	}
	return out, nil
}
