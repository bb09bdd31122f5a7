package keychain_test

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustfabric/trustfabric-core/pkg/keychain"
)

// runKeychainContract exercises the signing port against an implementation.
func runKeychainContract(t *testing.T, open func(t *testing.T) interface {
	keychain.Keychain
	Generate() (string, string, error)
}) {
	ctx := context.Background()

	t.Run("generate sign verify", func(t *testing.T) {
		k := open(t)
		identity, publicKey, err := k.Generate()
		require.NoError(t, err)
		assert.Len(t, identity, 64)
		assert.Len(t, publicKey, hex.EncodedLen(ed25519.PublicKeySize))

		data := []byte("message to sign")
		sig, err := k.Sign(ctx, identity, data)
		require.NoError(t, err)

		ok, err := keychain.Verify(publicKey, data, sig)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = keychain.Verify(publicKey, []byte("tampered"), sig)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("public key matches generate", func(t *testing.T) {
		k := open(t)
		identity, publicKey, err := k.Generate()
		require.NoError(t, err)

		got, err := k.PublicKey(ctx, identity)
		require.NoError(t, err)
		assert.Equal(t, publicKey, got)
	})

	t.Run("unknown identity", func(t *testing.T) {
		k := open(t)
		_, err := k.Sign(ctx, "unknown", []byte("data"))
		assert.ErrorIs(t, err, keychain.ErrKeyNotFound)
		_, err = k.PublicKey(ctx, "unknown")
		assert.ErrorIs(t, err, keychain.ErrKeyNotFound)
	})

	t.Run("nonce", func(t *testing.T) {
		k := open(t)
		a, err := k.Nonce(ctx, 32)
		require.NoError(t, err)
		b, err := k.Nonce(ctx, 32)
		require.NoError(t, err)
		assert.Len(t, a, 32)
		assert.NotEqual(t, a, b)
	})
}

func TestMemoryKeychain(t *testing.T) {
	runKeychainContract(t, func(t *testing.T) interface {
		keychain.Keychain
		Generate() (string, string, error)
	} {
		return keychain.NewMemoryKeychain()
	})
}

func TestFileKeychain(t *testing.T) {
	runKeychainContract(t, func(t *testing.T) interface {
		keychain.Keychain
		Generate() (string, string, error)
	} {
		k, err := keychain.NewFileKeychain(t.TempDir())
		require.NoError(t, err)
		return k
	})
}

func TestFileKeychainPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	first, err := keychain.NewFileKeychain(dir)
	require.NoError(t, err)
	identity, publicKey, err := first.Generate()
	require.NoError(t, err)

	second, err := keychain.NewFileKeychain(dir)
	require.NoError(t, err)

	got, err := second.PublicKey(context.Background(), identity)
	require.NoError(t, err)
	assert.Equal(t, publicKey, got)

	identities, err := second.Identities()
	require.NoError(t, err)
	assert.Equal(t, []string{identity}, identities)
}

func TestIdentityFromPublicKey(t *testing.T) {
	identity, err := keychain.IdentityFromPublicKey(strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Len(t, identity, 64)

	again, err := keychain.IdentityFromPublicKey(strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Equal(t, identity, again)

	_, err = keychain.IdentityFromPublicKey("not-hex")
	assert.ErrorIs(t, err, keychain.ErrInvalidKey)
}

func TestVerifyRejectsBadKeys(t *testing.T) {
	_, err := keychain.Verify("zz", []byte("data"), []byte("sig"))
	assert.ErrorIs(t, err, keychain.ErrInvalidKey)

	_, err = keychain.Verify("abcd", []byte("data"), []byte("sig"))
	assert.ErrorIs(t, err, keychain.ErrInvalidKey)
}

func TestDirectoryKnownKeys(t *testing.T) {
	ctx := context.Background()
	known, err := keychain.NewDirectoryKnownKeys(t.TempDir())
	require.NoError(t, err)

	source := keychain.NewMemoryKeychain()
	identity, publicKey, err := source.Generate()
	require.NoError(t, err)

	require.NoError(t, known.Add(identity, publicKey))

	got, err := known.ResolveKey(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, publicKey, got)

	_, err = known.ResolveKey(ctx, "stranger")
	assert.ErrorIs(t, err, keychain.ErrKeyNotFound)

	require.NoError(t, known.Remove(identity))
	_, err = known.ResolveKey(ctx, identity)
	assert.ErrorIs(t, err, keychain.ErrKeyNotFound)
	assert.ErrorIs(t, known.Remove(identity), keychain.ErrKeyNotFound)

	assert.ErrorIs(t, known.Add("x", "not-a-key"), keychain.ErrInvalidKey)
}

func TestMemoryKeychainResolveKnown(t *testing.T) {
	ctx := context.Background()
	k := keychain.NewMemoryKeychain()

	identity, publicKey, err := k.Generate()
	require.NoError(t, err)

	// Own identities resolve directly.
	got, err := k.ResolveKey(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, publicKey, got)

	// Foreign keys resolve after AddKnown, but cannot sign.
	foreign := strings.Repeat("cd", 32)
	require.NoError(t, k.AddKnown("peer", foreign))
	got, err = k.ResolveKey(ctx, "peer")
	require.NoError(t, err)
	assert.Equal(t, foreign, got)

	_, err = k.Sign(ctx, "peer", []byte("data"))
	assert.ErrorIs(t, err, keychain.ErrKeyNotFound)
}
