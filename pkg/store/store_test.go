package store_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustfabric/trustfabric-core/pkg/store"
)

func newObject(ident string, version int, revKeys ...string) *store.Object {
	return &store.Object{
		Hash:         fmt.Sprintf("hash-%s-%d", ident, version),
		IdentityHash: ident,
		Kind:         store.KindCertificate,
		Version:      version,
		ReverseKeys:  revKeys,
		Data:         []byte(fmt.Sprintf(`{"id":%q,"version":%d}`, ident, version)),
	}
}

// both implementations must satisfy the same contract.
func runStoreContract(t *testing.T, open func(t *testing.T) store.ObjectStore) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		obj := newObject("ident-a", 1)
		require.NoError(t, s.Put(ctx, obj))

		got, err := s.Get(ctx, obj.Hash)
		require.NoError(t, err)
		assert.Equal(t, obj.Data, got.Data)
		assert.NotZero(t, got.StoredAt)
	})

	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("latest version wins", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Put(ctx, newObject("ident-a", 1)))
		require.NoError(t, s.Put(ctx, newObject("ident-a", 2)))
		require.NoError(t, s.Put(ctx, newObject("ident-a", 3)))

		latest, err := s.LatestVersion(ctx, "ident-a")
		require.NoError(t, err)
		assert.Equal(t, 3, latest.Version)

		versions, err := s.Versions(ctx, "ident-a")
		require.NoError(t, err)
		require.Len(t, versions, 3)
		for i, v := range versions {
			assert.Equal(t, i+1, v.Version)
		}
	})

	t.Run("version must be strictly greater", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Put(ctx, newObject("ident-a", 2)))
		assert.ErrorIs(t, s.Put(ctx, newObject("ident-a", 2)), store.ErrVersionConflict)
		assert.ErrorIs(t, s.Put(ctx, newObject("ident-a", 1)), store.ErrVersionConflict)
		require.NoError(t, s.Put(ctx, newObject("ident-a", 3)))
	})

	t.Run("latest version missing", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		_, err := s.LatestVersion(ctx, "ident-x")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("reverse keys return latest per identity", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Put(ctx, newObject("ident-a", 1, "subject:alice")))
		require.NoError(t, s.Put(ctx, newObject("ident-a", 2, "subject:alice")))
		require.NoError(t, s.Put(ctx, newObject("ident-b", 1, "subject:alice")))
		require.NoError(t, s.Put(ctx, newObject("ident-c", 1, "subject:bob")))

		objs, err := s.ByReverseKey(ctx, "subject:alice")
		require.NoError(t, err)
		require.Len(t, objs, 2)
		byIdent := map[string]int{}
		for _, obj := range objs {
			byIdent[obj.IdentityHash] = obj.Version
		}
		assert.Equal(t, map[string]int{"ident-a": 2, "ident-b": 1}, byIdent)
	})

	t.Run("subscribe sees every put", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		var seen []int
		cancel := s.Subscribe(func(obj *store.Object) {
			seen = append(seen, obj.Version)
		})

		require.NoError(t, s.Put(ctx, newObject("ident-a", 1)))
		require.NoError(t, s.Put(ctx, newObject("ident-a", 2)))
		cancel()
		require.NoError(t, s.Put(ctx, newObject("ident-a", 3)))

		assert.Equal(t, []int{1, 2}, seen)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) store.ObjectStore {
		return store.NewMemoryStore()
	})
}

func TestBadgerStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) store.ObjectStore {
		s, err := store.NewBadgerStore(store.BadgerConfig{InMemory: true})
		require.NoError(t, err)
		return s
	})
}

func TestMemoryStoreClosed(t *testing.T) {
	s := store.NewMemoryStore()
	require.NoError(t, s.Close())
	err := s.Put(context.Background(), newObject("ident-a", 1))
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestStoredObjectsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()

	obj := newObject("ident-a", 1)
	require.NoError(t, s.Put(ctx, obj))
	obj.Data[0] = 'X'

	got, err := s.Get(ctx, obj.Hash)
	require.NoError(t, err)
	assert.Equal(t, byte('{'), got.Data[0])
}
