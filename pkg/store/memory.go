package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory ObjectStore. It is safe for concurrent use
// and is the reference implementation for tests and bounded caches.
type MemoryStore struct {
	mu      sync.RWMutex
	byHash  map[string]*Object
	byIdent map[string][]*Object // sorted by version, ascending
	byRev   map[string]map[string]bool

	subMu  sync.Mutex
	subs   map[int]func(*Object)
	nextID int

	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash:  make(map[string]*Object),
		byIdent: make(map[string][]*Object),
		byRev:   make(map[string]map[string]bool),
		subs:    make(map[int]func(*Object)),
	}
}

// Put stores a new object version atomically.
func (s *MemoryStore) Put(ctx context.Context, obj *Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	versions := s.byIdent[obj.IdentityHash]
	if len(versions) > 0 && obj.Version <= versions[len(versions)-1].Version {
		s.mu.Unlock()
		return ErrVersionConflict
	}

	stored := clone(obj)
	if stored.StoredAt == 0 {
		stored.StoredAt = time.Now().UnixMilli()
	}
	s.byHash[stored.Hash] = stored
	s.byIdent[stored.IdentityHash] = append(versions, stored)
	for _, key := range stored.ReverseKeys {
		if s.byRev[key] == nil {
			s.byRev[key] = make(map[string]bool)
		}
		s.byRev[key][stored.IdentityHash] = true
	}
	s.mu.Unlock()

	s.notify(stored)
	return nil
}

// Get loads an object by content hash.
func (s *MemoryStore) Get(ctx context.Context, hash string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(obj), nil
}

// LatestVersion returns the highest-version object for an identity hash.
func (s *MemoryStore) LatestVersion(ctx context.Context, identityHash string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.byIdent[identityHash]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return clone(versions[len(versions)-1]), nil
}

// Versions returns every stored version in increasing version order.
func (s *MemoryStore) Versions(ctx context.Context, identityHash string) ([]*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.byIdent[identityHash]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	out := make([]*Object, len(versions))
	for i, v := range versions {
		out[i] = clone(v)
	}
	return out, nil
}

// ByReverseKey returns the latest version of every identity carrying the
// reverse key, ordered by identity hash for determinism.
func (s *MemoryStore) ByReverseKey(ctx context.Context, key string) ([]*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	idents := make([]string, 0, len(s.byRev[key]))
	for ident := range s.byRev[key] {
		idents = append(idents, ident)
	}
	sort.Strings(idents)

	out := make([]*Object, 0, len(idents))
	for _, ident := range idents {
		versions := s.byIdent[ident]
		if len(versions) > 0 {
			out = append(out, clone(versions[len(versions)-1]))
		}
	}
	return out, nil
}

// Subscribe registers a callback invoked after each successful Put.
func (s *MemoryStore) Subscribe(fn func(*Object)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// Close marks the store closed; subsequent Puts fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) notify(obj *Object) {
	s.subMu.Lock()
	fns := make([]func(*Object), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(clone(obj))
	}
}
