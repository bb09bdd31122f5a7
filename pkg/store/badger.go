package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Key layout inside badger. The identity separator is NUL because reverse
// keys themselves contain colons.
const (
	keyPrefixObject  = "obj:"
	keyPrefixVersion = "ver:"
	keyPrefixReverse = "rev:"
	keySep           = "\x00"
)

// BadgerStore is a persistent ObjectStore backed by a badger key-value
// database. Each Put runs in a single transaction, so persistence is
// atomic per object version.
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Logger

	subMu  sync.Mutex
	subs   map[int]func(*Object)
	nextID int
}

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory.
	Path string

	// InMemory runs badger without touching disk (tests).
	InMemory bool

	// Logger defaults to logrus.New().
	Logger *logrus.Logger
}

// NewBadgerStore opens or creates a badger-backed store.
func NewBadgerStore(config BadgerConfig) (*BadgerStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil
	if config.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	return &BadgerStore{
		db:   db,
		log:  config.Logger,
		subs: make(map[int]func(*Object)),
	}, nil
}

// Put stores a new object version atomically.
func (s *BadgerStore) Put(ctx context.Context, obj *Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := clone(obj)
	if stored.StoredAt == 0 {
		stored.StoredAt = time.Now().UnixMilli()
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal object: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		latest, err := latestVersionNumber(txn, stored.IdentityHash)
		if err != nil {
			return err
		}
		if latest > 0 && stored.Version <= latest {
			return ErrVersionConflict
		}

		if err := txn.Set([]byte(keyPrefixObject+stored.Hash), data); err != nil {
			return err
		}
		verKey := fmt.Sprintf("%s%s%s%012d", keyPrefixVersion, stored.IdentityHash, keySep, stored.Version)
		if err := txn.Set([]byte(verKey), []byte(stored.Hash)); err != nil {
			return err
		}
		for _, key := range stored.ReverseKeys {
			revKey := keyPrefixReverse + key + keySep + stored.IdentityHash
			if err := txn.Set([]byte(revKey), []byte(stored.IdentityHash)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(stored)
	return nil
}

// Get loads an object by content hash.
func (s *BadgerStore) Get(ctx context.Context, hash string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var obj *Object
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixObject + hash))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			obj = &Object{}
			return json.Unmarshal(val, obj)
		})
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// LatestVersion returns the highest-version object for an identity hash.
func (s *BadgerStore) LatestVersion(ctx context.Context, identityHash string) (*Object, error) {
	versions, err := s.Versions(ctx, identityHash)
	if err != nil {
		return nil, err
	}
	return versions[len(versions)-1], nil
}

// Versions returns every stored version in increasing version order.
func (s *BadgerStore) Versions(ctx context.Context, identityHash string) ([]*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*Object
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(keyPrefixVersion + identityHash + keySep)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var hash string
			if err := it.Item().Value(func(val []byte) error {
				hash = string(val)
				return nil
			}); err != nil {
				return err
			}
			obj, err := getObject(txn, hash)
			if err != nil {
				return err
			}
			out = append(out, obj)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// ByReverseKey returns the latest version of every identity carrying the
// reverse key.
func (s *BadgerStore) ByReverseKey(ctx context.Context, key string) ([]*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var idents []string
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(keyPrefixReverse + key + keySep)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			idents = append(idents, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Object, 0, len(idents))
	for _, ident := range idents {
		obj, err := s.LatestVersion(ctx, ident)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// Subscribe registers a callback invoked after each successful Put.
func (s *BadgerStore) Subscribe(fn func(*Object)) (cancel func()) {
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

// Close shuts down the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) notify(obj *Object) {
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

func getObject(txn *badger.Txn, hash string) (*Object, error) {
	item, err := txn.Get([]byte(keyPrefixObject + hash))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var obj Object
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &obj)
	}); err != nil {
		return nil, err
	}
	return &obj, nil
}

// latestVersionNumber scans the version index backwards for the highest
// stored version, 0 when none exists.
func latestVersionNumber(txn *badger.Txn, identityHash string) (int, error) {
	prefix := []byte(keyPrefixVersion + identityHash + keySep)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	// Seek just past the prefix range, then step back into it.
	seek := append(append([]byte(nil), prefix...), 0xff)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}
	key := it.Item().Key()
	var version int
	if _, err := fmt.Sscanf(string(key[len(prefix):]), "%d", &version); err != nil {
		return 0, fmt.Errorf("corrupt version key %q: %w", key, err)
	}
	return version, nil
}
