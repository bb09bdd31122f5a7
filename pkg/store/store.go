// Package store defines the Object Store port of the trust fabric and two
// implementations: an in-memory store for tests and bounded caches, and a
// persistent store backed by badger.
//
// Objects are content-addressed by the SHA-256 of their canonical bytes.
// Versioned objects additionally carry a stable identity hash; the latest
// version wins by monotonically increasing version number. Reverse keys
// allow secondary lookups (by subject, by issuer, by peer).
package store

import (
	"context"
	"errors"
)

// Object kinds stored by the core.
const (
	KindCertificate       = "certificate"
	KindTrustRelationship = "trust_relationship"
)

// Common errors returned by object stores.
var (
	ErrNotFound        = errors.New("object not found")
	ErrVersionConflict = errors.New("version is not greater than the stored latest")
	ErrClosed          = errors.New("object store is closed")
)

// Object is a stored, content-addressed value. Data holds the canonical
// JSON serialization; Hash is its SHA-256 in hex.
type Object struct {
	Hash         string   `json:"hash"`
	IdentityHash string   `json:"identity_hash"`
	Kind         string   `json:"kind"`
	Version      int      `json:"version"`
	ReverseKeys  []string `json:"reverse_keys,omitempty"`
	Data         []byte   `json:"data"`
	StoredAt     int64    `json:"stored_at"`
}

// ObjectStore is the storage port consumed by the core. Persistence is
// atomic per object: Put either stores the full version or nothing.
// Versions are never mutated or removed; Put rejects a version that is not
// strictly greater than the stored latest for the same identity hash.
type ObjectStore interface {
	// Put stores a new object version atomically.
	Put(ctx context.Context, obj *Object) error

	// Get loads an object by content hash.
	Get(ctx context.Context, hash string) (*Object, error)

	// LatestVersion returns the highest-version object for an identity
	// hash, or ErrNotFound.
	LatestVersion(ctx context.Context, identityHash string) (*Object, error)

	// Versions returns every stored version for an identity hash in
	// increasing version order.
	Versions(ctx context.Context, identityHash string) ([]*Object, error)

	// ByReverseKey returns the latest version of every identity that
	// carries the given reverse key.
	ByReverseKey(ctx context.Context, key string) ([]*Object, error)

	// Subscribe registers a callback invoked after each successful Put.
	// The returned function cancels the subscription.
	Subscribe(fn func(*Object)) (cancel func())

	// Close releases resources.
	Close() error
}

// clone returns a defensive copy so callers cannot mutate stored state.
func clone(obj *Object) *Object {
	out := *obj
	out.ReverseKeys = append([]string(nil), obj.ReverseKeys...)
	out.Data = append([]byte(nil), obj.Data...)
	return &out
}
