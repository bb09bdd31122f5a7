// Package trust persists device-level trust relationships. Relationships
// are versioned objects keyed by the peer's identity hash and
// reverse-indexed so all relationships can be enumerated for graph
// evaluation.
package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trustfabric/trustfabric-core/pkg/audit"
	"github.com/trustfabric/trustfabric-core/pkg/canonical"
	"github.com/trustfabric/trustfabric-core/pkg/store"
)

// Common errors returned by this package.
var (
	ErrNotFound = errors.New("trust relationship not found")
)

// Status is the device-level trust status of a peer.
type Status string

const (
	StatusTrusted   Status = "trusted"
	StatusUntrusted Status = "untrusted"
	StatusPending   Status = "pending"
	StatusRevoked   Status = "revoked"
)

// Level grades an established relationship.
type Level string

const (
	LevelSelf   Level = "self"
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Relationship is a versioned trust record for one peer. Timestamps are
// milliseconds since epoch.
type Relationship struct {
	Peer               string          `json:"peer"`
	PeerPublicKey      string          `json:"peer_public_key"`
	Status             Status          `json:"status"`
	TrustLevel         Level           `json:"trust_level,omitempty"`
	Permissions        map[string]bool `json:"permissions,omitempty"`
	EstablishedAt      int64           `json:"established_at"`
	LastVerified       int64           `json:"last_verified"`
	ValidUntil         int64           `json:"valid_until,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	Context            string          `json:"context,omitempty"`
	VerificationMethod string          `json:"verification_method,omitempty"`
	VerificationProof  string          `json:"verification_proof,omitempty"`
	Version            int             `json:"version"`
}

// identityID is the stable id a peer's relationship versions share.
func identityID(peer string) string {
	return "trust:" + peer
}

func peerKey(peer string) string {
	return "peer:" + peer
}

// allKey is the reverse key shared by every relationship, used to list
// them all.
const allKey = "trust:all"

// SetOptions carries the optional fields of a status update.
type SetOptions struct {
	TrustLevel         Level
	Permissions        map[string]bool
	ValidUntil         int64
	Reason             string
	Context            string
	VerificationMethod string
	VerificationProof  string
}

// Options configures a Store. All fields are optional.
type Options struct {
	// Now overrides the clock (tests).
	Now func() time.Time

	// Audit records trust_established and trust_revoked events when set.
	Audit audit.Log

	// Actor is the identity recorded on audit events.
	Actor string
}

// Store persists relationships in the object store.
type Store struct {
	store store.ObjectStore
	now   func() time.Time
	audit audit.Log
	actor string

	mu       sync.Mutex
	onChange []func(peer string, status Status)
}

// NewStore creates a trust store over the object store.
func NewStore(objects store.ObjectStore, opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{store: objects, now: now, audit: opts.Audit, actor: opts.Actor}
}

// OnChange registers a callback invoked after each persisted status
// change.
func (s *Store) OnChange(fn func(peer string, status Status)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// SetStatus creates a new relationship version for the peer. The
// established_at of an existing relationship is preserved; last_verified
// is always bumped to now. Every call is audited, failed ones included.
func (s *Store) SetStatus(ctx context.Context, peer, publicKey string, status Status, opts SetOptions) (*Relationship, error) {
	rel, err := s.setStatus(ctx, peer, publicKey, status, opts)
	s.recordAudit(ctx, peer, status, opts.Reason, rel, err)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	fns := append([]func(string, Status){}, s.onChange...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(peer, status)
	}
	return rel, nil
}

func (s *Store) setStatus(ctx context.Context, peer, publicKey string, status Status, opts SetOptions) (*Relationship, error) {
	nowMs := s.now().UnixMilli()

	rel := &Relationship{
		Peer:               peer,
		PeerPublicKey:      publicKey,
		Status:             status,
		TrustLevel:         opts.TrustLevel,
		Permissions:        opts.Permissions,
		EstablishedAt:      nowMs,
		LastVerified:       nowMs,
		ValidUntil:         opts.ValidUntil,
		Reason:             opts.Reason,
		Context:            opts.Context,
		VerificationMethod: opts.VerificationMethod,
		VerificationProof:  opts.VerificationProof,
		Version:            1,
	}

	existing, err := s.Get(ctx, peer)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	if existing != nil {
		rel.EstablishedAt = existing.EstablishedAt
		rel.Version = existing.Version + 1
	}

	obj, err := relationshipObject(rel)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, obj); err != nil {
		return nil, fmt.Errorf("failed to persist trust relationship: %w", err)
	}
	return rel, nil
}

// recordAudit appends the lifecycle event for one SetStatus call.
// Revocations log as trust_revoked, everything else as trust_established.
func (s *Store) recordAudit(ctx context.Context, peer string, status Status, reason string, rel *Relationship, opErr error) {
	if s.audit == nil {
		return
	}
	eventType := audit.EventTrustEstablished
	if status == StatusRevoked {
		eventType = audit.EventTrustRevoked
	}
	ev := audit.Event{
		Type:      eventType,
		Timestamp: s.now().UnixMilli(),
		Actor:     s.actor,
		Subject:   peer,
		Reason:    reason,
		Success:   opErr == nil,
		Metadata:  map[string]string{"status": string(status)},
	}
	if rel != nil {
		ev.Metadata["version"] = fmt.Sprintf("%d", rel.Version)
	}
	if opErr != nil {
		ev.Error = opErr.Error()
	}
	// An append failure must not fail the trust operation itself.
	_ = s.audit.Append(ctx, ev)
}

// Get returns the latest relationship version for a peer.
func (s *Store) Get(ctx context.Context, peer string) (*Relationship, error) {
	obj, err := s.store.LatestVersion(ctx, canonical.HashString(identityID(peer)))
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("trust lookup failed: %w", err)
	}
	return decodeRelationship(obj)
}

// History returns every stored version for a peer in increasing order.
func (s *Store) History(ctx context.Context, peer string) ([]*Relationship, error) {
	objs, err := s.store.Versions(ctx, canonical.HashString(identityID(peer)))
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("trust history failed: %w", err)
	}
	out := make([]*Relationship, 0, len(objs))
	for _, obj := range objs {
		rel, err := decodeRelationship(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

// List returns the latest version of every relationship.
func (s *Store) List(ctx context.Context) ([]*Relationship, error) {
	objs, err := s.store.ByReverseKey(ctx, allKey)
	if err != nil {
		return nil, fmt.Errorf("trust enumeration failed: %w", err)
	}
	out := make([]*Relationship, 0, len(objs))
	for _, obj := range objs {
		rel, err := decodeRelationship(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

func relationshipObject(rel *Relationship) (*store.Object, error) {
	data, err := canonical.Marshal(rel)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize relationship: %w", err)
	}
	return &store.Object{
		Hash:         canonical.HashBytesHex(data),
		IdentityHash: canonical.HashString(identityID(rel.Peer)),
		Kind:         store.KindTrustRelationship,
		Version:      rel.Version,
		ReverseKeys:  []string{peerKey(rel.Peer), allKey},
		Data:         data,
	}, nil
}

func decodeRelationship(obj *store.Object) (*Relationship, error) {
	if obj.Kind != store.KindTrustRelationship {
		return nil, fmt.Errorf("object %s is %s, not a trust relationship", obj.Hash, obj.Kind)
	}
	var rel Relationship
	if err := json.Unmarshal(obj.Data, &rel); err != nil {
		return nil, fmt.Errorf("corrupt trust relationship %s: %w", obj.Hash, err)
	}
	return &rel, nil
}
