// Package ca implements the certificate authority engine: the local root
// lifecycle, certificate issuance, extension, reduction and revocation,
// signature and chain verification, and version history queries.
//
// Every instance is its own CA. The engine owns no key material and no
// persistence; it drives the keychain and object store ports and serializes
// lifecycle operations per certificate identity so version numbers stay
// strictly monotonic.
package ca

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trustfabric/trustfabric-core/pkg/audit"
	"github.com/trustfabric/trustfabric-core/pkg/canonical"
	"github.com/trustfabric/trustfabric-core/pkg/cert"
	"github.com/trustfabric/trustfabric-core/pkg/keychain"
	"github.com/trustfabric/trustfabric-core/pkg/store"
)

// State is the engine lifecycle state.
type State int

const (
	// StateUninitialised is the zero state; no operation is available.
	StateUninitialised State = iota

	// StateInitialised means Init ran but no root certificate is active.
	StateInitialised

	// StateCAReady means a root is active and lifecycle operations are
	// available.
	StateCAReady
)

// String renders the state for logs.
func (s State) String() string {
	switch s {
	case StateInitialised:
		return "initialised"
	case StateCAReady:
		return "ca-ready"
	default:
		return "uninitialised"
	}
}

// DefaultRootValidity is the root certificate validity applied when the
// config does not override it.
const DefaultRootValidity = 10 * cert.Year

// EventType identifies engine notifications.
type EventType string

const (
	EventRootCreated        EventType = "RootCreated"
	EventCertificateIssued  EventType = "CertificateIssued"
	EventCertificateChanged EventType = "CertificateChanged"
)

// Event is an engine notification carrying the affected certificate.
type Event struct {
	Type        EventType
	Certificate *cert.Certificate

	// Urgent marks events whose propagation must not wait (revocations).
	Urgent bool
}

// Config carries per-instance settings.
type Config struct {
	// Name is the human-readable CA name, recorded in root claims.
	Name string

	// Domain is the instance's public domain, recorded in root claims.
	Domain string

	// Identity is the instance's identity hash.
	Identity string

	// RootValidity defaults to DefaultRootValidity.
	RootValidity time.Duration

	// Now overrides the clock (tests). Defaults to time.Now.
	Now func() time.Time

	// Logger defaults to logrus.New().
	Logger *logrus.Logger
}

// Engine is the CA engine. All exported methods are safe for concurrent
// use; lifecycle operations over the same certificate id are serialized.
type Engine struct {
	cfg   Config
	store store.ObjectStore
	keys  keychain.Keychain
	audit audit.Log
	log   *logrus.Logger
	now   func() time.Time

	mu    sync.RWMutex
	state State
	root  *cert.Certificate

	lockMu  sync.Mutex
	idLocks map[string]*sync.Mutex

	serials *cert.SerialGenerator

	eventMu  sync.Mutex
	eventFns []func(Event)
}

// New creates an engine in the Uninitialised state.
func New(cfg Config, st store.ObjectStore, keys keychain.Keychain, auditLog audit.Log) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.RootValidity <= 0 {
		cfg.RootValidity = DefaultRootValidity
	}
	return &Engine{
		cfg:     cfg,
		store:   st,
		keys:    keys,
		audit:   auditLog,
		log:     cfg.Logger,
		now:     cfg.Now,
		idLocks: make(map[string]*sync.Mutex),
		serials: cert.NewSerialGenerator(cfg.Now),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Root returns the active root certificate, nil before CAReady.
func (e *Engine) Root() *cert.Certificate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.root == nil {
		return nil
	}
	return e.root.Clone()
}

// Identity returns the instance identity hash.
func (e *Engine) Identity() string {
	return e.cfg.Identity
}

// OnEvent registers a notification callback. Callbacks run synchronously
// after the triggering operation persisted its result.
func (e *Engine) OnEvent(fn func(Event)) {
	e.eventMu.Lock()
	e.eventFns = append(e.eventFns, fn)
	e.eventMu.Unlock()
}

// Init transitions Uninitialised → Initialised and activates the root:
// an existing root authored by this identity is loaded, otherwise a fresh
// self-signed root is created. Either way the engine ends in CAReady.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateUninitialised {
		e.mu.Unlock()
		return fmt.Errorf("init from state %s", e.state)
	}
	e.state = StateInitialised
	e.mu.Unlock()

	return e.CreateRoot(ctx)
}

// Shutdown transitions back to Uninitialised. Pending operations fail with
// NotReady afterwards.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateUninitialised
	e.root = nil
}

// CreateRoot activates the instance root. If a root authored by this
// identity exists in the store its latest version is loaded; otherwise a
// self-signed root with the configured validity is created and persisted.
// Idempotent; transitions to CAReady on success.
func (e *Engine) CreateRoot(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateUninitialised {
		return cert.ErrNotReady
	}
	if e.state == StateCAReady {
		return nil
	}

	existing, err := e.loadRootLocked(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		e.root = existing
		e.state = StateCAReady
		e.log.WithField("root_id", existing.ID).Info("loaded existing root certificate")
		return nil
	}

	root, err := e.mintRoot(ctx)
	if err != nil {
		return err
	}
	e.root = root
	e.state = StateCAReady
	e.log.WithField("root_id", root.ID).Info("created root certificate")
	e.emit(Event{Type: EventRootCreated, Certificate: root.Clone()})
	return nil
}

// loadRootLocked looks up the latest root authored by this identity.
func (e *Engine) loadRootLocked(ctx context.Context) (*cert.Certificate, error) {
	objs, err := e.store.ByReverseKey(ctx, rootKey(e.cfg.Identity))
	if err != nil {
		return nil, cert.WrapError(cert.ErrCodeStoreFailure, "root lookup failed", err)
	}
	if len(objs) == 0 {
		return nil, nil
	}
	// At most one active root per instance; the reverse key holds one
	// identity.
	return decodeCertificate(objs[0])
}

// mintRoot builds, signs and persists a fresh self-signed root.
func (e *Engine) mintRoot(ctx context.Context) (*cert.Certificate, error) {
	pub, err := e.keys.PublicKey(ctx, e.cfg.Identity)
	if err != nil {
		return nil, cert.WrapError(cert.ErrCodeSigningFailure, "instance public key unavailable", err)
	}

	now := e.now().UnixMilli()
	serial := e.serials.Next()
	root := &cert.Certificate{
		ID:               cert.NewID(cert.KindIdentity, e.cfg.Identity, serial),
		Kind:             cert.KindIdentity,
		Status:           cert.StatusValid,
		Subject:          e.cfg.Identity,
		SubjectPublicKey: pub,
		Issuer:           e.cfg.Identity,
		IssuerPublicKey:  pub,
		ValidFrom:        now,
		ValidUntil:       now + e.cfg.RootValidity.Milliseconds(),
		ChainDepth:       0,
		IssuedAt:         now,
		SerialNumber:     serial,
		Version:          1,
	}
	if e.cfg.Name != "" || e.cfg.Domain != "" {
		root.Claims = cert.Claims{}
		if e.cfg.Name != "" {
			root.Claims["name"] = e.cfg.Name
		}
		if e.cfg.Domain != "" {
			root.Claims["domain"] = e.cfg.Domain
		}
	}

	if err := e.sign(ctx, root); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, root); err != nil {
		return nil, err
	}

	e.recordAudit(ctx, audit.Event{
		Type:          audit.EventCertificateIssued,
		Actor:         e.cfg.Identity,
		Subject:       root.Subject,
		CertificateID: root.ID,
		Success:       true,
		Metadata:      map[string]string{"root": "true"},
	}, root)
	return root, nil
}

// requireReady fails with NotReady outside CAReady and returns the current
// root.
func (e *Engine) requireReady() (*cert.Certificate, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateCAReady || e.root == nil {
		return nil, cert.ErrNotReady
	}
	return e.root, nil
}

// idLock returns the mutex serializing lifecycle operations for one
// identity hash.
func (e *Engine) idLock(identityHash string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	l, ok := e.idLocks[identityHash]
	if !ok {
		l = &sync.Mutex{}
		e.idLocks[identityHash] = l
	}
	return l
}

// sign canonicalizes the certificate with the signature elided and signs
// via the keychain.
func (e *Engine) sign(ctx context.Context, c *cert.Certificate) error {
	data, err := c.SigningBytes()
	if err != nil {
		return cert.WrapError(cert.ErrCodeSigningFailure, "canonicalization failed", err)
	}
	sig, err := e.keys.Sign(ctx, e.cfg.Identity, data)
	if err != nil {
		return cert.WrapError(cert.ErrCodeSigningFailure, "keychain sign failed", err)
	}
	c.Signature = hex.EncodeToString(sig)
	return nil
}

// persist writes the certificate as a new object version.
func (e *Engine) persist(ctx context.Context, c *cert.Certificate) error {
	obj, err := CertificateObject(c)
	if err != nil {
		return cert.WrapError(cert.ErrCodeStoreFailure, "object encoding failed", err)
	}
	if err := e.store.Put(ctx, obj); err != nil {
		return cert.WrapError(cert.ErrCodeStoreFailure, "object store put failed", err)
	}
	return nil
}

// emit fans an event out to registered callbacks.
func (e *Engine) emit(ev Event) {
	e.eventMu.Lock()
	fns := append([]func(Event){}, e.eventFns...)
	e.eventMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// recordAudit appends an audit event, filling certificate hash and version.
func (e *Engine) recordAudit(ctx context.Context, ev audit.Event, c *cert.Certificate) {
	if e.audit == nil {
		return
	}
	ev.Timestamp = e.now().UnixMilli()
	if c != nil {
		ev.CertificateVersion = c.Version
		if hash, err := c.ContentHash(); err == nil {
			ev.CertificateHash = hash
		}
	}
	if err := e.audit.Append(ctx, ev); err != nil {
		e.log.WithError(err).Warn("audit append failed")
	}
}

// CertificateObject wraps a certificate in its store object: canonical
// bytes, content hash, identity hash and the reverse keys the engine
// queries by.
func CertificateObject(c *cert.Certificate) (*store.Object, error) {
	data, err := c.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	obj := &store.Object{
		Hash:         canonical.HashBytesHex(data),
		IdentityHash: c.IdentityHash(),
		Kind:         store.KindCertificate,
		Version:      c.Version,
		Data:         data,
		ReverseKeys: []string{
			subjectKey(c.Subject),
			issuerKey(c.Issuer),
			serialKey(c.Issuer, c.SerialNumber),
		},
	}
	if c.IsRoot() {
		obj.ReverseKeys = append(obj.ReverseKeys, rootKey(c.Issuer))
	}
	return obj, nil
}

// decodeCertificate parses a stored object back into a certificate.
func decodeCertificate(obj *store.Object) (*cert.Certificate, error) {
	if obj.Kind != store.KindCertificate {
		return nil, fmt.Errorf("object %s is %s, not a certificate", obj.Hash, obj.Kind)
	}
	var c cert.Certificate
	if err := json.Unmarshal(obj.Data, &c); err != nil {
		return nil, fmt.Errorf("corrupt certificate object %s: %w", obj.Hash, err)
	}
	return &c, nil
}

// Reverse key builders.
func subjectKey(subject string) string        { return "subject:" + subject }
func issuerKey(issuer string) string          { return "issuer:" + issuer }
func rootKey(issuer string) string            { return "root:" + issuer }
func serialKey(issuer, serial string) string  { return "serial:" + issuer + ":" + serial }
