// Package propagation delivers certificate versions to other instances
// over two channels: automatic peer sync driven by object store writes,
// and portable verifiable credential documents exchanged out of band.
// Receivers reconcile by version number.
package propagation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trustfabric/trustfabric-core/pkg/audit"
	"github.com/trustfabric/trustfabric-core/pkg/ca"
	"github.com/trustfabric/trustfabric-core/pkg/cert"
	"github.com/trustfabric/trustfabric-core/pkg/store"
	"github.com/trustfabric/trustfabric-core/pkg/transport"
	"github.com/trustfabric/trustfabric-core/pkg/vc"
)

// SyncStatus is the internal propagation state of one certificate.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSyncing SyncStatus = "syncing"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
	StatusOffline SyncStatus = "offline"
)

// Entry tracks one certificate version through internal propagation.
type Entry struct {
	CertificateID string     `json:"certificate_id"`
	IdentityHash  string     `json:"identity_hash"`
	Version       int        `json:"version"`
	Status        SyncStatus `json:"status"`
	Urgent        bool       `json:"urgent,omitempty"`
	Attempts      int        `json:"attempts,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttempt   int64      `json:"next_attempt,omitempty"`
}

// Verifier is the verification surface imports run through.
type Verifier interface {
	VerifyCertificate(ctx context.Context, c *cert.Certificate) (*ca.VerifyResult, error)
}

// Config carries the service settings.
type Config struct {
	// Actor is the identity recorded on audit events.
	Actor string

	// BaseBackoff is the first retry delay after a failed delivery.
	// Defaults to 500ms; each further attempt doubles it up to MaxBackoff.
	BaseBackoff time.Duration

	// MaxBackoff caps the retry delay. Defaults to 30s.
	MaxBackoff time.Duration

	// HTTPTimeout bounds web-endpoint exports. Defaults to 10s.
	HTTPTimeout time.Duration

	// Now overrides the clock (tests). Defaults to time.Now.
	Now func() time.Time

	// Logger defaults to logrus.New().
	Logger *logrus.Logger
}

// Service is the dual propagation service. Start wires it to the object
// store and the peer transport; Stop tears the background loop down.
type Service struct {
	cfg      Config
	objects  store.ObjectStore
	bridge   *vc.Bridge
	verifier Verifier
	peers    transport.PeerTransport
	audit    audit.Log
	log      *logrus.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry // identity hash → latest tracked entry
	queue   []string          // identity hashes, urgent first
	started bool

	wake        chan struct{}
	stop        chan struct{}
	done        chan struct{}
	unsubscribe func()
}

// NewService creates a propagation service. verifier and auditLog may be
// nil; imports then skip verification and audit respectively.
func NewService(cfg Config, objects store.ObjectStore, bridge *vc.Bridge, verifier Verifier, peers transport.PeerTransport, auditLog audit.Log) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Service{
		cfg:      cfg,
		objects:  objects,
		bridge:   bridge,
		verifier: verifier,
		peers:    peers,
		audit:    auditLog,
		log:      cfg.Logger,
		now:      cfg.Now,
		entries:  make(map[string]*Entry),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start subscribes to store writes and transport updates and launches the
// background drain loop. Persisting a new certificate version is all a
// caller needs to do for peers to receive it.
func (s *Service) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.unsubscribe = s.objects.Subscribe(func(obj *store.Object) {
		if obj.Kind != store.KindCertificate {
			return
		}
		s.TrackObject(obj)
	})
	if s.peers != nil {
		s.peers.SubscribeUpdates(s.handleRemote)
	}
	go s.drainLoop()
}

// Stop halts the background loop and detaches from the store.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	close(s.stop)
	<-s.done
}

// TrackObject enqueues a stored certificate object for internal
// propagation. Revoked certificates jump the queue.
func (s *Service) TrackObject(obj *store.Object) {
	c, err := decodeCertificate(obj)
	if err != nil {
		s.log.WithField("hash", obj.Hash).WithError(err).Warn("skipping undecodable certificate object")
		return
	}
	urgent := c.Status == cert.StatusRevoked || c.RevocationReason != ""

	s.mu.Lock()
	existing, tracked := s.entries[obj.IdentityHash]
	if tracked && existing.Version >= obj.Version &&
		(existing.Status == StatusPending || existing.Status == StatusSyncing || existing.Status == StatusSynced) {
		s.mu.Unlock()
		return
	}
	entry := &Entry{
		CertificateID: c.ID,
		IdentityHash:  obj.IdentityHash,
		Version:       obj.Version,
		Status:        StatusPending,
		Urgent:        urgent,
	}
	s.entries[obj.IdentityHash] = entry
	if !tracked || existing.Status == StatusSynced || existing.Status == StatusFailed || existing.Status == StatusOffline {
		if urgent {
			s.queue = append([]string{obj.IdentityHash}, s.queue...)
		} else {
			s.queue = append(s.queue, obj.IdentityHash)
		}
	}
	s.mu.Unlock()

	s.signal()
}

// Status returns the propagation state of a certificate id, or nil when
// the id was never tracked.
func (s *Service) Status(certID string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.CertificateID == certID {
			out := *entry
			return &out
		}
	}
	return nil
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drainLoop delivers queued entries, retrying failures with exponential
// backoff and parking entries as offline while no peer is reachable.
func (s *Service) drainLoop() {
	defer close(s.done)
	ctx := context.Background()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, wait := s.nextDue()
		if next != "" {
			s.deliver(ctx, next)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// nextDue pops the first queue entry whose retry time has passed. The
// returned wait is how long until the earliest entry becomes due.
func (s *Service) nextDue() (string, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := s.now().UnixMilli()
	wait := time.Hour
	for i, ident := range s.queue {
		entry, ok := s.entries[ident]
		if !ok {
			continue
		}
		if entry.NextAttempt > nowMs {
			if d := time.Duration(entry.NextAttempt-nowMs) * time.Millisecond; d < wait {
				wait = d
			}
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		return ident, wait
	}
	return "", wait
}

// deliver pushes the latest version of one identity to the transport.
func (s *Service) deliver(ctx context.Context, identityHash string) {
	s.mu.Lock()
	entry, ok := s.entries[identityHash]
	if !ok {
		s.mu.Unlock()
		return
	}
	entry.Status = StatusSyncing
	urgent := entry.Urgent
	s.mu.Unlock()

	obj, err := s.objects.LatestVersion(ctx, identityHash)
	if err != nil {
		s.fail(identityHash, err)
		return
	}

	if s.peers == nil || !s.peers.Connected() {
		s.park(identityHash)
		return
	}
	err = s.peers.Deliver(ctx, &transport.Update{Object: obj, Urgent: urgent, Origin: s.cfg.Actor})
	switch {
	case err == nil:
		s.mu.Lock()
		entry.Status = StatusSynced
		entry.LastError = ""
		entry.NextAttempt = 0
		// A newer version may have replaced the tracked entry while this
		// delivery was in flight; put the identity back on the queue so
		// the superseding entry is delivered too.
		superseded := false
		if current, ok := s.entries[identityHash]; ok && current != entry {
			s.requeueLocked(identityHash, current.Urgent)
			superseded = true
		}
		s.mu.Unlock()
		if superseded {
			s.signal()
		}
	case cert.Code(err) == cert.ErrCodeTransportOffline:
		s.park(identityHash)
	default:
		s.fail(identityHash, err)
	}
}

// park marks an entry offline and requeues it; it becomes due again when
// a connection wakes the loop.
func (s *Service) park(identityHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[identityHash]
	if !ok {
		return
	}
	entry.Status = StatusOffline
	entry.NextAttempt = s.now().Add(s.cfg.MaxBackoff).UnixMilli()
	s.requeueLocked(identityHash, entry.Urgent)
}

// fail records a delivery error and requeues with exponential backoff.
func (s *Service) fail(identityHash string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[identityHash]
	if !ok {
		return
	}
	entry.Status = StatusFailed
	entry.Attempts++
	entry.LastError = err.Error()

	backoff := s.cfg.BaseBackoff << (entry.Attempts - 1)
	if backoff > s.cfg.MaxBackoff || backoff <= 0 {
		backoff = s.cfg.MaxBackoff
	}
	entry.NextAttempt = s.now().Add(backoff).UnixMilli()
	s.requeueLocked(identityHash, entry.Urgent)

	s.log.WithFields(logrus.Fields{
		"certificate_id": entry.CertificateID,
		"attempts":       entry.Attempts,
		"error":          err,
	}).Warn("certificate delivery failed, will retry")
}

func (s *Service) requeueLocked(identityHash string, urgent bool) {
	for _, queued := range s.queue {
		if queued == identityHash {
			return
		}
	}
	if urgent {
		s.queue = append([]string{identityHash}, s.queue...)
	} else {
		s.queue = append(s.queue, identityHash)
	}
}

// handleRemote stores a certificate version delivered by a peer. Stale
// and duplicate versions are dropped; the store enforces monotonicity.
func (s *Service) handleRemote(update *transport.Update) {
	if update == nil || update.Object == nil || update.Object.Kind != store.KindCertificate {
		return
	}
	ctx := context.Background()
	err := s.objects.Put(ctx, update.Object)
	switch {
	case err == nil:
	case err == store.ErrVersionConflict:
		s.log.WithFields(logrus.Fields{
			"identity_hash": update.Object.IdentityHash,
			"version":       update.Object.Version,
		}).Debug("ignoring stale peer update")
	default:
		s.log.WithError(err).Warn("failed to store peer update")
	}
}

func decodeCertificate(obj *store.Object) (*cert.Certificate, error) {
	var c cert.Certificate
	if err := json.Unmarshal(obj.Data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
