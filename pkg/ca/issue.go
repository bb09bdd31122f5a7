package ca

import (
	"context"

	"github.com/trustfabric/trustfabric-core/pkg/audit"
	"github.com/trustfabric/trustfabric-core/pkg/canonical"
	"github.com/trustfabric/trustfabric-core/pkg/cert"
)

// IssueRequest describes a certificate to mint.
type IssueRequest struct {
	Kind cert.Kind

	// Subject is the identity hash of a person or an opaque string.
	Subject string

	// SubjectPublicKey is optional; when empty the subject's current key
	// is fetched from the keychain port.
	SubjectPublicKey string

	// Validity is a duration string, ISO-8601 or human form.
	Validity string

	// ValidFrom defaults to now. Milliseconds since epoch.
	ValidFrom int64

	Claims cert.Claims

	// ChainTo optionally names the parent certificate id. Without it the
	// new certificate chains directly to the root.
	ChainTo string
}

// Issue mints, signs and persists a new certificate at version 1.
func (e *Engine) Issue(ctx context.Context, req IssueRequest) (*cert.Certificate, error) {
	c, err := e.issue(ctx, req)

	ev := audit.Event{
		Type:    audit.EventCertificateIssued,
		Actor:   e.cfg.Identity,
		Subject: req.Subject,
		Success: err == nil,
	}
	if c != nil {
		ev.CertificateID = c.ID
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.recordAudit(ctx, ev, c)

	if err != nil {
		return nil, err
	}
	e.emit(Event{Type: EventCertificateIssued, Certificate: c.Clone()})
	return c, nil
}

func (e *Engine) issue(ctx context.Context, req IssueRequest) (*cert.Certificate, error) {
	root, err := e.requireReady()
	if err != nil {
		return nil, err
	}
	if !req.Kind.Valid() {
		return nil, cert.WrapError(cert.ErrCodeParentInvalid, "unknown certificate kind "+string(req.Kind), nil)
	}

	subjectPub := req.SubjectPublicKey
	if subjectPub == "" {
		subjectPub, err = e.keys.PublicKey(ctx, req.Subject)
		if err != nil {
			return nil, cert.WrapError(cert.ErrCodeSubjectKeyMissing, "no key for subject "+req.Subject, err)
		}
	}

	validity, err := cert.ParseDuration(req.Validity)
	if err != nil {
		return nil, err
	}

	validFrom := req.ValidFrom
	if validFrom == 0 {
		validFrom = e.now().UnixMilli()
	}
	validUntil := validFrom + validity.Milliseconds()

	parent := root
	if req.ChainTo != "" {
		parent, err = e.LatestVersion(ctx, req.ChainTo)
		if err != nil {
			return nil, cert.WrapError(cert.ErrCodeParentInvalid, "parent certificate not found", err)
		}
		if status := parent.DeriveStatus(e.now()); status != cert.StatusValid {
			return nil, cert.WrapError(cert.ErrCodeParentInvalid, "parent status is "+string(status), nil)
		}
		if parent.Issuer != e.cfg.Identity {
			return nil, cert.WrapError(cert.ErrCodeParentInvalid, "parent was issued by another instance", nil)
		}
	}
	parentHash, err := parent.ContentHash()
	if err != nil {
		return nil, cert.WrapError(cert.ErrCodeStoreFailure, "parent hash failed", err)
	}

	serial := e.serials.Next()
	c := &cert.Certificate{
		ID:               cert.NewID(req.Kind, req.Subject, serial),
		Kind:             req.Kind,
		Status:           cert.StatusValid,
		Subject:          req.Subject,
		SubjectPublicKey: subjectPub,
		Issuer:           e.cfg.Identity,
		IssuerPublicKey:  root.IssuerPublicKey,
		ValidFrom:        validFrom,
		ValidUntil:       validUntil,
		IssuedBy:         parentHash,
		ChainDepth:       parent.ChainDepth + 1,
		Claims:           req.Claims.Copy(),
		IssuedAt:         e.now().UnixMilli(),
		SerialNumber:     serial,
		Version:          1,
	}

	// Serial numbers are generated collision-free; a hit here means the
	// generator is broken, not a recoverable input error.
	existing, err := e.store.ByReverseKey(ctx, serialKey(c.Issuer, serial))
	if err != nil {
		return nil, cert.WrapError(cert.ErrCodeStoreFailure, "serial lookup failed", err)
	}
	if len(existing) > 0 {
		return nil, cert.WrapError(cert.ErrCodeStoreFailure, "serial number collision for "+serial, nil)
	}

	if err := e.sign(ctx, c); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Extend creates a new version whose valid_until moves forward by the
// given duration string.
func (e *Engine) Extend(ctx context.Context, id, additional string) (*cert.Certificate, error) {
	c, err := e.transition(ctx, id, audit.EventCertificateExtended, "", func(next *cert.Certificate) error {
		delta, err := cert.ParseDuration(additional)
		if err != nil {
			return err
		}
		if delta <= 0 {
			return cert.WrapError(cert.ErrCodeInvalidDuration, "extension must be positive", nil)
		}
		next.ValidUntil += delta.Milliseconds()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(Event{Type: EventCertificateChanged, Certificate: c.Clone()})
	return c, nil
}

// Reduce creates a new version whose valid_until shrinks to newValidUntil,
// which must lie strictly between now and the previous valid_until.
func (e *Engine) Reduce(ctx context.Context, id string, newValidUntil int64) (*cert.Certificate, error) {
	c, err := e.transition(ctx, id, audit.EventCertificateReduced, "", func(next *cert.Certificate) error {
		nowMs := e.now().UnixMilli()
		if newValidUntil <= nowMs {
			return cert.ErrUseRevoke
		}
		if newValidUntil >= next.ValidUntil {
			return cert.ErrNotAReduction
		}
		next.ValidUntil = newValidUntil
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(Event{Type: EventCertificateChanged, Certificate: c.Clone()})
	return c, nil
}

// Revoke creates a revoked version: valid_until is forced into the past
// and the reason recorded. The resulting event is urgent so the
// propagation layer prioritizes delivery.
func (e *Engine) Revoke(ctx context.Context, id, reason string) (*cert.Certificate, error) {
	c, err := e.transition(ctx, id, audit.EventCertificateRevoked, reason, func(next *cert.Certificate) error {
		next.ValidUntil = e.now().UnixMilli() - 1
		next.Status = cert.StatusRevoked
		next.RevocationReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emit(Event{Type: EventCertificateChanged, Certificate: c.Clone(), Urgent: true})
	return c, nil
}

// transition loads the latest version under the per-id lock, applies
// mutate to a clone with version+1, re-signs and persists. Everything but
// the validity window (and revocation fields) is carried over unchanged.
func (e *Engine) transition(ctx context.Context, id string, eventType audit.EventType, reason string, mutate func(*cert.Certificate) error) (*cert.Certificate, error) {
	next, err := e.doTransition(ctx, id, mutate)

	ev := audit.Event{
		Type:          eventType,
		Actor:         e.cfg.Identity,
		CertificateID: id,
		Reason:        reason,
		Success:       err == nil,
	}
	if next != nil {
		ev.Subject = next.Subject
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.recordAudit(ctx, ev, next)

	if err != nil {
		return nil, err
	}
	return next, nil
}

func (e *Engine) doTransition(ctx context.Context, id string, mutate func(*cert.Certificate) error) (*cert.Certificate, error) {
	if _, err := e.requireReady(); err != nil {
		return nil, err
	}

	identityHash := canonical.HashString(id)
	lock := e.idLock(identityHash)
	lock.Lock()
	defer lock.Unlock()

	prev, err := e.latestByIdentityHash(ctx, identityHash)
	if err != nil {
		return nil, err
	}
	if prev.DeriveStatus(e.now()) == cert.StatusRevoked {
		return nil, cert.ErrRevoked
	}

	next := prev.Clone()
	next.Version = prev.Version + 1
	if err := mutate(next); err != nil {
		return nil, err
	}

	if err := e.sign(ctx, next); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}
