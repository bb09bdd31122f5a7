package ca

import (
	"context"

	"github.com/trustfabric/trustfabric-core/pkg/canonical"
	"github.com/trustfabric/trustfabric-core/pkg/cert"
	"github.com/trustfabric/trustfabric-core/pkg/store"
)

// Transition classifies the step between two consecutive certificate
// versions.
type Transition string

const (
	TransitionIssue  Transition = "issue"
	TransitionExtend Transition = "extend"
	TransitionReduce Transition = "reduce"
	TransitionRevoke Transition = "revoke"
	TransitionRenew  Transition = "renew"
)

// HistoryEntry is one version in a certificate's history.
type HistoryEntry struct {
	Certificate *cert.Certificate `json:"certificate"`
	Transition  Transition        `json:"transition"`
}

// LatestVersion returns the highest stored version of the certificate id.
func (e *Engine) LatestVersion(ctx context.Context, id string) (*cert.Certificate, error) {
	return e.latestByIdentityHash(ctx, canonical.HashString(id))
}

func (e *Engine) latestByIdentityHash(ctx context.Context, identityHash string) (*cert.Certificate, error) {
	obj, err := e.store.LatestVersion(ctx, identityHash)
	if err == store.ErrNotFound {
		return nil, cert.ErrNotFound
	}
	if err != nil {
		return nil, cert.WrapError(cert.ErrCodeStoreFailure, "latest version lookup failed", err)
	}
	return decodeCertificate(obj)
}

// History returns every stored version of the certificate id in increasing
// version order, with the transition that produced each version inferred
// from the validity windows of consecutive versions.
func (e *Engine) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	objs, err := e.store.Versions(ctx, canonical.HashString(id))
	if err == store.ErrNotFound {
		return nil, cert.ErrNotFound
	}
	if err != nil {
		return nil, cert.WrapError(cert.ErrCodeStoreFailure, "version enumeration failed", err)
	}

	nowMs := e.now().UnixMilli()
	out := make([]HistoryEntry, 0, len(objs))
	var prev *cert.Certificate
	for _, obj := range objs {
		c, err := decodeCertificate(obj)
		if err != nil {
			return nil, err
		}
		entry := HistoryEntry{Certificate: c, Transition: TransitionIssue}
		if prev != nil {
			entry.Transition = inferTransition(prev, c, nowMs)
		}
		out = append(out, entry)
		prev = c
	}
	return out, nil
}

// inferTransition applies the transition table over a consecutive version
// pair.
func inferTransition(prev, curr *cert.Certificate, nowMs int64) Transition {
	switch {
	case curr.Status == cert.StatusRevoked || curr.ValidUntil < nowMs:
		return TransitionRevoke
	case curr.ValidUntil > prev.ValidUntil:
		return TransitionExtend
	case nowMs < curr.ValidUntil && curr.ValidUntil < prev.ValidUntil:
		return TransitionReduce
	default:
		return TransitionRenew
	}
}

// CertificatesBySubject returns the latest version of every certificate
// whose subject matches. The trust evaluator uses this to find device
// certificates for a peer.
func (e *Engine) CertificatesBySubject(ctx context.Context, subject string) ([]*cert.Certificate, error) {
	objs, err := e.store.ByReverseKey(ctx, subjectKey(subject))
	if err != nil {
		return nil, cert.WrapError(cert.ErrCodeStoreFailure, "subject lookup failed", err)
	}
	out := make([]*cert.Certificate, 0, len(objs))
	for _, obj := range objs {
		c, err := decodeCertificate(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
