package propagation

import (
	"bytes"
	"context"
	"fmt"

	"github.com/trustfabric/trustfabric-core/pkg/audit"
	"github.com/trustfabric/trustfabric-core/pkg/ca"
	"github.com/trustfabric/trustfabric-core/pkg/cert"
	"github.com/trustfabric/trustfabric-core/pkg/store"
	"github.com/trustfabric/trustfabric-core/pkg/vc"
)

// ImportResult reports the outcome of an external import.
type ImportResult struct {
	Certificate *cert.Certificate `json:"certificate"`

	// Stored is false when the document matched the stored version
	// exactly and the import was a no-op.
	Stored bool `json:"stored"`

	// ExistingVersion carries the stored version when the import was
	// rejected as stale or duplicate.
	ExistingVersion int `json:"existing_version,omitempty"`
}

// ImportExternal receives a JSON-LD credential from an out-of-band
// channel: parse, convert, verify, and reconcile against the store by
// version. Accepted versions keep their original signature and are
// enqueued for internal propagation by the store write.
func (s *Service) ImportExternal(ctx context.Context, document []byte) (*ImportResult, error) {
	result, err := s.importExternal(ctx, document)
	s.recordImport(ctx, result, err)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (s *Service) importExternal(ctx context.Context, document []byte) (*ImportResult, error) {
	credential, err := vc.ImportJSONLD(document)
	if err != nil {
		return nil, cert.WrapError(cert.ErrCodeInvalidDID, "document is not a credential", err)
	}
	c, err := s.bridge.ToCertificate(ctx, credential)
	if err != nil {
		return nil, err
	}
	result := &ImportResult{Certificate: c}

	if err := s.verifyImport(ctx, c); err != nil {
		return result, err
	}

	latest, err := s.objects.LatestVersion(ctx, c.IdentityHash())
	if err != nil && err != store.ErrNotFound {
		return result, cert.WrapError(cert.ErrCodeStoreFailure, "reconciliation lookup failed", err)
	}

	if latest != nil {
		if latest.Version > c.Version {
			result.ExistingVersion = latest.Version
			return result, cert.WrapError(cert.ErrCodeStaleOrDuplicate,
				fmt.Sprintf("stored version %d is newer than imported %d", latest.Version, c.Version), nil)
		}
		if latest.Version == c.Version {
			imported, err := c.CanonicalBytes()
			if err != nil {
				return result, err
			}
			if bytes.Equal(imported, latest.Data) {
				// Same version, same canonical bytes: a no-op.
				result.ExistingVersion = latest.Version
				return result, nil
			}
			result.ExistingVersion = latest.Version
			return result, cert.WrapError(cert.ErrCodeStaleOrDuplicate,
				fmt.Sprintf("version %d already stored with different content", latest.Version), nil)
		}
	}

	// Store as-is: the original signature survives, nothing is re-signed.
	obj, err := ca.CertificateObject(c)
	if err != nil {
		return result, cert.WrapError(cert.ErrCodeStoreFailure, "object encoding failed", err)
	}
	if err := s.objects.Put(ctx, obj); err != nil {
		if err == store.ErrVersionConflict {
			return result, cert.WrapError(cert.ErrCodeStaleOrDuplicate, "lost reconciliation race", err)
		}
		return result, cert.WrapError(cert.ErrCodeStoreFailure, "import store failed", err)
	}
	result.Stored = true
	return result, nil
}

// verifyImport runs the signature and validity checks on the imported
// certificate. Without a resolvable issuer key the signature cannot be
// checked; the certificate is accepted and stays unverified until the
// key turns up.
func (s *Service) verifyImport(ctx context.Context, c *cert.Certificate) error {
	if s.verifier == nil {
		return nil
	}
	if c.IssuerPublicKey == "" {
		s.log.WithField("certificate_id", c.ID).Warn("importing certificate from unknown issuer, signature unverified")
		return nil
	}
	result, err := s.verifier.VerifyCertificate(ctx, c)
	if err != nil {
		return err
	}
	if !result.Valid {
		return cert.WrapError(cert.ErrCodeBadSignature,
			fmt.Sprintf("imported certificate failed verification: %s", result.Reason), nil)
	}
	return nil
}

// recordImport appends the vc_imported audit event. Rejects are
// non-fatal for the log: they land as unsuccessful events.
func (s *Service) recordImport(ctx context.Context, result *ImportResult, opErr error) {
	if s.audit == nil {
		return
	}
	ev := audit.Event{
		Type:      audit.EventVCImported,
		Timestamp: s.now().UnixMilli(),
		Actor:     s.cfg.Actor,
		Success:   opErr == nil,
	}
	if result != nil && result.Certificate != nil {
		ev.Subject = result.Certificate.Subject
		ev.CertificateID = result.Certificate.ID
		ev.CertificateVersion = result.Certificate.Version
		if hash, err := result.Certificate.ContentHash(); err == nil {
			ev.CertificateHash = hash
		}
	}
	if opErr != nil {
		ev.Error = opErr.Error()
	}
	if err := s.audit.Append(ctx, ev); err != nil {
		s.log.WithError(err).Warn("audit append failed")
	}
}
