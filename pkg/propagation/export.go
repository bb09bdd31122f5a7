package propagation

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/trustfabric/trustfabric-core/pkg/audit"
	"github.com/trustfabric/trustfabric-core/pkg/canonical"
	"github.com/trustfabric/trustfabric-core/pkg/cert"
	"github.com/trustfabric/trustfabric-core/pkg/store"
)

// QRRenderer turns a JSON-LD document into a QR payload. The renderer is
// caller-provided; the core does not pick an image format.
type QRRenderer interface {
	Render(data []byte) ([]byte, error)
}

// Mailer delivers an exported credential by mail.
type Mailer interface {
	Send(ctx context.Context, to, subject string, body []byte) error
}

// ExportOptions selects the out-of-band delivery channels. Any
// combination may be set; the JSON-LD document is always returned.
type ExportOptions struct {
	// QR renders the document through the given renderer.
	QR QRRenderer

	// Email hands the document to Mailer for delivery to the address.
	Email  string
	Mailer Mailer

	// DownloadPath writes the document to a file.
	DownloadPath string

	// WebEndpoint PUTs the document to an HTTPS URL, bounded by the
	// configured HTTP timeout.
	WebEndpoint string

	// Method is a free-form tag recorded with the audit trail.
	Method string
}

// ExportedVC is the result of an external export.
type ExportedVC struct {
	CertificateID string `json:"certificate_id"`
	Version       int    `json:"version"`
	JSONLD        []byte `json:"jsonld"`
	QRPayload     []byte `json:"qr_payload,omitempty"`
	Method        string `json:"method,omitempty"`
	ExportedAt    int64  `json:"exported_at"`
}

// ExportExternal converts a stored certificate version into a portable
// JSON-LD credential and pushes it through the selected channels.
// version 0 selects the latest stored version.
func (s *Service) ExportExternal(ctx context.Context, certID string, version int, opts ExportOptions) (*ExportedVC, error) {
	c, err := s.loadVersion(ctx, certID, version)
	if err != nil {
		s.recordExport(ctx, certID, version, opts.Method, err)
		return nil, err
	}

	credential, err := s.bridge.FromCertificate(c)
	if err != nil {
		s.recordExport(ctx, c.ID, c.Version, opts.Method, err)
		return nil, err
	}
	document, err := s.bridge.ExportJSONLD(credential)
	if err != nil {
		s.recordExport(ctx, c.ID, c.Version, opts.Method, err)
		return nil, err
	}

	out := &ExportedVC{
		CertificateID: c.ID,
		Version:       c.Version,
		JSONLD:        document,
		Method:        opts.Method,
		ExportedAt:    s.now().UnixMilli(),
	}

	if opts.QR != nil {
		payload, err := opts.QR.Render(document)
		if err != nil {
			s.recordExport(ctx, c.ID, c.Version, opts.Method, err)
			return nil, fmt.Errorf("qr rendering failed: %w", err)
		}
		out.QRPayload = payload
	}
	if opts.Email != "" {
		if opts.Mailer == nil {
			err := fmt.Errorf("email export requested without a mailer")
			s.recordExport(ctx, c.ID, c.Version, opts.Method, err)
			return nil, err
		}
		subject := fmt.Sprintf("Certificate %s", c.ID)
		if err := opts.Mailer.Send(ctx, opts.Email, subject, document); err != nil {
			s.recordExport(ctx, c.ID, c.Version, opts.Method, err)
			return nil, fmt.Errorf("mail delivery failed: %w", err)
		}
	}
	if opts.DownloadPath != "" {
		if err := os.WriteFile(opts.DownloadPath, document, 0o600); err != nil {
			s.recordExport(ctx, c.ID, c.Version, opts.Method, err)
			return nil, fmt.Errorf("download write failed: %w", err)
		}
	}
	if opts.WebEndpoint != "" {
		if err := s.putWebEndpoint(ctx, opts.WebEndpoint, document); err != nil {
			s.recordExport(ctx, c.ID, c.Version, opts.Method, err)
			return nil, err
		}
	}

	s.recordExport(ctx, c.ID, c.Version, opts.Method, nil)
	return out, nil
}

// loadVersion loads a specific certificate version, or the latest when
// version is 0.
func (s *Service) loadVersion(ctx context.Context, certID string, version int) (*cert.Certificate, error) {
	identityHash := canonical.HashString(certID)

	if version == 0 {
		obj, err := s.objects.LatestVersion(ctx, identityHash)
		if err == store.ErrNotFound {
			return nil, cert.ErrNotFound
		}
		if err != nil {
			return nil, cert.WrapError(cert.ErrCodeStoreFailure, "certificate lookup failed", err)
		}
		return decodeCertificate(obj)
	}

	objs, err := s.objects.Versions(ctx, identityHash)
	if err == store.ErrNotFound {
		return nil, cert.ErrNotFound
	}
	if err != nil {
		return nil, cert.WrapError(cert.ErrCodeStoreFailure, "certificate lookup failed", err)
	}
	for _, obj := range objs {
		if obj.Version == version {
			return decodeCertificate(obj)
		}
	}
	return nil, cert.ErrNotFound
}

// putWebEndpoint PUTs the document to the URL with the configured
// timeout. Timeouts apply to web exports only; internal propagation
// retries instead.
func (s *Service) putWebEndpoint(ctx context.Context, url string, document []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(document))
	if err != nil {
		return fmt.Errorf("bad web endpoint: %w", err)
	}
	req.Header.Set("Content-Type", "application/ld+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return cert.WrapError(cert.ErrCodeTimedOut, "web endpoint export timed out", err)
		}
		return fmt.Errorf("web endpoint export failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("web endpoint rejected export: %s", resp.Status)
	}
	return nil
}

// recordExport appends the vc_exported audit event.
func (s *Service) recordExport(ctx context.Context, certID string, version int, method string, opErr error) {
	if s.audit == nil {
		return
	}
	ev := audit.Event{
		Type:               audit.EventVCExported,
		Timestamp:          s.now().UnixMilli(),
		Actor:              s.cfg.Actor,
		CertificateID:      certID,
		CertificateVersion: version,
		Success:            opErr == nil,
	}
	if method != "" {
		ev.Metadata = map[string]string{"method": method}
	}
	if opErr != nil {
		ev.Error = opErr.Error()
	}
	if err := s.audit.Append(ctx, ev); err != nil {
		s.log.WithError(err).Warn("audit append failed")
	}
}
