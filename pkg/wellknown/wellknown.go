// Package wellknown publishes and fetches instance root certificates as
// JSON-LD credentials under the well-known HTTPS path.
package wellknown

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trustfabric/trustfabric-core/pkg/cert"
	"github.com/trustfabric/trustfabric-core/pkg/vc"
)

// RootPath is the well-known path the root credential is served under.
const RootPath = "/.well-known/certificates/root"

// maxDocumentSize bounds a fetched root document.
const maxDocumentSize = 1 << 20

// RootSource provides the certificate to publish.
type RootSource interface {
	Root() *cert.Certificate
}

// Handler serves the instance root as a JSON-LD credential.
type Handler struct {
	source RootSource
	bridge *vc.Bridge
	log    *logrus.Logger
}

// NewHandler creates the well-known handler.
func NewHandler(source RootSource, bridge *vc.Bridge, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{source: source, bridge: bridge, log: log}
}

// ServeHTTP implements http.Handler for RootPath.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	root := h.source.Root()
	if root == nil {
		http.Error(w, "root certificate not available", http.StatusServiceUnavailable)
		return
	}

	credential, err := h.bridge.FromCertificate(root)
	if err != nil {
		h.log.WithError(err).Error("root credential conversion failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	document, err := h.bridge.ExportJSONLD(credential)
	if err != nil {
		h.log.WithError(err).Error("root credential export failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/ld+json")
	w.Header().Set("Cache-Control", "max-age=300")
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(document); err != nil {
		h.log.WithError(err).Debug("root credential write failed")
	}
}

// Mux returns a mux with the handler mounted on RootPath.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(RootPath, h)
	return mux
}

// Client fetches root credentials from other instances over HTTPS with
// TLS validation.
type Client struct {
	HTTPClient *http.Client
}

// NewClient creates a fetch client with a 30 second timeout.
func NewClient() *Client {
	return &Client{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}
}

// FetchRoot downloads and parses the root credential of a domain. base
// may be a bare domain or a full URL; the well-known path is appended
// when absent.
func (c *Client) FetchRoot(ctx context.Context, base string) (*vc.VerifiableCredential, error) {
	url := rootURL(base)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bad root URL %q: %w", url, err)
	}
	req.Header.Set("Accept", "application/ld+json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("root fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("root fetch returned %s", resp.Status)
	}

	document, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read root document: %w", err)
	}
	credential, err := vc.ImportJSONLD(document)
	if err != nil {
		return nil, fmt.Errorf("root document is not a credential: %w", err)
	}
	return credential, nil
}

// rootURL normalizes a domain or URL to the full well-known address.
func rootURL(base string) string {
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, RootPath) {
		return base
	}
	return base + RootPath
}

// DecodeSubject extracts the published identity and public key from a
// fetched root credential.
func DecodeSubject(credential *vc.VerifiableCredential) (identity, publicKey string, err error) {
	raw, err := json.Marshal(credential.CredentialSubject)
	if err != nil {
		return "", "", err
	}
	var subject struct {
		ID        string `json:"id"`
		PublicKey string `json:"publicKey"`
	}
	if err := json.Unmarshal(raw, &subject); err != nil {
		return "", "", fmt.Errorf("malformed credentialSubject: %w", err)
	}
	if subject.PublicKey == "" {
		return "", "", fmt.Errorf("root credential carries no public key")
	}
	return subject.ID, subject.PublicKey, nil
}
