package wellknown_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustfabric/trustfabric-core/pkg/canonical"
	"github.com/trustfabric/trustfabric-core/pkg/cert"
	"github.com/trustfabric/trustfabric-core/pkg/did"
	"github.com/trustfabric/trustfabric-core/pkg/vc"
	"github.com/trustfabric/trustfabric-core/pkg/wellknown"
)

// staticRoot serves a fixed root certificate.
type staticRoot struct{ root *cert.Certificate }

func (s staticRoot) Root() *cert.Certificate { return s.root }

func testRoot() *cert.Certificate {
	identity := canonical.HashString("instance-identity")
	return &cert.Certificate{
		ID:               "cert:identity:" + identity + ":20260101-0001",
		Kind:             cert.KindIdentity,
		Status:           cert.StatusValid,
		Subject:          identity,
		SubjectPublicKey: strings.Repeat("aa", 32),
		Issuer:           identity,
		IssuerPublicKey:  strings.Repeat("aa", 32),
		ValidFrom:        1_700_000_000_000,
		ValidUntil:       2_000_000_000_000,
		ChainDepth:       0,
		IssuedAt:         1_700_000_000_000,
		SerialNumber:     "20260101-0001",
		Version:          1,
		Signature:        strings.Repeat("ab", 64),
		Claims:           cert.Claims{"name": "Home CA", "domain": "ca.example.org"},
	}
}

func TestHandlerServesRoot(t *testing.T) {
	root := testRoot()
	handler := wellknown.NewHandler(staticRoot{root}, vc.NewBridge(nil), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, wellknown.RootPath, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/ld+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "max-age=300", rec.Header().Get("Cache-Control"))

	credential, err := vc.ImportJSONLD(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, vc.IDPrefix+root.ID, credential.ID)
	assert.Equal(t, did.FromHash(root.Issuer), credential.Issuer.ID)

	identity, publicKey, err := wellknown.DecodeSubject(credential)
	require.NoError(t, err)
	assert.Equal(t, did.FromHash(root.Subject), identity)
	assert.Equal(t, root.SubjectPublicKey, publicKey)
}

func TestHandlerHead(t *testing.T) {
	handler := wellknown.NewHandler(staticRoot{testRoot()}, vc.NewBridge(nil), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, wellknown.RootPath, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, "application/ld+json", rec.Header().Get("Content-Type"))
}

func TestHandlerRejectsOtherMethods(t *testing.T) {
	handler := wellknown.NewHandler(staticRoot{testRoot()}, vc.NewBridge(nil), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, wellknown.RootPath, nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestHandlerWithoutRoot(t *testing.T) {
	handler := wellknown.NewHandler(staticRoot{nil}, vc.NewBridge(nil), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, wellknown.RootPath, nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFetchRoot(t *testing.T) {
	root := testRoot()
	handler := wellknown.NewHandler(staticRoot{root}, vc.NewBridge(nil), nil)
	srv := httptest.NewServer(handler.Mux())
	defer srv.Close()

	client := &wellknown.Client{HTTPClient: srv.Client()}

	t.Run("bare base URL", func(t *testing.T) {
		credential, err := client.FetchRoot(context.Background(), srv.URL)
		require.NoError(t, err)
		assert.Equal(t, vc.IDPrefix+root.ID, credential.ID)
	})

	t.Run("full well-known URL", func(t *testing.T) {
		credential, err := client.FetchRoot(context.Background(), srv.URL+wellknown.RootPath)
		require.NoError(t, err)
		assert.Equal(t, vc.IDPrefix+root.ID, credential.ID)
	})
}

func TestFetchRootErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/garbage"+wellknown.RootPath {
			io.WriteString(w, "not a credential")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := &wellknown.Client{HTTPClient: srv.Client()}

	_, err := client.FetchRoot(context.Background(), srv.URL)
	assert.Error(t, err)

	_, err = client.FetchRoot(context.Background(), srv.URL+"/garbage")
	assert.Error(t, err)
}

func TestDecodeSubjectWithoutKey(t *testing.T) {
	_, _, err := wellknown.DecodeSubject(&vc.VerifiableCredential{
		CredentialSubject: map[string]interface{}{"id": "did:one:sha256:abc"},
	})
	assert.Error(t, err)
}
