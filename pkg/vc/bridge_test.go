package vc_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustfabric/trustfabric-core/pkg/canonical"
	"github.com/trustfabric/trustfabric-core/pkg/cert"
	"github.com/trustfabric/trustfabric-core/pkg/did"
	"github.com/trustfabric/trustfabric-core/pkg/keychain"
	"github.com/trustfabric/trustfabric-core/pkg/vc"
)

var (
	subjectHash = canonical.HashString("test-subject")
	issuerHash  = canonical.HashString("test-issuer")
)

func bridgeCert() *cert.Certificate {
	return &cert.Certificate{
		ID:               "cert:device:" + subjectHash + ":20260101-0001",
		Kind:             cert.KindDevice,
		Status:           cert.StatusValid,
		Subject:          subjectHash,
		SubjectPublicKey: "aabbccdd",
		Issuer:           issuerHash,
		IssuerPublicKey:  "eeff0011",
		ValidFrom:        1_700_000_000_000,
		ValidUntil:       1_731_536_000_000,
		ChainDepth:       1,
		IssuedBy:         canonical.HashString("parent"),
		IssuedAt:         1_700_000_000_000,
		SerialNumber:     "20260101-0001",
		Version:          3,
		Signature:        strings.Repeat("ab", 64),
		Claims: cert.Claims{
			"device_name": "laptop",
			"trust_level": "full",
		},
	}
}

func TestFromCertificate(t *testing.T) {
	bridge := vc.NewBridge(nil)
	c := bridgeCert()

	credential, err := bridge.FromCertificate(c)
	require.NoError(t, err)

	assert.Equal(t, []string{vc.ContextCredentialsV1, vc.ContextEd25519Suite}, credential.Context)
	assert.Equal(t, vc.IDPrefix+c.ID, credential.ID)
	assert.Equal(t, []string{vc.TypeVerifiableCredential, vc.TypeDeviceTrust}, credential.Type)
	assert.Equal(t, did.FromHash(issuerHash), credential.Issuer.ID)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", credential.IssuanceDate)

	assert.Equal(t, did.FromHash(subjectHash), credential.CredentialSubject["id"])
	assert.Equal(t, "aabbccdd", credential.CredentialSubject["publicKey"])
	assert.Equal(t, "laptop", credential.CredentialSubject["device_name"])

	require.NotNil(t, credential.Metadata)
	assert.Equal(t, 3, credential.Metadata.Version)
	assert.Equal(t, c.ValidFrom, credential.Metadata.ValidFrom)
	assert.Equal(t, c.SerialNumber, credential.Metadata.SerialNumber)
	assert.Equal(t, c.ChainDepth, credential.Metadata.ChainDepth)
	assert.Equal(t, c.IssuedBy, credential.Metadata.IssuedBy)

	require.NotNil(t, credential.Proof)
	assert.Equal(t, did.VerificationMethod(issuerHash), credential.Proof.VerificationMethod)

	// A valid certificate carries no credentialStatus block.
	assert.Nil(t, credential.CredentialStatus)
}

func TestFromCertificateRevoked(t *testing.T) {
	bridge := vc.NewBridge(nil)
	c := bridgeCert()
	c.Status = cert.StatusRevoked
	c.RevocationReason = "device stolen"

	credential, err := bridge.FromCertificate(c)
	require.NoError(t, err)
	require.NotNil(t, credential.CredentialStatus)
	assert.Equal(t, vc.StatusType, credential.CredentialStatus.Type)
	assert.Equal(t, "revoked", credential.CredentialStatus.Status)
	assert.Equal(t, "device stolen", credential.CredentialStatus.Reason)
}

func TestToCertificateResolvesIssuerKey(t *testing.T) {
	known := keychain.NewMemoryKeychain()
	require.NoError(t, known.AddKnown(issuerHash, strings.Repeat("aa", 32)))
	bridge := vc.NewBridge(known)

	credential, err := vc.NewBridge(nil).FromCertificate(bridgeCert())
	require.NoError(t, err)

	back, err := bridge.ToCertificate(context.Background(), credential)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("aa", 32), back.IssuerPublicKey)
	assert.Equal(t, issuerHash, back.Issuer)
	assert.Equal(t, subjectHash, back.Subject)
	assert.Equal(t, bridgeCert().Signature, back.Signature)
	assert.Equal(t, 3, back.Version)
}

func TestToCertificateUnknownIssuerLeavesKeyEmpty(t *testing.T) {
	bridge := vc.NewBridge(keychain.NewMemoryKeychain())
	credential, err := vc.NewBridge(nil).FromCertificate(bridgeCert())
	require.NoError(t, err)

	back, err := bridge.ToCertificate(context.Background(), credential)
	require.NoError(t, err)
	assert.Empty(t, back.IssuerPublicKey)
}

func TestToCertificateBadIssuerDID(t *testing.T) {
	credential, err := vc.NewBridge(nil).FromCertificate(bridgeCert())
	require.NoError(t, err)
	credential.Issuer.ID = "did:web:example.org"

	_, err = vc.NewBridge(nil).ToCertificate(context.Background(), credential)
	require.Error(t, err)
	assert.Equal(t, cert.ErrCodeInvalidDID, cert.Code(err))
}

func TestValidateRoundTrip(t *testing.T) {
	bridge := vc.NewBridge(nil)
	assert.NoError(t, bridge.ValidateRoundTrip(context.Background(), bridgeCert()))

	revoked := bridgeCert()
	revoked.Status = cert.StatusRevoked
	revoked.RevocationReason = "retired"
	assert.NoError(t, bridge.ValidateRoundTrip(context.Background(), revoked))
}

func TestOpaqueSubjectPassesThrough(t *testing.T) {
	bridge := vc.NewBridge(nil)
	c := bridgeCert()
	c.Subject = "backup-service"
	c.ID = "cert:service:backup-service:20260101-0002"
	c.Kind = cert.KindService

	credential, err := bridge.FromCertificate(c)
	require.NoError(t, err)
	assert.Equal(t, "backup-service", credential.CredentialSubject["id"])
	assert.Equal(t, []string{vc.TypeVerifiableCredential, "ServiceCertificate"}, credential.Type)

	back, err := bridge.ToCertificate(context.Background(), credential)
	require.NoError(t, err)
	assert.Equal(t, "backup-service", back.Subject)
	assert.Equal(t, cert.KindService, back.Kind)
}

func TestExportJSONLDKeepsMetadata(t *testing.T) {
	bridge := vc.NewBridge(nil)
	credential, err := bridge.FromCertificate(bridgeCert())
	require.NoError(t, err)

	data, err := bridge.ExportJSONLD(credential)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Contains(t, m, "_metadata")
	assert.Contains(t, m, "@context")
	assert.Contains(t, m, "proof")
}

func TestImportJSONLDStripsPrivateFields(t *testing.T) {
	bridge := vc.NewBridge(nil)
	credential, err := bridge.FromCertificate(bridgeCert())
	require.NoError(t, err)
	data, err := json.Marshal(credential)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	m["_localState"] = map[string]interface{}{"pinned": true}
	data, err = json.Marshal(m)
	require.NoError(t, err)

	imported, err := vc.ImportJSONLD(data)
	require.NoError(t, err)
	require.NotNil(t, imported.Metadata)
	assert.Equal(t, 3, imported.Metadata.Version)

	// The private key must not survive a re-export either.
	out, err := bridge.ExportJSONLD(imported)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "_localState")
}

func TestImportJSONLDErrors(t *testing.T) {
	_, err := vc.ImportJSONLD([]byte("{not json"))
	assert.Error(t, err)

	_, err = vc.ImportJSONLD([]byte(`{"id":"urn:one:cert:x"}`))
	assert.Error(t, err)

	_, err = vc.ImportJSONLD([]byte(`{"@context":["https://www.w3.org/2018/credentials/v1"]}`))
	assert.Error(t, err)
}

func TestIssuerWireForms(t *testing.T) {
	bare, err := json.Marshal(vc.Issuer{ID: "did:one:sha256:" + issuerHash})
	require.NoError(t, err)
	assert.Equal(t, `"did:one:sha256:`+issuerHash+`"`, string(bare))

	named, err := json.Marshal(vc.Issuer{ID: "did:one:sha256:" + issuerHash, Name: "Home CA"})
	require.NoError(t, err)
	assert.Contains(t, string(named), `"name":"Home CA"`)

	var decoded vc.Issuer
	require.NoError(t, json.Unmarshal(bare, &decoded))
	assert.Equal(t, "did:one:sha256:"+issuerHash, decoded.ID)

	require.NoError(t, json.Unmarshal(named, &decoded))
	assert.Equal(t, "Home CA", decoded.Name)
}

func TestKindTypeMapping(t *testing.T) {
	tests := []struct {
		kind string
		tag  string
	}{
		{"device", vc.TypeDeviceTrust},
		{"identity", "IdentityCertificate"},
		{"service", "ServiceCertificate"},
		{"relationship", "RelationshipCertificate"},
		{"", "IdentityCertificate"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.tag, vc.KindType(tt.kind))
		assert.Equal(t, firstNonEmpty(tt.kind, "identity"), vc.TypeKind([]string{vc.TypeVerifiableCredential, tt.tag}))
	}

	assert.Equal(t, "identity", vc.TypeKind([]string{vc.TypeVerifiableCredential}))
	assert.Equal(t, "identity", vc.TypeKind(nil))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
