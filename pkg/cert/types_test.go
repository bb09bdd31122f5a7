package cert_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustfabric/trustfabric-core/pkg/cert"
)

func sampleCert() *cert.Certificate {
	return &cert.Certificate{
		ID:               "cert:device:subject-hash:serial-1",
		Kind:             cert.KindDevice,
		Status:           cert.StatusValid,
		Subject:          "subject-hash",
		SubjectPublicKey: "aabb",
		Issuer:           "issuer-hash",
		IssuerPublicKey:  "ccdd",
		ValidFrom:        1000,
		ValidUntil:       2000,
		ChainDepth:       1,
		IssuedAt:         1000,
		SerialNumber:     "serial-1",
		Version:          1,
		Signature:        "ff00",
	}
}

func TestSigningBytesElidesSignature(t *testing.T) {
	c := sampleCert()
	data, err := c.SigningBytes()
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	_, hasSignature := m["signature"]
	assert.False(t, hasSignature)

	// Changing the signature must not change the signing input.
	other := c.Clone()
	other.Signature = "0123"
	otherData, err := other.SigningBytes()
	require.NoError(t, err)
	assert.Equal(t, data, otherData)
}

func TestContentHashCoversSignature(t *testing.T) {
	c := sampleCert()
	h1, err := c.ContentHash()
	require.NoError(t, err)

	other := c.Clone()
	other.Signature = "0123"
	h2, err := other.ContentHash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestIdentityHashStableAcrossVersions(t *testing.T) {
	c := sampleCert()
	v2 := c.Clone()
	v2.Version = 2
	v2.ValidUntil = 9999
	assert.Equal(t, c.IdentityHash(), v2.IdentityHash())
}

func TestDeriveStatus(t *testing.T) {
	now := time.UnixMilli(1500)
	tests := []struct {
		name   string
		mutate func(*cert.Certificate)
		want   cert.Status
	}{
		{"inside window", func(*cert.Certificate) {}, cert.StatusValid},
		{"expired", func(c *cert.Certificate) { c.ValidUntil = 1400 }, cert.StatusExpired},
		{"revoked flag wins", func(c *cert.Certificate) { c.Status = cert.StatusRevoked }, cert.StatusRevoked},
		{"revocation reason after expiry is revoked", func(c *cert.Certificate) {
			c.RevocationReason = "compromised"
			c.ValidUntil = 1400
		}, cert.StatusRevoked},
		{"suspension sticks inside window", func(c *cert.Certificate) { c.Status = cert.StatusSuspended }, cert.StatusSuspended},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sampleCert()
			tt.mutate(c)
			assert.Equal(t, tt.want, c.DeriveStatus(now))
		})
	}
}

func TestIsRoot(t *testing.T) {
	root := sampleCert()
	root.Kind = cert.KindIdentity
	root.ChainDepth = 0
	root.Issuer = root.Subject
	assert.True(t, root.IsRoot())

	assert.False(t, sampleCert().IsRoot())
}

func TestEqualUsesCanonicalForm(t *testing.T) {
	a := sampleCert()
	b := sampleCert()
	assert.True(t, a.Equal(b))

	b.ValidUntil++
	assert.False(t, a.Equal(b))
}

func TestDeviceTrustProjection(t *testing.T) {
	c := sampleCert()
	c.Claims = cert.Claims{
		"trust_level":  "full",
		"trust_reason": "in-person verification",
		"permissions":  map[string]interface{}{"file_transfer": true, "admin": false},
	}
	dt, ok := c.DeviceTrust()
	require.True(t, ok)
	assert.Equal(t, cert.TrustLevelFull, dt.TrustLevel)
	assert.Equal(t, "in-person verification", dt.TrustReason)
	assert.Equal(t, map[string]bool{"file_transfer": true, "admin": false}, dt.Permissions)

	service := sampleCert()
	service.Kind = cert.KindService
	_, ok = service.DeviceTrust()
	assert.False(t, ok)

	noLevel := sampleCert()
	_, ok = noLevel.DeviceTrust()
	assert.False(t, ok)
}

func TestNewID(t *testing.T) {
	assert.Equal(t, "cert:device:abc:001", cert.NewID(cert.KindDevice, "abc", "001"))
}
