// Package cert defines the typed certificate model of the trust fabric:
// certificate kinds and statuses, validity arithmetic, the duration parser,
// serial number generation, and the error-code scheme shared by the CA
// engine and the propagation service.
package cert

import (
	"fmt"
	"time"

	"github.com/trustfabric/trustfabric-core/pkg/canonical"
)

// Kind discriminates the certificate variants.
type Kind string

const (
	KindIdentity    Kind = "identity"
	KindDevice      Kind = "device"
	KindService     Kind = "service"
	KindAttestation Kind = "attestation"
	KindDelegation  Kind = "delegation"
	KindRevocation  Kind = "revocation"
)

// Valid reports whether k is a known certificate kind.
func (k Kind) Valid() bool {
	switch k {
	case KindIdentity, KindDevice, KindService, KindAttestation, KindDelegation, KindRevocation:
		return true
	}
	return false
}

// Status is the lifecycle status of a certificate. The persisted copy is
// advisory; DeriveStatus computes the authoritative value on read.
type Status string

const (
	StatusValid     Status = "valid"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
	StatusSuspended Status = "suspended"
)

// Claims is a free-form JSON-encodable claim bag. Canonical serialization
// orders its keys, so two claim bags with the same content hash identically.
type Claims map[string]interface{}

// Copy returns a shallow copy of the claim bag.
func (c Claims) Copy() Claims {
	if c == nil {
		return nil
	}
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Certificate is a signed, versioned attestation linking an issuer to a
// subject's public key. All timestamps are milliseconds since epoch.
// The signature is Ed25519 over the canonical serialization with the
// signature field elided.
type Certificate struct {
	// ID is the stable identity of the certificate, invariant across
	// versions. Suggested form cert:<kind>:<subject>:<serial>, treated
	// as opaque.
	ID string `json:"id"`

	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`

	// Subject is the identity hash of a person, or an opaque string for
	// non-person subjects.
	Subject          string `json:"subject"`
	SubjectPublicKey string `json:"subject_public_key"`

	// Issuer is the identity hash of the issuing CA instance.
	Issuer          string `json:"issuer"`
	IssuerPublicKey string `json:"issuer_public_key"`

	ValidFrom  int64 `json:"valid_from"`
	ValidUntil int64 `json:"valid_until"`

	// IssuedBy is the content hash of the parent certificate, empty for
	// roots.
	IssuedBy string `json:"issued_by,omitempty"`

	// ChainDepth is 0 for a root and parent.ChainDepth+1 otherwise.
	ChainDepth int `json:"chain_depth"`

	Claims Claims `json:"claims,omitempty"`

	IssuedAt     int64  `json:"issued_at"`
	SerialNumber string `json:"serial_number"`

	// Version is monotonically increasing, starting at 1.
	Version int `json:"version"`

	// RevocationReason is set when the certificate is revoked.
	RevocationReason string `json:"revocation_reason,omitempty"`

	Signature string `json:"signature,omitempty"`
}

// SigningBytes returns the canonical serialization used as Ed25519
// signature input: the certificate with the signature field elided.
func (c *Certificate) SigningBytes() ([]byte, error) {
	return canonical.Marshal(c, "signature")
}

// CanonicalBytes returns the full canonical serialization, signature
// included. Content hashes and the import equality check use this form.
func (c *Certificate) CanonicalBytes() ([]byte, error) {
	return canonical.Marshal(c)
}

// ContentHash returns the hex SHA-256 of the full canonical form.
func (c *Certificate) ContentHash() (string, error) {
	data, err := c.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return canonical.HashBytesHex(data), nil
}

// IdentityHash returns the stable identity hash, a function of the id
// field only. All versions of a certificate share it.
func (c *Certificate) IdentityHash() string {
	return canonical.HashString(c.ID)
}

// IsRoot reports whether the certificate is a self-signed trust anchor.
func (c *Certificate) IsRoot() bool {
	return c.Kind == KindIdentity && c.ChainDepth == 0 && c.Issuer == c.Subject
}

// DeriveStatus computes the authoritative status at the given time per the
// status derivation rules: revoked beats expired, an explicit suspension
// sticks, and everything else is valid.
func (c *Certificate) DeriveStatus(now time.Time) Status {
	nowMs := now.UnixMilli()
	switch {
	case c.Status == StatusRevoked, c.RevocationReason != "" && c.ValidUntil < nowMs:
		return StatusRevoked
	case c.ValidUntil < nowMs:
		return StatusExpired
	case c.Status == StatusSuspended:
		return StatusSuspended
	default:
		return StatusValid
	}
}

// Clone returns a deep-enough copy for deriving a new version: the claim
// bag is copied, everything else is value-copied.
func (c *Certificate) Clone() *Certificate {
	out := *c
	out.Claims = c.Claims.Copy()
	return &out
}

// Equal reports whether two certificates have identical canonical
// serializations. Import reconciliation uses this for the version-equality
// no-op check.
func (c *Certificate) Equal(other *Certificate) bool {
	a, err := c.CanonicalBytes()
	if err != nil {
		return false
	}
	b, err := other.CanonicalBytes()
	if err != nil {
		return false
	}
	return string(a) == string(b)
}

// TrustLevel grades a device-trust certificate.
type TrustLevel string

const (
	TrustLevelFull      TrustLevel = "full"
	TrustLevelLimited   TrustLevel = "limited"
	TrustLevelTemporary TrustLevel = "temporary"
)

// DeviceTrustClaims is the canonical claim shape of a kind=device
// certificate. It is a structural projection of the claim bag, not a
// separate entity.
type DeviceTrustClaims struct {
	TrustLevel         TrustLevel      `json:"trust_level"`
	TrustReason        string          `json:"trust_reason,omitempty"`
	VerificationMethod string          `json:"verification_method,omitempty"`
	Permissions        map[string]bool `json:"permissions,omitempty"`
}

// DeviceTrust extracts the device-trust projection from a kind=device
// certificate's claims. Returns false if the certificate is not a device
// certificate or the claims do not carry a trust level.
func (c *Certificate) DeviceTrust() (*DeviceTrustClaims, bool) {
	if c.Kind != KindDevice {
		return nil, false
	}
	level, ok := c.Claims["trust_level"].(string)
	if !ok || level == "" {
		return nil, false
	}
	out := &DeviceTrustClaims{TrustLevel: TrustLevel(level)}
	if v, ok := c.Claims["trust_reason"].(string); ok {
		out.TrustReason = v
	}
	if v, ok := c.Claims["verification_method"].(string); ok {
		out.VerificationMethod = v
	}
	if perms, ok := c.Claims["permissions"].(map[string]interface{}); ok {
		out.Permissions = make(map[string]bool, len(perms))
		for k, v := range perms {
			if b, ok := v.(bool); ok {
				out.Permissions[k] = b
			}
		}
	}
	return out, true
}

// NewID builds the suggested stable certificate id form.
func NewID(kind Kind, subject, serial string) string {
	return fmt.Sprintf("cert:%s:%s:%s", kind, subject, serial)
}
