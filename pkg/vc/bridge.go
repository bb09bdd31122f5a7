package vc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trustfabric/trustfabric-core/pkg/canonical"
	"github.com/trustfabric/trustfabric-core/pkg/cert"
	"github.com/trustfabric/trustfabric-core/pkg/did"
	"github.com/trustfabric/trustfabric-core/pkg/keychain"
)

// Bridge converts between certificates and verifiable credentials. The
// known-keys resolver recovers issuer public keys on import, since the VC
// wire format does not carry them.
type Bridge struct {
	known keychain.KnownKeys
}

// NewBridge creates a bridge. known may be nil, in which case imported
// certificates keep an empty issuer public key and stay unverifiable until
// the key is resolved elsewhere.
func NewBridge(known keychain.KnownKeys) *Bridge {
	return &Bridge{known: known}
}

// FromCertificate builds the VC view of a certificate.
func (b *Bridge) FromCertificate(c *cert.Certificate) (*VerifiableCredential, error) {
	subject := map[string]interface{}{
		"id":        subjectToDID(c.Subject),
		"publicKey": c.SubjectPublicKey,
	}
	for k, v := range c.Claims {
		if k == "id" || k == "publicKey" {
			continue
		}
		subject[k] = v
	}

	out := &VerifiableCredential{
		Context:           []string{ContextCredentialsV1, ContextEd25519Suite},
		ID:                IDPrefix + c.ID,
		Type:              []string{TypeVerifiableCredential, KindType(string(c.Kind))},
		Issuer:            Issuer{ID: did.FromHash(c.Issuer), Name: claimString(c.Claims, "name")},
		IssuanceDate:      canonical.FormatTime(c.IssuedAt),
		ExpirationDate:    canonical.FormatTime(c.ValidUntil),
		CredentialSubject: subject,
		Metadata: &Metadata{
			Version:      c.Version,
			ValidFrom:    c.ValidFrom,
			SerialNumber: c.SerialNumber,
			ChainDepth:   c.ChainDepth,
			IssuedBy:     c.IssuedBy,
		},
	}

	if c.Status == cert.StatusRevoked || c.Status == cert.StatusSuspended || c.RevocationReason != "" {
		out.CredentialStatus = &Status{
			Type:   StatusType,
			Status: string(c.Status),
			Reason: c.RevocationReason,
		}
	}

	if c.Signature != "" {
		proof, err := canonical.NewProof(c.Signature, did.VerificationMethod(c.Issuer), c.IssuedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to build proof: %w", err)
		}
		out.Proof = (*Proof)(proof)
	}
	return out, nil
}

// ToCertificate reconstructs the native certificate from a VC. The issuer
// public key is looked up from known keys; when the lookup fails the field
// is left empty and the certificate remains unverified until resolved.
func (b *Bridge) ToCertificate(ctx context.Context, credential *VerifiableCredential) (*cert.Certificate, error) {
	issuerHash, err := did.ToHash(credential.Issuer.ID)
	if err != nil {
		return nil, cert.WrapError(cert.ErrCodeInvalidDID, "issuer DID unparseable", err)
	}

	subjectRaw, _ := credential.CredentialSubject["id"].(string)
	subject, err := subjectFromDID(subjectRaw)
	if err != nil {
		return nil, err
	}

	issuedAt, err := canonical.ParseTime(credential.IssuanceDate)
	if err != nil {
		return nil, cert.WrapError(cert.ErrCodeInvalidDID, "bad issuanceDate", err)
	}
	validUntil, err := canonical.ParseTime(credential.ExpirationDate)
	if err != nil {
		return nil, cert.WrapError(cert.ErrCodeInvalidDID, "bad expirationDate", err)
	}

	c := &cert.Certificate{
		ID:         strings.TrimPrefix(credential.ID, IDPrefix),
		Kind:       cert.Kind(TypeKind(credential.Type)),
		Status:     cert.StatusValid,
		Subject:    subject,
		Issuer:     issuerHash,
		ValidFrom:  issuedAt,
		ValidUntil: validUntil,
		IssuedAt:   issuedAt,
		Version:    1,
	}

	if pub, ok := credential.CredentialSubject["publicKey"].(string); ok {
		c.SubjectPublicKey = pub
	}

	claims := cert.Claims{}
	for k, v := range credential.CredentialSubject {
		if k == "id" || k == "publicKey" {
			continue
		}
		claims[k] = v
	}
	if len(claims) > 0 {
		c.Claims = claims
	}

	if m := credential.Metadata; m != nil {
		if m.Version > 0 {
			c.Version = m.Version
		}
		if m.ValidFrom != 0 {
			c.ValidFrom = m.ValidFrom
		}
		c.SerialNumber = m.SerialNumber
		c.ChainDepth = m.ChainDepth
		c.IssuedBy = m.IssuedBy
	}

	if s := credential.CredentialStatus; s != nil {
		if s.Status != "" {
			c.Status = cert.Status(s.Status)
		}
		c.RevocationReason = s.Reason
	}

	if credential.Proof != nil {
		sig, err := canonical.SignatureFromProof((*canonical.Proof)(credential.Proof))
		if err != nil {
			return nil, err
		}
		c.Signature = sig
	}

	if b.known != nil {
		if pub, err := b.known.ResolveKey(ctx, issuerHash); err == nil {
			c.IssuerPublicKey = pub
		}
	}
	return c, nil
}

// subjectToDID wraps identity-hash subjects in a DID; opaque non-hash
// subjects pass through untouched.
func subjectToDID(subject string) string {
	if isHexHash(subject) {
		return did.FromHash(subject)
	}
	return subject
}

func subjectFromDID(s string) (string, error) {
	if s == "" {
		return "", cert.WrapError(cert.ErrCodeInvalidDID, "credentialSubject.id missing", nil)
	}
	if !did.Is(s) {
		if strings.HasPrefix(s, "did:") {
			return "", cert.WrapError(cert.ErrCodeInvalidDID, "unsupported subject DID method", nil)
		}
		return s, nil
	}
	hash, err := did.ToHash(s)
	if err != nil {
		return "", cert.WrapError(cert.ErrCodeInvalidDID, "subject DID unparseable", err)
	}
	return hash, nil
}

func claimString(claims cert.Claims, key string) string {
	if claims == nil {
		return ""
	}
	s, _ := claims[key].(string)
	return s
}

func isHexHash(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}

// ExportJSONLD serializes a credential for the wire, stripping any
// platform-private top-level fields (underscore-prefixed keys other than
// _metadata).
func (b *Bridge) ExportJSONLD(credential *VerifiableCredential) ([]byte, error) {
	raw, err := json.Marshal(credential)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to normalize credential: %w", err)
	}
	stripPrivate(m)
	return json.Marshal(m)
}

// ImportJSONLD parses a JSON-LD document into a credential, stripping
// implementation-private fields the same way export does.
func ImportJSONLD(document []byte) (*VerifiableCredential, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(document, &m); err != nil {
		return nil, fmt.Errorf("invalid JSON-LD document: %w", err)
	}
	stripPrivate(m)
	normalized, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var credential VerifiableCredential
	if err := json.Unmarshal(normalized, &credential); err != nil {
		return nil, fmt.Errorf("document is not a verifiable credential: %w", err)
	}
	if len(credential.Context) == 0 || credential.ID == "" {
		return nil, fmt.Errorf("document is missing @context or id")
	}
	return &credential, nil
}

// stripPrivate drops underscore-prefixed top-level keys except _metadata,
// which receivers need for version reconciliation.
func stripPrivate(m map[string]interface{}) {
	for k := range m {
		if strings.HasPrefix(k, "_") && k != "_metadata" {
			delete(m, k)
		}
	}
}

// ValidateRoundTrip checks that a certificate survives the VC round trip:
// convert to a credential, export and re-import as JSON-LD, convert back,
// and compare modulo the issuer public key and the derived status.
func (b *Bridge) ValidateRoundTrip(ctx context.Context, c *cert.Certificate) error {
	credential, err := b.FromCertificate(c)
	if err != nil {
		return err
	}
	data, err := b.ExportJSONLD(credential)
	if err != nil {
		return err
	}
	reimported, err := ImportJSONLD(data)
	if err != nil {
		return err
	}
	back, err := b.ToCertificate(ctx, reimported)
	if err != nil {
		return err
	}

	a := normalizeForComparison(c)
	z := normalizeForComparison(back)
	if !a.Equal(z) {
		aj, _ := a.CanonicalBytes()
		zj, _ := z.CanonicalBytes()
		return fmt.Errorf("round trip mismatch:\n  original:  %s\n  reimported: %s", aj, zj)
	}
	return nil
}

// normalizeForComparison clears the fields the round trip is allowed to
// lose: the looked-up issuer public key and the recomputed status.
func normalizeForComparison(c *cert.Certificate) *cert.Certificate {
	out := c.Clone()
	out.IssuerPublicKey = ""
	out.Status = ""
	return out
}
