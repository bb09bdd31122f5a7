// Package vc bridges native certificates and W3C Verifiable Credentials.
// The native certificate is authoritative; the VC is a view generated for
// external interoperability, and every certificate round-trips losslessly
// through its VC presentation except for the issuer public key (resolved
// from known keys on import) and the derived status.
package vc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSON-LD context URIs carried by every exported credential, in order.
const (
	ContextCredentialsV1 = "https://www.w3.org/2018/credentials/v1"
	ContextEd25519Suite  = "https://w3id.org/security/suites/ed25519-2020/v1"
)

// TypeVerifiableCredential is the base type tag.
const TypeVerifiableCredential = "VerifiableCredential"

// TypeDeviceTrust is the kind-specific tag for device certificates.
const TypeDeviceTrust = "DeviceTrustCredential"

// IDPrefix is the URN namespace for credential ids.
const IDPrefix = "urn:one:cert:"

// Issuer is the credential issuer: a DID, optionally with a display name.
// On the wire a bare DID string and the object form are both accepted.
type Issuer struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// MarshalJSON emits the bare DID string when no name is present.
func (i Issuer) MarshalJSON() ([]byte, error) {
	if i.Name == "" {
		return json.Marshal(i.ID)
	}
	type alias Issuer
	return json.Marshal(alias(i))
}

// UnmarshalJSON accepts both the string and the object form.
func (i *Issuer) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		i.ID = s
		i.Name = ""
		return nil
	}
	type alias Issuer
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("invalid issuer: %w", err)
	}
	*i = Issuer(a)
	return nil
}

// Status mirrors the certificate's advisory status on the wire.
type Status struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// StatusType is the type tag used in credentialStatus blocks.
const StatusType = "CertificateStatus"

// Metadata carries the native certificate fields that have no standard VC
// slot. It is implementation metadata, not platform-private state, and
// survives export so receivers can reconcile by version.
type Metadata struct {
	Version      int    `json:"version"`
	ValidFrom    int64  `json:"valid_from,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	ChainDepth   int    `json:"chain_depth,omitempty"`
	IssuedBy     string `json:"issued_by,omitempty"`
}

// VerifiableCredential is the W3C JSON-LD presentation of a certificate.
type VerifiableCredential struct {
	Context           []string               `json:"@context"`
	ID                string                 `json:"id"`
	Type              []string               `json:"type"`
	Issuer            Issuer                 `json:"issuer"`
	IssuanceDate      string                 `json:"issuanceDate"`
	ExpirationDate    string                 `json:"expirationDate"`
	CredentialSubject map[string]interface{} `json:"credentialSubject"`
	Proof             *Proof                 `json:"proof,omitempty"`
	CredentialStatus  *Status                `json:"credentialStatus,omitempty"`
	Metadata          *Metadata              `json:"_metadata,omitempty"`
}

// Proof aliases the canonical proof block so importers of this package
// need not depend on the codec directly.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	ProofPurpose       string `json:"proofPurpose"`
	VerificationMethod string `json:"verificationMethod"`
	ProofValue         string `json:"proofValue"`
}

// KindType renders a certificate kind as the kind-specific type tag:
// identity → IdentityCertificate, device → DeviceTrustCredential.
func KindType(kind string) string {
	if kind == "device" {
		return TypeDeviceTrust
	}
	if kind == "" {
		kind = "identity"
	}
	return strings.ToUpper(kind[:1]) + kind[1:] + "Certificate"
}

// TypeKind derives the certificate kind from the credential's type list:
// the first tag that is not VerifiableCredential, lowercased, with a
// trailing Certificate stripped. Defaults to identity.
func TypeKind(types []string) string {
	for _, t := range types {
		if t == TypeVerifiableCredential {
			continue
		}
		if t == TypeDeviceTrust {
			return "device"
		}
		t = strings.TrimSuffix(t, "Certificate")
		if t == "" {
			continue
		}
		return strings.ToLower(t)
	}
	return "identity"
}
