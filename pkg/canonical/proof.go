package canonical

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

// ProofTypeEd25519Signature2020 is the only proof suite the codec speaks.
const ProofTypeEd25519Signature2020 = "Ed25519Signature2020"

// ProofPurposeAssertion is the proofPurpose used for certificate assertions.
const ProofPurposeAssertion = "assertionMethod"

// Common errors returned by the proof codec.
var (
	ErrUnsupportedProofType = errors.New("unsupported proof type")
	ErrInvalidProofValue    = errors.New("invalid proof value encoding")
	ErrMissingProof         = errors.New("missing proof")
)

// Proof is a W3C Data Integrity proof block in the Ed25519Signature2020
// suite. ProofValue carries the raw Ed25519 signature in base58btc.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	ProofPurpose       string `json:"proofPurpose"`
	VerificationMethod string `json:"verificationMethod"`
	ProofValue         string `json:"proofValue"`
}

// NewProof converts a native hex Ed25519 signature into an
// Ed25519Signature2020 proof block. created is the certificate's issuance
// time in milliseconds since epoch; verificationMethod should be the
// issuer's DID verification method (did:one:sha256:<hash>#keys-1).
func NewProof(signatureHex, verificationMethod string, createdMillis int64) (*Proof, error) {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	return &Proof{
		Type:               ProofTypeEd25519Signature2020,
		Created:            FormatTime(createdMillis),
		ProofPurpose:       ProofPurposeAssertion,
		VerificationMethod: verificationMethod,
		ProofValue:         base58.Encode(sig),
	}, nil
}

// SignatureFromProof extracts the native hex signature from a proof block.
// Only Ed25519Signature2020 proofs are accepted.
func SignatureFromProof(p *Proof) (string, error) {
	if p == nil {
		return "", ErrMissingProof
	}
	if p.Type != ProofTypeEd25519Signature2020 {
		return "", fmt.Errorf("%w: got %q", ErrUnsupportedProofType, p.Type)
	}
	sig, err := base58.Decode(p.ProofValue)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProofValue, err)
	}
	return hex.EncodeToString(sig), nil
}

// iso8601Millis is the timestamp layout used on the VC wire.
const iso8601Millis = "2006-01-02T15:04:05.000Z"

// FormatTime renders milliseconds since epoch as an ISO-8601 UTC timestamp
// with millisecond precision.
func FormatTime(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(iso8601Millis)
}

// ParseTime parses an ISO-8601 timestamp back to milliseconds since epoch.
// Accepts both millisecond and second precision.
func ParseTime(s string) (int64, error) {
	for _, layout := range []string{iso8601Millis, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("invalid ISO-8601 timestamp: %q", s)
}
