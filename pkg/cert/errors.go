package cert

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced by certificate lifecycle and propagation
// operations. Callers match on these rather than on message text.
const (
	ErrCodeNotReady          = "CERT_NOT_READY"
	ErrCodeNotFound          = "CERT_NOT_FOUND"
	ErrCodeInvalidDuration   = "CERT_INVALID_DURATION"
	ErrCodeInvalidDID        = "CERT_INVALID_DID"
	ErrCodeBadSignature      = "CERT_BAD_SIGNATURE"
	ErrCodeNotYetValid       = "CERT_NOT_YET_VALID"
	ErrCodeExpired           = "CERT_EXPIRED"
	ErrCodeRevoked           = "CERT_REVOKED"
	ErrCodeSuspended         = "CERT_SUSPENDED"
	ErrCodeChainBroken       = "CERT_CHAIN_BROKEN"
	ErrCodeParentInvalid     = "CERT_PARENT_INVALID"
	ErrCodeUseRevoke         = "CERT_USE_REVOKE"
	ErrCodeNotAReduction     = "CERT_NOT_A_REDUCTION"
	ErrCodeStaleOrDuplicate  = "CERT_STALE_OR_DUPLICATE"
	ErrCodeSubjectKeyMissing = "CERT_SUBJECT_KEY_MISSING"
	ErrCodeStoreFailure      = "STORE_FAILURE"
	ErrCodeSigningFailure    = "SIGNING_FAILURE"
	ErrCodeTransportOffline  = "TRANSPORT_OFFLINE"
	ErrCodeTimedOut          = "TIMED_OUT"
	ErrCodeCancelled         = "CANCELLED"
)

// Error is a structured certificate error with a stable code.
type Error struct {
	// Code is one of the CERT_*/STORE_*/... error codes.
	Code string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError creates an Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates an Error wrapping an underlying cause.
func WrapError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Predefined sentinel errors. Use with errors.Is for type-safe checks.
var (
	ErrNotReady          = NewError(ErrCodeNotReady, "CA engine has no active root")
	ErrNotFound          = NewError(ErrCodeNotFound, "certificate not found")
	ErrInvalidDuration   = NewError(ErrCodeInvalidDuration, "invalid validity duration")
	ErrBadSignature      = NewError(ErrCodeBadSignature, "signature verification failed")
	ErrNotYetValid       = NewError(ErrCodeNotYetValid, "certificate is not yet valid")
	ErrExpired           = NewError(ErrCodeExpired, "certificate has expired")
	ErrRevoked           = NewError(ErrCodeRevoked, "certificate has been revoked")
	ErrSuspended         = NewError(ErrCodeSuspended, "certificate is suspended")
	ErrChainBroken       = NewError(ErrCodeChainBroken, "certificate chain is broken")
	ErrParentInvalid     = NewError(ErrCodeParentInvalid, "parent certificate is not valid")
	ErrUseRevoke         = NewError(ErrCodeUseRevoke, "new validity is in the past, use revoke")
	ErrNotAReduction     = NewError(ErrCodeNotAReduction, "new validity does not shorten the certificate")
	ErrStaleOrDuplicate  = NewError(ErrCodeStaleOrDuplicate, "imported version is stale or duplicate")
	ErrSubjectKeyMissing = NewError(ErrCodeSubjectKeyMissing, "subject public key unavailable")
	ErrStoreFailure      = NewError(ErrCodeStoreFailure, "object store operation failed")
	ErrSigningFailure    = NewError(ErrCodeSigningFailure, "keychain signing failed")
	ErrTransportOffline  = NewError(ErrCodeTransportOffline, "peer transport is offline")
)

// AsError checks if err is an Error and returns it if so.
func AsError(err error) (*Error, bool) {
	var certErr *Error
	if errors.As(err, &certErr) {
		return certErr, true
	}
	return nil, false
}

// Code extracts the error code from err, or returns the empty string.
func Code(err error) string {
	if certErr, ok := AsError(err); ok {
		return certErr.Code
	}
	return ""
}
