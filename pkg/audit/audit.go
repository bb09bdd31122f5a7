// Package audit records append-only audit events for every certificate and
// trust lifecycle operation. Events are queryable by actor, subject,
// certificate and time range; pruning removes old events but never rewrites
// surviving ones. Events are not signed by the core; exporting a signed
// audit trail is the caller's concern.
package audit

import (
	"context"

	"github.com/google/uuid"
)

// EventType enumerates the auditable operations.
type EventType string

const (
	EventCertificateIssued   EventType = "certificate_issued"
	EventCertificateExtended EventType = "certificate_extended"
	EventCertificateReduced  EventType = "certificate_reduced"
	EventCertificateRevoked  EventType = "certificate_revoked"
	EventCertificateVerified EventType = "certificate_verified"
	EventTrustEstablished    EventType = "trust_established"
	EventTrustRevoked        EventType = "trust_revoked"
	EventVCExported          EventType = "vc_exported"
	EventVCImported          EventType = "vc_imported"
)

// Event is a single append-only audit record. Timestamp is milliseconds
// since epoch.
type Event struct {
	ID                 string            `json:"id"`
	Type               EventType         `json:"event_type"`
	Timestamp          int64             `json:"timestamp"`
	Actor              string            `json:"actor"`
	Subject            string            `json:"subject,omitempty"`
	CertificateID      string            `json:"certificate_id,omitempty"`
	CertificateHash    string            `json:"certificate_hash,omitempty"`
	CertificateVersion int               `json:"certificate_version,omitempty"`
	Reason             string            `json:"reason,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Success            bool              `json:"success"`
	Error              string            `json:"error,omitempty"`
}

// Query filters events. Zero values match everything; Since/Until bound
// the timestamp inclusively.
type Query struct {
	Types         []EventType
	Actor         string
	Subject       string
	CertificateID string
	Since         int64
	Until         int64
	Limit         int
}

// matches applies the filter to one event.
func (q Query) matches(e Event) bool {
	if len(q.Types) > 0 {
		found := false
		for _, t := range q.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Actor != "" && e.Actor != q.Actor {
		return false
	}
	if q.Subject != "" && e.Subject != q.Subject {
		return false
	}
	if q.CertificateID != "" && e.CertificateID != q.CertificateID {
		return false
	}
	if q.Since != 0 && e.Timestamp < q.Since {
		return false
	}
	if q.Until != 0 && e.Timestamp > q.Until {
		return false
	}
	return true
}

// Log is the audit log port. Append is atomic per event; Query returns
// newest-first.
type Log interface {
	Append(ctx context.Context, event Event) error
	Query(ctx context.Context, q Query) ([]Event, error)

	// Prune removes events with Timestamp < before. Remaining events
	// are never rewritten.
	Prune(ctx context.Context, before int64) (removed int, err error)
}

// newEventID mints the event identifier.
func newEventID() string {
	return uuid.NewString()
}
