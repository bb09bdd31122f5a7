// Package transport moves certificate versions between connected
// instances. The propagation service hands updates to a PeerTransport
// and receives updates other instances delivered to us.
package transport

import (
	"context"

	"github.com/trustfabric/trustfabric-core/pkg/store"
)

// Update is one certificate version on its way to or from a peer.
// Urgent updates (revocations) jump the delivery queue.
type Update struct {
	Object *store.Object `json:"object"`
	Urgent bool          `json:"urgent,omitempty"`
	Origin string        `json:"origin,omitempty"`
}

// PeerTransport delivers certificate updates to connected peers and
// surfaces updates received from them.
type PeerTransport interface {
	// Deliver sends the update to all connected peers. It returns
	// cert.ErrTransportOffline when no peer is reachable.
	Deliver(ctx context.Context, update *Update) error

	// Connected reports whether at least one peer is reachable.
	Connected() bool

	// SubscribeUpdates registers a handler for updates delivered by
	// peers. Handlers run on the transport's receive path and must not
	// block.
	SubscribeUpdates(fn func(*Update))

	// Close releases the transport's resources.
	Close() error
}
