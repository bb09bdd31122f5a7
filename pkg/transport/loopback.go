package transport

import (
	"context"
	"sync"

	"github.com/trustfabric/trustfabric-core/pkg/cert"
)

// LoopbackTransport is an in-process transport for tests and
// single-machine setups. Two halves created by NewLoopbackPair deliver
// directly into each other's subscribers.
type LoopbackTransport struct {
	mu        sync.RWMutex
	peer      *LoopbackTransport
	handlers  []func(*Update)
	connected bool
	closed    bool
}

// NewLoopbackPair creates two connected loopback transports.
func NewLoopbackPair() (*LoopbackTransport, *LoopbackTransport) {
	a := &LoopbackTransport{connected: true}
	b := &LoopbackTransport{connected: true}
	a.peer = b
	b.peer = a
	return a, b
}

// NewOfflineLoopback creates a loopback transport with no peer, useful
// for exercising offline behaviour.
func NewOfflineLoopback() *LoopbackTransport {
	return &LoopbackTransport{}
}

// SetConnected toggles the simulated link state.
func (t *LoopbackTransport) SetConnected(connected bool) {
	t.mu.Lock()
	t.connected = connected && t.peer != nil
	t.mu.Unlock()
}

// Connected reports whether the simulated link is up.
func (t *LoopbackTransport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && !t.closed
}

// Deliver hands the update to the paired transport's subscribers.
func (t *LoopbackTransport) Deliver(ctx context.Context, update *Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.RLock()
	peer := t.peer
	up := t.connected && !t.closed
	t.mu.RUnlock()
	if !up || peer == nil {
		return cert.ErrTransportOffline
	}
	peer.dispatch(update)
	return nil
}

// SubscribeUpdates registers a handler for updates from the paired
// transport.
func (t *LoopbackTransport) SubscribeUpdates(fn func(*Update)) {
	t.mu.Lock()
	t.handlers = append(t.handlers, fn)
	t.mu.Unlock()
}

// Close disconnects both halves.
func (t *LoopbackTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.connected = false
	peer := t.peer
	t.mu.Unlock()
	if peer != nil {
		peer.mu.Lock()
		peer.connected = false
		peer.mu.Unlock()
	}
	return nil
}

func (t *LoopbackTransport) dispatch(update *Update) {
	t.mu.RLock()
	fns := append([]func(*Update){}, t.handlers...)
	t.mu.RUnlock()
	for _, fn := range fns {
		fn(update)
	}
}
