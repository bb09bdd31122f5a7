package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"

	"github.com/trustfabric/trustfabric-core/pkg/cert"
)

// CertProtocol is the libp2p protocol identifier for certificate sync.
const CertProtocol protocol.ID = "/trustfabric/certs/1.0.0"

// maxFrameSize bounds one framed update on the wire.
const maxFrameSize = 4 * 1024 * 1024

// streamDeadline bounds how long one incoming stream may linger.
const streamDeadline = 30 * time.Second

// Libp2pTransport delivers certificate updates over libp2p streams.
// Updates are framed as [4-byte big-endian length][JSON payload].
type Libp2pTransport struct {
	h   host.Host
	log *logrus.Logger

	mu       sync.RWMutex
	handlers []func(*Update)
	closed   bool
}

// NewLibp2pTransport creates a transport listening on loopback TCP.
// listenAddrs overrides the listen addresses when non-empty.
func NewLibp2pTransport(log *logrus.Logger, listenAddrs ...string) (*Libp2pTransport, error) {
	if len(listenAddrs) == 0 {
		listenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	}
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddrs...))
	if err != nil {
		return nil, fmt.Errorf("transport: create host: %w", err)
	}
	if log == nil {
		log = logrus.New()
	}
	t := &Libp2pTransport{h: h, log: log}
	h.SetStreamHandler(CertProtocol, t.handleStream)
	return t, nil
}

// AddrInfo returns the address peers can use to connect to this
// instance.
func (t *Libp2pTransport) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: t.h.ID(), Addrs: t.h.Addrs()}
}

// Connect establishes a connection to a peer.
func (t *Libp2pTransport) Connect(ctx context.Context, info peer.AddrInfo) error {
	return t.h.Connect(ctx, info)
}

// Connected reports whether any peer connection is live.
func (t *Libp2pTransport) Connected() bool {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	return !closed && len(t.h.Network().Peers()) > 0
}

// Deliver writes the update to every connected peer. Delivery succeeds
// when at least one peer accepted the frame.
func (t *Libp2pTransport) Deliver(ctx context.Context, update *Update) error {
	peers := t.h.Network().Peers()
	if len(peers) == 0 {
		return cert.ErrTransportOffline
	}

	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("transport: encode update: %w", err)
	}

	delivered := 0
	for _, pid := range peers {
		if err := t.deliverTo(ctx, pid, payload); err != nil {
			t.log.WithFields(logrus.Fields{
				"peer":  pid.String(),
				"error": err,
			}).Warn("certificate delivery failed")
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return cert.ErrTransportOffline
	}
	return nil
}

func (t *Libp2pTransport) deliverTo(ctx context.Context, pid peer.ID, payload []byte) error {
	stream, err := t.h.NewStream(ctx, pid, CertProtocol)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()
	return writeFrame(stream, payload)
}

// SubscribeUpdates registers a handler for updates received from peers.
func (t *Libp2pTransport) SubscribeUpdates(fn func(*Update)) {
	t.mu.Lock()
	t.handlers = append(t.handlers, fn)
	t.mu.Unlock()
}

// Close shuts down the libp2p host.
func (t *Libp2pTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.h.Close()
}

func (t *Libp2pTransport) handleStream(s network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(streamDeadline))

	payload, err := readFrame(s)
	if err != nil {
		t.log.WithField("error", err).Debug("dropping malformed certificate frame")
		return
	}
	var update Update
	if err := json.Unmarshal(payload, &update); err != nil {
		t.log.WithField("error", err).Debug("dropping undecodable certificate update")
		return
	}

	t.mu.RLock()
	fns := append([]func(*Update){}, t.handlers...)
	t.mu.RUnlock()
	for _, fn := range fns {
		fn(&update)
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	n := int(binary.BigEndian.Uint32(hdr[:]))
	if n < 1 || n > maxFrameSize {
		return nil, fmt.Errorf("invalid frame length %d", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}
