package propagation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustfabric/trustfabric-core/pkg/audit"
	"github.com/trustfabric/trustfabric-core/pkg/ca"
	"github.com/trustfabric/trustfabric-core/pkg/canonical"
	"github.com/trustfabric/trustfabric-core/pkg/cert"
	"github.com/trustfabric/trustfabric-core/pkg/propagation"
	"github.com/trustfabric/trustfabric-core/pkg/store"
	"github.com/trustfabric/trustfabric-core/pkg/transport"
	"github.com/trustfabric/trustfabric-core/pkg/vc"
)

func syncCert(serial string, version int) *cert.Certificate {
	subject := canonical.HashString("sync-subject-" + serial)
	return &cert.Certificate{
		ID:               "cert:device:" + subject + ":" + serial,
		Kind:             cert.KindDevice,
		Status:           cert.StatusValid,
		Subject:          subject,
		SubjectPublicKey: "aabb",
		Issuer:           canonical.HashString("sync-issuer"),
		ValidFrom:        1_700_000_000_000,
		ValidUntil:       1_731_536_000_000,
		ChainDepth:       1,
		IssuedAt:         1_700_000_000_000,
		SerialNumber:     serial,
		Version:          version,
	}
}

func certObject(t *testing.T, c *cert.Certificate) *store.Object {
	t.Helper()
	obj, err := ca.CertificateObject(c)
	require.NoError(t, err)
	return obj
}

func newService(t *testing.T, objects store.ObjectStore, peers transport.PeerTransport, auditLog audit.Log) *propagation.Service {
	t.Helper()
	return propagation.NewService(propagation.Config{
		Actor:       "test-instance",
		BaseBackoff: time.Millisecond,
		MaxBackoff:  10 * time.Millisecond,
	}, objects, vc.NewBridge(nil), nil, peers, auditLog)
}

func TestSyncBetweenPeers(t *testing.T) {
	ctx := context.Background()
	storeA := store.NewMemoryStore()
	storeB := store.NewMemoryStore()
	t.Cleanup(func() { storeA.Close(); storeB.Close() })

	sideA, sideB := transport.NewLoopbackPair()
	svcA := newService(t, storeA, sideA, nil)
	svcB := newService(t, storeB, sideB, nil)
	svcA.Start()
	svcB.Start()
	t.Cleanup(func() { svcA.Stop(); svcB.Stop() })

	c := syncCert("0001", 1)
	require.NoError(t, storeA.Put(ctx, certObject(t, c)))

	require.Eventually(t, func() bool {
		obj, err := storeB.LatestVersion(ctx, c.IdentityHash())
		return err == nil && obj.Version == 1
	}, 2*time.Second, 5*time.Millisecond, "certificate never reached the peer")

	require.Eventually(t, func() bool {
		entry := svcA.Status(c.ID)
		return entry != nil && entry.Status == propagation.StatusSynced
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewVersionPropagates(t *testing.T) {
	ctx := context.Background()
	storeA := store.NewMemoryStore()
	storeB := store.NewMemoryStore()
	t.Cleanup(func() { storeA.Close(); storeB.Close() })

	sideA, sideB := transport.NewLoopbackPair()
	svcA := newService(t, storeA, sideA, nil)
	svcB := newService(t, storeB, sideB, nil)
	svcA.Start()
	svcB.Start()
	t.Cleanup(func() { svcA.Stop(); svcB.Stop() })

	c := syncCert("0002", 1)
	require.NoError(t, storeA.Put(ctx, certObject(t, c)))

	v2 := c.Clone()
	v2.Version = 2
	v2.ValidUntil += cert.Day.Milliseconds()
	require.NoError(t, storeA.Put(ctx, certObject(t, v2)))

	require.Eventually(t, func() bool {
		obj, err := storeB.LatestVersion(ctx, c.IdentityHash())
		return err == nil && obj.Version == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRevokedVersionIsUrgent(t *testing.T) {
	objects := store.NewMemoryStore()
	t.Cleanup(func() { objects.Close() })
	svc := newService(t, objects, transport.NewOfflineLoopback(), nil)

	revoked := syncCert("0003", 2)
	revoked.Status = cert.StatusRevoked
	revoked.RevocationReason = "compromised"
	svc.TrackObject(certObject(t, revoked))

	entry := svc.Status(revoked.ID)
	require.NotNil(t, entry)
	assert.True(t, entry.Urgent)
	assert.Equal(t, propagation.StatusPending, entry.Status)
	assert.Equal(t, 2, entry.Version)
}

func TestOfflineParking(t *testing.T) {
	ctx := context.Background()
	objects := store.NewMemoryStore()
	t.Cleanup(func() { objects.Close() })

	svc := newService(t, objects, transport.NewOfflineLoopback(), nil)
	svc.Start()
	t.Cleanup(svc.Stop)

	c := syncCert("0004", 1)
	require.NoError(t, objects.Put(ctx, certObject(t, c)))

	require.Eventually(t, func() bool {
		entry := svc.Status(c.ID)
		return entry != nil && entry.Status == propagation.StatusOffline
	}, 2*time.Second, 5*time.Millisecond)

	entry := svc.Status(c.ID)
	assert.NotZero(t, entry.NextAttempt)
}

// flakyTransport fails the first deliveries, then works.
type flakyTransport struct {
	mu        sync.Mutex
	failures  int
	delivered []*transport.Update
}

func (f *flakyTransport) Deliver(ctx context.Context, update *transport.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("link flapped")
	}
	f.delivered = append(f.delivered, update)
	return nil
}

func (f *flakyTransport) Connected() bool                  { return true }
func (f *flakyTransport) SubscribeUpdates(func(*transport.Update)) {}
func (f *flakyTransport) Close() error                     { return nil }

func (f *flakyTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func TestRetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	objects := store.NewMemoryStore()
	t.Cleanup(func() { objects.Close() })

	flaky := &flakyTransport{failures: 2}
	svc := newService(t, objects, flaky, nil)
	svc.Start()
	t.Cleanup(svc.Stop)

	c := syncCert("0005", 1)
	require.NoError(t, objects.Put(ctx, certObject(t, c)))

	require.Eventually(t, func() bool {
		entry := svc.Status(c.ID)
		return entry != nil && entry.Status == propagation.StatusSynced
	}, 2*time.Second, 5*time.Millisecond)

	entry := svc.Status(c.ID)
	assert.GreaterOrEqual(t, entry.Attempts, 2)
	assert.Equal(t, 1, flaky.count())
}

// gatedTransport holds every delivery until release is closed, so a test
// can store a new version while an older one is in flight.
type gatedTransport struct {
	mu        sync.Mutex
	delivered []int

	inFlight chan struct{}
	release  chan struct{}
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{inFlight: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gatedTransport) Deliver(ctx context.Context, update *transport.Update) error {
	g.inFlight <- struct{}{}
	<-g.release
	g.mu.Lock()
	g.delivered = append(g.delivered, update.Object.Version)
	g.mu.Unlock()
	return nil
}

func (g *gatedTransport) Connected() bool                          { return true }
func (g *gatedTransport) SubscribeUpdates(func(*transport.Update)) {}
func (g *gatedTransport) Close() error                             { return nil }

func (g *gatedTransport) versions() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int{}, g.delivered...)
}

func TestVersionStoredDuringDeliveryIsNotLost(t *testing.T) {
	ctx := context.Background()
	objects := store.NewMemoryStore()
	t.Cleanup(func() { objects.Close() })

	gated := newGatedTransport()
	svc := newService(t, objects, gated, nil)
	svc.Start()
	t.Cleanup(svc.Stop)

	c := syncCert("0006", 1)
	require.NoError(t, objects.Put(ctx, certObject(t, c)))

	// Wait for the version 1 delivery to be in flight, then store
	// version 2 behind its back.
	select {
	case <-gated.inFlight:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never started")
	}
	v2 := c.Clone()
	v2.Version = 2
	v2.ValidUntil += cert.Day.Milliseconds()
	require.NoError(t, objects.Put(ctx, certObject(t, v2)))

	close(gated.release)

	require.Eventually(t, func() bool {
		entry := svc.Status(c.ID)
		return entry != nil && entry.Version == 2 && entry.Status == propagation.StatusSynced
	}, 2*time.Second, 5*time.Millisecond, "version 2 was never delivered")

	versions := gated.versions()
	require.NotEmpty(t, versions)
	assert.Equal(t, 2, versions[len(versions)-1])
}
