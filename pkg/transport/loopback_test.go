package transport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustfabric/trustfabric-core/pkg/cert"
	"github.com/trustfabric/trustfabric-core/pkg/store"
	"github.com/trustfabric/trustfabric-core/pkg/transport"
)

func TestLoopbackPairDelivers(t *testing.T) {
	sideA, sideB := transport.NewLoopbackPair()
	assert.True(t, sideA.Connected())
	assert.True(t, sideB.Connected())

	var received []*transport.Update
	sideB.SubscribeUpdates(func(update *transport.Update) {
		received = append(received, update)
	})

	update := &transport.Update{
		Object: &store.Object{Hash: "h1", IdentityHash: "i1", Kind: store.KindCertificate, Version: 1},
		Urgent: true,
		Origin: "instance-a",
	}
	require.NoError(t, sideA.Deliver(context.Background(), update))

	require.Len(t, received, 1)
	assert.Equal(t, "h1", received[0].Object.Hash)
	assert.True(t, received[0].Urgent)
	assert.Equal(t, "instance-a", received[0].Origin)
}

func TestLoopbackDisconnected(t *testing.T) {
	sideA, _ := transport.NewLoopbackPair()
	sideA.SetConnected(false)
	assert.False(t, sideA.Connected())

	err := sideA.Deliver(context.Background(), &transport.Update{})
	assert.Equal(t, cert.ErrCodeTransportOffline, cert.Code(err))

	sideA.SetConnected(true)
	assert.True(t, sideA.Connected())
	assert.NoError(t, sideA.Deliver(context.Background(), &transport.Update{}))
}

func TestOfflineLoopbackNeverConnects(t *testing.T) {
	lone := transport.NewOfflineLoopback()
	assert.False(t, lone.Connected())

	// Without a peer the link cannot come up.
	lone.SetConnected(true)
	assert.False(t, lone.Connected())

	err := lone.Deliver(context.Background(), &transport.Update{})
	assert.Equal(t, cert.ErrCodeTransportOffline, cert.Code(err))
}

func TestLoopbackCloseDropsBothHalves(t *testing.T) {
	sideA, sideB := transport.NewLoopbackPair()
	require.NoError(t, sideA.Close())

	assert.False(t, sideA.Connected())
	assert.False(t, sideB.Connected())

	err := sideB.Deliver(context.Background(), &transport.Update{})
	assert.Equal(t, cert.ErrCodeTransportOffline, cert.Code(err))
}

func TestLoopbackDeliverHonoursContext(t *testing.T) {
	sideA, _ := transport.NewLoopbackPair()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sideA.Deliver(ctx, &transport.Update{})
	assert.ErrorIs(t, err, context.Canceled)
}
