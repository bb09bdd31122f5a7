package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustfabric/trustfabric-core/pkg/audit"
)

// runLogContract exercises the behavior shared by every Log implementation.
func runLogContract(t *testing.T, open func(t *testing.T) audit.Log) {
	ctx := context.Background()

	seed := func(t *testing.T, l audit.Log) {
		events := []audit.Event{
			{Type: audit.EventCertificateIssued, Actor: "alice", CertificateID: "cert-1", Timestamp: 1000, Success: true},
			{Type: audit.EventCertificateExtended, Actor: "alice", CertificateID: "cert-1", Timestamp: 2000, Success: true},
			{Type: audit.EventCertificateIssued, Actor: "bob", CertificateID: "cert-2", Timestamp: 3000, Success: true},
			{Type: audit.EventCertificateRevoked, Actor: "alice", CertificateID: "cert-1", Timestamp: 4000, Reason: "lost", Success: true},
		}
		for _, e := range events {
			require.NoError(t, l.Append(ctx, e))
		}
	}

	t.Run("query newest first", func(t *testing.T) {
		l := open(t)
		seed(t, l)

		events, err := l.Query(ctx, audit.Query{})
		require.NoError(t, err)
		require.Len(t, events, 4)
		assert.Equal(t, int64(4000), events[0].Timestamp)
		assert.Equal(t, int64(1000), events[3].Timestamp)
	})

	t.Run("append fills id", func(t *testing.T) {
		l := open(t)
		require.NoError(t, l.Append(ctx, audit.Event{Type: audit.EventTrustEstablished, Actor: "alice", Timestamp: 1000}))
		events, err := l.Query(ctx, audit.Query{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.NotEmpty(t, events[0].ID)
	})

	t.Run("filter by type and actor", func(t *testing.T) {
		l := open(t)
		seed(t, l)

		events, err := l.Query(ctx, audit.Query{Types: []audit.EventType{audit.EventCertificateIssued}})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "bob", events[0].Actor)
		assert.Equal(t, "alice", events[1].Actor)

		events, err = l.Query(ctx, audit.Query{Actor: "alice"})
		require.NoError(t, err)
		assert.Len(t, events, 3)

		events, err = l.Query(ctx, audit.Query{CertificateID: "cert-2"})
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("filter by time range", func(t *testing.T) {
		l := open(t)
		seed(t, l)

		events, err := l.Query(ctx, audit.Query{Since: 2000, Until: 3000})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(3000), events[0].Timestamp)
		assert.Equal(t, int64(2000), events[1].Timestamp)
	})

	t.Run("limit", func(t *testing.T) {
		l := open(t)
		seed(t, l)

		events, err := l.Query(ctx, audit.Query{Limit: 2})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(4000), events[0].Timestamp)
		assert.Equal(t, int64(3000), events[1].Timestamp)
	})

	t.Run("prune keeps newer events", func(t *testing.T) {
		l := open(t)
		seed(t, l)

		removed, err := l.Prune(ctx, 3000)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		events, err := l.Query(ctx, audit.Query{})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(4000), events[0].Timestamp)
		assert.Equal(t, int64(3000), events[1].Timestamp)

		// Pruning again removes nothing.
		removed, err = l.Prune(ctx, 3000)
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
	})
}

func TestMemoryLog(t *testing.T) {
	runLogContract(t, func(t *testing.T) audit.Log {
		return audit.NewMemoryLog()
	})
}

func TestFileLog(t *testing.T) {
	runLogContract(t, func(t *testing.T) audit.Log {
		l, err := audit.NewFileLog(t.TempDir())
		require.NoError(t, err)
		return l
	})
}

func TestFileLogSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := audit.NewFileLog(dir)
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, audit.Event{Type: audit.EventCertificateIssued, Actor: "alice", Timestamp: 1000}))

	second, err := audit.NewFileLog(dir)
	require.NoError(t, err)
	require.NoError(t, second.Append(ctx, audit.Event{Type: audit.EventCertificateRevoked, Actor: "alice", Timestamp: 2000}))

	events, err := second.Query(ctx, audit.Query{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventCertificateRevoked, events[0].Type)
	assert.Equal(t, audit.EventCertificateIssued, events[1].Type)
}
