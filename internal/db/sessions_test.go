package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
)

func newTestLedger(t *testing.T) *SessionLedger {
	t.Helper()
	l, err := NewSessionLedger(filepath.Join(t.TempDir(), "data", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedgerLifecycle(t *testing.T) {
	l := newTestLedger(t)
	opened := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, l.RecordOpened(events.SessionOpenedPayload{
		SessionID: "s1", RemoteAddr: "10.0.0.2:5000", OpenedAt: opened,
	}))
	require.NoError(t, l.RecordLoggedIn(events.SessionLoggedInPayload{
		SessionID: "s1", DownstreamName: "Steve", UpstreamUsername: "Steve", UpstreamAddr: "localhost:25565",
	}, opened.Add(time.Second)))
	require.NoError(t, l.RecordClosed(events.SessionClosedPayload{
		SessionID:    "s1",
		Reason:       events.CloseClientLeft,
		ClosedAt:     opened.Add(time.Minute),
		PacketsUp:    12,
		PacketsDown:  340,
		ChunksSent:   7,
		EntitiesSeen: 3,
	}))

	records, err := l.History(10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "s1", r.ID)
	assert.Equal(t, "10.0.0.2:5000", r.RemoteAddr)
	assert.Equal(t, "Steve", r.DownstreamName)
	assert.Equal(t, "localhost:25565", r.UpstreamAddr)
	assert.True(t, r.OpenedAt.Equal(opened))
	assert.True(t, r.LoggedInAt.Equal(opened.Add(time.Second)))
	assert.Equal(t, string(events.CloseClientLeft), r.CloseReason)
	assert.Equal(t, uint64(12), r.PacketsUp)
	assert.Equal(t, uint64(340), r.PacketsDown)
	assert.Equal(t, uint64(7), r.ChunksSent)
	assert.Equal(t, 3, r.EntitiesSeen)
	assert.Equal(t, time.Minute, r.Duration())
}

func TestLedgerOutOfOrderEvents(t *testing.T) {
	l := newTestLedger(t)
	opened := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, l.RecordClosed(events.SessionClosedPayload{
		SessionID: "s1", Reason: events.CloseLoginTimeout, Detail: "Timeout!", ClosedAt: opened.Add(10 * time.Second),
	}))
	require.NoError(t, l.RecordOpened(events.SessionOpenedPayload{
		SessionID: "s1", RemoteAddr: "10.0.0.2:5000", OpenedAt: opened,
	}))

	records, err := l.History(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].OpenedAt.Equal(opened))
	assert.Equal(t, "Timeout!", records[0].CloseDetail)
	assert.True(t, records[0].LoggedInAt.IsZero())
}

func TestLedgerHistoryOrderAndLimit(t *testing.T) {
	l := newTestLedger(t)
	base := time.UnixMilli(1_700_000_000_000)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.RecordOpened(events.SessionOpenedPayload{
			SessionID: id, OpenedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	records, err := l.History(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "b", records[1].ID)

	n, err := l.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLedgerPrune(t *testing.T) {
	l := newTestLedger(t)
	base := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, l.RecordOpened(events.SessionOpenedPayload{SessionID: "old", OpenedAt: base}))
	require.NoError(t, l.RecordClosed(events.SessionClosedPayload{SessionID: "old", ClosedAt: base.Add(time.Hour)}))
	require.NoError(t, l.RecordOpened(events.SessionOpenedPayload{SessionID: "open", OpenedAt: base}))
	require.NoError(t, l.RecordOpened(events.SessionOpenedPayload{SessionID: "recent", OpenedAt: base.Add(48 * time.Hour)}))
	require.NoError(t, l.RecordClosed(events.SessionClosedPayload{SessionID: "recent", ClosedAt: base.Add(49 * time.Hour)}))

	n, err := l.Prune(base.Add(24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := l.History(10)
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"open", "recent"}, ids)
}

func TestLedgerSubscribe(t *testing.T) {
	l := newTestLedger(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	l.Subscribe(bus)

	ctx := context.Background()
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventSessionOpened, Payload: events.SessionOpenedPayload{
		SessionID: "s1", RemoteAddr: "1.2.3.4:1", OpenedAt: time.Now(),
	}}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventSessionLoggedIn, Payload: events.SessionLoggedInPayload{
		SessionID: "s1", DownstreamName: "Alex",
	}}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{Type: events.EventSessionClosed, Payload: events.SessionClosedPayload{
		SessionID: "s1", Reason: events.CloseKicked, ClosedAt: time.Now(),
	}}))

	records, err := l.History(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Alex", records[0].DownstreamName)
	assert.Equal(t, string(events.CloseKicked), records[0].CloseReason)
	assert.False(t, records[0].LoggedInAt.IsZero())
}
