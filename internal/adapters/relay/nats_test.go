package relay

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNATSPair(t *testing.T) (*NATS, *NATS) {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	connect := func() *NATS {
		nc, err := nats.Connect(srv.ClientURL())
		require.NoError(t, err)
		t.Cleanup(nc.Close)
		n := NewNATS(nc, "")
		t.Cleanup(func() { _ = n.Close() })
		return n
	}
	return connect(), connect()
}

func TestNATS_BroadcastAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	na, nb := newNATSPair(t)
	a, b := &recorder{}, &recorder{}
	require.NoError(t, na.Attach(ctx, "a", a.inbox))
	require.NoError(t, nb.Attach(ctx, "b", b.inbox))

	group := domain.GroupName("room_1")
	require.NoError(t, na.Join(ctx, group, "a"))
	require.NoError(t, nb.Join(ctx, group, "b"))
	require.NoError(t, nb.Join(ctx, group, "b"), "joining twice keeps one subscription")

	require.NoError(t, na.Broadcast(ctx, group, core.Event{Type: core.EventChatMessage, RoomID: "1", From: "a"}))
	require.Eventually(t, func() bool { return len(a.all()) == 1 && len(b.all()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, nb.Leave(ctx, group, "b"))
	require.NoError(t, na.Broadcast(ctx, group, core.Event{Type: core.EventPeerLeft, RoomID: "1", From: "a"}))
	require.Eventually(t, func() bool { return len(a.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, b.all(), 1, "left members get nothing")
}

func TestNATS_SendTo(t *testing.T) {
	ctx := context.Background()
	na, nb := newNATSPair(t)
	b := &recorder{}
	require.NoError(t, nb.Attach(ctx, "b", b.inbox))

	require.NoError(t, na.SendTo(ctx, "b", core.Event{Type: core.EventMatchJoin, RoomID: "r", From: "a"}))
	require.Eventually(t, func() bool { return len(b.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.RoomID("r"), b.all()[0].RoomID)

	assert.NoError(t, na.SendTo(ctx, "ghost", core.Event{Type: core.EventMatchJoin}), "delivery is not confirmed")

	require.NoError(t, nb.Detach(ctx, "b"))
	require.NoError(t, na.SendTo(ctx, "b", core.Event{Type: core.EventPeerLeft}))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, b.all(), 1, "detached connections get nothing")
}
