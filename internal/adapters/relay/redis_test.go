package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisPair(t *testing.T) (*miniredis.Miniredis, *redis.Client, *Redis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	a, err := NewRedis(ctx, rdb, "")
	require.NoError(t, err)
	b, err := NewRedis(ctx, rdb, "")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return mr, rdb, a, b
}

func waitSubscribed(t *testing.T, rdb *redis.Client, r *Redis, conn domain.ConnID, want int64) {
	t.Helper()
	ch := r.connChannel(conn)
	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(context.Background(), ch).Result()
		return err == nil && n[ch] == want
	}, 2*time.Second, 10*time.Millisecond, "subscribers of %s", ch)
}

func TestRedis_BroadcastAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	mr, rdb, ra, rb := newRedisPair(t)
	a, b := &recorder{}, &recorder{}
	require.NoError(t, ra.Attach(ctx, "a", a.inbox))
	require.NoError(t, rb.Attach(ctx, "b", b.inbox))
	waitSubscribed(t, rdb, ra, "a", 1)
	waitSubscribed(t, rdb, rb, "b", 1)

	group := domain.GroupName("room_1")
	require.NoError(t, ra.Join(ctx, group, "a"))
	require.NoError(t, rb.Join(ctx, group, "b"))
	ttl := mr.TTL(ra.groupKey(group))
	assert.Positive(t, ttl, "group sets expire")

	msg := json.RawMessage(`{ "x" : "<&>" }`)
	require.NoError(t, ra.Broadcast(ctx, group, core.Event{Type: core.EventChatMessage, RoomID: "1", Message: msg, From: "a"}))
	require.Eventually(t, func() bool { return len(a.all()) == 1 && len(b.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte(msg), []byte(b.all()[0].Message))

	require.NoError(t, rb.Leave(ctx, group, "b"))
	require.NoError(t, ra.Broadcast(ctx, group, core.Event{Type: core.EventPeerLeft, RoomID: "1", From: "a"}))
	require.Eventually(t, func() bool { return len(a.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, b.all(), 1, "left members get nothing")

	require.NoError(t, ra.Broadcast(ctx, "room_empty", core.Event{Type: core.EventPeerLeft}), "empty groups are a no-op")
}

func TestRedis_SendTo(t *testing.T) {
	ctx := context.Background()
	_, rdb, ra, rb := newRedisPair(t)
	b := &recorder{}
	require.NoError(t, rb.Attach(ctx, "b", b.inbox))
	waitSubscribed(t, rdb, rb, "b", 1)

	require.NoError(t, ra.SendTo(ctx, "b", core.Event{Type: core.EventMatchJoin, RoomID: "r", PeerRegion: "EU", From: "a"}))
	require.Eventually(t, func() bool { return len(b.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := b.all()[0]
	assert.Equal(t, core.EventMatchJoin, got.Type)
	assert.Equal(t, "EU", got.PeerRegion)
	assert.Equal(t, domain.ConnID("a"), got.From)

	err := ra.SendTo(ctx, "ghost", core.Event{Type: core.EventMatchJoin})
	assert.ErrorIs(t, err, core.ErrNotAttached)

	require.NoError(t, rb.Detach(ctx, "b"))
	waitSubscribed(t, rdb, rb, "b", 0)
	assert.ErrorIs(t, ra.SendTo(ctx, "b", core.Event{Type: core.EventPeerLeft}), core.ErrNotAttached)
}
