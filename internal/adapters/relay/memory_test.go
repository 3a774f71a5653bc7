package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) inbox(ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

func TestMemory_BroadcastReachesAllMembers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, b, outsider := &recorder{}, &recorder{}, &recorder{}
	require.NoError(t, m.Attach(ctx, "a", a.inbox))
	require.NoError(t, m.Attach(ctx, "b", b.inbox))
	require.NoError(t, m.Attach(ctx, "c", outsider.inbox))

	group := domain.RoomID("r1").Group()
	require.NoError(t, m.Join(ctx, group, "a"))
	require.NoError(t, m.Join(ctx, group, "b"))

	ev := core.Event{Type: core.EventChatMessage, RoomID: "r1", Message: json.RawMessage(`{"a":1}`)}
	require.NoError(t, m.Broadcast(ctx, group, ev))

	assert.Equal(t, []core.Event{ev}, a.all())
	assert.Equal(t, []core.Event{ev}, b.all())
	assert.Empty(t, outsider.all())
}

func TestMemory_LeaveAndDetach(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := &recorder{}
	require.NoError(t, m.Attach(ctx, "a", a.inbox))
	group := domain.GroupName("room_x")

	require.NoError(t, m.Join(ctx, group, "a"))
	require.NoError(t, m.Leave(ctx, group, "a"))
	require.NoError(t, m.Leave(ctx, group, "a"), "leaving twice is absorbed")
	require.NoError(t, m.Broadcast(ctx, group, core.Event{Type: core.EventPeerLeft}))
	assert.Empty(t, a.all())

	require.NoError(t, m.Join(ctx, group, "a"))
	require.NoError(t, m.Detach(ctx, "a"))
	assert.Empty(t, m.members(group))
}

func TestMemory_SendTo(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := &recorder{}
	require.NoError(t, m.Attach(ctx, "a", a.inbox))

	require.NoError(t, m.SendTo(ctx, "a", core.Event{Type: core.EventMatchJoin, RoomID: "r"}))
	assert.Len(t, a.all(), 1)

	err := m.SendTo(ctx, "ghost", core.Event{Type: core.EventMatchJoin})
	require.ErrorIs(t, err, core.ErrNotAttached)
}

func TestCodec_PreservesMessageBytes(t *testing.T) {
	raw := json.RawMessage(`{ "kind" : "rtc_signal", "signal": {"sdp":"v=0\r\n<a&b>"} }`)
	in := core.Event{Type: core.EventChatMessage, RoomID: "r", Message: raw, From: "a"}

	b, err := encodeEvent(in)
	require.NoError(t, err)
	out, err := decodeEvent(b)
	require.NoError(t, err)

	assert.Equal(t, []byte(raw), []byte(out.Message))
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.RoomID, out.RoomID)
	assert.Equal(t, in.From, out.From)
}

func TestRedis_KeyNaming(t *testing.T) {
	r := &Redis{prefix: "duet"}
	assert.Equal(t, "duet:conn:abc", r.connChannel("abc"))
	assert.Equal(t, "duet:group:room_1", r.groupKey("room_1"))

	conn, ok := r.connFromChannel("duet:conn:abc")
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("abc"), conn)

	_, ok = r.connFromChannel("other:conn:abc")
	assert.False(t, ok)
}

func TestNATS_SubjectNaming(t *testing.T) {
	n := NewNATS(nil, "")
	assert.Equal(t, "duet.conn.abc", n.connSubject("abc"))
	assert.Equal(t, "duet.group.room_1", n.groupSubject("room_1"))
}
