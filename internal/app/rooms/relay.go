// Package rooms is a thin facade over the group relay used for two-party rooms.
package rooms

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/dkeye/Duet/internal/telemetry"
	"github.com/rs/zerolog/log"
)

type Relay struct {
	backend core.Relay
}

func NewRelay(backend core.Relay) *Relay {
	return &Relay{backend: backend}
}

// Attach registers the inbox that receives events addressed to conn.
func (r *Relay) Attach(ctx context.Context, conn domain.ConnID, inbox core.Inbox) error {
	return r.do("attach", r.backend.Attach(ctx, conn, inbox))
}

func (r *Relay) Detach(ctx context.Context, conn domain.ConnID) error {
	return r.do("detach", r.backend.Detach(ctx, conn))
}

// CreateAndJoin opens a fresh room with conn as its first member.
func (r *Relay) CreateAndJoin(ctx context.Context, conn domain.ConnID) (domain.RoomID, domain.GroupName, error) {
	room := domain.NewRoomID()
	group := room.Group()
	if err := r.Join(ctx, group, conn); err != nil {
		return room, group, err
	}
	return room, group, nil
}

func (r *Relay) Join(ctx context.Context, group domain.GroupName, conn domain.ConnID) error {
	return r.do("join", r.backend.Join(ctx, group, conn))
}

func (r *Relay) Leave(ctx context.Context, group domain.GroupName, conn domain.ConnID) error {
	return r.do("leave", r.backend.Leave(ctx, group, conn))
}

func (r *Relay) Broadcast(ctx context.Context, group domain.GroupName, ev core.Event) error {
	return r.do("broadcast", r.backend.Broadcast(ctx, group, ev))
}

func (r *Relay) SendTo(ctx context.Context, conn domain.ConnID, ev core.Event) error {
	return r.do("send_to", r.backend.SendTo(ctx, conn, ev))
}

// Chat forwards message to the room untouched.
func (r *Relay) Chat(ctx context.Context, group domain.GroupName, room domain.RoomID, from domain.ConnID, message json.RawMessage) error {
	return r.Broadcast(ctx, group, core.Event{
		Type:    core.EventChatMessage,
		RoomID:  room,
		Message: message,
		From:    from,
	})
}

// PeerLeft tells to that from is gone. It shares to's channel with
// MatchJoin, so it can never overtake the join.
func (r *Relay) PeerLeft(ctx context.Context, to domain.ConnID, room domain.RoomID, from domain.ConnID) error {
	return r.SendTo(ctx, to, core.Event{
		Type:   core.EventPeerLeft,
		RoomID: room,
		From:   from,
	})
}

// MatchJoin pulls a popped waiter into room from the caller's side.
func (r *Relay) MatchJoin(ctx context.Context, to domain.ConnID, room domain.RoomID, callerRegion string, from domain.ConnID) error {
	return r.SendTo(ctx, to, core.Event{
		Type:       core.EventMatchJoin,
		RoomID:     room,
		PeerRegion: callerRegion,
		From:       from,
	})
}

func (r *Relay) Close() error { return r.backend.Close() }

func (r *Relay) do(op string, err error) error {
	if err == nil {
		return nil
	}
	telemetry.RelayErrorsTotal.WithLabelValues(op).Inc()
	log.Warn().Err(err).Str("module", "app.rooms").Str("op", op).Msg("relay operation failed")
	return fmt.Errorf("relay %s: %w", op, err)
}
