package core

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/Duet/internal/domain"
)

var ErrNotAttached = errors.New("connection not attached to relay")

type EventType string

const (
	EventMatchJoin   EventType = "match.join"
	EventChatMessage EventType = "chat.message"
	EventPeerLeft    EventType = "chat.peer_left"
)

// Event travels through the relay between connection sessions,
// possibly on different processes.
type Event struct {
	Type       EventType       `json:"type" msgpack:"type"`
	RoomID     domain.RoomID   `json:"room_id,omitempty" msgpack:"room_id,omitempty"`
	PeerRegion string          `json:"peer_region,omitempty" msgpack:"peer_region,omitempty"`
	Message    json.RawMessage `json:"message,omitempty" msgpack:"message,omitempty"`
	From       domain.ConnID   `json:"from,omitempty" msgpack:"from,omitempty"`
}

// Inbox receives events addressed to one connection. It must not block.
type Inbox func(Event)

// Relay is the group messaging primitive rooms are built on.
// Broadcast delivers to every current member of the group, sender included.
type Relay interface {
	Attach(ctx context.Context, conn domain.ConnID, inbox Inbox) error
	Detach(ctx context.Context, conn domain.ConnID) error

	Join(ctx context.Context, group domain.GroupName, conn domain.ConnID) error
	Leave(ctx context.Context, group domain.GroupName, conn domain.ConnID) error
	Broadcast(ctx context.Context, group domain.GroupName, ev Event) error
	SendTo(ctx context.Context, conn domain.ConnID, ev Event) error

	Close() error
}
