package domain

import (
	"strings"

	"github.com/google/uuid"
)

type (
	// ConnID addresses one live connection across every server process.
	ConnID    string
	RoomID    string
	GroupName string
)

const groupPrefix = "room_"

func NewConnID() ConnID { return ConnID(uuid.NewString()) }

func NewRoomID() RoomID { return RoomID(uuid.NewString()) }

// Group derives the relay group handle of a room.
func (id RoomID) Group() GroupName { return GroupName(groupPrefix + string(id)) }

// Room returns the room a group handle was derived from.
func (g GroupName) Room() (RoomID, bool) {
	id, ok := strings.CutPrefix(string(g), groupPrefix)
	if !ok || id == "" {
		return "", false
	}
	return RoomID(id), true
}
