package session

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/dkeye/Duet/internal/domain"
)

// Error codes sent back as {"error": code}.
const (
	ErrCodeInvalidMode  = "invalid_mode"
	ErrCodeInvalidChat  = "invalid_chat"
	ErrCodeNotInRoom    = "not_in_room"
	ErrCodeUnknownType  = "unknown_type"
	ErrCodeInvalidState = "invalid_state"
	ErrCodeBadPayload   = "bad_payload"
	ErrCodeRateLimited  = "rate_limited"
)

// Inbound message kinds.
const (
	TypeFind   = "find"
	TypeCancel = "cancel"
	TypeChat   = "chat"
)

// Outbound message kinds.
const (
	TypeQueued    = "queued"
	TypeMatched   = "matched"
	TypeCancelled = "cancelled"
	TypePeerLeft  = "peer_left"
)

// inbound keeps every field raw so a wrongly typed field maps to its own
// error code instead of failing the whole frame.
type inbound struct {
	Type    json.RawMessage `json:"type"`
	Mode    json.RawMessage `json:"mode"`
	Region  json.RawMessage `json:"region"`
	RoomID  json.RawMessage `json:"room_id"`
	Message json.RawMessage `json:"message"`
}

// jsonString decodes raw when it holds a JSON string.
func jsonString(raw json.RawMessage) (string, bool) {
	var v string
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return "", false
	}
	return v, true
}

type typeOnly struct {
	Type string `json:"type"`
}

type peerInfo struct {
	Region string `json:"region"`
}

type matchedMsg struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"room_id"`
	Peer   peerInfo      `json:"peer"`
}

type errorMsg struct {
	Error string `json:"error"`
}

// chatFrame writes the chat reply by hand so message keeps its exact bytes;
// encoding/json would compact and escape it.
func chatFrame(room domain.RoomID, message json.RawMessage) ([]byte, error) {
	roomJSON, err := json.Marshal(room)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(message) + len(roomJSON) + 40)
	buf.WriteString(`{"type":"chat","room_id":`)
	buf.Write(roomJSON)
	buf.WriteString(`,"message":`)
	buf.Write(message)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// falsy reports values a chat field must not carry: absent, null, "",
// false, 0, {} and [].
func falsy(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return true
	}
	switch b[0] {
	case 'n':
		return string(b) == "null"
	case 'f':
		return string(b) == "false"
	case '"':
		return string(b) == `""`
	case '{', '[':
		if len(b) < 2 {
			return false
		}
		inner := bytes.TrimSpace(b[1 : len(b)-1])
		return len(inner) == 0
	case 't':
		return false
	default:
		f, err := strconv.ParseFloat(string(b), 64)
		return err == nil && f == 0
	}
}
