package session

import (
	"bytes"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const rtcSignalKind = "rtc_signal"

// rtcSignal is the envelope browsers use to tunnel WebRTC negotiation
// through chat. It is only inspected for logging; relayed bytes stay as sent.
type rtcSignal struct {
	Kind   string `json:"kind"`
	Signal struct {
		Kind     string `json:"kind"`
		ClientID string `json:"clientId"`
	} `json:"signal"`
}

func peekRTCSignal(message json.RawMessage) (rtcSignal, bool) {
	var sig rtcSignal
	if !bytes.HasPrefix(bytes.TrimSpace(message), []byte("{")) {
		return sig, false
	}
	if err := json.Unmarshal(message, &sig); err != nil || sig.Kind != rtcSignalKind {
		return sig, false
	}
	return sig, true
}

// logRTCSignal records what kind of negotiation step passes through a room.
// Offers and answers map onto SDP types; anything else, such as ICE
// candidates, is logged as unknown.
func logRTCSignal(logger *zerolog.Logger, message json.RawMessage) {
	sig, ok := peekRTCSignal(message)
	if !ok {
		return
	}
	logger.Info().
		Str("kind", sig.Signal.Kind).
		Str("sdp_type", webrtc.NewSDPType(sig.Signal.Kind).String()).
		Str("client_id", sig.Signal.ClientID).
		Msg("relay rtc_signal")
}
