// Package relay implements the group messaging primitive behind rooms:
// an in-process hub and two cross-process backends (redis, nats).
package relay

import (
	"fmt"

	"github.com/dkeye/Duet/internal/core"
	"github.com/vmihailenco/msgpack/v5"
)

// Events cross process boundaries as msgpack so chat payloads keep their
// exact bytes.
func encodeEvent(ev core.Event) ([]byte, error) {
	b, err := msgpack.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

func decodeEvent(b []byte) (core.Event, error) {
	var ev core.Event
	if err := msgpack.Unmarshal(b, &ev); err != nil {
		return core.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
