package core

import "errors"

var ErrBackpressure = errors.New("backpressure")

// Frame is one serialized outbound message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend must not block; it returns ErrBackpressure when the buffer is full.
	TrySend(Frame) error
	Close()
}
