// Package matching pairs waiting connections into rooms.
// Waiting pools are process local; connections on different server
// processes never match each other.
package matching

import (
	"context"
	"errors"

	"github.com/dkeye/Duet/internal/app/rooms"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/dkeye/Duet/internal/telemetry"
	"github.com/rs/zerolog/log"
)

var ErrInvalidMode = errors.New("invalid mode")

// Result describes how a find call ended.
type Result struct {
	Matched bool
	// Region is the caller's normalized region.
	Region string

	Room       domain.RoomID
	Group      domain.GroupName
	Peer       domain.ConnID
	PeerRegion string
	// PeerUnreachable is set when the popped peer could not be told about
	// the match, usually because it disconnected in between.
	PeerUnreachable bool
}

type Engine struct {
	store *Store
	rooms *rooms.Relay
}

func NewEngine(store *Store, relay *rooms.Relay) *Engine {
	return &Engine{store: store, rooms: relay}
}

func (e *Engine) Store() *Store { return e.store }

// Find pairs conn with the oldest waiter of the selected pool or enqueues it.
// Relay traffic happens after the store lock is released.
func (e *Engine) Find(ctx context.Context, conn domain.ConnID, mode domain.Mode, region string) (Result, error) {
	if !mode.Valid() {
		return Result{}, ErrInvalidMode
	}
	region = domain.NormalizeRegion(region)
	res := Result{Region: region}
	logger := log.With().
		Str("module", "app.matching").
		Str("conn", string(conn)).
		Str("mode", string(mode)).
		Str("region", region).
		Logger()

	peer, ok := e.store.MatchOrEnqueue(mode, domain.WaitingEntry{Conn: conn, Region: region})
	e.observe()
	if !ok {
		telemetry.QueuedTotal.WithLabelValues(string(mode)).Inc()
		logger.Info().Msg("queued")
		return res, nil
	}

	room, group, err := e.rooms.CreateAndJoin(ctx, conn)
	if err != nil {
		logger.Error().Err(err).Str("room", string(room)).Msg("caller failed to join room")
	}
	if err := e.rooms.MatchJoin(ctx, peer.Conn, room, region, conn); err != nil {
		logger.Warn().Err(err).Str("peer", string(peer.Conn)).Msg("peer unreachable after pop")
		res.PeerUnreachable = true
	}

	telemetry.MatchesTotal.WithLabelValues(string(mode)).Inc()
	logger.Info().Str("room", string(room)).Str("peer", string(peer.Conn)).Msg("matched")

	res.Matched = true
	res.Room = room
	res.Group = group
	res.Peer = peer.Conn
	res.PeerRegion = peer.Region
	return res, nil
}

// Remove takes conn out of every pool.
func (e *Engine) Remove(conn domain.ConnID) {
	if n := e.store.Remove(conn); n > 0 {
		log.Info().Str("module", "app.matching").Str("conn", string(conn)).Int("entries", n).Msg("removed from pools")
	}
	e.observe()
}

func (e *Engine) observe() {
	snap := e.store.Snapshot()
	telemetry.Waiting.WithLabelValues(string(domain.ModeRandom)).Set(float64(snap.Random))
	telemetry.Waiting.WithLabelValues(string(domain.ModeRegion)).Set(float64(snap.Total() - snap.Random))
}
