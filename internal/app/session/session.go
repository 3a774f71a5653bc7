// Package session runs the per connection state machine of the match
// endpoint: idle, queued, in a room, closed.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/app/matching"
	"github.com/dkeye/Duet/internal/app/rooms"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/dkeye/Duet/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int

const (
	StateIdle State = iota
	StateQueued
	StateInRoom
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StateInRoom:
		return "in_room"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	defaultEventBuffer = 64
	cleanupTimeout     = 5 * time.Second
)

// Deps are shared by every session of a process.
type Deps struct {
	Engine   *matching.Engine
	Rooms    *rooms.Relay
	Registry *app.Registry
	Policy   app.Policy
	Limiter  *FindLimiter
	// EventBuffer bounds relay events waiting for this session.
	EventBuffer int
}

// Session is one open match connection. Client messages and relay events are
// applied under one mutex, so handlers never interleave.
type Session struct {
	id   domain.ConnID
	sid  domain.SessionID
	out  core.SignalConnection
	deps Deps

	logger zerolog.Logger

	events    chan core.Event
	done      chan struct{}
	closeOnce sync.Once

	inboxMu     sync.Mutex
	inboxClosed bool

	mu      sync.Mutex
	state   State
	mode    domain.Mode
	region  string
	room    domain.RoomID
	group   domain.GroupName
	peer    domain.ConnID
	dropped int
}

func New(id domain.ConnID, sid domain.SessionID, out core.SignalConnection, deps Deps) *Session {
	if deps.Policy == nil {
		deps.Policy = app.SimplePolicy{}
	}
	if deps.EventBuffer <= 0 {
		deps.EventBuffer = defaultEventBuffer
	}
	return &Session{
		id:     id,
		sid:    sid,
		out:    out,
		deps:   deps,
		logger: log.With().Str("module", "app.session").Str("conn", string(id)).Logger(),
		events: make(chan core.Event, deps.EventBuffer),
		done:   make(chan struct{}),
		region: domain.GlobalRegion,
	}
}

func (s *Session) ID() domain.ConnID         { return s.id }
func (s *Session) Session() domain.SessionID { return s.sid }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room returns the current room, if any.
func (s *Session) Room() (domain.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.group != ""
}

// Start attaches the session to the relay and registry and begins draining
// relay events until Close.
func (s *Session) Start(ctx context.Context) error {
	if err := s.deps.Rooms.Attach(ctx, s.id, s.inbox); err != nil {
		return err
	}
	if s.deps.Registry != nil {
		s.deps.Registry.Bind(s)
	}
	go s.run()
	return nil
}

// inbox is handed to the relay; it never blocks the sender. Events that
// arrive after Close are declined directly.
func (s *Session) inbox(ev core.Event) {
	s.inboxMu.Lock()
	defer s.inboxMu.Unlock()
	if s.inboxClosed {
		if ev.Type == core.EventMatchJoin {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
				defer cancel()
				s.declineClosed(ctx, ev)
			}()
		}
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn().Str("event", string(ev.Type)).Msg("event buffer full, dropping")
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.HandleEvent(context.Background(), ev)
		}
	}
}

// HandleMessage dispatches one client frame.
func (s *Session) HandleMessage(ctx context.Context, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}

	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn().Err(err).Msg("bad json")
		s.sendError(ErrCodeBadPayload)
		return
	}

	typ, _ := jsonString(msg.Type)
	switch typ {
	case TypeFind:
		mode, _ := jsonString(msg.Mode)
		region, _ := jsonString(msg.Region)
		s.handleFind(ctx, domain.Mode(mode), region)
	case TypeCancel:
		s.handleCancel(ctx)
	case TypeChat:
		s.handleChat(ctx, msg)
	default:
		s.logger.Warn().Str("type", typ).Msg("unknown message type")
		s.sendError(ErrCodeUnknownType)
	}
}

func (s *Session) handleFind(ctx context.Context, mode domain.Mode, region string) {
	if !mode.Valid() {
		s.sendError(ErrCodeInvalidMode)
		return
	}
	if s.state != StateIdle {
		s.logger.Warn().Str("state", s.state.String()).Msg("find outside idle")
		s.sendError(ErrCodeInvalidState)
		return
	}
	if !s.deps.Limiter.Allow(s.sid) {
		s.logger.Warn().Str("session", string(s.sid)).Msg("find rate limited")
		s.sendError(ErrCodeRateLimited)
		return
	}

	res, err := s.deps.Engine.Find(ctx, s.id, mode, region)
	if err != nil {
		if errors.Is(err, matching.ErrInvalidMode) {
			s.sendError(ErrCodeInvalidMode)
			return
		}
		s.logger.Error().Err(err).Msg("find failed")
		return
	}
	s.mode = mode
	s.region = res.Region

	if !res.Matched {
		s.state = StateQueued
		s.send(typeOnly{Type: TypeQueued})
		return
	}

	s.enterRoom(res.Room, res.Group, res.Peer)
	s.send(matchedMsg{Type: TypeMatched, RoomID: res.Room, Peer: peerInfo{Region: res.PeerRegion}})
	if res.PeerUnreachable {
		// The popped peer vanished before it could join; treat it as gone.
		s.send(typeOnly{Type: TypePeerLeft})
		s.vacate(ctx, false)
	}
}

func (s *Session) handleCancel(ctx context.Context) {
	s.deps.Engine.Remove(s.id)
	s.vacate(ctx, true)
	s.state = StateIdle
	s.mode = domain.ModeNone
	s.send(typeOnly{Type: TypeCancelled})
}

func (s *Session) handleChat(ctx context.Context, msg inbound) {
	if falsy(msg.RoomID) || falsy(msg.Message) {
		s.sendError(ErrCodeInvalidChat)
		return
	}
	id, ok := jsonString(msg.RoomID)
	room := domain.RoomID(id)
	if !ok || room != s.room || s.group == "" {
		s.sendError(ErrCodeNotInRoom)
		return
	}
	logger := s.logger.With().Str("room", string(room)).Logger()
	logRTCSignal(&logger, msg.Message)
	if err := s.deps.Rooms.Chat(ctx, s.group, room, s.id, msg.Message); err != nil {
		logger.Error().Err(err).Msg("chat relay failed")
	}
}

// HandleEvent applies one relay event addressed to this session.
func (s *Session) HandleEvent(ctx context.Context, ev core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		s.declineClosed(ctx, ev)
		return
	}

	switch ev.Type {
	case core.EventMatchJoin:
		s.onMatchJoin(ctx, ev)
	case core.EventChatMessage:
		if ev.RoomID != s.room || s.group == "" {
			return
		}
		frame, err := chatFrame(ev.RoomID, ev.Message)
		if err != nil {
			s.logger.Error().Err(err).Msg("build chat frame")
			return
		}
		s.sendFrame(frame)
	case core.EventPeerLeft:
		if ev.RoomID != s.room || s.group == "" || ev.From != s.peer {
			return
		}
		s.send(typeOnly{Type: TypePeerLeft})
		s.vacate(ctx, false)
	default:
		s.logger.Warn().Str("event", string(ev.Type)).Msg("unknown relay event")
	}
}

func (s *Session) onMatchJoin(ctx context.Context, ev core.Event) {
	group := ev.RoomID.Group()
	if s.state != StateQueued {
		// Cancelled between being popped and this delivery; release the caller.
		s.logger.Info().Str("room", string(ev.RoomID)).Str("state", s.state.String()).Msg("declining stale match")
		if err := s.deps.Rooms.PeerLeft(ctx, ev.From, ev.RoomID, s.id); err != nil {
			s.logger.Warn().Err(err).Msg("notify declined match")
		}
		return
	}
	// A stale join can meet a second find; never stay in a pool while in a room.
	s.deps.Engine.Remove(s.id)
	if err := s.deps.Rooms.Join(ctx, group, s.id); err != nil {
		s.logger.Error().Err(err).Str("room", string(ev.RoomID)).Msg("join matched room")
	}
	s.enterRoom(ev.RoomID, group, ev.From)
	region := ev.PeerRegion
	if region == "" {
		region = domain.GlobalRegion
	}
	s.send(matchedMsg{Type: TypeMatched, RoomID: ev.RoomID, Peer: peerInfo{Region: region}})
}

// declineClosed releases a caller that matched this session after it closed.
func (s *Session) declineClosed(ctx context.Context, ev core.Event) {
	if ev.Type != core.EventMatchJoin {
		return
	}
	if err := s.deps.Rooms.PeerLeft(ctx, ev.From, ev.RoomID, s.id); err != nil {
		s.logger.Warn().Err(err).Msg("notify match after close")
	}
}

func (s *Session) enterRoom(room domain.RoomID, group domain.GroupName, peer domain.ConnID) {
	s.room = room
	s.group = group
	s.peer = peer
	s.state = StateInRoom
	s.logger.Info().Str("room", string(room)).Msg("entered room")
}

// vacate leaves the current room, telling the peer first when notify is set.
// peer_left goes on the peer's own channel, behind the match.join it may not
// have handled yet. Callers hold s.mu.
func (s *Session) vacate(ctx context.Context, notify bool) {
	if s.group == "" {
		return
	}
	room, group, peer := s.room, s.group, s.peer
	s.room, s.group, s.peer = "", "", ""
	if s.state == StateInRoom {
		s.state = StateIdle
	}
	if notify && peer != "" {
		if err := s.deps.Rooms.PeerLeft(ctx, peer, room, s.id); err != nil {
			s.logger.Warn().Err(err).Str("room", string(room)).Msg("notify peer_left")
		}
	}
	if err := s.deps.Rooms.Leave(ctx, group, s.id); err != nil {
		s.logger.Warn().Err(err).Str("room", string(room)).Msg("leave room")
	}
	s.logger.Info().Str("room", string(room)).Msg("left room")
}

// Close runs disconnect cleanup once: mark closed, notify and leave the room,
// then remove from every pool. Relay failures never skip pool removal.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		s.mu.Lock()
		s.vacate(ctx, true)
		s.state = StateClosed
		s.mu.Unlock()

		// A find that held s.mu has enqueued by now; later finds see Closed.
		s.deps.Engine.Remove(s.id)

		if err := s.deps.Rooms.Detach(ctx, s.id); err != nil {
			s.logger.Warn().Err(err).Msg("detach from relay")
		}
		s.inboxMu.Lock()
		s.inboxClosed = true
		s.inboxMu.Unlock()
		close(s.done)
		s.drain(ctx)
		if s.deps.Registry != nil {
			s.deps.Registry.Unbind(s.id)
		}
		s.out.Close()
		s.logger.Info().Msg("session closed")
	})
}

func (s *Session) drain(ctx context.Context) {
	for {
		select {
		case ev := <-s.events:
			s.declineClosed(ctx, ev)
		default:
			return
		}
	}
}

func (s *Session) sendError(code string) {
	s.send(errorMsg{Error: code})
}

func (s *Session) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal outbound")
		return
	}
	s.sendFrame(b)
}

func (s *Session) sendFrame(b []byte) {
	err := s.out.TrySend(b)
	if err == nil {
		return
	}
	if !errors.Is(err, core.ErrBackpressure) {
		s.logger.Debug().Err(err).Msg("send on closed connection")
		return
	}
	telemetry.DroppedFramesTotal.Inc()
	switch s.deps.Policy.OnBackPressure(s.id, s.dropped) {
	case app.KickMember:
		s.logger.Warn().Int("dropped", s.dropped).Msg("client too slow, kicking")
		// Closing the transport ends the read pump, which runs Close.
		go s.out.Close()
	case app.DropFrame, app.NoAction:
	}
	s.dropped++
}
