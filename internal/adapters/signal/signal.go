// Package signal is the WebSocket side of the match server: credential gate,
// per connection pumps and JSON framing.
package signal

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Duet/internal/app/credential"
	"github.com/dkeye/Duet/internal/app/session"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrConnClosed = errors.New("connection closed")

// Options tune the pumps of every connection.
type Options struct {
	ReadLimit      int64
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

type SignalWSController struct {
	ctx      context.Context
	deps     session.Deps
	signer   *credential.Signer
	sessions core.SessionStore
	opts     Options
	upgrader websocket.Upgrader
}

// NewSignalWSController builds the controller; ctx bounds relay subscriptions
// of every connection it accepts. sessions may be nil.
func NewSignalWSController(ctx context.Context, deps session.Deps, signer *credential.Signer, sessions core.SessionStore, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	return &SignalWSController{
		ctx:      ctx,
		deps:     deps,
		signer:   signer,
		sessions: sessions,
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(opts.AllowedOrigins)},
	}
}

// originChecker accepts any origin when allowed is empty, and requests
// without an Origin header always.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[u.Host]
		return ok
	}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWSSignalConn(ws *websocket.Conn, buffer int) *wsSignalConn {
	return &wsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// Close stops the write pump, which sends a close frame and drops the socket.
func (c *wsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// HandleMatch upgrades an admitted request and runs its match session.
func (ctl *SignalWSController) HandleMatch(c *gin.Context) {
	sid := domain.SessionID(c.GetString(SessionKey))
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWSSignalConn(ws, ctl.opts.SendBuffer)
	id := domain.NewConnID()
	sess := session.New(id, sid, conn, ctl.deps)
	if err := sess.Start(ctl.ctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("attach session")
		_ = ws.Close()
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("sid", string(sid)).Msg("new match connection")

	go ctl.writePump(conn)
	go ctl.readPump(conn, string(id), func(data []byte) {
		sess.HandleMessage(ctl.ctx, data)
	}, sess.Close)
}

// HandleEcho replies to each JSON frame with {"echo": frame}.
func (ctl *SignalWSController) HandleEcho(c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	conn := newWSSignalConn(ws, ctl.opts.SendBuffer)
	sid := c.GetString(SessionKey)
	go ctl.writePump(conn)
	go ctl.readPump(conn, "echo:"+sid, func(data []byte) {
		ctl.sendEcho(conn, data)
	}, conn.Close)
}
