package signal

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// CloseUnauthorized is sent when the handshake credential is missing or bad.
const CloseUnauthorized = 4401

// SessionKey holds the admitted session id in the gin context.
const SessionKey = "session_id"

// Gate admits a WebSocket request only with a valid ?token=. A rejected
// request is still upgraded so the client sees close code 4401 before any
// application message.
func (ctl *SignalWSController) Gate() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := ctl.signer.Verify(c.Query("token"))
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("path", c.FullPath()).Msg("handshake rejected")
			ctl.reject(c)
			c.Abort()
			return
		}
		sid := claims.Session()
		c.Set(SessionKey, string(sid))

		if ctl.sessions != nil {
			if err := ctl.sessions.Touch(c.Request.Context(), sid, time.Now()); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("touch session")
			}
		}
		c.Next()
	}
}

func (ctl *SignalWSController) reject(c *gin.Context) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("reject upgrade")
		return
	}
	defer ws.Close()
	msg := websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.opts.WriteWait))
}
