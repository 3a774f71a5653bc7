package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/app/credential"
	"github.com/dkeye/Duet/internal/app/matching"
	"github.com/dkeye/Duet/internal/config"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	maxInitBody = 16 << 10
	cookieSID   = "sid"
)

type initRequest struct {
	Locale       *string `json:"locale"`
	Region       *string `json:"region"`
	SignLanguage *string `json:"sign_language"`
	Purpose      *string `json:"purpose"`
	AllowDataUse any     `json:"allow_data_use"`
}

func (r initRequest) empty() bool {
	return r.Locale == nil && r.Region == nil && r.SignLanguage == nil && r.Purpose == nil && r.AllowDataUse == nil
}

func (r initRequest) options() domain.SessionOptions {
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	return domain.SessionOptions{
		Locale:       deref(r.Locale),
		Region:       deref(r.Region),
		SignLanguage: deref(r.SignLanguage),
		Purpose:      deref(r.Purpose),
		AllowDataUse: truthy(r.AllowDataUse),
	}
}

// truthy follows loose JSON truthiness: null, false, 0, "" and empty
// containers are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

type initResponse struct {
	SessionID domain.SessionID `json:"session_id"`
	Token     string           `json:"token"`
}

type sessionAPI struct {
	signer *credential.Signer
	store  core.SessionStore
}

func detail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}

func (a *sessionAPI) initSession(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		detail(c, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// An empty body means all defaults, which ShouldBindJSON would reject.
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInitBody))
	if err != nil {
		detail(c, http.StatusBadRequest, "Invalid JSON")
		return
	}
	var req initRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			detail(c, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}

	ctx := c.Request.Context()
	cookie := sessions.Default(c)
	var rec *domain.Session
	if prev, ok := cookie.Get(cookieSID).(string); ok && req.empty() {
		if rec, err = a.store.Get(ctx, domain.SessionID(prev)); err != nil && !errors.Is(err, core.ErrSessionNotFound) {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("load remembered session")
		}
		if rec != nil {
			if err := a.store.Touch(ctx, rec.ID, time.Now()); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("touch remembered session")
			}
		}
	}

	if rec == nil {
		rec, err = domain.NewSession(req.options(), time.Now().UTC())
		if err != nil {
			detail(c, http.StatusBadRequest, "Invalid field")
			return
		}
		if err := a.store.Save(ctx, rec); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			detail(c, http.StatusInternalServerError, "Session store unavailable")
			return
		}
		log.Info().Str("module", "adapters.http").Str("sid", string(rec.ID)).Str("region", rec.Region).Msg("session created")
	}

	token, err := a.signer.Sign(rec.ID)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("sign token")
		detail(c, http.StatusInternalServerError, "Token signing failed")
		return
	}

	cookie.Set(cookieSID, string(rec.ID))
	if err := cookie.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save cookie session")
	}
	c.JSON(http.StatusOK, initResponse{SessionID: rec.ID, Token: token})
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func iceServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

func rtcConfig(c *gin.Context, servers []webrtc.ICEServer) {
	c.JSON(http.StatusOK, gin.H{"ice_servers": servers})
}

func stats(c *gin.Context, reg *app.Registry, pools *matching.Store) {
	c.JSON(http.StatusOK, app.CollectStats(reg, pools))
}
