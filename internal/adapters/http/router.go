package http

import (
	"github.com/dkeye/Duet/internal/adapters/signal"
	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/app/credential"
	"github.com/dkeye/Duet/internal/app/matching"
	"github.com/dkeye/Duet/internal/config"
	"github.com/dkeye/Duet/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Handlers are the collaborators the routes need.
type Handlers struct {
	Signal   *signal.SignalWSController
	Signer   *credential.Signer
	Sessions core.SessionStore
	Registry *app.Registry
	Pools    *matching.Store
}

func SetupRouter(cfg *config.Config, h Handlers) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(cfg.Store.SessionTTL.Seconds()), HttpOnly: true})
	r.Use(sessions.Sessions("DuetSessions", store))

	api := &sessionAPI{signer: h.Signer, store: h.Sessions}
	ice := iceServers(cfg.ICEServers)

	r.GET("/health", health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rest := r.Group("/api")
	rest.Any("/session/init", api.initSession)
	rest.Any("/session/init/", api.initSession)
	rest.GET("/rtc/config", func(c *gin.Context) { rtcConfig(c, ice) })
	rest.GET("/stats", func(c *gin.Context) { stats(c, h.Registry, h.Pools) })

	ws := r.Group("/ws", h.Signal.Gate())
	ws.GET("/match", h.Signal.HandleMatch)
	ws.GET("/match/", h.Signal.HandleMatch)
	ws.GET("/echo", h.Signal.HandleEcho)
	ws.GET("/echo/", h.Signal.HandleEcho)

	log.Info().Str("module", "adapters.http").Int("ice_servers", len(ice)).Msg("router setup")
	return r
}
