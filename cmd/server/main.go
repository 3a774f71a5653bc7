package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Duet/internal/adapters/http"
	"github.com/dkeye/Duet/internal/adapters/relay"
	wssignal "github.com/dkeye/Duet/internal/adapters/signal"
	"github.com/dkeye/Duet/internal/adapters/store"
	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/app/credential"
	"github.com/dkeye/Duet/internal/app/matching"
	"github.com/dkeye/Duet/internal/app/rooms"
	"github.com/dkeye/Duet/internal/app/session"
	"github.com/dkeye/Duet/internal/config"
	"github.com/dkeye/Duet/internal/core"
)

func setupLogger(level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// backends owns the external clients so they are closed after the relay.
type backends struct {
	redis *redis.Client
	nats  *nats.Conn
}

func (b *backends) redisClient(ctx context.Context, addr string) (*redis.Client, error) {
	if b.redis != nil {
		return b.redis, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	b.redis = rdb
	return rdb, nil
}

func (b *backends) close() {
	if b.nats != nil {
		b.nats.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

func newRelay(ctx context.Context, cfg *config.Config, b *backends) (core.Relay, error) {
	switch cfg.Relay.Backend {
	case config.BackendRedis:
		rdb, err := b.redisClient(ctx, cfg.Relay.RedisAddr)
		if err != nil {
			return nil, err
		}
		return relay.NewRedis(ctx, rdb, cfg.Relay.Prefix)
	case config.BackendNATS:
		nc, err := nats.Connect(cfg.Relay.NATSURL,
			nats.Name("duet"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Warn().Err(err).Str("module", "main").Msg("nats disconnected")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Str("module", "main").Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("nats %s: %w", cfg.Relay.NATSURL, err)
		}
		b.nats = nc
		return relay.NewNATS(nc, cfg.Relay.Prefix), nil
	}
	return relay.NewMemory(), nil
}

func newSessionStore(ctx context.Context, cfg *config.Config, b *backends) (core.SessionStore, error) {
	if cfg.Store.Backend != config.BackendRedis {
		return store.NewMemory(), nil
	}
	rdb, err := b.redisClient(ctx, cfg.Store.RedisAddr)
	if err != nil {
		return nil, err
	}
	return store.NewRedis(rdb, cfg.Relay.Prefix, cfg.Store.SessionTTL), nil
}

func sweepLimiter(ctx context.Context, rl *session.FindLimiter, every time.Duration) {
	if rl == nil {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Early logger so config.Load can report; reconfigured from config below.
	setupLogger("info", "console")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	b := &backends{}
	defer b.close()

	backend, err := newRelay(ctx, cfg, b)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Relay.Backend).Msg("failed to start relay")
	}
	sessions, err := newSessionStore(ctx, cfg, b)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open session store")
	}
	defer sessions.Close()

	signer, err := credential.NewSigner(cfg.Secret, cfg.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create signer")
	}

	roomRelay := rooms.NewRelay(backend)
	defer roomRelay.Close()
	pools := matching.NewStore()
	reg := app.NewRegistry()
	limiter := session.NewFindLimiter(cfg.FindLimit, cfg.FindInterval)
	go sweepLimiter(ctx, limiter, cfg.FindInterval)

	deps := session.Deps{
		Engine:      matching.NewEngine(pools, roomRelay),
		Rooms:       roomRelay,
		Registry:    reg,
		Policy:      app.NewPolicy(cfg.Backpressure, cfg.MaxDrops),
		Limiter:     limiter,
		EventBuffer: cfg.SendBuffer,
	}
	ctl := wssignal.NewSignalWSController(ctx, deps, signer, sessions, wssignal.Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		PongWait:       cfg.PongWait,
		WriteWait:      cfg.WriteWait,
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	r := router.SetupRouter(cfg, router.Handlers{
		Signal:   ctl,
		Signer:   signer,
		Sessions: sessions,
		Registry: reg,
		Pools:    pools,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Str("relay", cfg.Relay.Backend).Msg("Duet server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Hijacked sockets survive Shutdown; close them so peers get peer_left.
	reg.CloseAll()
	log.Info().Msg("Server exited gracefully")
}
