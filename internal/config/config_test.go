package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, int64(65536), cfg.ReadLimit)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, time.Minute, cfg.FindInterval)
	assert.Equal(t, BackendMemory, cfg.Relay.Backend)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)
	assert.Len(t, cfg.Secret, 64, "a random secret is generated")
}

func TestLoadFile_YAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: debug
port: 9000
secret: from-file
token_ttl: 0s
relay:
  backend: nats
  nats_url: nats://broker:4222
ice_servers:
  - urls: ["turn:turn.example:3478"]
    username: u
    credential: p
allowed_origins: ["https://duet.example"]
`), 0o600))
	t.Setenv("DUET_SECRET", "from-env")
	t.Setenv("DUET_STORE_BACKEND", "redis")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "from-env", cfg.Secret)
	assert.Zero(t, cfg.TokenTTL)
	assert.Equal(t, BackendNATS, cfg.Relay.Backend)
	assert.Equal(t, "nats://broker:4222", cfg.Relay.NATSURL)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, ICEServer{URLs: []string{"turn:turn.example:3478"}, Username: "u", Credential: "p"}, cfg.ICEServers[0])
	assert.Equal(t, []string{"https://duet.example"}, cfg.AllowedOrigins)
}

func TestLoadFile_UnknownBackend(t *testing.T) {
	t.Setenv("DUET_RELAY_BACKEND", "kafka")
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "unknown relay backend")
}
