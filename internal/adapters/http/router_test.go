package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Duet/internal/adapters/relay"
	"github.com/dkeye/Duet/internal/adapters/signal"
	"github.com/dkeye/Duet/internal/adapters/store"
	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/app/credential"
	"github.com/dkeye/Duet/internal/app/matching"
	"github.com/dkeye/Duet/internal/app/rooms"
	"github.com/dkeye/Duet/internal/app/session"
	"github.com/dkeye/Duet/internal/config"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router   *gin.Engine
	signer   *credential.Signer
	sessions *store.Memory
	pools    *matching.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:   "test",
		Secret: "router-secret",
		Store:  config.StoreConfig{SessionTTL: time.Hour},
		ICEServers: []config.ICEServer{
			{URLs: []string{"stun:stun.example:3478"}},
			{URLs: []string{"turn:turn.example:3478"}, Username: "u", Credential: "p"},
		},
	}
	rr := rooms.NewRelay(relay.NewMemory())
	pools := matching.NewStore()
	reg := app.NewRegistry()
	signer, err := credential.NewSigner(cfg.Secret, time.Hour)
	require.NoError(t, err)
	sessions := store.NewMemory()
	deps := session.Deps{Engine: matching.NewEngine(pools, rr), Rooms: rr, Registry: reg}
	ctl := signal.NewSignalWSController(context.Background(), deps, signer, sessions, signal.Options{})

	r := SetupRouter(cfg, Handlers{Signal: ctl, Signer: signer, Sessions: sessions, Registry: reg, Pools: pools})
	return &fixture{router: r, signer: signer, sessions: sessions, pools: pools}
}

func (f *fixture) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestInitSession_Defaults(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/session/init", "/api/session/init/"} {
		w := f.do(http.MethodPost, path, "")
		require.Equal(t, http.StatusOK, w.Code, path)
		body := decode(t, w)

		sid := body["session_id"].(string)
		require.NotEmpty(t, sid)
		claims, err := f.signer.Verify(body["token"].(string))
		require.NoError(t, err)
		assert.Equal(t, domain.SessionID(sid), claims.Session())

		rec, err := f.sessions.Get(context.Background(), domain.SessionID(sid))
		require.NoError(t, err)
		assert.Equal(t, "en", rec.Locale)
		assert.Equal(t, "GLOBAL", rec.Region)
		assert.Equal(t, "NONE", rec.SignLanguage)
		assert.Equal(t, "chat", rec.Purpose)
		assert.False(t, rec.AllowDataUse)
	}
}

func TestInitSession_Fields(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/session/init",
		`{"locale":"de","region":"EU","sign_language":"DGS","purpose":"practice","allow_data_use":1}`)
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := f.sessions.Get(context.Background(), domain.SessionID(decode(t, w)["session_id"].(string)))
	require.NoError(t, err)
	assert.Equal(t, "de", rec.Locale)
	assert.Equal(t, "EU", rec.Region)
	assert.Equal(t, "DGS", rec.SignLanguage)
	assert.Equal(t, "practice", rec.Purpose)
	assert.True(t, rec.AllowDataUse)
}

func TestInitSession_Errors(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/session/init", "{oops")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"detail":"Invalid JSON"}`, w.Body.String())

	w = f.do(http.MethodGet, "/api/session/init", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.JSONEq(t, `{"detail":"Method not allowed"}`, w.Body.String())

	w = f.do(http.MethodPost, "/api/session/init", `{"region":"`+strings.Repeat("X", 11)+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInitSession_CookieRemembersSession(t *testing.T) {
	f := newFixture(t)
	first := f.do(http.MethodPost, "/api/session/init", "")
	require.Equal(t, http.StatusOK, first.Code)
	sid := decode(t, first)["session_id"]
	cookies := first.Result().Cookies()
	require.NotEmpty(t, cookies)

	again := f.do(http.MethodPost, "/api/session/init", "{}", cookies...)
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, sid, decode(t, again)["session_id"])

	fresh := f.do(http.MethodPost, "/api/session/init", `{"locale":"fr"}`, cookies...)
	require.Equal(t, http.StatusOK, fresh.Code)
	assert.NotEqual(t, sid, decode(t, fresh)["session_id"], "new options start a new session")
}

func TestRTCConfig(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/rtc/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential string   `json:"credential"`
		} `json:"ice_servers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.ICEServers, 2)
	assert.Equal(t, []string{"stun:stun.example:3478"}, body.ICEServers[0].URLs)
	assert.Equal(t, "u", body.ICEServers[1].Username)
	assert.Equal(t, "p", body.ICEServers[1].Credential)
}

func TestStatsAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.pools.MatchOrEnqueue(domain.ModeRegion, domain.WaitingEntry{Conn: "a", Region: "EU"})

	w := f.do(http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"connections":0,"random_waiting":0,"region_waiting":{"EU":1}}`, w.Body.String())

	w = f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestWSRequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	tok, err := f.signer.Sign("s1")
	require.NoError(t, err)
	w := f.do(http.MethodGet, "/ws/match?token="+tok, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
