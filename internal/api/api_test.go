package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/config"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/db"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/registry"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/server"
	"github.com/VoxelSrv/VoxelCraftProxy/internal/session"
)

type fakeSessions struct {
	mu      sync.Mutex
	infos   []session.Info
	slots   *server.Slots
	kicked  map[string]string
	kickErr error
}

func (f *fakeSessions) Snapshot() []session.Info { return f.infos }
func (f *fakeSessions) Count() int               { return len(f.infos) }
func (f *fakeSessions) LoggedInCount() int       { return f.slots.LoggedIn() }
func (f *fakeSessions) Slots() *server.Slots     { return f.slots }

func (f *fakeSessions) Kick(idOrPrefix, reason string) (string, error) {
	if f.kickErr != nil {
		return "", f.kickErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked[idOrPrefix+"-full"] = reason
	return idOrPrefix + "-full", nil
}

type fakeHistory struct{ records []db.SessionRecord }

func (f fakeHistory) History(limit int) ([]db.SessionRecord, error) {
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

type testEnv struct {
	cfg      *config.Config
	bus      *events.EventBus
	sessions *fakeSessions
	server   *Server
}

func newEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	cfg.API.RateLimitRPS = 0

	reg, err := registry.Load("")
	require.NoError(t, err)

	slots := server.NewSlots(cfg)
	require.True(t, slots.Acquire())

	sessions := &fakeSessions{
		infos: []session.Info{
			{ID: "aaaa-1111", RemoteAddr: "10.0.0.5:4000", Phase: events.PhasePlaying, DownstreamName: "Steve"},
			{ID: "bbbb-2222", RemoteAddr: "10.0.0.6:4000", Phase: events.PhaseAwaitingLogin},
		},
		slots:  slots,
		kicked: make(map[string]string),
	}

	deps := Deps{Sessions: sessions, Registry: reg}
	if mutate != nil {
		mutate(&deps)
	}

	bus := events.NewEventBus()
	return &testEnv{cfg: cfg, bus: bus, sessions: sessions, server: NewServer(cfg, bus, deps)}
}

func (e *testEnv) do(t *testing.T, method, path, body string, opts ...func(*http.Request)) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "127.0.0.1:50000"
	for _, o := range opts {
		o(req)
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func fromRemote(req *http.Request) { req.RemoteAddr = "198.51.100.7:50000" }

func withBearer(token string) func(*http.Request) {
	return func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) }
}

func TestPublicRoutes(t *testing.T) {
	env := newEnv(t, nil)

	rec, body := env.do(t, "GET", "/api/public/ping", "", fromRemote)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "VoxelCraft", rec.Header().Get("Server"))

	rec, body = env.do(t, "GET", "/api/public/server_info", "", fromRemote)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MCServer", body["name"])
	assert.EqualValues(t, session.DownstreamProtocol, body["protocol"])
	assert.EqualValues(t, 1, body["players"])
	assert.EqualValues(t, 2, body["sessions"])
	assert.EqualValues(t, 10, body["max_players"])
}

func TestBlockRoutes(t *testing.T) {
	env := newEnv(t, nil)

	rec, body := env.do(t, "GET", "/api/public/blocks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Greater(t, body["count"].(float64), 0.0)
	blocks := body["blocks"].(map[string]interface{})
	assert.Contains(t, blocks, "stone")

	rec, body = env.do(t, "GET", "/api/public/blocks/stone", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stone", body["id"])

	rec, _ = env.do(t, "GET", "/api/public/blocks/unobtainium", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env = newEnv(t, func(d *Deps) { d.Registry = nil })
	rec, _ = env.do(t, "GET", "/api/public/blocks", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMonitorRequiresLoopbackWithoutToken(t *testing.T) {
	env := newEnv(t, nil)

	rec, _ := env.do(t, "GET", "/api/monitor/sessions", "", fromRemote)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, "GET", "/api/monitor/sessions", "", fromRemote, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "127.0.0.1")
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, "forwarding headers are not trusted")

	rec, body := env.do(t, "GET", "/api/monitor/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 1, body["logged_in"])
	first := body["sessions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "aaaa-1111", first["id"])
	assert.Equal(t, "playing", first["phase"])
}

func TestMonitorWithToken(t *testing.T) {
	env := newEnv(t, nil)
	env.cfg.API.Token = "s3cret"

	rec, _ := env.do(t, "GET", "/api/monitor/slots", "", fromRemote)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, "GET", "/api/monitor/slots", "", fromRemote, withBearer("wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := env.do(t, "GET", "/api/monitor/slots", "", fromRemote, withBearer("s3cret"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["used"])
	assert.EqualValues(t, 10, body["limit"])
}

func TestHistoryRoute(t *testing.T) {
	env := newEnv(t, nil)
	rec, _ := env.do(t, "GET", "/api/monitor/sessions/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	records := []db.SessionRecord{
		{ID: "c", CloseReason: "kicked"},
		{ID: "b", CloseReason: "client_left"},
		{ID: "a"},
	}
	env = newEnv(t, func(d *Deps) { d.Ledger = fakeHistory{records: records} })

	rec, body := env.do(t, "GET", "/api/monitor/sessions/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])
	first := body["sessions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "c", first["id"])

	rec, _ = env.do(t, "GET", "/api/monitor/sessions/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKickRoute(t *testing.T) {
	env := newEnv(t, nil)

	rec, body := env.do(t, "POST", "/api/control/kick/aaaa", `{"reason":"Be nice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "aaaa-full", body["session"])
	assert.Equal(t, "Be nice", env.sessions.kicked["aaaa-full"])

	rec, _ = env.do(t, "POST", "/api/control/kick/bbbb", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", env.sessions.kicked["bbbb-full"])

	env.sessions.kickErr = fmt.Errorf("%w: zz", server.ErrSessionNotFound)
	rec, _ = env.do(t, "POST", "/api/control/kick/zz", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.sessions.kickErr = fmt.Errorf("%w: a", server.ErrAmbiguousSession)
	rec, _ = env.do(t, "POST", "/api/control/kick/a", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = env.do(t, "POST", "/api/control/kick/aaaa", "", fromRemote)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestConfigRoutes(t *testing.T) {
	env := newEnv(t, nil)
	env.cfg.Password = "hunter2"

	changed := make(chan events.ConfigChangedPayload, 1)
	env.bus.Subscribe(events.EventConfigChanged, "test", func(_ context.Context, e events.Event) error {
		changed <- e.Payload.(events.ConfigChangedPayload)
		return nil
	})

	rec, body := env.do(t, "GET", "/api/configure/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "********", body["password"])
	assert.EqualValues(t, 3001, body["port"])

	rec, body = env.do(t, "POST", "/api/configure/set", `{"key":"maxplayers","value":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, body["validation_errors"])
	assert.Equal(t, 10, env.cfg.MaxPlayers)

	rec, _ = env.do(t, "POST", "/api/configure/set", `{"key":"motd","value":"Welcome"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome", env.cfg.Motd)

	select {
	case p := <-changed:
		assert.Equal(t, "motd", p.Key)
	case <-time.After(2 * time.Second):
		t.Fatal("no config changed event")
	}

	rec, _ = env.do(t, "POST", "/api/configure/set", `{"value":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsAndNoRoute(t *testing.T) {
	env := newEnv(t, func(d *Deps) {
		d.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("voxelcraft_sessions_active 0\n"))
		})
	})

	rec, _ := env.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voxelcraft_sessions_active")

	rec, _ = env.do(t, "GET", "/api/nothing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()

	assert.True(t, rl.Allow("a", now))
	assert.True(t, rl.Allow("a", now))
	assert.False(t, rl.Allow("a", now))
	assert.True(t, rl.Allow("b", now))
	assert.True(t, rl.Allow("a", now.Add(time.Second)))

	assert.True(t, NewRateLimiter(0).Allow("a", now))
}

func TestReadRecentLogEntries(t *testing.T) {
	dir := t.TempDir()
	older := `{"level":"info","time":"2024-01-01T00:00:00Z","message":"old"}` + "\n"
	newer := strings.Join([]string{
		`{"level":"info","time":"2024-01-02T00:00:00Z","message":"first","session":"s1"}`,
		`not json`,
		`{"level":"warn","time":"2024-01-02T00:00:01Z","message":"last"}`,
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "voxelcraft-proxy_2024-01-01.log"), []byte(older), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "voxelcraft-proxy_2024-01-02.log"), []byte(newer), 0644))

	entries, err := readRecentLogEntries(dir, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "not json", entries[0].Message)
	assert.Equal(t, "last", entries[1].Message)
	assert.Equal(t, "warn", entries[1].Level)

	entries, err = readRecentLogEntries(dir, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "s1", entries[0].Fields["session"])
}
