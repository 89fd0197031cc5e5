package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reward-bridge/internal/binding"
	"reward-bridge/internal/config"
	"reward-bridge/internal/service"
)

type fakeBinder struct {
	pending map[string]int64
}

func (b *fakeBinder) ConfirmPhrase() string { return "确认绑定" }

func (b *fakeBinder) ConfirmBinding(_ context.Context, account string) (binding.Pending, int, error) {
	uid, ok := b.pending[account]
	if !ok {
		return binding.Pending{}, 0, binding.ErrNotFound
	}
	delete(b.pending, account)
	return binding.Pending{Account: account, RequesterID: uid}, 1, nil
}

type fakeEconomy struct {
	mu      sync.Mutex
	applied []string
	swept   chan struct{}
	release chan struct{}
	sweeps  atomic.Int32
	err     error
}

func (e *fakeEconomy) ApplyOnEvent(_ context.Context, account, trigger string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return 0, e.err
	}
	e.applied = append(e.applied, account+":"+trigger)
	return 30, nil
}

func (e *fakeEconomy) Sweep(context.Context) (int, error) {
	e.sweeps.Add(1)
	if e.release != nil {
		<-e.release
	}
	select {
	case e.swept <- struct{}{}:
	default:
	}
	return 1, nil
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
	resets int
}

func (p *fakePresence) Join(_ context.Context, account string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[account] = true
	return nil
}

func (p *fakePresence) Leave(_ context.Context, account string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, account)
	return nil
}

func (p *fakePresence) Reset(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = map[string]bool{}
	p.resets++
	return nil
}

type fakeRelay struct {
	mu    sync.Mutex
	lines []string
}

func (r *fakeRelay) Relay(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, text)
	return nil
}

type fixture struct {
	binder   *fakeBinder
	economy  *fakeEconomy
	presence *fakePresence
	relay    *fakeRelay
	handler  http.Handler
}

func newFixture(cfg config.HTTPConfig, health map[string]HealthFunc) *fixture {
	f := &fixture{
		binder:   &fakeBinder{pending: map[string]int64{}},
		economy:  &fakeEconomy{swept: make(chan struct{}, 1)},
		presence: &fakePresence{online: map[string]bool{}},
		relay:    &fakeRelay{},
	}
	f.handler = NewServer(cfg, Deps{
		Binder:   f.binder,
		Economy:  f.economy,
		Presence: f.presence,
		Relay:    f.relay,
		Health:   health,
	}).Handler()
	return f
}

func (f *fixture) post(path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestTokenAuth(t *testing.T) {
	f := newFixture(config.HTTPConfig{Token: "s3cret"}, nil)

	w := f.post("/v1/events/chat", "", `{"account":"Steve","message":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.post("/v1/events/chat", "wrong", `{"account":"Steve","message":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeUnauthorized, decode(t, w).Code)

	w = f.post("/v1/events/chat", "s3cret", `{"account":"Steve","message":"hi"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(config.HTTPConfig{RatePerSecond: 0.001, RateBurst: 2}, nil)

	for i := 0; i < 2; i++ {
		w := f.post("/v1/events/chat", "", `{"account":"Steve","message":"hi"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := f.post("/v1/events/chat", "", `{"account":"Steve","message":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, codeRateLimited, decode(t, w).Code)
}

func TestChat_ConfirmPhrase(t *testing.T) {
	f := newFixture(config.HTTPConfig{}, nil)
	f.binder.pending["Steve"] = 42

	w := f.post("/v1/events/chat", "", `{"account":"Steve","message":" 确认绑定 "}`)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]any)
	assert.Equal(t, true, data["bound"])
	assert.EqualValues(t, 42, data["user_id"])
	assert.Empty(t, f.relay.lines, "confirm phrase is not relayed")

	w = f.post("/v1/events/chat", "", `{"account":"Steve","message":"确认绑定"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChat_Relays(t *testing.T) {
	f := newFixture(config.HTTPConfig{}, nil)

	w := f.post("/v1/events/chat", "", `{"account":"Steve","message":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.relay.lines, 1)
	assert.Contains(t, f.relay.lines[0], "<Steve> hello")
}

func TestEvents_BadBody(t *testing.T) {
	f := newFixture(config.HTTPConfig{}, nil)

	for _, body := range []string{`not json`, `{}`, `{"account":"   "}`} {
		w := f.post("/v1/events/join", "", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestJoin_AppliesCurrency(t *testing.T) {
	f := newFixture(config.HTTPConfig{}, nil)

	w := f.post("/v1/events/join", "", `{"account":"Steve"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.presence.online["Steve"])
	assert.Equal(t, []string{"Steve:join"}, f.economy.applied)
	assert.EqualValues(t, 30, decode(t, w).Data.(map[string]any)["applied"])
}

func TestJoin_EconomyErrors(t *testing.T) {
	f := newFixture(config.HTTPConfig{}, nil)

	f.economy.err = service.ErrEconomyDisabled
	w := f.post("/v1/events/join", "", `{"account":"Steve"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	f.economy.err = errors.Join(service.ErrExternalSync, errors.New("redis down"))
	w = f.post("/v1/events/join", "", `{"account":"Steve"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.True(t, f.presence.online["Steve"], "presence is kept even when the credit fails")
}

func TestLeave_SweepsInBackground(t *testing.T) {
	f := newFixture(config.HTTPConfig{}, nil)
	f.presence.online["Steve"] = true

	w := f.post("/v1/events/leave", "", `{"account":"Steve"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.presence.online["Steve"])

	select {
	case <-f.economy.swept:
	case <-time.After(time.Second):
		t.Fatal("sweep was not triggered")
	}
}

func TestLeave_CoalescesSweeps(t *testing.T) {
	f := newFixture(config.HTTPConfig{}, nil)
	f.economy.release = make(chan struct{})

	for _, account := range []string{"Steve", "Alex", "Herobrine", "Notch"} {
		w := f.post("/v1/events/leave", "", `{"account":"`+account+`"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	require.Eventually(t, func() bool { return f.economy.sweeps.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(f.economy.release)
	<-f.economy.swept
	assert.EqualValues(t, 1, f.economy.sweeps.Load())

	// Once the running sweep finishes, the next leave starts a new one.
	require.Eventually(t, func() bool {
		w := f.post("/v1/events/leave", "", `{"account":"Steve"}`)
		return w.Code == http.StatusOK && f.economy.sweeps.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestServerStart_ResetsPresenceAndSweeps(t *testing.T) {
	f := newFixture(config.HTTPConfig{}, nil)
	f.presence.online["Steve"] = true
	f.presence.online["Alex"] = true

	w := f.post("/v1/events/server", "", `{"state":"start"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.presence.online)
	assert.Equal(t, 1, f.presence.resets)
	require.Len(t, f.relay.lines, 1)
	assert.Contains(t, f.relay.lines[0], "服务器已启动")

	select {
	case <-f.economy.swept:
	case <-time.After(time.Second):
		t.Fatal("sweep was not triggered on start")
	}
}

func TestServerStop_ResetsPresence(t *testing.T) {
	f := newFixture(config.HTTPConfig{}, nil)
	f.presence.online["Steve"] = true

	w := f.post("/v1/events/server", "", `{"state":"stop"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.presence.online)
	require.Len(t, f.relay.lines, 1)
	assert.Contains(t, f.relay.lines[0], "服务器已停止")

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, f.economy.sweeps.Load(), "stop does not sweep")
}

func TestServerState_BadBody(t *testing.T) {
	f := newFixture(config.HTTPConfig{}, nil)

	for _, body := range []string{`{}`, `{"state":"restart"}`, `nope`} {
		w := f.post("/v1/events/server", "", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Zero(t, f.presence.resets)
}

func TestDeathAndAdvancement_Relay(t *testing.T) {
	f := newFixture(config.HTTPConfig{}, nil)

	w := f.post("/v1/events/death", "", `{"account":"Steve","message":"Steve fell from a high place"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.post("/v1/events/advancement", "", `{"account":"Alex","message":"Alex has made the advancement [Stone Age]"}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, f.relay.lines, 2)
	assert.Equal(t, "💀 Steve fell from a high place", f.relay.lines[0])
	assert.Equal(t, "🏆 Alex has made the advancement [Stone Age]", f.relay.lines[1])

	w = f.post("/v1/events/death", "", `{"account":"Steve","message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	healthy := newFixture(config.HTTPConfig{}, map[string]HealthFunc{
		"postgres": func(context.Context) error { return nil },
	})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	healthy.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	broken := newFixture(config.HTTPConfig{}, map[string]HealthFunc{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	w = httptest.NewRecorder()
	broken.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "connection refused", decode(t, w).Data.(map[string]any)["redis"])
}
