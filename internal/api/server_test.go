package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-pool/internal/bridges/pool"
	"github.com/nerrad567/gray-logic-pool/internal/history"
	"github.com/nerrad567/gray-logic-pool/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pool/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-pool/internal/poolcontroller"
)

const (
	temperatureBody = `{"temperature":{"poolTemp":78,"poolSetPoint":82,"poolHeatModeStr":"Heater"}}`
	circuitBody     = `{"circuit":{
		"2":{"number":2,"circuitFunction":"generic","name":"JETS","friendlyName":"Jets","status":1},
		"5":{"number":5,"circuitFunction":"intellibrite","name":"POOL LIGHT","friendlyName":"Pool Light","status":0},
		"6":{"number":6,"circuitFunction":"pool","name":"POOL","friendlyName":"Pool","status":1}}}`
)

// controllerStub serves fixed snapshots and records command paths.
type controllerStub struct {
	mu    sync.Mutex
	paths []string
	fail  bool
}

func (c *controllerStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")

	c.mu.Lock()
	c.paths = append(c.paths, path)
	fail := c.fail
	c.mu.Unlock()

	switch {
	case path == "temp":
		fmt.Fprint(w, temperatureBody)
	case path == "circuit":
		fmt.Fprint(w, circuitBody)
	case fail:
		w.WriteHeader(http.StatusInternalServerError)
	case strings.HasPrefix(path, "circuit/"):
		fmt.Fprintf(w, `{"value":%t}`, strings.HasSuffix(path, "/1"))
	case strings.HasPrefix(path, "poolheat/setpoint/"):
		fmt.Fprintf(w, `{"value":%s}`, strings.TrimPrefix(path, "poolheat/setpoint/"))
	case strings.HasPrefix(path, "poolheat/mode/"):
		fmt.Fprint(w, `{}`)
	default:
		http.NotFound(w, r)
	}
}

func (c *controllerStub) requested(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.paths {
		if p == path {
			return true
		}
	}
	return false
}

func (c *controllerStub) countPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.paths {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

func (c *controllerStub) setFail(fail bool) {
	c.mu.Lock()
	c.fail = fail
	c.mu.Unlock()
}

type bridgeStub struct {
	mu        sync.Mutex
	status    pool.HealthStatus
	published []int
	polls     int
	changed   int
	pollErr   error
}

func (b *bridgeStub) Health() pool.HealthMessage {
	return pool.HealthMessage{Bridge: "pool-test", Status: b.status, CircuitsManaged: 3}
}

func (b *bridgeStub) PublishState(_ context.Context, number int, source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if source == history.SourceAPI {
		b.published = append(b.published, number)
	}
}

func (b *bridgeStub) Poll(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls++
	return b.changed, b.pollErr
}

type historyStub struct {
	entries []history.Entry
	err     error
	limit   int
}

func (h *historyStub) GetHistory(_ context.Context, circuit int, limit int) ([]history.Entry, error) {
	h.limit = limit
	if h.err != nil {
		return nil, h.err
	}
	var out []history.Entry
	for _, e := range h.entries {
		if e.Circuit == circuit {
			out = append(out, e)
		}
	}
	return out, nil
}

type testEnv struct {
	srv        *Server
	router     http.Handler
	controller *controllerStub
	bridge     *bridgeStub
	history    *historyStub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	stub := &controllerStub{}
	ts := httptest.NewServer(stub)
	t.Cleanup(ts.Close)

	session, err := poolcontroller.NewSession(poolcontroller.Options{
		Host:    strings.TrimPrefix(ts.URL, "http://"),
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if err := session.RefreshCircuits(context.Background()); err != nil {
		t.Fatalf("RefreshCircuits() error = %v", err)
	}

	log, err := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
	if err != nil {
		t.Fatalf("logging.New() error = %v", err)
	}

	env := &testEnv{
		controller: stub,
		bridge:     &bridgeStub{status: pool.HealthHealthy},
		history: &historyStub{entries: []history.Entry{
			{ID: 2, Circuit: 2, Source: history.SourcePoll, CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
			{ID: 1, Circuit: 2, Source: history.SourceCommand, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		}},
	}

	metrics := pool.NewMetrics()
	metrics.SetControllerUp(true, time.Now())

	env.srv, err = New(Deps{
		Config:     config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		Logger:     log,
		Controller: session,
		Bridge:     env.bridge,
		History:    env.history,
		Metrics:    metrics.Handler(),
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.router = env.srv.buildRouter()
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without controller should fail")
	}
}

func TestServer_StartClose(t *testing.T) {
	env := newTestEnv(t)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer env.srv.Close()

	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

// ─── Health and middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	msg := decodeBody[pool.HealthMessage](t, w)
	if msg.Bridge != "pool-test" || msg.Status != pool.HealthHealthy {
		t.Errorf("health = %+v", msg)
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.status = pool.HealthDegraded

	if w := env.do(t, http.MethodGet, "/api/v1/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHealth_WithoutBridge(t *testing.T) {
	env := newTestEnv(t)
	env.srv.bridge = nil

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	body := decodeBody[map[string]any](t, w)
	if body["status"] != "ok" || body["circuits"] != float64(3) {
		t.Errorf("health = %v", body)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a UUID", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if id := w.Header().Get("X-Request-ID"); id != "client-id" {
		t.Errorf("X-Request-ID = %q, want client-id", id)
	}
}

func TestNotFoundRoute(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if e := decodeBody[Error](t, w); e.Code != ErrCodeNotFound {
		t.Errorf("code = %s", e.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	env := newTestEnv(t)
	handler := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pool_controller_up 1") {
		t.Error("exposition missing pool_controller_up")
	}

	env.srv.metrics = nil
	if w := env.do(t, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("disabled metrics status = %d, want 404", w.Code)
	}
}

// ─── Circuits ──────────────────────────────────────────────────────

func TestListCircuits(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		query     string
		wantCode  int
		wantCount int
	}{
		{"", http.StatusOK, 3},
		{"?kind=switch", http.StatusOK, 1},
		{"?kind=thermostat", http.StatusOK, 1},
		{"?kind=Light", http.StatusOK, 1},
		{"?kind=pump", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/circuits"+tt.query, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			body := decodeBody[struct {
				Circuits []poolcontroller.Snapshot `json:"circuits"`
				Count    int                       `json:"count"`
			}](t, w)
			if body.Count != tt.wantCount || len(body.Circuits) != tt.wantCount {
				t.Errorf("count = %d (%d circuits), want %d", body.Count, len(body.Circuits), tt.wantCount)
			}
		})
	}
}

func TestRefreshCircuits(t *testing.T) {
	env := newTestEnv(t)
	env.bridge.changed = 2

	w := env.do(t, http.MethodPost, "/api/v1/circuits/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body := decodeBody[struct {
		Changed  int                       `json:"changed"`
		Circuits []poolcontroller.Snapshot `json:"circuits"`
		Count    int                       `json:"count"`
	}](t, w)
	if body.Changed != 2 || body.Count != 3 || len(body.Circuits) != 3 {
		t.Errorf("body = %+v", body)
	}
	if env.bridge.polls != 1 {
		t.Errorf("polls = %d, want 1", env.bridge.polls)
	}
}

func TestRefreshCircuits_Errors(t *testing.T) {
	tests := []struct {
		name     string
		pollErr  error
		noBridge bool
		wantCode int
	}{
		{name: "timeout", pollErr: &poolcontroller.RequestError{Kind: poolcontroller.KindTimeout, Path: "temp"}, wantCode: http.StatusGatewayTimeout},
		{name: "controller error", pollErr: errors.New("updating data: boom"), wantCode: http.StatusBadGateway},
		{name: "no bridge", noBridge: true, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.bridge.pollErr = tt.pollErr
			if tt.noBridge {
				env.srv.bridge = nil
			}

			w := env.do(t, http.MethodPost, "/api/v1/circuits/refresh", "")
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestGetCircuit(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/circuits/6", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	snap := decodeBody[poolcontroller.Snapshot](t, w)
	if snap.Name != "POOL" || snap.Kind != poolcontroller.KindThermostat ||
		snap.CurrentTemperature == nil || *snap.CurrentTemperature != 78 {
		t.Errorf("snapshot = %+v", snap)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/circuits/99", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown circuit status = %d, want 404", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/circuits/jets", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad number status = %d, want 400", w.Code)
	}
}

func TestSetState(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/circuits/5/state", `{"on":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if snap := decodeBody[poolcontroller.Snapshot](t, w); !snap.On {
		t.Error("light should be on after PUT state")
	}
	if !env.controller.requested("circuit/5/set/1") {
		t.Error("controller did not receive set request")
	}
	if len(env.bridge.published) != 1 || env.bridge.published[0] != 5 {
		t.Errorf("bridge published = %v, want [5]", env.bridge.published)
	}
}

func TestSetState_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		fail     bool
		wantCode int
	}{
		{"invalid json", `{on}`, false, http.StatusBadRequest},
		{"missing on", `{}`, false, http.StatusBadRequest},
		{"controller error", `{"on":false}`, true, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.controller.setFail(tt.fail)

			w := env.do(t, http.MethodPut, "/api/v1/circuits/2/state", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if len(env.bridge.published) != 0 {
				t.Error("failed command should not publish state")
			}
		})
	}
}

func TestSetSetpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/circuits/6/setpoint", `{"temperature":86}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	snap := decodeBody[poolcontroller.Snapshot](t, w)
	if snap.TargetTemperature == nil || *snap.TargetTemperature != 86 {
		t.Errorf("target = %v, want 86", snap.TargetTemperature)
	}

	if w := env.do(t, http.MethodPut, "/api/v1/circuits/2/setpoint", `{"temperature":86}`); w.Code != http.StatusBadRequest {
		t.Errorf("setpoint on switch status = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/v1/circuits/6/setpoint", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing temperature status = %d, want 400", w.Code)
	}
}

func TestSetHeatMode(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/circuits/6/heat-mode", `{"mode":"Solar Pref"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if snap := decodeBody[poolcontroller.Snapshot](t, w); snap.HeaterMode != "Solar Pref" {
		t.Errorf("heater mode = %q", snap.HeaterMode)
	}
	if !env.controller.requested("poolheat/mode/2") {
		t.Error("controller did not receive heat mode request")
	}

	w = env.do(t, http.MethodPut, "/api/v1/circuits/6/heat-mode", `{"mode":"Bogus"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown mode status = %d, want 400", w.Code)
	}
	if env.controller.countPrefix("poolheat/mode/") != 1 {
		t.Error("unknown mode should not reach the controller")
	}
}

// ─── History ───────────────────────────────────────────────────────

func TestGetHistory(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/circuits/2/history?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody[struct {
		Circuit int             `json:"circuit"`
		History []history.Entry `json:"history"`
		Count   int             `json:"count"`
	}](t, w)
	if body.Count != 2 || body.History[0].ID != 2 {
		t.Errorf("history = %+v", body)
	}
	if env.history.limit != 10 {
		t.Errorf("limit = %d, want 10", env.history.limit)
	}

	w = env.do(t, http.MethodGet, "/api/v1/circuits/5/history", "")
	if !strings.Contains(w.Body.String(), `"history":[]`) {
		t.Errorf("empty history body = %s", w.Body.String())
	}
	if env.history.limit != defaultHistoryLimit {
		t.Errorf("default limit = %d, want %d", env.history.limit, defaultHistoryLimit)
	}
}

func TestGetHistory_Errors(t *testing.T) {
	env := newTestEnv(t)

	for _, q := range []string{"?limit=0", "?limit=abc", "?limit=500"} {
		if w := env.do(t, http.MethodGet, "/api/v1/circuits/2/history"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", q, w.Code)
		}
	}

	env.history.err = errors.New("disk gone")
	if w := env.do(t, http.MethodGet, "/api/v1/circuits/2/history", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("repository error status = %d, want 500", w.Code)
	}

	env.srv.history = nil
	w := env.do(t, http.MethodGet, "/api/v1/circuits/2/history", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled history status = %d, want 503", w.Code)
	}
}
