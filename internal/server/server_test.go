package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netinfo/internal/dispatch"
	"netinfo/internal/metrics"
	"netinfo/internal/models"
)

type fakeBackend struct {
	dispatcher *dispatch.Dispatcher

	mu          sync.Mutex
	state       models.Snapshot
	gateway     string
	transitions []models.Transition
	probes      []models.ProbeResult
	lastFilter  string
	lastLimit   int
	lastSince   time.Time
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		dispatcher: dispatch.New(nil, dispatch.Hooks{}),
		state:      models.UnknownSnapshot(),
	}
}

func (f *fakeBackend) CurrentState(filter string) models.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	return f.state.Clone()
}

func (f *fakeBackend) GatewayAddress(context.Context) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gateway
}

func (f *fakeBackend) SetEmitter(fn dispatch.Listener) { f.dispatcher.SetEmitter(fn) }
func (f *fakeBackend) AddListeners(n int) { f.dispatcher.AddListeners(n) }
func (f *fakeBackend) RemoveListeners(n int) { f.dispatcher.RemoveListeners(n) }

func (f *fakeBackend) Transitions(limit int) []models.Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	return f.transitions
}

func (f *fakeBackend) ProbeHistory(since time.Time, limit int) []models.ProbeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	f.lastSince = since
	return f.probes
}

func (f *fakeBackend) LatestProbe() (models.ProbeResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.probes) == 0 {
		return models.ProbeResult{}, false
	}
	return f.probes[len(f.probes)-1], true
}

func (f *fakeBackend) Uptime() []metrics.ReachabilityUptime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return metrics.ComputeReachabilityUptime(f.probes)
}

func (f *fakeBackend) publish(s models.Snapshot) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	f.dispatcher.Publish(s)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestStateEndpoint(t *testing.T) {
	backend := newFakeBackend()
	srv := New(":0", backend, nil, nil)

	rec := get(t, srv.Handler(), "/api/state?interface=wlan0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"type":"unknown","isConnected":false,"isInternetReachable":null,"details":null,"observedAt":"0001-01-01T00:00:00Z"}`, rec.Body.String())
	assert.Equal(t, "wlan0", backend.lastFilter)
}

func TestGatewayEndpoint(t *testing.T) {
	backend := newFakeBackend()
	srv := New(":0", backend, nil, nil)

	assert.JSONEq(t, `{"gateway":null}`, get(t, srv.Handler(), "/api/gateway").Body.String())

	backend.gateway = "192.168.1.1"
	assert.JSONEq(t, `{"gateway":"192.168.1.1"}`, get(t, srv.Handler(), "/api/gateway").Body.String())
}

func TestHistoryEndpointsClampLimit(t *testing.T) {
	backend := newFakeBackend()
	srv := New(":0", backend, nil, nil)

	assert.JSONEq(t, `[]`, get(t, srv.Handler(), "/api/history?limit=5").Body.String())
	assert.Equal(t, 5, backend.lastLimit)

	get(t, srv.Handler(), "/api/probe/history?limit=100000")
	assert.Equal(t, 200, backend.lastLimit)

	get(t, srv.Handler(), "/api/history?limit=nope")
	assert.Equal(t, 200, backend.lastLimit)
}

func TestProbeEndpoints(t *testing.T) {
	backend := newFakeBackend()
	srv := New(":0", backend, nil, nil)

	assert.JSONEq(t, `{"latest":null}`, get(t, srv.Handler(), "/api/probe/latest").Body.String())

	rec := get(t, srv.Handler(), "/api/probe/history?since=2023-11-14T22:13:20Z&limit=3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), backend.lastSince.UTC())
	assert.Equal(t, 3, backend.lastLimit)

	assert.Equal(t, http.StatusBadRequest, get(t, srv.Handler(), "/api/probe/history?since=yesterday").Code)

	backend.probes = []models.ProbeResult{{Target: "1.1.1.1:53", Method: "tcp", OK: true, LatencyMs: 4, CheckedAt: time.Unix(1700000000, 0).UTC()}}
	assert.JSONEq(t,
		`{"latest":{"target":"1.1.1.1:53","method":"tcp","ok":true,"latencyMs":4,"checkedAt":"2023-11-14T22:13:20Z"}}`,
		get(t, srv.Handler(), "/api/probe/latest").Body.String())
}

func TestUptimeEndpoint(t *testing.T) {
	backend := newFakeBackend()
	backend.probes = []models.ProbeResult{
		{Target: "1.1.1.1:53", Method: "tcp", OK: true, LatencyMs: 4, CheckedAt: time.Unix(1700000000, 0)},
		{Target: "1.1.1.1:53", Method: "tcp", OK: false, CheckedAt: time.Unix(1700000060, 0)},
	}
	srv := New(":0", backend, nil, nil)

	var got []metrics.ReachabilityUptime
	require.NoError(t, json.Unmarshal(get(t, srv.Handler(), "/api/uptime").Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 50.0, got[0].UptimePercent)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := New(":0", newFakeBackend(), nil, nil)
	assert.Equal(t, http.StatusNotFound, get(t, srv.Handler(), "/metrics").Code)

	srv = New(":0", newFakeBackend(), metrics.NewMetrics("test", "go"), nil)
	rec := get(t, srv.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "netinfo_info")
}

func TestEventStream(t *testing.T) {
	backend := newFakeBackend()
	srv := New(":0", backend, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first models.Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, models.ConnectionUnknown, first.Type)
	require.Eventually(t, func() bool { return backend.dispatcher.ListenerCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, srv.hub.size())

	backend.publish(models.Snapshot{
		Type:                models.ConnectionEthernet,
		IsConnected:         true,
		IsInternetReachable: models.ReachabilityReachable,
	})

	var next models.Snapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, models.ConnectionEthernet, next.Type)
	assert.Equal(t, models.ReachabilityReachable, next.IsInternetReachable)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return backend.dispatcher.ListenerCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, srv.hub.size())
}

func TestEventHubDropsOldestForSlowClient(t *testing.T) {
	hub := newEventHub()
	queue := hub.join()
	for i := 0; i < eventsQueueSize+3; i++ {
		hub.broadcast(models.Snapshot{Type: models.ConnectionWifi, ObservedAt: time.Unix(int64(i), 0)})
	}
	require.Len(t, queue, eventsQueueSize)
	first := <-queue
	assert.Equal(t, time.Unix(3, 0), first.ObservedAt)

	hub.leave(queue)
	hub.broadcast(models.Snapshot{})
	assert.Len(t, queue, eventsQueueSize-1)
}

func TestEventStreamRejectsForeignOrigin(t *testing.T) {
	srv := New(":0", newFakeBackend(), nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
