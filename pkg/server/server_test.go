package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gateway/pkg/health"
	"gateway/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ unix atomic.Int64 }

func (c *testClock) Now() time.Time { return time.Unix(c.unix.Load(), 0) }
func (c *testClock) Advance(d time.Duration) { c.unix.Add(int64(d / time.Second)) }

func newMonitor(clock *testClock) *health.Monitor {
	return health.NewMonitor("combat", health.DefaultConfig(),
		health.WithClock(clock.Now),
		health.WithMemoryReader(func() (health.MemoryStats, error) {
			return health.MemoryStats{Current: 1024}, nil
		}))
}

func newTestServer(m *health.Monitor, ready func() bool) *httptest.Server {
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	s := New(":0", ws, m, ready, logger.NewNop())
	return httptest.NewServer(s.Handler())
}

func get(t *testing.T, url string) (int, string, http.Header) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body), resp.Header
}

func TestHealthJSON(t *testing.T) {
	now := &testClock{}
	m := newMonitor(now)
	ts := newTestServer(m, nil)
	defer ts.Close()

	code, body, hdr := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "application/json", hdr.Get("Content-Type"))

	var doc HealthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &doc))
	assert.True(t, doc.Healthy)
	assert.Equal(t, "combat", doc.Status.Gateway)

	now.Advance(10 * time.Minute)
	code, body, _ = get(t, ts.URL+"/health?format=json")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	require.NoError(t, json.Unmarshal([]byte(body), &doc))
	assert.False(t, doc.Healthy)
	assert.Equal(t, []string{"stale"}, doc.Status.Reasons)
}

func TestHealthPrometheus(t *testing.T) {
	now := &testClock{}
	m := newMonitor(now)
	ts := newTestServer(m, nil)
	defer ts.Close()

	code, body, hdr := get(t, ts.URL+"/health?format=prometheus")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, hdr.Get("Content-Type"), "text/plain")
	assert.Contains(t, body, `websocket_up{gateway="combat"} 1`)

	now.Advance(10 * time.Minute)
	code, body, _ = get(t, ts.URL+"/health?format=prometheus")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, `websocket_up{gateway="combat"} 0`)

	code, _, _ = get(t, ts.URL+"/health?format=xml")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReady(t *testing.T) {
	now := &testClock{}
	var ready atomic.Bool
	ts := newTestServer(newMonitor(now), ready.Load)
	defer ts.Close()

	code, _, _ := get(t, ts.URL+"/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	ready.Store(true)
	code, body, _ := get(t, ts.URL+"/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body)
}

func TestRoutes(t *testing.T) {
	now := &testClock{}
	ts := newTestServer(newMonitor(now), nil)
	defer ts.Close()

	code, _, _ := get(t, ts.URL+"/ws")
	assert.Equal(t, http.StatusTeapot, code)

	code, body, _ := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_goroutines")
}

func TestStartFailsWhenAddressTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	now := &testClock{}
	s := New(ln.Addr().String(), http.NotFoundHandler(), newMonitor(now), nil, logger.NewNop())
	assert.Error(t, s.Start())
}

func TestStartAndShutdown(t *testing.T) {
	now := &testClock{}
	s := New("127.0.0.1:0", http.NotFoundHandler(), newMonitor(now), nil, logger.NewNop())
	require.NoError(t, s.Start())

	code, _, _ := get(t, "http://"+s.Addr()+"/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.NoError(t, s.Shutdown(context.Background()))
}
