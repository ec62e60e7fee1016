package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	udp "possync/internal/microservices/udp-server"
	"possync/internal/microservices/websocket"
	"possync/internal/protocol"
)

type MockSessionSource struct {
	mock.Mock
}

func (m *MockSessionSource) Sessions() []udp.SessionSnapshot {
	args := m.Called()
	return args.Get(0).([]udp.SessionSnapshot)
}

func (m *MockSessionSource) SessionCount() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockSessionSource) Metrics() map[string]int64 {
	args := m.Called()
	return args.Get(0).(map[string]int64)
}

func setupRouter(t *testing.T, source SessionSource, hub *websocket.Hub) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(NewHandler(source, hub, zaptest.NewLogger(t)))
}

func TestHealth(t *testing.T) {
	router := setupRouter(t, new(MockSessionSource), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestListSessions(t *testing.T) {
	connected := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	source := new(MockSessionSource)
	source.On("Sessions").Return([]udp.SessionSnapshot{
		{
			ID:            "a1",
			Addr:          netip.MustParseAddrPort("203.0.113.5:40000"),
			Position:      protocol.Vector3{X: 1, Y: 2, Z: 3},
			LastHeartbeat: connected.Add(10 * time.Second),
			ConnectedAt:   connected,
		},
	})
	router := setupRouter(t, source, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count    int `json:"count"`
		Sessions []struct {
			ID       string           `json:"id"`
			Addr     string           `json:"addr"`
			Position protocol.Vector3 `json:"position"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "a1", body.Sessions[0].ID)
	assert.Equal(t, "203.0.113.5:40000", body.Sessions[0].Addr)
	assert.Equal(t, protocol.Vector3{X: 1, Y: 2, Z: 3}, body.Sessions[0].Position)
	source.AssertExpectations(t)
}

func TestListSessions_Empty(t *testing.T) {
	source := new(MockSessionSource)
	source.On("Sessions").Return([]udp.SessionSnapshot{})
	router := setupRouter(t, source, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":0,"sessions":[]}`, w.Body.String())
}

func TestMetrics(t *testing.T) {
	source := new(MockSessionSource)
	source.On("SessionCount").Return(3)
	source.On("Metrics").Return(map[string]int64{"broadcast_ticks": 12, "decode_errors": 1})

	hub := websocket.NewHub(zaptest.NewLogger(t))
	router := setupRouter(t, source, hub)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Sessions  int              `json:"sessions"`
		Observers int              `json:"observers"`
		Counters  map[string]int64 `json:"counters"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Sessions)
	assert.Equal(t, 0, body.Observers)
	assert.Equal(t, int64(12), body.Counters["broadcast_ticks"])
	source.AssertExpectations(t)
}

func TestWebSocketRouteOnlyWithHub(t *testing.T) {
	router := setupRouter(t, new(MockSessionSource), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// with a hub the route exists; a plain GET is not an upgrade
	router = setupRouter(t, new(MockSessionSource), websocket.NewHub(zaptest.NewLogger(t)))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	source := new(MockSessionSource)
	srv := NewServer("127.0.0.1:0", NewHandler(source, nil, zaptest.NewLogger(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("admin server did not stop")
	}
}
