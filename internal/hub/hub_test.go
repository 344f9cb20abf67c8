package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestServer(t *testing.T, h *Hub, status StatusFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h.Handler(status))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	h := New(nil)
	srv := createTestServer(t, h, nil)

	c1 := dial(t, srv)
	c2 := dial(t, srv)
	require.Eventually(t, func() bool { return h.Count() == 2 }, time.Second, 10*time.Millisecond)

	h.Broadcast(map[string]string{"type": "state", "state": "rise"})

	for _, c := range []*websocket.Conn{c1, c2} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
		mt, data, err := c.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, mt)
		assert.JSONEq(t, `{"type":"state","state":"rise"}`, string(data))
	}
}

func TestHub_ClientDisconnectRemoves(t *testing.T) {
	h := New(nil)
	srv := createTestServer(t, h, nil)

	c := dial(t, srv)
	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return h.Count() == 0 }, time.Second, 10*time.Millisecond)

	assert.NotPanics(t, func() { h.Broadcast("after close") })
}

func TestHub_BroadcastUnmarshalable(t *testing.T) {
	h := New(nil)
	assert.NotPanics(t, func() { h.Broadcast(make(chan int)) })
}

func TestHub_StateEndpoint(t *testing.T) {
	h := New(nil)
	srv := createTestServer(t, h, func() any {
		return map[string]any{"state": "plateau", "time_in_state_sec": 4.5}
	})

	resp, err := http.Get(srv.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "plateau", body["state"])
	assert.Equal(t, 4.5, body["time_in_state_sec"])
}

func TestHub_StateEndpointWithoutStatus(t *testing.T) {
	h := New(nil)
	srv := createTestServer(t, h, nil)

	resp, err := http.Get(srv.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_Close(t *testing.T) {
	h := New(nil)
	srv := createTestServer(t, h, nil)

	c := dial(t, srv)
	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 10*time.Millisecond)

	h.Close()
	assert.Zero(t, h.Count())

	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := c.ReadMessage()
	assert.Error(t, err)
}
