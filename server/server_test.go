package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twomile/harmonics/embedding"
	"github.com/twomile/harmonics/internal/cache"
	"github.com/twomile/harmonics/llm"
	"github.com/twomile/harmonics/orchestrator"
	"github.com/twomile/harmonics/stream"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()

	local, err := cache.NewLRU(100)
	require.NoError(t, err)
	embedder := embedding.NewService(nil, local, nil, 32, nil, nil)
	broadcaster := stream.NewBroadcaster(64, nil, nil)

	// Credential-less adapters: every response is a deterministic
	// fallback, which keeps the end-to-end path fast and offline.
	adapters := []*llm.Adapter{
		llm.NewAdapter(llm.AdapterConfig{ID: "alpha"}, nil, nil, nil, nil),
		llm.NewAdapter(llm.AdapterConfig{ID: "beta"}, nil, nil, nil, nil),
	}
	mgr := orchestrator.NewManager(orchestrator.Options{Iterations: 1, Turns: 1},
		adapters, embedder, local, broadcaster, nil, nil, nil)

	srv := New("127.0.0.1:0", mgr, broadcaster, nil, nil)
	ts := httptest.NewServer(srv.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return ts, srv
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func send(t *testing.T, conn *websocket.Conn, cmd map[string]any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestServer_Health(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["demo_mode"])
}

func TestServer_ConnectedGreeting(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)

	ev := readEvent(t, conn)
	assert.Equal(t, "connected", ev["type"])
	assert.Equal(t, true, ev["demo_mode"])
	assert.Equal(t, true, ev["cache_enabled"])
	assert.Empty(t, ev["available_backends"], "no adapter has a credential")
}

func TestServer_Ping(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)
	readEvent(t, conn) // greeting

	send(t, conn, map[string]any{"type": "ping"})
	ev := readEvent(t, conn)
	assert.Equal(t, "pong", ev["type"])
}

func TestServer_GetStats(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)
	readEvent(t, conn) // greeting

	send(t, conn, map[string]any{"type": "get_stats"})
	ev := readEvent(t, conn)
	require.Equal(t, "stats", ev["type"])

	cacheStats, ok := ev["cache"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(100), cacheStats["capacity"])
}

func TestServer_ToggleDemoBroadcasts(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)
	readEvent(t, conn) // greeting

	send(t, conn, map[string]any{"type": "toggle_demo"})
	ev := readEvent(t, conn)
	assert.Equal(t, "demo_toggled", ev["type"])
	assert.Equal(t, true, ev["demo_mode"])
}

func TestServer_StartStreamsConversation(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)
	readEvent(t, conn) // greeting

	send(t, conn, map[string]any{"type": "start", "prompt": "run it"})

	// 1 turn x 1 round x 2 backends: 2 responses, 1 round_combined,
	// 1 turn_combined, in stream order.
	counts := map[string]int{}
	for i := 0; i < 4; i++ {
		counts[readEvent(t, conn)["type"].(string)]++
	}
	assert.Equal(t, 2, counts["response"])
	assert.Equal(t, 1, counts["round_combined"])
	assert.Equal(t, 1, counts["turn_combined"])
}

func TestServer_MalformedCommandIgnored(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)
	readEvent(t, conn) // greeting

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not-json")))

	// The connection must stay alive.
	send(t, conn, map[string]any{"type": "ping"})
	ev := readEvent(t, conn)
	assert.Equal(t, "pong", ev["type"])
}

func TestServer_UnknownCommandIgnored(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)
	readEvent(t, conn) // greeting

	send(t, conn, map[string]any{"type": "mystery"})
	send(t, conn, map[string]any{"type": "ping"})
	ev := readEvent(t, conn)
	assert.Equal(t, "pong", ev["type"])
}
