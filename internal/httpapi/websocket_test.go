package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nubo-edu/cloudinha/go/orchestrator/internal/engine"
)

func TestWebSocketTurn(t *testing.T) {
	runner := &stubRunner{events: []engine.Event{engine.Text("cloudinha_agent", "Olá!")}}
	srv := newTestServer(runner, nil)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream/ws"
	header := http.Header{"X-User-ID": []string{"u1"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"session_id": "s1", "message": "oi"}))

	var first map[string]interface{}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "text", first["type"])
	assert.Equal(t, "Olá!", first["content"])

	var done map[string]interface{}
	require.NoError(t, conn.ReadJSON(&done))
	assert.Equal(t, "done", done["type"])
	assert.Equal(t, "s1", done["session_id"])

	// The connection stays usable for the next turn.
	require.NoError(t, conn.WriteJSON(map[string]string{"session_id": "s1", "message": "tudo bem?"}))
	var next map[string]interface{}
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "text", next["type"])
}

func TestWebSocketRejectsEmptyMessage(t *testing.T) {
	srv := newTestServer(&stubRunner{}, nil)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-ID": []string{"u1"}})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"message": ""}))

	var resp map[string]interface{}
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp["type"])
}
