package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OllieMilton/pulsefeed/internal/snapshot"
)

type wsEnvelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

func dialStatusWS(t *testing.T, ts *httptest.Server) *ws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/status"
	conn, resp, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.NotEmpty(t, resp.Header.Get("X-Connection-Id"))
	return conn
}

func readEnvelope(t *testing.T, conn *ws.Conn) wsEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var env wsEnvelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

func TestStatusWebSocketDeliversCachedThenLiveEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	// The driver writes the cache before publishing; mirror that here so the
	// subscriber joins late and catches up from the cache.
	env.statusCache.Set(snapshot.Snapshot{
		Sequence:  1,
		Payload:   statusPayload(),
		Timestamp: time.Now(),
	})

	conn := dialStatusWS(t, ts)

	initial := readEnvelope(t, conn)
	assert.Equal(t, "status-update", initial.Event)
	assert.Equal(t, "1", initial.ID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(initial.Data, &body))
	assert.Equal(t, "status-update", body["event_type"])
	assert.Equal(t, float64(1), body["sequence"])

	env.statusHub.Publish(snapshot.Snapshot{
		Sequence:  2,
		Payload:   statusPayload(),
		Timestamp: time.Now(),
	})

	live := readEnvelope(t, conn)
	assert.Equal(t, "status-update", live.Event)
	assert.Equal(t, "2", live.ID)
}

func TestStatusWebSocketClosesWithGoingAwayOnHubStop(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	conn := dialStatusWS(t, ts)

	env.statusHub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	closeErr, ok := err.(*ws.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, ws.CloseGoingAway, closeErr.Code)
}
