package server

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OllieMilton/pulsefeed/internal/feed"
	"github.com/OllieMilton/pulsefeed/internal/snapshot"
)

// readSSEEvent reads one complete event (up to the blank line) from the
// stream, returning its lines.
func readSSEEvent(t *testing.T, reader *bufio.Reader) []string {
	t.Helper()

	var lines []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return lines
		}
		lines = append(lines, line)
	}
}

func TestTimeStreamDeliversCachedThenLiveEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	cached := snapshot.Snapshot{
		Sequence: 1,
		Payload: feed.TimePayload{
			Timestamp:     time.Now(),
			FormattedTime: "01/01/2026 10:00:00",
		},
		Timestamp: time.Now(),
	}
	// The driver writes the cache before publishing; mirror that here so the
	// subscriber joins late and catches up from the cache.
	env.timeCache.Set(cached)

	resp, err := http.Get(ts.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	assert.NotEmpty(t, resp.Header.Get("X-Connection-Id"))

	reader := bufio.NewReader(resp.Body)

	initial := readSSEEvent(t, reader)
	assert.Contains(t, initial, "event: time-update")
	assert.Contains(t, initial, "id: 1")

	env.timeHub.Publish(snapshot.Snapshot{
		Sequence: 2,
		Payload: feed.TimePayload{
			Timestamp:     time.Now(),
			FormattedTime: "01/01/2026 10:00:10",
		},
		Timestamp: time.Now(),
	})

	live := readSSEEvent(t, reader)
	assert.Contains(t, live, "event: time-update")
	assert.Contains(t, live, "id: 2")

	var dataLine string
	for _, line := range live {
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
		}
	}
	assert.Contains(t, dataLine, `"formatted_time":"01/01/2026 10:00:10"`)
}

func TestStatusStreamUsesEnvelope(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/server-status-stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	reader := bufio.NewReader(resp.Body)

	env.statusHub.Publish(snapshot.Snapshot{
		Sequence:  1,
		Payload:   statusPayload(),
		Timestamp: time.Now(),
	})

	event := readSSEEvent(t, reader)
	assert.Contains(t, event, "event: status-update")

	var dataLine string
	for _, line := range event {
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
		}
	}
	assert.Contains(t, dataLine, `"event_type":"status-update"`)
	assert.Contains(t, dataLine, `"sequence":1`)
}

func TestStreamGuardLimitsPerIP(t *testing.T) {
	guard := NewStreamGuard(StreamGuardConfig{
		MaxPerIP:    2,
		DialsPerSec: 1000,
		DialBurst:   1000,
	})

	ok, _ := guard.Acquire("10.0.0.1")
	require.True(t, ok)
	ok, _ = guard.Acquire("10.0.0.1")
	require.True(t, ok)

	ok, reason := guard.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, RejectReasonPerIP, reason)

	// Other IPs are unaffected.
	ok, _ = guard.Acquire("10.0.0.2")
	assert.True(t, ok)

	// Releasing frees a slot.
	guard.Release("10.0.0.1")
	ok, _ = guard.Acquire("10.0.0.1")
	assert.True(t, ok)
}

func TestStreamGuardRateLimitsDials(t *testing.T) {
	guard := NewStreamGuard(StreamGuardConfig{
		MaxPerIP:    100,
		DialsPerSec: 0.001,
		DialBurst:   1,
	})

	ok, _ := guard.Acquire("10.0.0.1")
	require.True(t, ok)

	ok, reason := guard.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, RejectReasonRate, reason)
}

func TestStreamGuardReleaseUnknownIPIsSafe(t *testing.T) {
	guard := NewStreamGuard(DefaultStreamGuardConfig())
	guard.Release("198.51.100.7")
	assert.Zero(t, guard.ActiveFor("198.51.100.7"))
}
