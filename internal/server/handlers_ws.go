package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/OllieMilton/pulsefeed/internal/hub"
	"github.com/OllieMilton/pulsefeed/internal/metrics"
	"github.com/OllieMilton/pulsefeed/internal/snapshot"
	"github.com/OllieMilton/pulsefeed/internal/wire"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Status stream is public
	},
}

func (s *Server) handleStatusWebSocket(c echo.Context) error {
	ip := c.RealIP()
	if ok, reason := s.guard.Acquire(ip); !ok {
		metrics.StreamConnectionsRejectedTotal.WithLabelValues(string(reason)).Inc()
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many connections"})
	}
	defer s.guard.Release(ip)

	sub, err := s.statusHub.Subscribe()
	if err != nil {
		if errors.Is(err, hub.ErrAtCapacity) {
			metrics.StreamConnectionsRejectedTotal.WithLabelValues("at_capacity").Inc()
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "server at capacity"})
		}
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "stream unavailable"})
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), http.Header{
		"X-Connection-Id": []string{sub.ID().String()},
	})
	if err != nil {
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	metrics.StreamConnectionsTotal.WithLabelValues("websocket").Inc()
	slog.Debug("Stream client connected", "transport", "websocket", "connection_id", sub.ID())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.wsWritePump(conn, sub)
	}()

	// Read pump — blocks until the connection closes. Inbound frames are
	// ignored; the stream is one-way.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	sub.Close()
	conn.Close()
	<-writerDone

	slog.Debug("Stream client disconnected", "transport", "websocket", "connection_id", sub.ID())
	return nil //nolint:nilerr // ReadMessage err is block-scoped; outer err is nil
}

// wsWritePump relays snapshots and pings until the subscription closes or a
// write fails.
func (s *Server) wsWritePump(conn *websocket.Conn, sub *hub.Subscription) {
	defer conn.Close()

	if initial, ok := sub.Initial(); ok {
		if err := writeWSSnapshot(conn, initial); err != nil {
			return
		}
	}

	ping := s.clock.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-sub.Events():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			if missed := sub.Lagged(); missed > 0 {
				if err := writeWSFrame(conn, wire.EncodeLag(sub.ID().String(), missed)); err != nil {
					return
				}
			}
			if err := writeWSSnapshot(conn, snap); err != nil {
				return
			}

		case <-ping.Chan():
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeWSSnapshot(conn *websocket.Conn, snap snapshot.Snapshot) error {
	frame, err := wire.Encode(snap)
	if err != nil {
		slog.Error("Failed to encode snapshot", "sequence", snap.Sequence, "error", err)
		return nil
	}
	return writeWSFrame(conn, frame)
}

func writeWSFrame(conn *websocket.Conn, frame wire.Frame) error {
	data, err := frame.MarshalWebSocket()
	if err != nil {
		slog.Error("Failed to encode websocket frame", "event", frame.Event, "error", err)
		return nil
	}

	timer := prometheus.NewTimer(metrics.StreamWriteDuration.WithLabelValues("websocket"))
	defer timer.ObserveDuration()

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
