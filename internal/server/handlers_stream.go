package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/OllieMilton/pulsefeed/internal/hub"
	"github.com/OllieMilton/pulsefeed/internal/metrics"
	"github.com/OllieMilton/pulsefeed/internal/snapshot"
	"github.com/OllieMilton/pulsefeed/internal/wire"
)

// keepaliveInterval is how often an idle SSE connection receives a comment
// so clients can tell a quiet stream from a dead one.
const keepaliveInterval = 30 * time.Second

func (s *Server) handleTimeStream(c echo.Context) error {
	return s.streamSSE(c, s.timeHub)
}

func (s *Server) handleStatusStream(c echo.Context) error {
	return s.streamSSE(c, s.statusHub)
}

// streamSSE subscribes the request to a hub and relays snapshots until the
// client goes away, the hub evicts the subscription, or a write fails.
func (s *Server) streamSSE(c echo.Context, h *hub.Hub) error {
	ip := c.RealIP()
	if ok, reason := s.guard.Acquire(ip); !ok {
		metrics.StreamConnectionsRejectedTotal.WithLabelValues(string(reason)).Inc()
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many connections"})
	}
	defer s.guard.Release(ip)

	sub, err := h.Subscribe()
	if err != nil {
		if errors.Is(err, hub.ErrAtCapacity) {
			metrics.StreamConnectionsRejectedTotal.WithLabelValues("at_capacity").Inc()
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "server at capacity"})
		}
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "stream unavailable"})
	}
	defer sub.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Connection-Id", sub.ID().String())
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	metrics.StreamConnectionsTotal.WithLabelValues("sse").Inc()
	slog.Debug("Stream client connected", "transport", "sse", "connection_id", sub.ID())

	// Late subscribers catch up from the cached snapshot before live events.
	if initial, ok := sub.Initial(); ok {
		if err := s.writeSSEFrame(resp, initial); err != nil {
			return nil
		}
	}

	keepalive := s.clock.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Stream client disconnected", "transport", "sse", "connection_id", sub.ID())
			return nil

		case snap, ok := <-sub.Events():
			if !ok {
				// Evicted by the hub or the hub stopped.
				slog.Debug("Stream subscription closed by hub", "connection_id", sub.ID())
				return nil
			}
			if missed := sub.Lagged(); missed > 0 {
				lag := wire.EncodeLag(sub.ID().String(), missed)
				if err := lag.WriteSSE(resp); err != nil {
					return nil
				}
				resp.Flush()
			}
			if err := s.writeSSEFrame(resp, snap); err != nil {
				slog.Debug("Stream write failed, dropping client", "connection_id", sub.ID(), "error", err)
				return nil
			}

		case <-keepalive.Chan():
			if err := wire.WriteSSEComment(resp, "ping"); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

func (s *Server) writeSSEFrame(resp *echo.Response, snap snapshot.Snapshot) error {
	frame, err := wire.Encode(snap)
	if err != nil {
		slog.Error("Failed to encode snapshot", "sequence", snap.Sequence, "error", err)
		return nil
	}

	timer := prometheus.NewTimer(metrics.StreamWriteDuration.WithLabelValues("sse"))
	defer timer.ObserveDuration()

	if err := frame.WriteSSE(resp); err != nil {
		return err
	}
	resp.Flush()
	return nil
}
