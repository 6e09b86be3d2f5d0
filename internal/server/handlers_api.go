package server

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OllieMilton/pulsefeed/internal/coordination"
	"github.com/OllieMilton/pulsefeed/internal/feed"
	"github.com/OllieMilton/pulsefeed/internal/metrics"
)

// handleCurrentTime returns the current server time without touching the
// broadcast pipeline.
func (s *Server) handleCurrentTime(c echo.Context) error {
	payload, err := s.timeSource.Collect(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read time"})
	}
	return c.JSON(http.StatusOK, payload)
}

// handleServerStatus returns the latest collected status snapshot plus the
// health rating derived from it.
func (s *Server) handleServerStatus(c echo.Context) error {
	snap, ok := s.statusCache.Get()
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "status not collected yet"})
	}

	status, ok := snap.Payload.(feed.StatusSnapshot)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unexpected snapshot payload"})
	}

	health := feed.HealthFromMetrics(
		status.ServerMetrics.CPUUsage.UsagePercentage,
		status.ServerMetrics.MemoryUsage.UsagePercentage,
	)

	return c.JSON(http.StatusOK, map[string]any{
		"server_metrics":              status.ServerMetrics,
		"server_info":                 status.ServerInfo,
		"collection_interval_seconds": status.CollectionIntervalSeconds,
		"health":                      health,
		"sequence":                    snap.Sequence,
		"timestamp":                   snap.Timestamp,
	})
}

func (s *Server) handleTriggerTime(c echo.Context) error {
	return s.handleTrigger(c, "time")
}

func (s *Server) handleTriggerStatus(c echo.Context) error {
	return s.handleTrigger(c, "status")
}

// handleTrigger requests an immediate broadcast for the given stream. When
// the Redis bus is configured the trigger fans out to every instance;
// otherwise only the local driver fires.
func (s *Server) handleTrigger(c echo.Context, stream string) error {
	driver, ok := s.triggers[stream]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown stream"})
	}

	if !s.triggerLimiter.Allow() {
		metrics.TriggerRequestsTotal.WithLabelValues(stream, "rate_limited").Inc()
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "trigger rate limit exceeded"})
	}

	if s.redis != nil {
		if err := coordination.PublishTrigger(c.Request().Context(), s.redis, stream); err != nil {
			slog.Warn("Trigger bus publish failed, falling back to local trigger", "stream", stream, "error", err)
		} else {
			metrics.TriggerRequestsTotal.WithLabelValues(stream, "accepted").Inc()
			return c.JSON(http.StatusAccepted, map[string]any{"stream": stream, "propagated": true})
		}
	}

	triggered := driver.TriggerNow()
	if triggered {
		metrics.TriggerRequestsTotal.WithLabelValues(stream, "accepted").Inc()
	} else {
		metrics.TriggerRequestsTotal.WithLabelValues(stream, "coalesced").Inc()
	}

	return c.JSON(http.StatusAccepted, map[string]any{"stream": stream, "triggered": triggered})
}
