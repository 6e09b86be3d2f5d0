package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Streaming endpoints
	s.echo.GET("/events", s.handleTimeStream)
	s.echo.GET("/api/server-status-stream", s.handleStatusStream)
	s.echo.GET("/ws/status", s.handleStatusWebSocket)

	// REST endpoints
	s.echo.GET("/api/time", s.handleCurrentTime)
	s.echo.GET("/api/server-status", s.handleServerStatus)

	// Manual broadcast triggers (rate limited)
	s.echo.POST("/api/time/broadcast", s.handleTriggerTime)
	s.echo.POST("/api/status/broadcast", s.handleTriggerStatus)
}
