// Package server implements the HTTP surface using Echo framework.
//
// Routes: SSE streams (/events, /api/server-status-stream), WebSocket
// (/ws/status), REST (/api/time, /api/server-status), manual triggers
// (/api/*/broadcast), health and Prometheus metrics.
// Handlers split by concern: handlers_stream.go, handlers_ws.go,
// handlers_api.go, handlers_health.go.
package server
