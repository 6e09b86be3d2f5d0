package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RejectReason describes why a stream connection was refused before it ever
// reached a hub. Hub capacity rejections are reported separately.
type RejectReason string

const (
	RejectReasonPerIP RejectReason = "per_ip_limit"
	RejectReasonRate  RejectReason = "rate_limit"
)

// StreamGuardConfig tunes the per-IP guards in front of the stream endpoints.
type StreamGuardConfig struct {
	MaxPerIP      int
	DialsPerSec   float64
	DialBurst     int
	entryIdleTime time.Duration
}

// DefaultStreamGuardConfig allows a browser full of tabs per address while
// still stopping a single misbehaving source.
func DefaultStreamGuardConfig() StreamGuardConfig {
	return StreamGuardConfig{
		MaxPerIP:      32,
		DialsPerSec:   10,
		DialBurst:     10,
		entryIdleTime: 10 * time.Minute,
	}
}

// StreamGuard limits concurrent stream connections and connection attempts
// per client IP. The hubs enforce the instance-wide subscriber cap; the guard
// protects against single-source abuse.
type StreamGuard struct {
	mu      sync.Mutex
	cfg     StreamGuardConfig
	entries map[string]*guardEntry

	cleanupAt time.Time
}

type guardEntry struct {
	active   int
	dialRate *rate.Limiter
	lastSeen time.Time
}

// NewStreamGuard creates a guard with the given limits.
func NewStreamGuard(cfg StreamGuardConfig) *StreamGuard {
	if cfg.entryIdleTime <= 0 {
		cfg.entryIdleTime = 10 * time.Minute
	}
	return &StreamGuard{
		cfg:       cfg,
		entries:   make(map[string]*guardEntry),
		cleanupAt: time.Now().Add(5 * time.Minute),
	}
}

// Acquire attempts to admit a new stream connection from the given IP.
// The caller must Release on every successful Acquire.
func (g *StreamGuard) Acquire(ip string) (bool, RejectReason) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if time.Now().After(g.cleanupAt) {
		g.cleanup()
		g.cleanupAt = time.Now().Add(5 * time.Minute)
	}

	entry, ok := g.entries[ip]
	if !ok {
		entry = &guardEntry{
			dialRate: rate.NewLimiter(rate.Limit(g.cfg.DialsPerSec), g.cfg.DialBurst),
		}
		g.entries[ip] = entry
	}
	entry.lastSeen = time.Now()

	if !entry.dialRate.Allow() {
		return false, RejectReasonRate
	}
	if entry.active >= g.cfg.MaxPerIP {
		return false, RejectReasonPerIP
	}

	entry.active++
	return true, ""
}

// Release returns a connection slot for the given IP.
func (g *StreamGuard) Release(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[ip]
	if !ok {
		return
	}
	if entry.active > 0 {
		entry.active--
	}
}

// ActiveFor returns the current connection count for the given IP.
func (g *StreamGuard) ActiveFor(ip string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[ip]
	if !ok {
		return 0
	}
	return entry.active
}

// cleanup drops idle entries with no active connections. Must be called with
// mu held.
func (g *StreamGuard) cleanup() {
	cutoff := time.Now().Add(-g.cfg.entryIdleTime)
	for ip, entry := range g.entries {
		if entry.active == 0 && entry.lastSeen.Before(cutoff) {
			delete(g.entries, ip)
		}
	}
}
