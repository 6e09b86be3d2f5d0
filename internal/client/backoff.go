package client

import "time"

// Backoff computes reconnect delays as base * 2^min(failures, ExponentCap),
// clamped to Max. With the defaults this yields 1s, 2s, 4s, 8s, 16s and then
// a steady 30s for every further consecutive failure.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	ExponentCap uint32
}

// DefaultBackoff matches the server's keepalive cadence: quick early retries,
// capped at 30 seconds so a long outage does not hammer the endpoint.
var DefaultBackoff = Backoff{
	Base:        time.Second,
	Max:         30 * time.Second,
	ExponentCap: 5,
}

// Delay returns the wait before the next reconnect attempt given the number
// of consecutive failures observed so far.
func (b Backoff) Delay(failures uint32) time.Duration {
	exp := failures
	if exp > b.ExponentCap {
		exp = b.ExponentCap
	}

	d := b.Base << exp
	if d <= 0 || d > b.Max {
		d = b.Max
	}
	return d
}
