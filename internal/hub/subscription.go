package hub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/OllieMilton/pulsefeed/internal/snapshot"
)

// Subscription bridges a subscriber's outbound queue to a transport drain
// loop. It holds only a back-reference to the hub for removal, never
// ownership of the queue: the hub closes the events channel, the transport
// just reads from it.
type Subscription struct {
	id        uuid.UUID
	events    <-chan snapshot.Snapshot
	initial   *snapshot.Snapshot
	missed    *atomic.Uint64
	hub       *Hub
	closeOnce sync.Once
}

// ID returns the opaque subscriber token assigned at registration.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Events returns the outbound queue. The channel is closed by the hub when
// the subscriber is removed, whether by Close, eviction, or hub shutdown.
func (s *Subscription) Events() <-chan snapshot.Snapshot {
	return s.events
}

// Initial returns the snapshot that was already cached at subscribe time,
// if any.
func (s *Subscription) Initial() (snapshot.Snapshot, bool) {
	if s.initial == nil {
		return snapshot.Snapshot{}, false
	}
	return *s.initial, true
}

// Lagged returns how many snapshots the hub has dropped from this
// subscriber's queue since the last call, resetting the count. Transports
// check it before each write so a lagging client learns about the gap.
func (s *Subscription) Lagged() uint64 {
	return s.missed.Swap(0)
}

// Close requests removal from the hub. Idempotent and safe to call
// concurrently with an in-flight publish; the drain loop should stop reading
// Events once it has called Close.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.Unsubscribe(s.id)
	})
}
