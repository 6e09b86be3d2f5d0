package snapshot

import "time"

// Kind identifies the payload variant carried by a snapshot. It doubles as
// the wire event name.
type Kind string

const (
	KindTime   Kind = "time-update"
	KindStatus Kind = "status-update"
)

// Payload is one immutable unit of broadcastable data. Implementations must
// be value types (or treated as such): once a payload is handed to the cache
// or the hub it is never mutated.
type Payload interface {
	Kind() Kind
}

// Snapshot pairs a payload with its producer-assigned sequence number.
// Sequence numbers strictly increase across successive snapshots of the
// same stream.
type Snapshot struct {
	Sequence  uint64
	Payload   Payload
	Timestamp time.Time
}
