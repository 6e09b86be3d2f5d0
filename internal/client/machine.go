package client

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State is the connection lifecycle state. Staleness is not a state of its
// own: it is derived from how long ago the last event arrived while Connected.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Event is an input to the state machine. Every transition goes through
// Machine.Apply with one of these.
type Event interface {
	isClientEvent()
}

type baseEvent struct{}

func (baseEvent) isClientEvent() {}

// ConnectRequested starts a session, either initially or after an explicit
// disconnect.
type ConnectRequested struct{ baseEvent }

// TransportOpened reports a successfully established connection.
type TransportOpened struct {
	baseEvent
	ConnectionID string
}

// ActivityReceived reports any inbound traffic on the open connection,
// including keepalive pings. It refreshes the staleness baseline.
type ActivityReceived struct{ baseEvent }

// TransportClosed reports that the connection failed or was lost.
type TransportClosed struct {
	baseEvent
	Err error
}

// RetryElapsed reports that the scheduled reconnect delay has passed.
type RetryElapsed struct{ baseEvent }

// DisconnectRequested is the explicit user stop. It resets the machine to its
// initial state and suppresses any further automatic reconnects until the
// next ConnectRequested.
type DisconnectRequested struct{ baseEvent }

// Effect tells the runner what to do after a transition.
type Effect int

const (
	EffectNone Effect = iota
	// EffectDial instructs the runner to open the transport.
	EffectDial
	// EffectScheduleRetry instructs the runner to wait Outcome.RetryIn and
	// then apply RetryElapsed.
	EffectScheduleRetry
	// EffectStop instructs the runner to cancel pending timers and close the
	// transport; the session is over.
	EffectStop
)

// Outcome is the result of applying an event.
type Outcome struct {
	Effect  Effect
	RetryIn time.Duration
}

// MachineConfig tunes backoff and staleness thresholds.
type MachineConfig struct {
	Backoff Backoff
	// PingStaleAfter marks the connection unstable when no traffic (events
	// or keepalives) arrived for this long while Connected.
	PingStaleAfter time.Duration
	// ValueStaleAfter marks a displayed cached value as outdated.
	ValueStaleAfter time.Duration
}

// DefaultMachineConfig mirrors the server's cadence: keepalives every 30s,
// time updates every 10s.
var DefaultMachineConfig = MachineConfig{
	Backoff:         DefaultBackoff,
	PingStaleAfter:  30 * time.Second,
	ValueStaleAfter: 2 * time.Minute,
}

// Status is a point-in-time summary for display. Text carries the exact
// user-facing wording; ShouldAlert tells the UI to render it prominently.
type Status struct {
	State               State
	Text                string
	ShouldAlert         bool
	Stale               bool
	ConsecutiveFailures uint32
	ConnectionID        string
	LastActivityAt      time.Time
}

// Observer receives a Status after every transition and on staleness
// re-evaluation. Observers must not call back into the machine.
type Observer func(Status)

// Machine is the connection state machine. Mutations happen only through
// Apply, which the runner calls from a single goroutine; the mutex exists so
// Status can be read from other goroutines (display tickers, tests).
type Machine struct {
	mu    sync.Mutex
	clock clockwork.Clock
	cfg   MachineConfig

	state          State
	failures       uint32
	connectionID   string
	lastActivityAt time.Time
	userStopped    bool

	observers []Observer
}

// NewMachine builds a machine in the Disconnected state.
func NewMachine(cfg MachineConfig, clock clockwork.Clock) *Machine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Machine{clock: clock, cfg: cfg, state: StateDisconnected}
}

// Subscribe registers an observer for status changes. Must be called before
// the runner starts.
func (m *Machine) Subscribe(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// Apply feeds one event through the machine and returns what the runner
// should do next. Events that do not apply to the current state are ignored.
func (m *Machine) Apply(ev Event) Outcome {
	m.mu.Lock()

	out := Outcome{Effect: EffectNone}

	switch ev := ev.(type) {
	case ConnectRequested:
		if m.state == StateDisconnected {
			m.userStopped = false
			m.failures = 0
			m.state = StateConnecting
			out.Effect = EffectDial
		}

	case TransportOpened:
		if m.state == StateConnecting {
			m.state = StateConnected
			m.failures = 0
			m.connectionID = ev.ConnectionID
			m.lastActivityAt = m.clock.Now()
		}

	case ActivityReceived:
		if m.state == StateConnected {
			m.lastActivityAt = m.clock.Now()
		}

	case TransportClosed:
		if m.state == StateConnecting || m.state == StateConnected {
			m.state = StateDisconnected
			m.connectionID = ""
			if m.userStopped {
				out.Effect = EffectStop
			} else {
				// The delay reflects the failure count before this attempt,
				// so the very first reconnect waits the base delay.
				out.Effect = EffectScheduleRetry
				out.RetryIn = m.cfg.Backoff.Delay(m.failures)
				m.failures++
			}
		}

	case RetryElapsed:
		if m.state == StateDisconnected && !m.userStopped {
			m.state = StateConnecting
			out.Effect = EffectDial
		}

	case DisconnectRequested:
		m.state = StateDisconnected
		m.connectionID = ""
		m.failures = 0
		m.lastActivityAt = time.Time{}
		m.userStopped = true
		out.Effect = EffectStop
	}

	status := m.statusLocked()
	observers := m.observers
	m.mu.Unlock()

	for _, obs := range observers {
		obs(status)
	}
	return out
}

// Status derives the current display status, including staleness.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ValueStale reports whether a cached value received at the given time should
// be flagged as outdated.
func (m *Machine) ValueStale(receivedAt time.Time) bool {
	return m.clock.Since(receivedAt) > m.cfg.ValueStaleAfter
}

// NotifyObservers re-derives the status and pushes it to observers. The
// runner calls this on a ticker so staleness transitions become visible even
// when no events arrive.
func (m *Machine) NotifyObservers() {
	m.mu.Lock()
	status := m.statusLocked()
	observers := m.observers
	m.mu.Unlock()

	for _, obs := range observers {
		obs(status)
	}
}

func (m *Machine) statusLocked() Status {
	s := Status{
		State:               m.state,
		ConsecutiveFailures: m.failures,
		ConnectionID:        m.connectionID,
		LastActivityAt:      m.lastActivityAt,
	}

	switch m.state {
	case StateConnecting:
		s.Text = "Connecting…"
		s.ShouldAlert = true
	case StateConnected:
		if !m.lastActivityAt.IsZero() && m.clock.Since(m.lastActivityAt) > m.cfg.PingStaleAfter {
			s.Stale = true
			s.Text = "Connection unstable"
			s.ShouldAlert = true
		} else {
			s.Text = "Connected"
		}
	default:
		s.Text = "Disconnected"
		s.ShouldAlert = true
	}
	return s
}
