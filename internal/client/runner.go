package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Runner owns the transport and all reconnect timers, feeding every outcome
// back through the machine. It is the only goroutine that mutates connection
// state.
type Runner struct {
	machine   *Machine
	transport Transport
	clock     clockwork.Clock
	logger    *slog.Logger

	// OnEvent receives every named event from the stream. Keepalives are
	// consumed internally.
	OnEvent func(StreamEvent)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRunner wires a machine to a transport.
func NewRunner(machine *Machine, transport Transport, clock clockwork.Clock, logger *slog.Logger) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		machine:   machine,
		transport: transport,
		clock:     clock,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Disconnect requests an explicit stop. The session ends and no reconnect is
// scheduled; Run returns nil.
func (r *Runner) Disconnect() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Run connects and keeps the session alive until the context is cancelled or
// Disconnect is called. Reconnects follow the machine's backoff schedule.
func (r *Runner) Run(ctx context.Context) error {
	notifierCtx, stopNotifier := context.WithCancel(ctx)
	defer stopNotifier()
	go r.notifyLoop(notifierCtx)

	out := r.machine.Apply(ConnectRequested{})

	for {
		if stopped := r.checkStop(ctx); stopped != nil {
			return stopped.err
		}

		switch out.Effect {
		case EffectDial:
			out = r.dialAndStream(ctx)

		case EffectScheduleRetry:
			next, done, err := r.waitRetry(ctx, out.RetryIn)
			if done {
				return err
			}
			out = next

		case EffectStop, EffectNone:
			return nil
		}
	}
}

type stopResult struct{ err error }

func (r *Runner) checkStop(ctx context.Context) *stopResult {
	select {
	case <-ctx.Done():
		r.machine.Apply(DisconnectRequested{})
		return &stopResult{err: ctx.Err()}
	case <-r.stopCh:
		r.machine.Apply(DisconnectRequested{})
		return &stopResult{err: nil}
	default:
		return nil
	}
}

// dialAndStream opens the transport and pumps events until the connection
// fails or the session is stopped.
func (r *Runner) dialAndStream(ctx context.Context) Outcome {
	conn, err := r.transport.Dial(ctx)
	if err != nil {
		r.logger.Warn("connection attempt failed", "error", err)
		return r.machine.Apply(TransportClosed{Err: err})
	}

	r.logger.Info("connected", "connection_id", conn.ConnectionID())
	r.machine.Apply(TransportOpened{ConnectionID: conn.ConnectionID()})

	// Close the connection when the session ends so Receive unblocks.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
		case <-r.stopCh:
		case <-watchDone:
			return
		}
		conn.Close()
	}()

	for {
		ev, err := conn.Receive()
		if err != nil {
			conn.Close()
			if !errors.Is(err, context.Canceled) {
				r.logger.Warn("connection lost", "error", err)
			}
			return r.machine.Apply(TransportClosed{Err: err})
		}

		r.machine.Apply(ActivityReceived{})
		if !ev.Keepalive() && r.OnEvent != nil {
			r.OnEvent(ev)
		}
	}
}

// waitRetry blocks for the backoff delay. done=true means the session ended
// while waiting.
func (r *Runner) waitRetry(ctx context.Context, delay time.Duration) (Outcome, bool, error) {
	r.logger.Info("reconnecting", "delay", delay)

	timer := r.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return r.machine.Apply(RetryElapsed{}), false, nil
	case <-ctx.Done():
		r.machine.Apply(DisconnectRequested{})
		return Outcome{}, true, ctx.Err()
	case <-r.stopCh:
		r.machine.Apply(DisconnectRequested{})
		return Outcome{}, true, nil
	}
}

// notifyLoop pushes the derived status to observers once a second so
// staleness transitions surface without inbound traffic.
func (r *Runner) notifyLoop(ctx context.Context) {
	ticker := r.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.machine.NotifyObservers()
		}
	}
}
