package hub

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/OllieMilton/pulsefeed/internal/metrics"
	"github.com/OllieMilton/pulsefeed/internal/snapshot"
)

const (
	commandTimeout     = 5 * time.Second
	commandChannelSize = 256
)

var (
	// ErrStopped is returned by Subscribe once the hub has shut down.
	ErrStopped = errors.New("hub stopped")
	// ErrAtCapacity is returned by Subscribe when the subscriber limit is reached.
	ErrAtCapacity = errors.New("hub at subscriber capacity")
)

// Options configures a Hub.
type Options struct {
	// QueueCapacity bounds each subscriber's outbound queue.
	QueueCapacity int
	// OverflowLimit is the number of consecutive overflowing publishes after
	// which a subscriber is forcibly unsubscribed.
	OverflowLimit int
	// MaxSubscribers caps the registry size. Zero means unlimited.
	MaxSubscribers int
}

func (o *Options) applyDefaults() {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 16
	}
	if o.OverflowLimit <= 0 {
		o.OverflowLimit = 3
	}
}

// subscriber is owned exclusively by the hub goroutine. The outbound queue
// is the only thing a Subscription sees, and only as a receive side.
type subscriber struct {
	id               uuid.UUID
	out              chan snapshot.Snapshot
	registeredAt     time.Time
	consecutiveDrops int
	// missed counts dropped snapshots; shared with the Subscription so the
	// transport can tell the client about the gap.
	missed *atomic.Uint64
}

// --- Command types ---

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type subscribeCmd struct {
	baseHubCmd
	replyChannel chan subscribeReply
}

type subscribeReply struct {
	subscription *Subscription
	err          error
}

type unsubscribeCmd struct {
	baseHubCmd
	id uuid.UUID
}

type publishCmd struct {
	baseHubCmd
	snap snapshot.Snapshot
}

type countCmd struct {
	baseHubCmd
	replyChannel chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub fans immutable snapshots out to a dynamic set of subscribers. It owns
// the subscriber registry and every outbound queue; transports only ever see
// a Subscription. Publish order is delivery order: the feed driver is the
// sole publisher, and each queue is FIFO, so a subscriber that never
// overflows sees an exact, gap-free copy of the publish sequence.
type Hub struct {
	stream  string
	cmdCh   chan hubCmd
	clock   clockwork.Clock
	cache   *snapshot.Cache
	subs    map[uuid.UUID]*subscriber
	opts    Options
	done    chan struct{}
	stopped chan struct{}
}

// New creates a hub for one stream and starts its actor goroutine.
// cache supplies the initial snapshot handed to late-joining subscribers.
func New(stream string, cache *snapshot.Cache, clock clockwork.Clock, opts Options) *Hub {
	opts.applyDefaults()
	h := &Hub{
		stream:  stream,
		cmdCh:   make(chan hubCmd, commandChannelSize),
		clock:   clock,
		cache:   cache,
		subs:    make(map[uuid.UUID]*subscriber),
		opts:    opts,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go h.run()
	return h
}

// Subscribe registers a new subscriber. If a snapshot is already cached it is
// returned synchronously through Subscription.Initial, so a late joiner need
// not wait for the next tick.
func (h *Hub) Subscribe() (*Subscription, error) {
	replyCh := make(chan subscribeReply, 1)

	select {
	case h.cmdCh <- subscribeCmd{replyChannel: replyCh}:
	case <-h.stopped:
		return nil, ErrStopped
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply.subscription, reply.err
	case <-h.stopped:
		return nil, ErrStopped
	case <-timer.Chan():
		return nil, fmt.Errorf("subscribe command timed out after %v", commandTimeout)
	}
}

// Publish fans snap out to every registered subscriber. It never blocks on a
// slow consumer; see handlePublish for the drop policy. Safe to call
// concurrently with Subscribe/Unsubscribe, though the feed driver is
// expected to be the only caller.
func (h *Hub) Publish(snap snapshot.Snapshot) {
	select {
	case h.cmdCh <- publishCmd{snap: snap}:
	case <-h.stopped:
	}
}

// Unsubscribe removes a subscriber. Idempotent: unknown or already-removed
// ids are ignored, so racing a transport close against an in-flight publish
// is harmless.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	select {
	case h.cmdCh <- unsubscribeCmd{id: id}:
	case <-h.stopped:
	}
}

// Count returns the number of registered subscribers, or -1 if the command
// timed out or the hub is stopped.
func (h *Hub) Count() int {
	replyCh := make(chan int, 1)

	select {
	case h.cmdCh <- countCmd{replyChannel: replyCh}:
	case <-h.stopped:
		return -1
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-h.stopped:
		return -1
	case <-timer.Chan():
		slog.Warn("Hub count timed out", "stream", h.stream, "timeout", commandTimeout)
		return -1
	}
}

// Stop shuts the hub down, closing every subscriber queue. Blocks until the
// actor goroutine has exited.
func (h *Hub) Stop() {
	select {
	case h.cmdCh <- stopCmd{}:
	case <-h.stopped:
		return
	}
	<-h.done
}

func (h *Hub) run() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Hub panic recovered", "stream", h.stream, "panic", r)
			h.closeAll()
		}
	}()
	defer close(h.done)

	// Track command channel depth every second
	depthTicker := h.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			metrics.HubCommandChannelDepth.WithLabelValues(h.stream).Set(float64(len(h.cmdCh)))

		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case subscribeCmd:
				c.replyChannel <- h.handleSubscribe()
			case unsubscribeCmd:
				h.handleUnsubscribe(c.id)
			case publishCmd:
				h.handlePublish(c.snap)
			case countCmd:
				c.replyChannel <- len(h.subs)
			case stopCmd:
				h.handleStop()
				return
			default:
				slog.Warn("Hub received unknown command type", "stream", h.stream, "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (h *Hub) handleSubscribe() subscribeReply {
	if h.opts.MaxSubscribers > 0 && len(h.subs) >= h.opts.MaxSubscribers {
		slog.Warn("Rejecting subscriber: max subscribers reached", "stream", h.stream, "max_subscribers", h.opts.MaxSubscribers)
		return subscribeReply{err: ErrAtCapacity}
	}

	sub := &subscriber{
		id:           uuid.New(),
		out:          make(chan snapshot.Snapshot, h.opts.QueueCapacity),
		registeredAt: h.clock.Now(),
		missed:       new(atomic.Uint64),
	}
	h.subs[sub.id] = sub
	metrics.HubActiveSubscribers.WithLabelValues(h.stream).Set(float64(len(h.subs)))

	subscription := &Subscription{id: sub.id, events: sub.out, missed: sub.missed, hub: h}
	if snap, ok := h.cache.Get(); ok {
		subscription.initial = &snap
	}

	slog.Debug("Subscriber registered", "stream", h.stream, "subscriber_id", sub.id.String(), "total_subscribers", len(h.subs))
	return subscribeReply{subscription: subscription}
}

func (h *Hub) handleUnsubscribe(id uuid.UUID) {
	sub, exists := h.subs[id]
	if !exists {
		return
	}

	delete(h.subs, id)
	close(sub.out)
	metrics.HubActiveSubscribers.WithLabelValues(h.stream).Set(float64(len(h.subs)))

	slog.Debug("Subscriber unregistered", "stream", h.stream, "subscriber_id", id.String(), "remaining_subscribers", len(h.subs))
}

// handlePublish attempts a non-blocking enqueue onto each subscriber queue.
//
// Drop policy: drop-oldest. Every snapshot supersedes the previous one, so a
// lagging consumer is best served by discarding the stalest queued value and
// keeping the newest. A subscriber whose queue overflows OverflowLimit
// publishes in a row is treated as effectively disconnected and evicted.
func (h *Hub) handlePublish(snap snapshot.Snapshot) {
	start := h.clock.Now()
	metrics.HubPublishesTotal.WithLabelValues(h.stream).Inc()

	var evict []uuid.UUID
	for id, sub := range h.subs {
		select {
		case sub.out <- snap:
			sub.consecutiveDrops = 0
			continue
		default:
		}

		// Queue full: evict the oldest entry, then enqueue the new one. The
		// inner selects tolerate the drain loop racing us on either side.
		select {
		case <-sub.out:
		default:
		}
		select {
		case sub.out <- snap:
		default:
		}

		sub.consecutiveDrops++
		sub.missed.Add(1)
		metrics.HubSnapshotsDroppedTotal.WithLabelValues(h.stream).Inc()

		if sub.consecutiveDrops >= h.opts.OverflowLimit {
			evict = append(evict, id)
		}
	}

	for _, id := range evict {
		slog.Warn("Evicting slow subscriber", "stream", h.stream, "subscriber_id", id.String())
		metrics.HubSubscribersEvictedTotal.WithLabelValues(h.stream).Inc()
		h.handleUnsubscribe(id)
	}

	metrics.HubPublishDuration.Observe(h.clock.Since(start).Seconds())
}

func (h *Hub) handleStop() {
	slog.Info("Hub shutting down", "stream", h.stream, "subscribers", len(h.subs))
	close(h.stopped)
	h.closeAll()
}

func (h *Hub) closeAll() {
	for id, sub := range h.subs {
		close(sub.out)
		delete(h.subs, id)
	}
	metrics.HubActiveSubscribers.WithLabelValues(h.stream).Set(0)
}
