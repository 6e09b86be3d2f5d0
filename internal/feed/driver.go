package feed

import (
	"context"
	"time"

	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/OllieMilton/pulsefeed/internal/metrics"
	"github.com/OllieMilton/pulsefeed/internal/platform/correlation"
	"github.com/OllieMilton/pulsefeed/internal/platform/retry"
	"github.com/OllieMilton/pulsefeed/internal/snapshot"
)

const (
	defaultCollectTimeout = 2 * time.Second
	collectAttempts       = 2
	collectRetryBackoff   = 50 * time.Millisecond
)

// Source yields a new immutable payload on demand. Collect may fail with a
// recoverable error; the driver keeps broadcasting the last good snapshot
// in that case.
type Source interface {
	Collect(ctx context.Context) (snapshot.Payload, error)
}

// Publisher is the hub surface the driver needs.
type Publisher interface {
	Publish(snapshot.Snapshot)
}

// Driver owns one stream's tick loop. It is the sole writer to the stream's
// cache and the sole caller of Publish, which is what makes the published
// sequence a single global order.
type Driver struct {
	stream         string
	source         Source
	cache          *snapshot.Cache
	publisher      Publisher
	clock          clockwork.Clock
	interval       time.Duration
	collectTimeout time.Duration
	trigger        chan struct{}
	sequence       uint64
}

// NewDriver creates a driver that collects from source every interval and
// publishes through publisher. collectTimeout bounds a single collection;
// zero selects the default.
func NewDriver(stream string, source Source, cache *snapshot.Cache, publisher Publisher, clock clockwork.Clock, interval, collectTimeout time.Duration) *Driver {
	if collectTimeout <= 0 {
		collectTimeout = defaultCollectTimeout
	}
	return &Driver{
		stream:         stream,
		source:         source,
		cache:          cache,
		publisher:      publisher,
		clock:          clock,
		interval:       interval,
		collectTimeout: collectTimeout,
		trigger:        make(chan struct{}, 1),
	}
}

// TriggerNow requests one extra publish cycle out of band. At most one
// trigger can be pending; a second request while one is queued is coalesced
// and reported with false.
func (d *Driver) TriggerNow() bool {
	select {
	case d.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run starts the tick loop and blocks until ctx is cancelled. An immediate
// first cycle populates the cache so early subscribers get a value without
// waiting a full interval.
func (d *Driver) Run(ctx context.Context) {
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	d.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			d.cycle(ctx)
		case <-d.trigger:
			d.cycle(ctx)
		}
	}
}

// cycle runs one collect-cache-publish pass. Collection failures are
// contained here: the last good snapshot is re-published and the loop
// carries on.
func (d *Driver) cycle(ctx context.Context) {
	cycleCtx := correlation.WithID(ctx, correlation.NewID())
	start := d.clock.Now()

	payload, err := d.collect(cycleCtx)
	metrics.CollectorDuration.WithLabelValues(d.stream).Observe(d.clock.Since(start).Seconds())

	if err != nil {
		metrics.CollectorErrorsTotal.WithLabelValues(d.stream).Inc()
		slog.WarnContext(cycleCtx, "Snapshot collection failed", "stream", d.stream, "error", err)

		last, ok := d.cache.Get()
		if !ok {
			return
		}
		metrics.DriverRebroadcastsTotal.WithLabelValues(d.stream).Inc()
		d.publisher.Publish(last)
		return
	}

	d.sequence++
	snap := snapshot.Snapshot{
		Sequence:  d.sequence,
		Payload:   payload,
		Timestamp: d.clock.Now().UTC(),
	}

	if !d.cache.Set(snap) {
		// Cannot happen while this driver is the only writer; trace it
		// rather than publishing a value the cache refused.
		slog.ErrorContext(cycleCtx, "Cache rejected snapshot", "stream", d.stream, "sequence", snap.Sequence)
		return
	}
	d.publisher.Publish(snap)

	slog.DebugContext(cycleCtx, "Published snapshot", "stream", d.stream, "sequence", snap.Sequence)
}

func (d *Driver) collect(ctx context.Context) (snapshot.Payload, error) {
	collectCtx, cancel := context.WithTimeout(ctx, d.collectTimeout)
	defer cancel()

	policy := retry.Policy{MaxAttempts: collectAttempts, InitialBackoff: collectRetryBackoff}
	return retry.Do(collectCtx, policy, retry.Always, func() (snapshot.Payload, error) {
		return d.source.Collect(collectCtx)
	})
}
