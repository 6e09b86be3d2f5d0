package hub

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OllieMilton/pulsefeed/internal/snapshot"
)

type tickPayload struct {
	FormattedTime string
}

func (tickPayload) Kind() snapshot.Kind { return snapshot.KindTime }

func tick(seq uint64, formatted string) snapshot.Snapshot {
	return snapshot.Snapshot{Sequence: seq, Payload: tickPayload{FormattedTime: formatted}, Timestamp: time.Now()}
}

func testHub(t *testing.T, opts Options) (*Hub, *snapshot.Cache) {
	t.Helper()
	cache := snapshot.NewCache()
	h := New("time-update", cache, clockwork.NewRealClock(), opts)
	t.Cleanup(h.Stop)
	return h, cache
}

// recv reads one snapshot from a subscription or fails the test.
func recv(t *testing.T, sub *Subscription) snapshot.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Events():
		require.True(t, ok, "events channel closed unexpectedly")
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return snapshot.Snapshot{}
	}
}

// recvClosed waits for the subscription's events channel to be closed,
// draining anything still queued.
func recvClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for events channel to close")
		}
	}
}

func waitForCount(h *Hub, expected int) bool {
	for range 1000 {
		if h.Count() == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestHub_SubscribeEmptyCacheHasNoInitial(t *testing.T) {
	h, _ := testHub(t, Options{})

	sub, err := h.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	_, ok := sub.Initial()
	assert.False(t, ok)
}

func TestHub_LateSubscriberGetsCachedSnapshot(t *testing.T) {
	h, cache := testHub(t, Options{})
	require.True(t, cache.Set(tick(1, "10:00:00")))

	sub, err := h.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	initial, ok := sub.Initial()
	require.True(t, ok)
	assert.Equal(t, uint64(1), initial.Sequence)
	assert.Equal(t, tickPayload{FormattedTime: "10:00:00"}, initial.Payload)
}

func TestHub_FanOutInPublishOrder(t *testing.T) {
	h, _ := testHub(t, Options{})

	subA, err := h.Subscribe()
	require.NoError(t, err)
	defer subA.Close()
	subB, err := h.Subscribe()
	require.NoError(t, err)
	defer subB.Close()

	for seq := uint64(1); seq <= 5; seq++ {
		h.Publish(tick(seq, fmt.Sprintf("10:00:0%d", seq)))
	}

	for _, sub := range []*Subscription{subA, subB} {
		for seq := uint64(1); seq <= 5; seq++ {
			assert.Equal(t, seq, recv(t, sub).Sequence)
		}
	}
}

// The end-to-end scenario: empty cache, A joins with no initial value, B
// joins late and gets the cached snapshot immediately, A's transport fails
// and only B keeps receiving.
func TestHub_EndToEndScenario(t *testing.T) {
	h, cache := testHub(t, Options{})

	subA, err := h.Subscribe()
	require.NoError(t, err)
	_, ok := subA.Initial()
	require.False(t, ok, "subscriber A joined before any publish")

	first := tick(1, "10:00:00")
	require.True(t, cache.Set(first))
	h.Publish(first)
	assert.Equal(t, uint64(1), recv(t, subA).Sequence)

	subB, err := h.Subscribe()
	require.NoError(t, err)
	defer subB.Close()
	initial, ok := subB.Initial()
	require.True(t, ok, "subscriber B should get the cached snapshot")
	assert.Equal(t, uint64(1), initial.Sequence)

	second := tick(2, "10:00:05")
	require.True(t, cache.Set(second))
	h.Publish(second)
	assert.Equal(t, uint64(2), recv(t, subA).Sequence)
	assert.Equal(t, uint64(2), recv(t, subB).Sequence)

	// A's transport fails; the drain loop closes the subscription.
	subA.Close()
	require.True(t, waitForCount(h, 1))

	third := tick(3, "10:00:10")
	require.True(t, cache.Set(third))
	h.Publish(third)
	assert.Equal(t, uint64(3), recv(t, subB).Sequence)
	recvClosed(t, subA)
}

// One failed subscriber never disturbs the others: all healthy subscribers
// still see every publish.
func TestHub_SubscriberIsolation(t *testing.T) {
	h, _ := testHub(t, Options{})

	const healthy = 5
	var healthySubs []*Subscription
	for range healthy {
		sub, err := h.Subscribe()
		require.NoError(t, err)
		defer sub.Close()
		healthySubs = append(healthySubs, sub)
	}

	failing, err := h.Subscribe()
	require.NoError(t, err)

	for seq := uint64(1); seq <= healthy; seq++ {
		if seq == 2 {
			// Transport dies mid-stream.
			failing.Close()
		}
		h.Publish(tick(seq, ""))
	}

	for _, sub := range healthySubs {
		for seq := uint64(1); seq <= healthy; seq++ {
			assert.Equal(t, seq, recv(t, sub).Sequence)
		}
	}
}

func TestHub_DropOldestOnOverflow(t *testing.T) {
	h, _ := testHub(t, Options{QueueCapacity: 2, OverflowLimit: 100})

	sub, err := h.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	// Queue capacity is 2; publish 4 without draining. The two oldest are
	// dropped, the two newest survive in order.
	for seq := uint64(1); seq <= 4; seq++ {
		h.Publish(tick(seq, ""))
	}
	require.True(t, waitForCount(h, 1)) // flush the command channel

	assert.Equal(t, uint64(3), recv(t, sub).Sequence)
	assert.Equal(t, uint64(4), recv(t, sub).Sequence)
}

func TestHub_LaggedCountsDroppedSnapshots(t *testing.T) {
	h, _ := testHub(t, Options{QueueCapacity: 2, OverflowLimit: 100})

	sub, err := h.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, uint64(0), sub.Lagged())

	for seq := uint64(1); seq <= 5; seq++ {
		h.Publish(tick(seq, ""))
	}
	require.True(t, waitForCount(h, 1)) // flush the command channel

	// Capacity 2, five publishes: three snapshots were dropped.
	assert.Equal(t, uint64(3), sub.Lagged())
	assert.Equal(t, uint64(0), sub.Lagged(), "Lagged resets the count")
}

func TestHub_EvictsAfterConsecutiveOverflows(t *testing.T) {
	h, _ := testHub(t, Options{QueueCapacity: 1, OverflowLimit: 3})

	sub, err := h.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	// First publish fills the queue; the next three overflow consecutively
	// and trip the eviction threshold.
	for seq := uint64(1); seq <= 4; seq++ {
		h.Publish(tick(seq, ""))
	}

	require.True(t, waitForCount(h, 0), "chronically slow subscriber should be evicted")
	recvClosed(t, sub)
}

func TestHub_DrainResetsOverflowCount(t *testing.T) {
	h, _ := testHub(t, Options{QueueCapacity: 1, OverflowLimit: 3})

	sub, err := h.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	// Overflow twice, then drain so the next publish enqueues cleanly.
	h.Publish(tick(1, ""))
	h.Publish(tick(2, ""))
	h.Publish(tick(3, ""))
	require.True(t, waitForCount(h, 1))
	recv(t, sub)

	h.Publish(tick(4, ""))
	require.True(t, waitForCount(h, 1))
	recv(t, sub)

	// Two more overflows still stay under the consecutive threshold.
	h.Publish(tick(5, ""))
	h.Publish(tick(6, ""))
	h.Publish(tick(7, ""))
	require.True(t, waitForCount(h, 1), "non-consecutive overflows must not evict")
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h, _ := testHub(t, Options{})

	sub, err := h.Subscribe()
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	h.Unsubscribe(sub.ID())
	require.True(t, waitForCount(h, 0))

	// Publishing after removal must not panic or block.
	h.Publish(tick(1, ""))
	require.True(t, waitForCount(h, 0))
}

func TestHub_MaxSubscribers(t *testing.T) {
	h, _ := testHub(t, Options{MaxSubscribers: 2})

	first, err := h.Subscribe()
	require.NoError(t, err)
	defer first.Close()
	second, err := h.Subscribe()
	require.NoError(t, err)
	defer second.Close()

	_, err = h.Subscribe()
	assert.ErrorIs(t, err, ErrAtCapacity)

	// Freeing a slot lets a new subscriber in.
	second.Close()
	require.True(t, waitForCount(h, 1))
	third, err := h.Subscribe()
	require.NoError(t, err)
	third.Close()
}

func TestHub_SubscribeAfterStop(t *testing.T) {
	cache := snapshot.NewCache()
	h := New("time-update", cache, clockwork.NewRealClock(), Options{})

	sub, err := h.Subscribe()
	require.NoError(t, err)

	h.Stop()
	recvClosed(t, sub)

	_, err = h.Subscribe()
	assert.ErrorIs(t, err, ErrStopped)

	// All of these must be safe no-ops after shutdown.
	h.Publish(tick(1, ""))
	h.Unsubscribe(sub.ID())
	h.Stop()
	assert.Equal(t, -1, h.Count())
}

func TestHub_ConcurrentSubscribeUnsubscribeDuringPublish(t *testing.T) {
	h, _ := testHub(t, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for seq := uint64(1); seq <= 200; seq++ {
			h.Publish(tick(seq, ""))
		}
	}()

	for range 50 {
		sub, err := h.Subscribe()
		require.NoError(t, err)
		go func() {
			// Drain a little, then drop out mid-stream.
			for range 3 {
				select {
				case <-sub.Events():
				case <-time.After(100 * time.Millisecond):
				}
			}
			sub.Close()
		}()
	}

	<-done
	require.True(t, waitForCount(h, 0))
}
