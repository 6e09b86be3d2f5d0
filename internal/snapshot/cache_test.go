package snapshot

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	value string
}

func (testPayload) Kind() Kind { return KindTime }

func snap(seq uint64, value string) Snapshot {
	return Snapshot{Sequence: seq, Payload: testPayload{value: value}, Timestamp: time.Now()}
}

func TestCache_EmptyGet(t *testing.T) {
	c := NewCache()
	_, ok := c.Get()
	assert.False(t, ok)
}

func TestCache_SetThenGet(t *testing.T) {
	c := NewCache()
	require.True(t, c.Set(snap(1, "10:00:00")))

	got, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Sequence)
	assert.Equal(t, testPayload{value: "10:00:00"}, got.Payload)
}

func TestCache_RejectsNonIncreasingSequence(t *testing.T) {
	c := NewCache()
	require.True(t, c.Set(snap(5, "first")))

	assert.False(t, c.Set(snap(5, "duplicate")), "equal sequence must be rejected")
	assert.False(t, c.Set(snap(4, "stale")), "lower sequence must be rejected")

	got, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(5), got.Sequence)
	assert.Equal(t, testPayload{value: "first"}, got.Payload)
}

func TestCache_SequenceStrictlyIncreases(t *testing.T) {
	c := NewCache()
	accepted := []uint64{1, 3, 2, 7, 7, 10}

	var visible []uint64
	for _, seq := range accepted {
		c.Set(snap(seq, ""))
		got, _ := c.Get()
		visible = append(visible, got.Sequence)
	}

	assert.Equal(t, []uint64{1, 3, 3, 7, 7, 10}, visible)
}

func TestCache_ConcurrentReaders(t *testing.T) {
	c := NewCache()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for seq := uint64(1); seq <= 100; seq++ {
			c.Set(snap(seq, ""))
		}
	}()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for {
				select {
				case <-done:
					return
				default:
				}
				got, ok := c.Get()
				if !ok {
					continue
				}
				require.GreaterOrEqual(t, got.Sequence, last)
				last = got.Sequence
			}
		}()
	}
	wg.Wait()
}
