package coordination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeDriver struct {
	calls    int
	accepted bool
}

func (d *fakeDriver) TriggerNow() bool {
	d.calls++
	return d.accepted
}

func TestHandleTriggerRoutesToMatchingDriver(t *testing.T) {
	timeDriver := &fakeDriver{accepted: true}
	statusDriver := &fakeDriver{accepted: true}

	bus := NewTriggerBus(nil, map[string]Triggerable{
		"time":   timeDriver,
		"status": statusDriver,
	})

	bus.handleTrigger("time")
	bus.handleTrigger("time")
	bus.handleTrigger("status")

	assert.Equal(t, 2, timeDriver.calls)
	assert.Equal(t, 1, statusDriver.calls)
}

func TestHandleTriggerIgnoresUnknownStream(t *testing.T) {
	timeDriver := &fakeDriver{accepted: true}

	bus := NewTriggerBus(nil, map[string]Triggerable{"time": timeDriver})

	bus.handleTrigger("unknown")

	assert.Zero(t, timeDriver.calls)
}

func TestHandleTriggerToleratesCoalescedTrigger(t *testing.T) {
	driver := &fakeDriver{accepted: false}

	bus := NewTriggerBus(nil, map[string]Triggerable{"time": driver})

	bus.handleTrigger("time")

	assert.Equal(t, 1, driver.calls)
}
