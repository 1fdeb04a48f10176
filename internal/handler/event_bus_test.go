package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventBusDeliversToSubscriber(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	go bus.Start()

	ch := bus.Subscribe("client-1")
	bus.Publish("connected", map[string]interface{}{"conn_id": "abc"})

	select {
	case ev := <-ch:
		assert.Equal(t, "connected", ev.Type)
		assert.Equal(t, "abc", ev.Data["conn_id"])
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEventBusFansOutToAllSubscribers(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	go bus.Start()

	a := bus.Subscribe("a")
	b := bus.Subscribe("b")
	bus.Publish("trigger_on", nil)

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, "trigger_on", ev.Type)
		case <-time.After(time.Second):
			t.Fatal("event not delivered to all subscribers")
		}
	}
}

func TestEventBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	go bus.Start()

	ch := bus.Subscribe("client-1")
	bus.Unsubscribe("client-1")

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	// publishing after the last unsubscribe must not panic or block
	bus.Publish("disconnected", nil)
}

func TestEventBusPublishNeverBlocks(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	// bus not started: the internal queue fills and further events drop

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			bus.Publish("idle_timeout", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full bus")
	}
}

func TestEventBusCloseStopsDistributor(t *testing.T) {
	bus := NewEventBus(zap.NewNop())

	stopped := make(chan struct{})
	go func() {
		bus.Start()
		close(stopped)
	}()

	ch := bus.Subscribe("client-1")
	bus.Publish("connected", nil)

	// the queued event still drains before the distributor exits
	select {
	case ev := <-ch:
		assert.Equal(t, "connected", ev.Type)
	case <-time.After(time.Second):
		t.Fatal("event not delivered before close")
	}

	bus.Close()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("distributor did not stop")
	}
}

func TestEventBusSkipsSlowSubscriber(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	go bus.Start()

	// fill the slow subscriber's buffer completely
	slow := bus.Subscribe("slow")
	for i := 0; i < 100; i++ {
		bus.Publish("trigger_off", nil)
	}
	require.Eventually(t, func() bool { return len(slow) == 100 }, 2*time.Second, 5*time.Millisecond)

	// a further event skips the full subscriber but still reaches others
	fast := bus.Subscribe("fast")
	bus.Publish("connected", nil)

	select {
	case ev := <-fast:
		assert.Equal(t, "connected", ev.Type)
	case <-time.After(time.Second):
		t.Fatal("delivery stalled behind a full subscriber")
	}
	assert.Equal(t, 100, len(slow))
}
