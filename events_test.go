package scgid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Events_publish_subscribe(t *testing.T) {
	evs := NewEvents()
	ch, cancel := evs.Subscribe()
	defer cancel()
	evs.Publish(Event{Type: EventSpawned, Pid: 42})
	select {
	case ev := <-ch:
		assert.Equal(t, EventSpawned, ev.Type)
		assert.Equal(t, 42, ev.Pid)
		assert.False(t, ev.Time.IsZero())
	case <-time.After(time.Second):
		assert.Fail(t, "no event delivered")
	}
}

func Test_Events_publish_without_subscribers(t *testing.T) {
	evs := NewEvents()
	evs.Publish(Event{Type: EventCrashed, Pid: 1})
}

func Test_Events_slow_subscriber_drops_oldest(t *testing.T) {
	evs := NewEvents()
	ch, cancel := evs.Subscribe()
	defer cancel()
	for i := 0; i < subscriberBacklog+3; i++ {
		evs.Publish(Event{Type: EventSpawned, Pid: i})
	}
	ev := <-ch
	assert.Equal(t, 3, ev.Pid)
	n := 1
	for len(ch) > 0 {
		<-ch
		n++
	}
	assert.Equal(t, subscriberBacklog, n)
}

func Test_Events_cancel_is_idempotent(t *testing.T) {
	evs := NewEvents()
	ch, cancel := evs.Subscribe()
	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	evs.Publish(Event{Type: EventReady, Pid: 1})
}
