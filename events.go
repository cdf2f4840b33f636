package scgid

import (
	"fmt"
	"sync"
	"time"
)

// EventType enumerates the pool lifecycle events.
type EventType string

const (
	// EventSpawned means a worker slot was reserved and its process started.
	EventSpawned = EventType("spawned")
	// EventReady means a worker reported ready and went Idle.
	EventReady = EventType("ready")
	// EventCrashed means a worker exited unexpectedly.
	EventCrashed = EventType("crashed")
	// EventRetired means a worker was retired and has exited.
	EventRetired = EventType("retired")
	// EventSpawnFailed means a spawn attempt failed and backoff is armed.
	EventSpawnFailed = EventType("spawn_failed")
	// EventHealthFailed means an Idle worker failed a liveness probe.
	EventHealthFailed = EventType("health_failed")
	// EventOverload means a request was rejected because the queue was full.
	EventOverload = EventType("overload")
)

// Event is one pool lifecycle notification.
type Event struct {
	Time   time.Time `json:"time"`
	Type   EventType `json:"type"`
	Pid    int       `json:"pid,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

func (ev Event) String() string {
	return fmt.Sprintf("[Event %s pid=%d %s]", ev.Type, ev.Pid, ev.Detail)
}

// subscriberBacklog is the per-subscriber channel capacity. When a
// subscriber falls behind, its oldest undelivered event is dropped.
const subscriberBacklog = 64

// Events broadcasts pool lifecycle events to any number of
// subscribers without ever blocking the publisher.
type Events struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewEvents returns an empty broadcaster.
func NewEvents() *Events {
	return &Events{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel.
func (evs *Events) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBacklog)
	evs.mu.Lock()
	evs.subs[ch] = struct{}{}
	evs.mu.Unlock()
	cancel := func() {
		evs.mu.Lock()
		if _, ok := evs.subs[ch]; ok {
			delete(evs.subs, ch)
			close(ch)
		}
		evs.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to all subscribers, dropping the oldest
// undelivered event of any subscriber that has fallen behind.
func (evs *Events) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	evs.mu.Lock()
	defer evs.mu.Unlock()
	for ch := range evs.subs {
		for {
			select {
			case ch <- ev:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
