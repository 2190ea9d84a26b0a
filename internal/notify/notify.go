// Package notify provides the process-wide change notification channel.
//
// Publishers announce that a collection changed; subscribers (HTTP event
// streams, the TUI, other views) refresh in response. Delivery is best-effort:
// a subscriber whose buffer is full misses the event rather than blocking the
// publisher.
package notify

import (
	"sync"
	"time"
)

// Collections with change events.
const (
	CollectionTasks   = "tasks"
	CollectionClients = "clients"
	CollectionRules   = "automation_rules"
	CollectionBackup  = "backup"
)

// Event types.
const (
	TypeChanged = "changed"
	TypeStatus  = "status"
)

// Event is the payload of every notification.
type Event struct {
	Collection string `json:"collection"`
	Type       string `json:"type"`
}

// Publisher is the send side of the bus.
type Publisher interface {
	Publish(e Event)
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers e to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel func unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Debounce coalesces bursts: an event is forwarded once no further event of
// the same collection arrived for window. The output closes after in closes
// and pending events are flushed.
func Debounce(in <-chan Event, window time.Duration) <-chan Event {
	out := make(chan Event, 16)

	go func() {
		defer close(out)

		pending := make(map[string]Event)
		var order []string
		timer := time.NewTimer(window)
		if !timer.Stop() {
			<-timer.C
		}

		flush := func() {
			for _, key := range order {
				out <- pending[key]
			}
			pending = make(map[string]Event)
			order = order[:0]
		}

		for {
			select {
			case e, ok := <-in:
				if !ok {
					timer.Stop()
					flush()
					return
				}
				if _, seen := pending[e.Collection]; !seen {
					order = append(order, e.Collection)
				}
				pending[e.Collection] = e
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(window)
			case <-timer.C:
				flush()
			}
		}
	}()

	return out
}
