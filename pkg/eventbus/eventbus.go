// Package eventbus provides the Bus interface and an in-memory implementation
// for fanning out streamed agent progress to subscribers of a session.
package eventbus

import (
	"sync"
	"time"
)

// Type classifies an Event.
type Type string

const (
	// TypeUpdate carries one progress message.
	TypeUpdate Type = "update"
	// TypeError carries an error message reported while the call ran.
	TypeError Type = "error"
	// TypeDone marks the end of an operation; Data holds its outcome.
	TypeDone Type = "done"
)

// Event is one item of session progress.
type Event struct {
	Session   string    `json:"session"`
	Operation string    `json:"operation"`
	Type      Type      `json:"type"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
}

// Bus provides pub/sub for session events.
type Bus interface {
	Subscribe(session string) chan *Event
	Unsubscribe(session string, ch chan *Event)
	Publish(session string, event *Event)
}

// InMemoryBus is the default in-memory Bus implementation.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan *Event
}

// NewInMemoryBus creates a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs: make(map[string][]chan *Event),
	}
}

// Subscribe creates a channel that receives events for a session.
func (b *InMemoryBus) Subscribe(session string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, 64)
	b.subs[session] = append(b.subs[session], ch)
	return ch
}

// Unsubscribe removes a channel from the session's subscribers and closes it.
func (b *InMemoryBus) Unsubscribe(session string, ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[session]
	for i, s := range subs {
		if s == ch {
			b.subs[session] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[session]) == 0 {
				delete(b.subs, session)
			}
			close(ch)
			return
		}
	}
}

// Publish sends an event to all subscribers for a session. Events are
// dropped for subscribers whose buffer is full.
func (b *InMemoryBus) Publish(session string, event *Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[session] {
		select {
		case ch <- event:
		default:
		}
	}
}
