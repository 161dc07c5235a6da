package service

import (
	"sync"

	"openqr/internal/history"
)

// Event names delivered to subscribers.
const (
	EventScanInput     = "scan-input"
	EventScanError     = "scan-error"
	EventScanProcessed = "scan-processed"
	EventListenerState = "listener-state"
)

// Event is a notification for UI collaborators.
type Event struct {
	Name string `json:"name"`
	// Text is the raw scan for scan-input and the message for scan-error.
	Text   string          `json:"text,omitempty"`
	Record *history.Record `json:"record,omitempty"`
	Host   string          `json:"host,omitempty"`
	Active *bool           `json:"active,omitempty"`
}

const subscriberBuffer = 64

// bus fans events out to subscribers. A subscriber that falls behind loses
// events rather than stalling the publisher.
type bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Event)}
}

func (b *bus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

func (b *bus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
