package events

import (
	"context"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// Broadcaster provides listener management and non-blocking event fan-out for
// SSE clients. A listener whose buffer is full misses the event.
type Broadcaster struct {
	listeners []chan Event
	mu        sync.RWMutex
}

// NewBroadcaster returns a broadcaster without listeners.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// AddListener adds an event listener.
func (b *Broadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener and closes its channel.
func (b *Broadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Listeners returns the number of attached listeners.
func (b *Broadcaster) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish sends an event to all listeners. It never blocks.
func (b *Broadcaster) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
	return nil
}
