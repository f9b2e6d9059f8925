// Package events fans processor lifecycle events out to SSE subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iammorganparry/cmem/internal/models"
)

const defaultBuffer = 64

// Publisher accepts lifecycle events.
type Publisher interface {
	Publish(e models.Event)
}

// Broadcaster delivers each published event to every current subscriber.
// Delivery never blocks the publisher: a subscriber whose buffer is full
// misses the event.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[string]chan models.Event
	buffer  int
	dropped map[string]int
	logger  *slog.Logger
}

func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broadcaster{
		subs:    make(map[string]chan models.Event),
		dropped: make(map[string]int),
		buffer:  buffer,
		logger:  logger,
	}
}

// Subscribe registers a subscriber. Call the returned func to unsubscribe;
// it closes the channel.
func (b *Broadcaster) Subscribe() (<-chan models.Event, func()) {
	id := uuid.New().String()
	ch := make(chan models.Event, b.buffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			delete(b.dropped, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Publish(e models.Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.At == 0 {
		e.At = time.Now().UnixMilli()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped[id]++
			if b.dropped[id] == 1 {
				b.logger.Warn("slow event subscriber, dropping events", "subscriber", id[:8])
			}
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(models.Event) {}
