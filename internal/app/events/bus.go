package events

import (
	"sync"

	"github.com/dkeye/Avatar/internal/domain"
	"github.com/dkeye/Avatar/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Handler func(domain.Event)

// Subscription identifies one On registration; pass it to Off.
type Subscription struct {
	Type domain.EventType
	id   uuid.UUID
}

type entry struct {
	id uuid.UUID
	fn Handler
}

// Bus merges events of every channel into one subscriber-facing stream.
// Dispatch is synchronous and follows registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]entry
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[domain.EventType][]entry)}
}

func (b *Bus) On(t domain.EventType, fn Handler) Subscription {
	id := uuid.New()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], entry{id: id, fn: fn})
	return Subscription{Type: t, id: id}
}

// Off removes a registration. Unknown or already removed subscriptions are ignored.
func (b *Bus) Off(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[s.Type]
	for i, e := range list {
		if e.id == s.id {
			next := make([]entry, 0, len(list)-1)
			next = append(next, list[:i]...)
			b.handlers[s.Type] = append(next, list[i+1:]...)
			return
		}
	}
}

// Emit delivers ev to the handlers registered at call time.
func (b *Bus) Emit(ev domain.Event) {
	b.mu.RLock()
	snapshot := b.handlers[ev.Type]
	b.mu.RUnlock()

	metrics.EventsDispatched.WithLabelValues(string(ev.Type)).Inc()
	for _, e := range snapshot {
		dispatch(ev, e.fn)
	}
}

func dispatch(ev domain.Event, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.WithLabelValues(string(ev.Type)).Inc()
			log.Error().Str("module", "app.events").Str("type", string(ev.Type)).Interface("panic", r).Msg("handler panicked")
		}
	}()
	fn(ev)
}
