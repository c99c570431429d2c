package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one dispatched message.
type Event struct {
	Type      EventType
	Data      json.RawMessage
	SenderID  string
	Timestamp time.Time
}

// Handler processes an event. A returned error is logged; it does not
// stop the other handlers.
type Handler func(Event) error

// Subscription is the handle returned by On.
type Subscription struct {
	bus *Bus
	typ EventType
	id  uint64
}

// Unsubscribe removes the handler. Idempotent.
func (s Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.Off(s)
	}
}

// Type returns the event type the handler was registered for.
func (s Subscription) Type() EventType {
	return s.typ
}

type registration struct {
	id      uint64
	handler Handler
}

// Bus is a publish/subscribe registry keyed by EventType.
// Safe for concurrent use; handlers may call On and Off.
type Bus struct {
	mu       sync.Mutex
	handlers map[EventType][]registration
	nextID   uint64
	logger   *slog.Logger

	handlerErrors atomic.Int64
}

// NewBus creates an empty bus. A nil logger means slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[EventType][]registration),
		logger:   logger,
	}
}

// On registers h for typ. Handlers run in registration order.
func (b *Bus) On(typ EventType, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[typ] = append(b.handlers[typ], registration{id: b.nextID, handler: h})
	return Subscription{bus: b, typ: typ, id: b.nextID}
}

// Off removes the handler behind sub. Unknown subscriptions are ignored.
func (b *Bus) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[sub.typ]
	for i, r := range regs {
		if r.id != sub.id {
			continue
		}
		// Copy so an in-flight snapshot is not mutated.
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, sub.typ)
		} else {
			b.handlers[sub.typ] = next
		}
		return
	}
}

// Count returns the number of handlers registered for typ.
func (b *Bus) Count(typ EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[typ])
}

// HandlerErrors returns how many handler calls failed or panicked.
func (b *Bus) HandlerErrors() int64 {
	return b.handlerErrors.Load()
}

// Emit calls every handler for ev.Type in order. The handler list is
// snapshotted first, so registrations made during dispatch apply to the
// next event.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	regs := b.handlers[ev.Type]
	b.mu.Unlock()

	for _, r := range regs {
		if err := b.call(r.handler, ev); err != nil {
			b.handlerErrors.Add(1)
			b.logger.Error("realtime handler failed",
				"type", string(ev.Type),
				"subscription", r.id,
				"error", err,
			)
		}
	}
}

func (b *Bus) call(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ev)
}
