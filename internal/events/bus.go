package events

import (
	"sync"

	"github.com/example/weekpath/internal/platform/logger"
	"github.com/example/weekpath/pkg/models"
)

// Handler receives ProgressChanged notifications
type Handler func(models.ProgressChanged)

// Bus fans ProgressChanged out to in-process subscribers. Handlers run on
// the publisher's goroutine, in subscription order.
type Bus struct {
	log      *logger.Logger
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	order    []int
}

func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		log:      log.With("component", "EventBus"),
		handlers: make(map[int]Handler),
	}
}

// Subscribe registers h and returns a function that removes it
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

// SubscribeAsync registers h behind a queue of size buffer drained by its own
// goroutine, so Publish never waits on h. Events are delivered in order;
// when the queue is full further events are dropped for h and logged.
func (b *Bus) SubscribeAsync(h Handler, buffer int) func() {
	if buffer <= 0 {
		buffer = 1
	}
	queue := make(chan models.ProgressChanged, buffer)
	quit := make(chan struct{})

	go func() {
		for {
			select {
			case <-quit:
				return
			case evt := <-queue:
				b.deliver(h, evt)
			}
		}
	}()

	unsubscribe := b.Subscribe(func(evt models.ProgressChanged) {
		select {
		case queue <- evt:
		default:
			b.log.Warn("subscriber queue full, event dropped", "key", evt.Record.Key.String())
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(quit)
		})
	}
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.handlers, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers evt to every subscriber. A panicking handler is logged
// and does not stop delivery to the others.
func (b *Bus) Publish(evt models.ProgressChanged) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		b.deliver(h, evt)
	}
}

func (b *Bus) deliver(h Handler, evt models.ProgressChanged) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("progress handler panicked", "key", evt.Record.Key.String(), "panic", r)
		}
	}()
	h(evt)
}
