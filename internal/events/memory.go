package events

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemoryBus is an in-process Publisher/Subscriber. Handlers run synchronously on
// the publishing goroutine in registration order.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logrus.Logger
}

// NewMemoryBus creates an empty in-process bus
func NewMemoryBus(logger *logrus.Logger) *MemoryBus {
	return &MemoryBus{
		handlers: make(map[string][]Handler),
		log:      logger,
	}
}

// Subscribe registers handler for topic
func (b *MemoryBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish delivers evt to every handler of its topic. All handlers run even if
// one fails; the failures are joined.
func (b *MemoryBus) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[evt.Topic]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			b.log.WithFields(logrus.Fields{
				"topic": evt.Topic,
				"key":   evt.Key,
				"error": err,
			}).Error("Event handler failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
