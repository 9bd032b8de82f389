package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Handler consumes a security event. Handlers must not retain the event.
type Handler func(ctx context.Context, ev SecurityEvent) error

// Bus dispatches security events to handlers registered at startup.
// Dispatch is synchronous and ordered: handlers run in registration order,
// and one handler failing (or panicking) does not prevent the rest from
// running. Publishing an event no handler is registered for is a silent
// no-op; the bus must never become a point of failure for flows like
// authentication.
type Bus struct {
	mu       sync.RWMutex
	sealed   bool
	handlers map[audit.Event][]Handler
	logger   *observability.Logger
}

// NewBus creates an empty event bus.
func NewBus(logger *observability.Logger) *Bus {
	return &Bus{
		handlers: make(map[audit.Event][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event kind. Subscription is a
// startup-time operation; after Seal it returns an error.
func (b *Bus) Subscribe(kind audit.Event, h Handler) error {
	if h == nil {
		return errors.New("events: handler is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return errors.New("events: bus is sealed, handlers cannot be added at request time")
	}
	b.handlers[kind] = append(b.handlers[kind], h)
	return nil
}

// Seal freezes the handler table. Called once wiring is complete.
func (b *Bus) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

// Publish dispatches the event to its handlers. The returned error joins
// all handler failures; every handler runs regardless. Callers performing
// security-critical mutations should check it, everyone else may ignore it.
func (b *Bus) Publish(ctx context.Context, ev SecurityEvent) error {
	if ev == nil {
		return nil
	}
	b.mu.RLock()
	handlers := b.handlers[ev.Kind()]
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := b.invoke(ctx, h, ev); err != nil {
			errs = append(errs, err)
			if b.logger != nil {
				b.logger.WithError(err).WithField("event", string(ev.Kind())).Error("security event handler failed")
			}
		}
	}
	return errors.Join(errs...)
}

// invoke runs one handler, converting a panic into an error so a broken
// handler cannot take down the dispatching request.
func (b *Bus) invoke(ctx context.Context, h Handler, ev SecurityEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("events: handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}
