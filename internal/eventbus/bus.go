// Package eventbus is the in-process publish point for domain events.
//
// Emit is synchronous: every listener registered when Emit starts runs, in
// registration order, before Emit returns. Listeners may call Emit again;
// the bus holds no lock while listeners run.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/djlord-it/easy-automation/internal/domain"
)

// ErrDisposed is returned by Subscribe and Emit after Dispose.
var ErrDisposed = errors.New("eventbus: disposed")

// Listener handles one domain event.
type Listener func(ctx context.Context, event domain.DomainEvent) error

// ListenerError is one listener's failure for one event.
type ListenerError struct {
	Listener string
	EventID  string
	Err      error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %s on event %s: %v", e.Listener, e.EventID, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}

// MetricsSink defines the interface for recording bus metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	EventPublished(eventType string)
	ListenerFailed(listener string)
}

type subscription struct {
	id   uint64
	name string
	fn   Listener
}

type Bus struct {
	mu       sync.Mutex
	subs     []subscription
	nextID   uint64
	disposed bool

	metrics MetricsSink // optional, nil = disabled
}

func New() *Bus {
	return &Bus{}
}

// WithMetrics attaches a metrics sink to the bus.
func (b *Bus) WithMetrics(sink MetricsSink) *Bus {
	b.metrics = sink
	return b
}

// Subscribe registers l under name and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *Bus) Subscribe(name string, l Listener) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return nil, ErrDisposed
	}

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, fn: l})

	return func() { b.unsubscribe(id) }, nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers event to a snapshot of the current listeners. A failing or
// panicking listener does not stop the others; every failure is logged and
// returned, joined, as *ListenerError values.
func (b *Bus) Emit(ctx context.Context, event domain.DomainEvent) error {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return ErrDisposed
	}
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.EventPublished(string(event.Type))
	}

	var errs []error
	for _, s := range subs {
		if err := b.invoke(ctx, s, event); err != nil {
			log.Printf("eventbus: listener=%s event=%s type=%s depth=%d error: %v", s.name, event.ID, event.Type, event.Depth, err)
			if b.metrics != nil {
				b.metrics.ListenerFailed(s.name)
			}
			errs = append(errs, &ListenerError{Listener: s.name, EventID: event.ID.String(), Err: err})
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) invoke(ctx context.Context, s subscription, event domain.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.fn(ctx, event)
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Reset removes every listener. The bus stays usable.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// Dispose removes every listener and rejects further use.
func (b *Bus) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
	b.disposed = true
}
