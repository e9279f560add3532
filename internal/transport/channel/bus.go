// Package channel carries firings from the engine to the dispatcher over a
// buffered in-process channel.
package channel

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/djlord-it/easy-automation/internal/domain"
)

// DefaultEmitTimeout bounds how long Emit waits for buffer space.
const DefaultEmitTimeout = 5 * time.Second

// ErrBufferFull is returned when the buffer stayed full for the emit timeout.
// The firing is already recorded, so the reconciler will pick it up.
var ErrBufferFull = errors.New("firing bus: buffer full")

// ErrClosed is returned by Emit once Close has been called.
var ErrClosed = errors.New("firing bus: closed")

// MetricsSink defines the interface for recording bus metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

type Option func(*FiringBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *FiringBus) {
		b.emitTimeout = d
	}
}

func WithMetrics(sink MetricsSink) Option {
	return func(b *FiringBus) {
		b.metrics = sink
	}
}

type FiringBus struct {
	mu          sync.RWMutex // guards closed against in-flight sends
	closed      bool
	ch          chan domain.Firing
	emitTimeout time.Duration
	metrics     MetricsSink // optional, nil = disabled
}

func NewFiringBus(buffer int, opts ...Option) *FiringBus {
	b := &FiringBus{
		ch:          make(chan domain.Firing, buffer),
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

func (b *FiringBus) Emit(ctx context.Context, firing domain.Firing) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- firing:
		b.observe()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		log.Printf("firingbus: buffer full, dropping firing=%s rule=%s", firing.ID, firing.RuleID)
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

func (b *FiringBus) observe() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if c := cap(b.ch); c > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(c))
	}
}

func (b *FiringBus) Channel() <-chan domain.Firing {
	return b.ch
}

// Len reports how many firings are buffered and not yet consumed.
func (b *FiringBus) Len() int {
	return len(b.ch)
}

// Close stops accepting firings and closes the channel so the consumer can
// drain what is buffered and exit. It waits for in-flight Emits and is safe
// to call more than once.
func (b *FiringBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
	log.Printf("firingbus: closed pending=%d", len(b.ch))
}
