// Package circuitbreaker tracks webhook endpoints that keep failing and stops
// the dispatcher from hammering them until a cooldown has passed.
package circuitbreaker

import (
	"errors"
	"log"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Defaults used when the configured values are not positive.
const (
	DefaultThreshold = 5
	DefaultCooldown  = time.Minute
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type endpoint struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker keeps one independent breaker per webhook URL. A URL opens
// after threshold consecutive failures; after cooldown a single probe is let
// through and its outcome closes or re-opens the circuit.
type CircuitBreaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &CircuitBreaker{
		endpoints: make(map[string]*endpoint),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock replaces the time source. Tests only.
func (cb *CircuitBreaker) WithClock(clock func() time.Time) *CircuitBreaker {
	cb.clock = clock
	return cb
}

func (cb *CircuitBreaker) Allow(url string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[url]
	if !ok {
		return nil
	}

	switch e.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.clock().Sub(e.openedAt) >= cb.cooldown {
			e.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(url string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[url]
	if !ok {
		return
	}
	if e.state != StateClosed {
		log.Printf("circuitbreaker: url=%s closed", url)
	}
	delete(cb.endpoints, url)
}

func (cb *CircuitBreaker) RecordFailure(url string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[url]
	if !ok {
		e = &endpoint{}
		cb.endpoints[url] = e
	}

	e.consecutiveFailures++
	if e.state == StateHalfOpen || e.consecutiveFailures >= cb.threshold {
		if e.state != StateOpen {
			log.Printf("circuitbreaker: url=%s open failures=%d cooldown=%s", url, e.consecutiveFailures, cb.cooldown)
		}
		e.state = StateOpen
		e.openedAt = cb.clock()
	}
}

// State reports the current state for url without advancing it.
func (cb *CircuitBreaker) State(url string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e, ok := cb.endpoints[url]
	if !ok {
		return StateClosed
	}
	return e.state
}
