// Package actions executes the actions of matched rules.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/djlord-it/easy-automation/internal/domain"
)

var ErrUnknownAction = errors.New("unknown action type")

// HandlerFunc performs one action. Handlers that mutate entities return the
// resulting domain events; the engine emits them one level deeper.
type HandlerFunc func(ctx context.Context, rule domain.Rule, event domain.DomainEvent) ([]domain.DomainEvent, error)

// Registry routes a rule's action to the handler for its type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.ActionType]HandlerFunc
}

// NewRegistry returns a registry with webhook actions routed to q.
func NewRegistry(q *Enqueuer) *Registry {
	r := &Registry{handlers: make(map[domain.ActionType]HandlerFunc)}
	if q != nil {
		r.handlers[domain.ActionTypeWebhook] = q.Handle
	}
	return r
}

// Register installs an in-process handler, replacing any existing one.
func (r *Registry) Register(t domain.ActionType, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Types lists the registered action types, sorted.
func (r *Registry) Types() []domain.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ActionType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Execute(ctx context.Context, rule domain.Rule, event domain.DomainEvent) ([]domain.DomainEvent, error) {
	r.mu.RLock()
	h, ok := r.handlers[rule.Action.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, rule.Action.Type)
	}
	return h(ctx, rule, event)
}
