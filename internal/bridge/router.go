package bridge

import (
	"context"
	"sync"
)

// EventHandler receives one decoded unsolicited event from the worker.
// It runs on its own goroutine; a slow handler never stalls the read loop.
type EventHandler func(ctx context.Context, event string, data map[string]any)

// router fans decoded events out to the single registered handler.
// Events arriving before a handler is registered are dropped.
type router struct {
	mu      sync.RWMutex
	handler EventHandler
}

func (r *router) set(h EventHandler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// dispatch hands the event off and returns immediately.
// Returns false if no handler is registered.
func (r *router) dispatch(ctx context.Context, event string, data map[string]any) bool {
	r.mu.RLock()
	h := r.handler
	r.mu.RUnlock()
	if h == nil {
		return false
	}
	go h(ctx, event, data)
	return true
}
