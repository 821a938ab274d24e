package session

import (
	"context"
	"sync"
	"time"
)

// Registry owns one Session record per live connection. Creation is
// idempotent; teardown releases the session and its cancellation entry so
// an in-flight generation simply finds its token stale and stops.
type Registry struct {
	cancels *Cancels
	window  int

	mu       sync.Mutex
	sessions map[string]*Session
	closers  map[string]func()
}

func NewRegistry(cancels *Cancels, historyWindow int) *Registry {
	if cancels == nil {
		cancels = NewCancels()
	}
	return &Registry{
		cancels:  cancels,
		window:   historyWindow,
		sessions: make(map[string]*Session),
		closers:  make(map[string]func()),
	}
}

// Cancels exposes the cancellation registry shared with the orchestrator.
func (r *Registry) Cancels() *Cancels { return r.cancels }

// GetOrCreate returns the session for id, creating it on first call.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := newSession(id, r.window)
	r.sessions[id] = s
	return s
}

// Disconnect releases the session and invalidates any in-flight generation.
// Safe to call repeatedly.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	delete(r.closers, id)
	r.mu.Unlock()
	r.cancels.Cancel(id)
	r.cancels.Release(id)
}

// RegisterCloser records a teardown hook for the session's connection so a
// draining shutdown can close it from outside the handler.
func (r *Registry) RegisterCloser(id string, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		r.closers[id] = fn
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Wait blocks until every session has disconnected or ctx expires,
// reporting whether the registry drained.
func (r *Registry) Wait(ctx context.Context) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return r.Count() == 0
		case <-ticker.C:
		}
	}
}

// CloseAll invokes every registered connection closer. Handlers observe the
// closed connection, run their normal teardown, and the registry empties.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	closers := make([]func(), 0, len(r.closers))
	for _, fn := range r.closers {
		closers = append(closers, fn)
	}
	r.mu.Unlock()
	for _, fn := range closers {
		fn()
	}
}
