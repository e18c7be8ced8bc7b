package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Registry hands out one Session per user and retires idle ones.
type Registry struct {
	newSession func(userID string) *Session
	idle       time.Duration
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	s        *Session
	lastUsed time.Time
}

// NewRegistry builds sessions with newSession. idle <= 0 keeps sessions
// until Close.
func NewRegistry(newSession func(userID string) *Session, idle time.Duration) *Registry {
	return &Registry{newSession: newSession, idle: idle, now: time.Now, sessions: make(map[string]*entry)}
}

// Get returns the user's session, creating it on first use.
func (r *Registry) Get(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[userID]
	if !ok {
		e = &entry{s: r.newSession(userID)}
		r.sessions[userID] = e
	}
	e.lastUsed = r.now()
	return e.s
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions unused for longer than the idle period.
func (r *Registry) Sweep(ctx context.Context) error {
	if r.idle <= 0 {
		return nil
	}
	cutoff := r.now().Add(-r.idle)
	var stale []*Session
	r.mu.Lock()
	for id, e := range r.sessions {
		if e.lastUsed.Before(cutoff) {
			stale = append(stale, e.s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	return closeAll(ctx, stale)
}

// Close flushes and closes every session.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		all = append(all, e.s)
	}
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()
	return closeAll(ctx, all)
}

func closeAll(ctx context.Context, sessions []*Session) error {
	var errs []error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
