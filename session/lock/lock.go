// Package lock provides an advisory per-session lock guarding the
// single-writer assumption session.Store backends rely on (spec.md §1
// Non-goals: "does not guarantee cross-process concurrent safety on a
// single session"). The in-process implementation is sufficient for a
// single executor process; the Redis-backed implementation in redis.go is
// additive insurance for deployments where multiple processes might resume
// the same session concurrently.
package lock

import (
	"context"
	"sync"
)

// Lock is an advisory mutual-exclusion primitive scoped to a session ID.
// Implementations need not be fair or reentrant; callers acquire Lock
// around a single Save/Load pair and release it immediately after.
type Lock interface {
	// Acquire blocks until the lock for sessionID is held or ctx is
	// canceled. The returned release function must be called exactly
	// once to release the lock.
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

// InProcess is a Lock backed by per-session sync.Mutex values, sufficient
// when a single process owns all session execution.
type InProcess struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewInProcess returns an InProcess lock.
func NewInProcess() *InProcess {
	return &InProcess{locks: make(map[string]*sync.Mutex)}
}

// Acquire implements Lock.
func (l *InProcess) Acquire(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return m.Unlock, nil
	case <-ctx.Done():
		go func() {
			<-acquired
			m.Unlock()
		}()
		return nil, ctx.Err()
	}
}
