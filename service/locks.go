package service

import (
	"context"
	"sync"
	"time"

	"reportpilot/faults"
	"reportpilot/telemetry"
)

// sessionLocks hands out one mutual-exclusion slot per session. A slot is a
// buffered channel so waiting can give up when the caller's context ends.
type sessionLocks struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{slots: make(map[string]*slot)}
}

func (l *sessionLocks) ref(id string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[id] = s
	}
	s.refs++
	return s
}

func (l *sessionLocks) unref(id string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, id)
	}
}

func (l *sessionLocks) releaser(id string, s *slot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(id, s)
		})
	}
}

// acquire blocks until the session is free or ctx is done.
func (l *sessionLocks) acquire(ctx context.Context, id string) (func(), error) {
	s := l.ref(id)
	start := time.Now()
	select {
	case s.ch <- struct{}{}:
		telemetry.SessionLockWait.Observe(time.Since(start).Seconds())
		return l.releaser(id, s), nil
	case <-ctx.Done():
		l.unref(id, s)
		return nil, faults.FromContext(ctx, "session_lock")
	}
}

// tryAcquire takes the lock only if nobody holds it.
func (l *sessionLocks) tryAcquire(id string) (func(), bool) {
	s := l.ref(id)
	select {
	case s.ch <- struct{}{}:
		return l.releaser(id, s), true
	default:
		l.unref(id, s)
		return nil, false
	}
}
