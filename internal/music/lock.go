package music

import (
	"context"
	"sync"
)

// SessionLock is a FIFO mutual-exclusion chain for one session. Each turn
// waits for the previous turn to finish, runs, then hands over. Once closed,
// new turns fail with ErrSessionClosed; turns already queued still run.
type SessionLock struct {
	mu     sync.Mutex
	tail   chan struct{}
	closed bool
}

func NewSessionLock() *SessionLock {
	done := make(chan struct{})
	close(done)
	return &SessionLock{tail: done}
}

// reserve links a new turn to the end of the chain. prev is closed when the
// preceding turn is over; the caller owns done and must close it exactly once.
func (l *SessionLock) reserve() (prev, done chan struct{}, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, nil, ErrSessionClosed
	}
	prev = l.tail
	done = make(chan struct{})
	l.tail = done
	return prev, done, nil
}

// Do runs fn in the next turn and returns its error. If ctx ends while
// waiting, Do returns ctx.Err() and the turn is released in order without
// running fn.
func (l *SessionLock) Do(ctx context.Context, fn func() error) error {
	prev, done, err := l.reserve()
	if err != nil {
		return err
	}
	select {
	case <-prev:
	case <-ctx.Done():
		go func() {
			<-prev
			close(done)
		}()
		return ctx.Err()
	}
	defer close(done)
	return fn()
}

// Go reserves the next turn before returning and runs fn in it on a separate
// goroutine.
func (l *SessionLock) Go(fn func()) error {
	prev, done, err := l.reserve()
	if err != nil {
		return err
	}
	go func() {
		defer close(done)
		<-prev
		fn()
	}()
	return nil
}

func (l *SessionLock) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *SessionLock) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// WithLock is Do for bodies that produce a value.
func WithLock[T any](ctx context.Context, l *SessionLock, fn func() (T, error)) (T, error) {
	var out T
	err := l.Do(ctx, func() error {
		v, err := fn()
		out = v
		return err
	})
	return out, err
}
