package memory

import (
	"context"
	"fmt"
	"sync"
)

// LocalLocker is a Locker for a single process. Lock blocks until the session
// is free or ctx is done, like RedisStore.Lock.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*localSlot)}
}

func (l *LocalLocker) Lock(ctx context.Context, sessionID string) (func(context.Context) error, error) {
	l.mu.Lock()
	s, ok := l.slots[sessionID]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[sessionID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(sessionID, s)
		return nil, fmt.Errorf("%w: %v", ErrSessionLocked, ctx.Err())
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-s.ch
			l.release(sessionID, s)
		})
		return nil
	}, nil
}

func (l *LocalLocker) release(sessionID string, s *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, sessionID)
	}
}
