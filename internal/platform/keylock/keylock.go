package keylock

import (
	"context"
	"sync"

	"github.com/yungbote/paperbridge-backend/internal/platform/ctxutil"
)

// Locker serializes work per key. Lock blocks until the key is acquired or
// ctx is done; the returned func releases it and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type entry struct {
	sem  chan struct{}
	refs int
}

type localLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewLocal returns an in-process Locker. Entries are refcounted and dropped
// once no goroutine holds or waits on the key.
func NewLocal() Locker {
	return &localLocker{locks: map[string]*entry{}}
}

func (l *localLocker) acquire(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.locks[key]
	if e == nil {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *localLocker) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *localLocker) Lock(ctx context.Context, key string) (func(), error) {
	ctx = ctxutil.Default(ctx)
	e := l.acquire(key)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(key, e)
		})
	}, nil
}
