// Package lock serialises read-modify-write operations on a single entity.
//
// Services acquire a lock keyed by entity id ("topup:T-251019-P9Q2") before
// loading, checking and writing the entity, so concurrent callers observe each
// other's writes instead of racing.
package lock

import (
	"context"
	"fmt"
	"sync"

	xerrors "settlement-service/internal/pkg/errors"
)

// Locker hands out exclusive per-key locks.
type Locker interface {
	// Acquire blocks until the key is held or ctx is done. The returned
	// release func must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Key builds a lock key from an entity kind and id.
func Key(kind, id string) string {
	return kind + ":" + id
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is an in-process keyed mutex. It is enough when a single
// instance owns the data; use RedisLocker when several instances share it.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localEntry)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, e)
		return nil, fmt.Errorf("%w: %s: %v", xerrors.ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.drop(key, e)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
