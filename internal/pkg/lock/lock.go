// Package lock provides keyed mutexes used to serialize per-user ledger and
// economy operations inside one process.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a key stays held past the caller's wait.
var ErrLockTimeout = errors.New("lock wait timed out")

// Keyed holds one mutex per key. The zero value is not usable; call New.
type Keyed[K comparable] struct {
	locks sync.Map // map[K]*sync.Mutex
}

// UserLock serializes work per chat user.
type UserLock = Keyed[int64]

// New creates an empty keyed lock set.
func New[K comparable]() *Keyed[K] {
	return &Keyed[K]{}
}

// NewUserLock creates a lock set keyed by user ID.
func NewUserLock() *UserLock {
	return New[int64]()
}

func (k *Keyed[K]) get(key K) *sync.Mutex {
	if v, ok := k.locks.Load(key); ok {
		return v.(*sync.Mutex)
	}
	actual, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// Lock acquires the mutex for key.
func (k *Keyed[K]) Lock(key K) {
	k.get(key).Lock()
}

// Unlock releases the mutex for key. Unlocking a key that is not held is
// a no-op.
func (k *Keyed[K]) Unlock(key K) {
	v, ok := k.locks.Load(key)
	if !ok {
		return
	}
	mu := v.(*sync.Mutex)
	if mu.TryLock() {
		// It was free.
		mu.Unlock()
		return
	}
	mu.Unlock()
}

// LockContext waits for the mutex until ctx is done or timeout elapses.
// It returns false when the lock was not acquired.
func (k *Keyed[K]) LockContext(ctx context.Context, key K, timeout time.Duration) bool {
	mu := k.get(key)
	if mu.TryLock() {
		return true
	}

	done := make(chan struct{})
	go func() {
		mu.Lock()
		close(done)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
		return true
	case <-waitCtx.Done():
		// The waiter still gets the lock eventually; hand it straight back.
		go func() {
			<-done
			mu.Unlock()
		}()
		return false
	}
}

// WithLockContext runs fn while holding the mutex for key, giving up with
// ErrLockTimeout if the lock is not acquired in time.
func (k *Keyed[K]) WithLockContext(ctx context.Context, key K, timeout time.Duration, fn func() error) error {
	if !k.LockContext(ctx, key, timeout) {
		return ErrLockTimeout
	}
	defer k.Unlock(key)

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}
