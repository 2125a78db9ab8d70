package staking

import (
	"context"
	"sync"
)

// reentryKey marks a context as already holding the mutation path for a pool.
// An AssetLedger callback that re-enters the engine with the same context is
// rejected instead of deadlocking on the pool lock.
type reentryKey struct{ pool string }

func (e *Engine) poolLock(poolID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locks == nil {
		e.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := e.locks[poolID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[poolID] = lock
	}
	return lock
}

// acquire serialises access to a single pool. Operations against different
// pools run fully in parallel.
func (e *Engine) acquire(ctx context.Context, poolID string) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if held, _ := ctx.Value(reentryKey{pool: poolID}).(bool); held {
		return nil, nil, errReentrantCall
	}
	lock := e.poolLock(poolID)
	lock.Lock()
	return context.WithValue(ctx, reentryKey{pool: poolID}, true), lock.Unlock, nil
}
