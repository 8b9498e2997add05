package locks

import (
	"context"
	"time"

	"lead-router/internal/redis"
	"lead-router/internal/routing"
)

// NewDistributedLockManager creates the preferred lock manager, currently the
// redsync-backed Redlock implementation.
func NewDistributedLockManager(redisClient *redis.Client) (LockManagerInterface, error) {
	return NewRedsyncManager(redisClient)
}

// RouteLocker adapts a lock manager to the routing orchestrator's Locker
// interface. Acquisition retries briefly so two near-simultaneous route
// requests serialize instead of one failing outright.
type RouteLocker struct {
	manager LockManagerInterface
}

func NewRouteLocker(manager LockManagerInterface) *RouteLocker {
	return &RouteLocker{manager: manager}
}

func (rl *RouteLocker) Acquire(ctx context.Context, key string) (func(), error) {
	var lock Lock
	var err error

	for {
		lock, err = rl.manager.AcquireLock(ctx, key, 30*time.Second)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lock.Release(releaseCtx)
	}, nil
}

var _ routing.Locker = (*RouteLocker)(nil)
