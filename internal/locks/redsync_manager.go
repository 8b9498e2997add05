package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"lead-router/internal/common/errors"
	"lead-router/internal/redis"
)

// RedsyncManager implements distributed locking with the Redlock algorithm
// via go-redsync/redsync/v4 instead of plain SetNX. It handles clock drift
// and split-brain scenarios the simple Manager does not.
type RedsyncManager struct {
	redsync    *redsync.Redsync
	localLocks map[string]*RedsyncLock
	mutex      sync.RWMutex
}

// RedsyncLock wraps a redsync.Mutex behind the Lock interface with the same
// automatic renewal as LocalLock.
type RedsyncLock struct {
	mutex      *redsync.Mutex
	key        string
	expiration time.Duration
	acquired   time.Time
	ctx        context.Context
	cancel     context.CancelFunc
	manager    *RedsyncManager
}

func NewRedsyncManager(redisClient *redis.Client) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())
	rs := redsync.New(pool)

	return &RedsyncManager{
		redsync:    rs,
		localLocks: make(map[string]*RedsyncLock),
	}, nil
}

func (rm *RedsyncManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	mutex := rm.redsync.NewMutex(fmt.Sprintf("lock:%s", key), redsync.WithExpiry(expiration))

	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.InternalError("failed to acquire distributed lock", err)
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &RedsyncLock{
		mutex:      mutex,
		key:        key,
		expiration: expiration,
		acquired:   time.Now(),
		ctx:        lockCtx,
		cancel:     cancel,
		manager:    rm,
	}

	rm.mutex.Lock()
	rm.localLocks[key] = lock
	rm.mutex.Unlock()

	go rm.renewLock(lock)

	return lock, nil
}

func (rm *RedsyncManager) renewLock(lock *RedsyncLock) {
	renewInterval := lock.expiration / 3
	if renewInterval < time.Second {
		renewInterval = time.Second
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !ok {
				// Lock lost, clean up.
				rm.releaseLock(lock)
				return
			}
		}
	}
}

func (rm *RedsyncManager) releaseLock(lock *RedsyncLock) {
	rm.mutex.Lock()
	delete(rm.localLocks, lock.key)
	rm.mutex.Unlock()

	lock.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lock.mutex.UnlockContext(ctx)
}

func (rm *RedsyncManager) AcquireRouteLock(ctx context.Context, contactID string) (Lock, error) {
	return rm.AcquireLock(ctx, fmt.Sprintf("route:%s", contactID), 30*time.Second)
}

func (rm *RedsyncManager) AcquirePollerLock(ctx context.Context) (Lock, error) {
	return rm.AcquireLock(ctx, "poller:unrouted", 5*time.Minute)
}

func (rm *RedsyncManager) Close() error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	for _, lock := range rm.localLocks {
		lock.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		lock.mutex.UnlockContext(ctx)
		cancel()
	}

	rm.localLocks = make(map[string]*RedsyncLock)
	return nil
}

func (rl *RedsyncLock) Key() string {
	return rl.key
}

func (rl *RedsyncLock) Extend(ctx context.Context, expiration time.Duration) error {
	rl.expiration = expiration
	return nil // the renewal routine picks up the new expiration
}

func (rl *RedsyncLock) Release(ctx context.Context) error {
	rl.cancel()
	return nil
}

func (rl *RedsyncLock) IsHeld() bool {
	select {
	case <-rl.ctx.Done():
		return false
	default:
		return true
	}
}

// LockManagerInterface is implemented by both Manager and RedsyncManager so
// callers can switch implementations.
type LockManagerInterface interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error)
	AcquireRouteLock(ctx context.Context, contactID string) (Lock, error)
	AcquirePollerLock(ctx context.Context) (Lock, error)
	Close() error
}

var _ LockManagerInterface = (*Manager)(nil)
var _ LockManagerInterface = (*RedsyncManager)(nil)
