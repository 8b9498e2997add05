// Package locks provides distributed locking over Redis. The router uses two
// lock families: per-contact route locks so two instances never route the
// same contact concurrently, and a poller lock so one instance at a time
// sweeps unrouted contacts.
//
// Held locks renew automatically at a third of their expiration interval; a
// failed renewal releases the lock locally so a stale holder never believes
// it still owns a lock that expired in Redis.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RedisLockClient is the subset of the Redis client used for SetNX locks.
type RedisLockClient interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	ExtendLock(ctx context.Context, key string, expiration time.Duration) error
}

// Lock is a held distributed lock.
type Lock interface {
	// Key returns the lock's identifier.
	Key() string

	// Extend changes the expiration used for future renewals.
	Extend(ctx context.Context, expiration time.Duration) error

	// Release stops renewal and removes the lock. Safe to call twice.
	Release(ctx context.Context) error

	// IsHeld reports whether this instance still holds the lock. Local
	// state only; Redis is not queried.
	IsHeld() bool
}

// Manager manages SetNX-based distributed locks with automatic renewal.
// Safe for concurrent use.
type Manager struct {
	redis      RedisLockClient
	localLocks map[string]*LocalLock
	mutex      sync.RWMutex
}

// LocalLock is a lock held by this instance, tracked for renewal.
type LocalLock struct {
	key        string
	expiration time.Duration
	acquired   time.Time
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewManager(redisClient RedisLockClient) *Manager {
	return &Manager{
		redis:      redisClient,
		localLocks: make(map[string]*LocalLock),
	}
}

// AcquireLock takes the lock or fails immediately if another holder has it.
func (m *Manager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	acquired, err := m.redis.AcquireLock(ctx, key, expiration)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire distributed lock: %w", err)
	}

	if !acquired {
		return nil, fmt.Errorf("lock already held by another process")
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &LocalLock{
		key:        key,
		expiration: expiration,
		acquired:   time.Now(),
		ctx:        lockCtx,
		cancel:     cancel,
	}

	m.mutex.Lock()
	m.localLocks[key] = lock
	m.mutex.Unlock()

	go m.renewLock(lock)

	return lock, nil
}

func (m *Manager) renewLock(lock *LocalLock) {
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
			err := m.redis.ExtendLock(ctx, lock.key, lock.expiration)
			cancel()

			if err != nil {
				// Lock lost, clean up.
				m.releaseLock(lock)
				return
			}
		}
	}
}

func (m *Manager) releaseLock(lock *LocalLock) {
	m.mutex.Lock()
	delete(m.localLocks, lock.key)
	m.mutex.Unlock()

	lock.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.redis.ReleaseLock(ctx, lock.key)
}

func (l *LocalLock) Key() string {
	return l.key
}

func (l *LocalLock) Extend(ctx context.Context, expiration time.Duration) error {
	l.expiration = expiration
	return nil // the renewal routine picks up the new expiration
}

func (l *LocalLock) Release(ctx context.Context) error {
	l.cancel()
	return nil
}

func (l *LocalLock) IsHeld() bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
		return true
	}
}

// AcquireRouteLock locks the contact for one route attempt. The expiration
// comfortably exceeds a route attempt's deadline.
func (m *Manager) AcquireRouteLock(ctx context.Context, contactID string) (Lock, error) {
	return m.AcquireLock(ctx, fmt.Sprintf("route:%s", contactID), 30*time.Second)
}

// AcquirePollerLock elects a single instance to sweep unrouted contacts.
func (m *Manager) AcquirePollerLock(ctx context.Context) (Lock, error) {
	return m.AcquireLock(ctx, "poller:unrouted", 5*time.Minute)
}

// Close releases all locally-held locks. Remaining Redis keys expire
// naturally.
func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, lock := range m.localLocks {
		lock.cancel()
	}

	m.localLocks = make(map[string]*LocalLock)
	return nil
}
