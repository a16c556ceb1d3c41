package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld means another instance is already running a tick.
var ErrLockHeld = errors.New("reconcile lock held elsewhere")

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker grants at most one lease per key at a time.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// RedisLocker shares the lock between every instance using the same Redis.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(rdb redis.Scripter) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockHeld
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// LocalLocker only excludes ticks within this process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, _ time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrLockHeld
	}
	l.held[key] = true
	return &localLease{l: l, key: key}, nil
}

type localLease struct {
	l    *LocalLocker
	key  string
	once sync.Once
}

func (ll *localLease) Release(context.Context) error {
	ll.once.Do(func() {
		ll.l.mu.Lock()
		delete(ll.l.held, ll.key)
		ll.l.mu.Unlock()
	})
	return nil
}
