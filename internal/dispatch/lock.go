package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInProgress is returned when another dispatch holds the lock.
var ErrInProgress = errors.New("dispatch already in progress")

// Lease is a held dispatch lock.
type Lease interface {
	// Owner returns the job id that holds the lease.
	Owner() string
	// Extend refreshes the lease during a long dispatch.
	Extend(ctx context.Context) error
	// Release gives up the lease. Releasing twice is harmless.
	Release(ctx context.Context) error
}

// Locker hands out at most one Lease at a time.
type Locker interface {
	Acquire(ctx context.Context, owner string) (Lease, error)
	// Holder returns the current owner, or "" when idle.
	Holder(ctx context.Context) (string, error)
}

// LocalLock serializes dispatches within one process.
type LocalLock struct {
	mu    sync.Mutex
	owner string
}

// NewLocalLock returns an idle LocalLock.
func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

// Acquire takes the lock or returns ErrInProgress.
func (l *LocalLock) Acquire(ctx context.Context, owner string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != "" {
		return nil, ErrInProgress
	}
	l.owner = owner
	return &localLease{lock: l, owner: owner}, nil
}

// Holder returns the current owner.
func (l *LocalLock) Holder(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner, nil
}

type localLease struct {
	lock  *LocalLock
	owner string
}

func (l *localLease) Owner() string { return l.owner }

func (l *localLease) Extend(ctx context.Context) error { return nil }

func (l *localLease) Release(ctx context.Context) error {
	l.lock.mu.Lock()
	defer l.lock.mu.Unlock()
	if l.lock.owner == l.owner {
		l.lock.owner = ""
	}
	return nil
}

// DefaultLockKey is the Redis key used by RedisLock.
const DefaultLockKey = "relayd:dispatch:lock"

var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// RedisLock serializes dispatches across processes sharing a Redis.
// The TTL bounds how long a crashed holder blocks new dispatches.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock creates a RedisLock.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = DefaultLockKey
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// Acquire takes the lock with SET NX or returns ErrInProgress.
func (l *RedisLock) Acquire(ctx context.Context, owner string) (Lease, error) {
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrInProgress
	}
	return &redisLease{lock: l, owner: owner}, nil
}

// Holder returns the owner stored in Redis.
func (l *RedisLock) Holder(ctx context.Context) (string, error) {
	owner, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get lock %s: %w", l.key, err)
	}
	return owner, nil
}

type redisLease struct {
	lock  *RedisLock
	owner string
}

func (l *redisLease) Owner() string { return l.owner }

func (l *redisLease) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.lock.client, []string{l.lock.key}, l.owner, l.lock.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.lock.key, err)
	}
	if n == 0 {
		return fmt.Errorf("extend lock %s: no longer held by %s", l.lock.key, l.owner)
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.lock.client, []string{l.lock.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.lock.key, err)
	}
	return nil
}
