package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLocalLock(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLock()

	lease, err := l.Acquire(ctx, "job-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := l.Acquire(ctx, "job-2"); !errors.Is(err, ErrInProgress) {
		t.Errorf("second Acquire() = %v, want ErrInProgress", err)
	}
	if owner, _ := l.Holder(ctx); owner != "job-1" {
		t.Errorf("Holder() = %q, want job-1", owner)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if owner, _ := l.Holder(ctx); owner != "" {
		t.Errorf("Holder() after release = %q", owner)
	}

	next, err := l.Acquire(ctx, "job-2")
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	// A stale lease must not release someone else's lock.
	if err := lease.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if owner, _ := l.Holder(ctx); owner != "job-2" {
		t.Errorf("stale release freed the lock, holder = %q", owner)
	}
	_ = next.Release(ctx)
}

func newRedisLock(t *testing.T, ttl time.Duration) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLock(client, "", ttl), mr
}

func TestRedisLock(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLock(t, time.Minute)

	lease, err := l.Acquire(ctx, "job-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := l.Acquire(ctx, "job-2"); !errors.Is(err, ErrInProgress) {
		t.Errorf("second Acquire() = %v, want ErrInProgress", err)
	}
	if owner, err := l.Holder(ctx); err != nil || owner != "job-1" {
		t.Errorf("Holder() = %q, %v", owner, err)
	}

	mr.FastForward(30 * time.Second)
	if err := lease.Extend(ctx); err != nil {
		t.Fatalf("Extend() error = %v", err)
	}
	if ttl := mr.TTL(DefaultLockKey); ttl != time.Minute {
		t.Errorf("TTL after extend = %v, want 1m", ttl)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if mr.Exists(DefaultLockKey) {
		t.Error("expected lock key to be deleted")
	}
	if owner, err := l.Holder(ctx); err != nil || owner != "" {
		t.Errorf("Holder() after release = %q, %v", owner, err)
	}
}

func TestRedisLockExpires(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLock(t, 10*time.Second)

	lease, err := l.Acquire(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	mr.FastForward(11 * time.Second)

	other, err := l.Acquire(ctx, "job-2")
	if err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}
	if err := lease.Extend(ctx); err == nil {
		t.Error("expected extend of an expired lease to fail")
	}
	// Releasing the stale lease must leave job-2 in place.
	if err := lease.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if owner, _ := l.Holder(ctx); owner != "job-2" {
		t.Errorf("holder = %q, want job-2", owner)
	}
	_ = other.Release(ctx)
}
