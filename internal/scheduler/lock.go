package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a distributed mutual-exclusion primitive keyed by string,
// backing the scheduler's per-job locking across multiple scheduler
// processes (spec.md §4.5, "per-job locking"). Acquire is non-blocking:
// it returns ok=false when the key is already held.
type Lock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ok bool, err error)
	Release(ctx context.Context, key string) error
}

// RedisLock implements Lock with Redis SET NX PX, so multiple scheduler
// processes sharing one Redis instance serialize per-job acquisition.
type RedisLock struct {
	client *redis.Client
	owner  string
}

// NewRedisLock wraps client. owner should be stable per scheduler process
// (e.g. a hostname+pid string) so Release only clears locks it holds.
func NewRedisLock(client *redis.Client, owner string) *RedisLock {
	return &RedisLock{client: client, owner: owner}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, "scheduler:lock:"+key, l.owner, ttl).Result()
}

func (l *RedisLock) Release(ctx context.Context, key string) error {
	const script = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`
	return l.client.Eval(ctx, script, []string{"scheduler:lock:" + key}, l.owner).Err()
}

// MemoryLock implements Lock in-process with a TTL map, used when no
// Redis endpoint is configured (single-process deployments, tests). It
// provides no cross-process guarantee, matching the single-process
// assumption spec.md §5 keeps explicit for the core.
type MemoryLock struct {
	mu    sync.Mutex
	holds map[string]time.Time
}

// NewMemoryLock returns a ready-to-use in-process Lock.
func NewMemoryLock() *MemoryLock {
	return &MemoryLock{holds: make(map[string]time.Time)}
}

func (l *MemoryLock) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if expires, ok := l.holds[key]; ok && time.Now().Before(expires) {
		return false, nil
	}
	l.holds[key] = time.Now().Add(ttl)
	return true, nil
}

func (l *MemoryLock) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holds, key)
	return nil
}
