package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock is still held by someone else
// once the wait budget runs out.
var ErrNotAcquired = errors.New("lock not acquired")

// ErrNotHeld is returned by Unlock when the lock expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// Lock is a SET NX lease on one Redis key. The token makes Unlock a no-op
// for anyone but the holder.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// Locker hands out leases under a common key prefix.
type Locker struct {
	client       *redis.Client
	prefix       string
	ttl          time.Duration
	wait         time.Duration
	pollInterval time.Duration
}

func NewLocker(client *redis.Client, prefix string, ttl, wait time.Duration) *Locker {
	return &Locker{
		client:       client,
		prefix:       prefix,
		ttl:          ttl,
		wait:         wait,
		pollInterval: 25 * time.Millisecond,
	}
}

func newToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Acquire polls until the lease is taken, the wait budget is spent or ctx
// is done.
func (l *Locker) Acquire(ctx context.Context, name string) (*Lock, error) {
	lock := &Lock{
		client: l.client,
		key:    l.prefix + name,
		token:  newToken(),
		ttl:    l.ttl,
	}

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, lock.key, lock.token, lock.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", lock.key, err)
		}
		if ok {
			return lock, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, lock.key)
		}

		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// WithLock runs fn while holding the named lease.
func (l *Locker) WithLock(ctx context.Context, name string, fn func() error) error {
	lock, err := l.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer lock.Unlock(context.WithoutCancel(ctx))
	return fn()
}

func (lk *Lock) Unlock(ctx context.Context) error {
	n, err := lk.client.Eval(ctx, releaseScript, []string{lk.key}, lk.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lk.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotHeld, lk.key)
	}
	return nil
}

func (lk *Lock) Key() string { return lk.key }
