// internal/pkg/ratelimit/rate_limiter.go
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts failed attempts per subject in a fixed window. Once the
// count reaches max the subject stays locked until the window expires.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	max    int64
	window time.Duration
}

func NewRedisLimiter(client redis.Cmdable, prefix string, max int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, max: max, window: window}
}

// Locked reports whether the subject has used up its attempts.
func (r *RedisLimiter) Locked(ctx context.Context, subject string) (bool, error) {
	count, err := r.client.Get(ctx, r.key(subject)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get attempts: %w", err)
	}
	return count >= r.max, nil
}

// Fail records a failed attempt and returns the attempts left.
func (r *RedisLimiter) Fail(ctx context.Context, subject string) (int64, error) {
	key := r.key(subject)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}

	// Set expiration on first attempt
	if count == 1 {
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			return 0, fmt.Errorf("failed to set attempt window: %w", err)
		}
	}

	remaining := r.max - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the subject's counter.
func (r *RedisLimiter) Reset(ctx context.Context, subject string) error {
	return r.client.Del(ctx, r.key(subject)).Err()
}

func (r *RedisLimiter) key(subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s", r.prefix, subject)
}

type window struct {
	count   int64
	expires time.Time
}

// LocalLimiter is the in-process counterpart of RedisLimiter for single
// instance deployments.
type LocalLimiter struct {
	mu      sync.Mutex
	max     int64
	window  time.Duration
	now     func() time.Time
	windows map[string]*window
}

func NewLocalLimiter(max int64, w time.Duration) *LocalLimiter {
	return &LocalLimiter{
		max:     max,
		window:  w,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// SetClock replaces the time source used to expire windows.
func (l *LocalLimiter) SetClock(now func() time.Time) {
	l.now = now
}

func (l *LocalLimiter) Locked(ctx context.Context, subject string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(subject)
	return w != nil && w.count >= l.max, nil
}

func (l *LocalLimiter) Fail(ctx context.Context, subject string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(subject)
	if w == nil {
		w = &window{expires: l.now().Add(l.window)}
		l.windows[subject] = w
	}
	w.count++

	remaining := l.max - w.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *LocalLimiter) Reset(ctx context.Context, subject string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, subject)
	return nil
}

func (l *LocalLimiter) current(subject string) *window {
	w, ok := l.windows[subject]
	if !ok {
		return nil
	}
	if !l.now().Before(w.expires) {
		delete(l.windows, subject)
		return nil
	}
	return w
}
