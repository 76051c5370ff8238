// Package lock guards the hourly tick so that at most one pipeline runs at a
// time, within a process and optionally across instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when someone else holds the lock.
var ErrBusy = errors.New("lock is held")

// Release gives a lock back.
type Release func(ctx context.Context) error

// Locker is a non-blocking mutual exclusion primitive.
type Locker interface {
	TryLock(ctx context.Context) (Release, error)
}

// Local is an in-process Locker.
type Local struct {
	mu sync.Mutex
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) TryLock(context.Context) (Release, error) {
	if !l.mu.TryLock() {
		return nil, ErrBusy
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}

// Redis is a cross-instance Locker backed by a single redis key.
type Redis struct {
	client *redislock.Client
	key    string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	return &Redis{client: redislock.New(client), key: key, ttl: ttl}
}

// NewRedisFromURL dials redis at url ("redis://host:6379/0").
func NewRedisFromURL(url, key string, ttl time.Duration) (*Redis, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	return NewRedis(rdb, key, ttl), rdb, nil
}

func (r *Redis) TryLock(ctx context.Context) (Release, error) {
	lk, err := r.client.Obtain(ctx, r.key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("obtain %s: %w", r.key, err)
	}
	return func(ctx context.Context) error {
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return fmt.Errorf("release %s: %w", r.key, err)
		}
		return nil
	}, nil
}

// Chain obtains every Locker in order and releases them in reverse. If one
// is busy, the ones already held are released.
type Chain []Locker

func (c Chain) TryLock(ctx context.Context) (Release, error) {
	held := make([]Release, 0, len(c))
	releaseAll := func(ctx context.Context) error {
		var errs []error
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, l := range c {
		rel, err := l.TryLock(ctx)
		if err != nil {
			_ = releaseAll(ctx)
			return nil, err
		}
		held = append(held, rel)
	}
	return releaseAll, nil
}
