package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// The lock must outlive one full cycle; a crashed holder frees it after ttl.
const defaultLockTTL = 5 * time.Minute

// Lock coordinates exclusive scheduler cycles.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DeleteIfEqual(ctx context.Context, key, expected string) (bool, error)
}

// RedisLock is a SET NX lease. Its value is "<worker>/<nonce>" so a stuck
// lock can be traced to the process that took it, and release is a
// compare-and-delete on that value.
type RedisLock struct {
	store  redisStore
	key    string
	ttl    time.Duration
	worker string

	mu    sync.Mutex
	token string
}

func NewRedisLock(store redisStore, key, worker string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("redis client required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl, worker: worker}, nil
}

// Acquire reports true when this call took the lease. A holder calling it
// again does not extend or re-take its own lease.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token != "" {
		return false, nil
	}

	token := uuid.NewString()
	if l.worker != "" {
		token = l.worker + "/" + token
	}
	won, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if won {
		l.token = token
	}
	return won, nil
}

// Release gives the lease back if this holder still owns it. A lease that
// expired and was taken over by another worker is left alone.
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return nil
	}
	if _, err := l.store.DeleteIfEqual(ctx, l.key, token); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
