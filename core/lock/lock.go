// Package lock serializes merge runs per track identifier.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"TrackHub/config"
	"TrackHub/errs"

	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when the lock could not be obtained within the
// configured wait.
var ErrLockTimeout = fmt.Errorf("%w: merge already in progress", errs.ErrConflict)

// Locker grants exclusive access per key. The returned unlock func is safe
// to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// New builds the locker selected by cfg.LockBackend. client may be nil for
// the in-process backend.
func New(cfg *config.Config, client *redis.Client) (Locker, error) {
	switch strings.ToLower(cfg.LockBackend) {
	case "", "memory":
		return NewKeyedMutex(cfg.LockWait), nil
	case "redis":
		if client == nil {
			return nil, errors.New("redis lock backend requires a redis client")
		}
		// the lease is not renewed; it must outlive the transcode
		if cfg.LockTTL <= cfg.TranscodeTimeout {
			return nil, fmt.Errorf("LOCK_TTL (%s) must exceed TRANSCODE_TIMEOUT (%s)", cfg.LockTTL, cfg.TranscodeTimeout)
		}
		return NewRedisLocker(client, "trackhub:merge:", cfg.LockTTL, cfg.LockWait), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend: %s", cfg.LockBackend)
	}
}

// KeyedMutex is an in-process Locker. Entries are reference counted and
// dropped once no goroutine holds or waits on the key.
type KeyedMutex struct {
	wait time.Duration

	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex creates a KeyedMutex. wait <= 0 waits until ctx is done.
func NewKeyedMutex(wait time.Duration) *KeyedMutex {
	return &KeyedMutex{wait: wait, locks: make(map[string]*keyEntry)}
}

// Lock blocks until key is free, ctx is done or the wait elapses.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	var timeout <-chan time.Time
	if k.wait > 0 {
		t := time.NewTimer(k.wait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	case <-timeout:
		k.release(key, e)
		return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, key, k.wait)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *keyEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// size reports the number of tracked keys.
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
