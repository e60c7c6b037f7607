package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"TrackHub/config"
	"TrackHub/errs"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_ExcludesSameKey(t *testing.T) {
	m := NewKeyedMutex(0)
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), "track-1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, m.size(), "entries are dropped when unused")
}

func TestKeyedMutex_DistinctKeysDoNotBlock(t *testing.T) {
	m := NewKeyedMutex(0)
	unlockA, err := m.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := m.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutex_WaitTimeout(t *testing.T) {
	m := NewKeyedMutex(20 * time.Millisecond)
	unlock, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)

	_, err = m.Lock(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
	assert.True(t, errors.Is(err, errs.ErrConflict))

	unlock()
	unlock() // idempotent
	assert.Equal(t, 0, m.size())

	unlock, err = m.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	m := NewKeyedMutex(0)
	unlock, err := m.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedisLocker(client, "test:", time.Minute, 100*time.Millisecond)

	unlock, err := l.Lock(context.Background(), "track-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:track-1"))

	_, err = l.Lock(context.Background(), "track-1")
	assert.True(t, errors.Is(err, ErrLockTimeout))

	unlock()
	assert.False(t, mr.Exists("test:track-1"))

	unlock, err = l.Lock(context.Background(), "track-1")
	require.NoError(t, err)
	unlock()
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedisLocker(client, "test:", time.Minute, 50*time.Millisecond)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	// simulate expiry and takeover by another instance
	require.NoError(t, mr.Set("test:k", "someone-else"))
	unlock()

	v, err := mr.Get("test:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestNew(t *testing.T) {
	cfg := config.Defaults()
	l, err := New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &KeyedMutex{}, l)

	cfg.LockBackend = "redis"
	_, err = New(cfg, nil)
	assert.Error(t, err)

	_, client := newRedis(t)
	l, err = New(cfg, client)
	require.NoError(t, err)
	assert.IsType(t, &RedisLocker{}, l)

	cfg.LockTTL = cfg.TranscodeTimeout
	_, err = New(cfg, client)
	assert.ErrorContains(t, err, "LOCK_TTL")
	cfg.LockTTL = cfg.TranscodeTimeout + time.Minute

	cfg.LockBackend = "zookeeper"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}
