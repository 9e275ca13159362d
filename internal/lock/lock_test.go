package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLockerReleasesAfterRun(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewRedisLocker(client, time.Second, 0)

	ran := false
	err := locker.WithLock(context.Background(), "c1:+33600000000", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:turn:c1:+33600000000"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:turn:c1:+33600000000"))
}

func TestRedisLockerFailsFastWhenHeldAndNoWait(t *testing.T) {
	mr, client := newRedis(t)
	require.NoError(t, mr.Set("lock:turn:k", "someone-else"))
	locker := NewRedisLocker(client, time.Second, 0)

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
		t.Fatal("fn must not run without the lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	got, _ := mr.Get("lock:turn:k")
	assert.Equal(t, "someone-else", got, "foreign tokens are never released")
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	mr, client := newRedis(t)
	require.NoError(t, mr.Set("lock:turn:k", "other"))
	locker := NewRedisLocker(client, time.Second, 2*time.Second)

	go func() {
		time.Sleep(100 * time.Millisecond)
		mr.Del("lock:turn:k")
	}()

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
}

func TestRedisLockerPropagatesFnError(t *testing.T) {
	_, client := newRedis(t)
	locker := NewRedisLocker(client, time.Second, 0)
	boom := errors.New("boom")
	assert.ErrorIs(t, locker.WithLock(context.Background(), "k", func(ctx context.Context) error { return boom }), boom)
}

func TestRedisLockerSerializesConcurrentTurns(t *testing.T) {
	_, client := newRedis(t)
	locker := NewRedisLocker(client, time.Second, 5*time.Second)
	assertSerialized(t, locker)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()
	assertSerialized(t, km)
	assert.Equal(t, 0, km.Len(), "idle keys are dropped")
}

func TestKeyedMutexDifferentKeysRunInParallel(t *testing.T) {
	km := NewKeyedMutex()
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = km.WithLock(context.Background(), "a", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	done := make(chan struct{})
	go func() {
		_ = km.WithLock(context.Background(), "b", func(ctx context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("key b blocked behind key a")
	}
	close(release)
}

func TestKeyedMutexHonorsContextWhileWaiting(t *testing.T) {
	km := NewKeyedMutex()
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = km.WithLock(context.Background(), "a", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := km.WithLock(ctx, "a", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func assertSerialized(t *testing.T, locker Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "same-key", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}
