package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, RedisConfig{TTL: time.Minute, RetryInterval: 5 * time.Millisecond}, nil), mr
}

func TestRedisLockAndRelease(t *testing.T) {
	t.Parallel()

	r, mr := newRedisLocker(t)
	unlock, err := r.Lock(context.Background(), []string{"https://x/2", "https://x/1", "https://x/1"})
	require.NoError(t, err)
	require.Len(t, mr.Keys(), 2)
	require.True(t, mr.Exists(r.redisKey("https://x/1")))

	unlock()
	require.Empty(t, mr.Keys())
}

func TestRedisLockWaitsForHolder(t *testing.T) {
	t.Parallel()

	r, _ := newRedisLocker(t)
	unlock, err := r.Lock(context.Background(), []string{"k"})
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := r.Lock(context.Background(), []string{"k"})
		if err == nil {
			second()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first was held")
	case <-time.After(30 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired")
	}
}

func TestRedisLockTimeoutReleasesPartialSet(t *testing.T) {
	t.Parallel()

	r, mr := newRedisLocker(t)
	unlock, err := r.Lock(context.Background(), []string{"b"})
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Lock(ctx, []string{"a", "b"})
	require.ErrorIs(t, err, catalog.ErrLockTimeout)
	require.False(t, mr.Exists(r.redisKey("a")))
}

func TestRedisReleaseKeepsForeignToken(t *testing.T) {
	t.Parallel()

	r, mr := newRedisLocker(t)
	unlock, err := r.Lock(context.Background(), []string{"k"})
	require.NoError(t, err)

	key := r.redisKey("k")
	require.NoError(t, mr.Set(key, "someone-else"))
	unlock()
	got, err := mr.Get(key)
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}
