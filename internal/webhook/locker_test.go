package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "lock:a", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "lock:a", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	release()
	assert.False(t, mr.Exists("lock:a"))

	release2, err := locker.Acquire(ctx, "lock:a", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	release3, err := locker.Acquire(ctx, "lock:a", time.Minute)
	require.NoError(t, err)

	release2()
	assert.True(t, mr.Exists("lock:a"))
	release3()
	assert.False(t, mr.Exists("lock:a"))
}
