package redis

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"artifact-go/internal/arterrors"
)

func newTestLocker(t *testing.T, wait time.Duration) (*miniredis.Miniredis, *redisPathLocker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l := NewRedisPathLocker(client, time.Minute, wait).(*redisPathLocker)
	l.pollInterval = 5 * time.Millisecond
	return mr, l
}

func TestRedisPathLocker_LockAndRelease(t *testing.T) {
	mr, l := newTestLocker(t, time.Second)

	unlock, err := l.Lock(context.Background(), "models/1/a.bin")
	require.NoError(t, err)
	assert.True(t, mr.Exists(lockKeyPrefix+"models/1/a.bin"))

	unlock()
	assert.False(t, mr.Exists(lockKeyPrefix+"models/1/a.bin"))
}

func TestRedisPathLocker_WaitTimeoutIsAborted(t *testing.T) {
	_, l := newTestLocker(t, 30*time.Millisecond)

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	_, err = l.Lock(context.Background(), "a")
	de, ok := arterrors.AsDomain(err)
	require.True(t, ok, "expected domain error, got %v", err)
	assert.Equal(t, codes.Aborted, de.Code)
}

func TestRedisPathLocker_AcquiresAfterRelease(t *testing.T) {
	_, l := newTestLocker(t, time.Second)

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		unlock()
	}()

	unlock2, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlock2()
}

func TestRedisPathLocker_ReleaseKeepsForeignLock(t *testing.T) {
	mr, l := newTestLocker(t, time.Second)

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	// 锁过期后被其他实例获取
	require.NoError(t, mr.Set(lockKeyPrefix+"a", "someone-else"))
	unlock()

	got, err := mr.Get(lockKeyPrefix + "a")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisPathLocker_WarnsWhenLockLost(t *testing.T) {
	mr, l := newTestLocker(t, time.Second)
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())

	unlock, err := l.Lock(ctx, "a")
	require.NoError(t, err)

	// TTL 到期，键已消失
	mr.Del(lockKeyPrefix + "a")
	unlock()

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "path lock lost")
}

func TestRedisPathLocker_RenewsWhileHeld(t *testing.T) {
	mr, l := newTestLocker(t, time.Second)
	l.renewInterval = 10 * time.Millisecond
	key := lockKeyPrefix + "slow/upload.bin"

	unlock, err := l.Lock(context.Background(), "slow/upload.bin")
	require.NoError(t, err)
	defer unlock()

	// 剩余 10s，续期后应回到完整的 TTL
	mr.FastForward(50 * time.Second)

	assert.Eventually(t, func() bool {
		return mr.TTL(key) == time.Minute
	}, time.Second, 5*time.Millisecond)
	assert.True(t, mr.Exists(key))
}

func TestRedisPathLocker_CanceledContext(t *testing.T) {
	_, l := newTestLocker(t, time.Second)
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, arterrors.IsDomain(err))
}
