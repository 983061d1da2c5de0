package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"artifact-go/internal/arterrors"
	"artifact-go/internal/arttypes"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const lockKeyPrefix = "artifact:lock:"

// 只有持有者 (token 相同) 才能释放锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// 只有持有者才能续期。
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// redisPathLocker 是 arttypes.PathLocker 的 Redis 实现，
// 用于多个实例共享同一个 NFS 挂载时串行化对同一路径的写入。
type redisPathLocker struct {
	client        redis.Cmdable
	ttl           time.Duration
	wait          time.Duration
	pollInterval  time.Duration
	renewInterval time.Duration // <= 0 表示不续期
}

// NewRedisPathLocker 创建一个新的 redisPathLocker 实例。
// ttl 是锁的最长持有时间，wait 是获取锁的最长等待时间。
func NewRedisPathLocker(client redis.Cmdable, ttl, wait time.Duration) arttypes.PathLocker {
	return &redisPathLocker{
		client:        client,
		ttl:           ttl,
		wait:          wait,
		pollInterval:  50 * time.Millisecond,
		renewInterval: ttl / 3,
	}
}

// Lock 使用 SET NX PX 获取锁，锁被占用时轮询直到超时。
// 等待超时返回 ABORTED 的 DomainError。持有期间每 renewInterval 续期一次。
func (l *redisPathLocker) Lock(ctx context.Context, artifactPath string) (func(), error) {
	key := lockKeyPrefix + artifactPath
	token := uuid.NewString()

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("获取 Redis 路径锁失败 for %s: %w", artifactPath, err)
		}
		if ok {
			return l.hold(ctx, key, token), nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, fmt.Errorf("等待路径锁 %s 被取消: %w", artifactPath, ctx.Err())
			}
			return nil, arterrors.Aborted("artifact path %s is being written by another request", artifactPath)
		case <-ticker.C:
		}
	}
}

// hold 启动续期 goroutine 并返回 unlock。
func (l *redisPathLocker) hold(ctx context.Context, key, token string) func() {
	logger := zerolog.Ctx(ctx).With().Str("lock_key", key).Logger()
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(&logger, key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			// 释放时不使用请求的 ctx，请求可能已经结束
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			released, err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Int()
			if err != nil {
				logger.Warn().Err(err).Msg("failed to release path lock")
				return
			}
			if released == 0 {
				logger.Warn().Dur("ttl", l.ttl).Msg("path lock lost before release, concurrent writes to this path were possible")
			}
		})
	}
}

func (l *redisPathLocker) keepAlive(logger *zerolog.Logger, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if l.renewInterval <= 0 || l.ttl <= 0 {
		<-stop
		return
	}

	ticker := time.NewTicker(l.renewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			renewCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			renewed, err := renewScript.Run(renewCtx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				logger.Warn().Err(err).Msg("failed to renew path lock")
				continue
			}
			if renewed == 0 {
				logger.Warn().Dur("ttl", l.ttl).Msg("path lock lost while held, concurrent writes to this path are possible")
				<-stop
				return
			}
		}
	}
}
