package storage

import (
	"context"
	"fmt"
	"sync"

	"artifact-go/internal/arttypes"
)

// localPathLocker 在单个进程内串行化对同一路径的写入。
type localPathLocker struct {
	mu    sync.Mutex
	slots map[string]*pathSlot
}

type pathSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalPathLocker creates an in-process arttypes.PathLocker.
func NewLocalPathLocker() arttypes.PathLocker {
	return &localPathLocker{slots: make(map[string]*pathSlot)}
}

func (l *localPathLocker) Lock(ctx context.Context, artifactPath string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[artifactPath]
	if !ok {
		slot = &pathSlot{ch: make(chan struct{}, 1)}
		l.slots[artifactPath] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(artifactPath, slot)
		return nil, fmt.Errorf("等待路径锁 %s 被取消: %w", artifactPath, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.release(artifactPath, slot)
		})
	}, nil
}

func (l *localPathLocker) release(artifactPath string, slot *pathSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, artifactPath)
	}
}
