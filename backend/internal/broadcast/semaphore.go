package broadcast

import (
	"context"
	"errors"
)

var errSemaphoreNotAcquired = errors.New("release failed, semaphore is not acquired")

// semaphore 基于带缓冲 channel 的计数信号量
type semaphore struct {
	ch chan struct{}
}

func newSemaphore(n int) *semaphore {
	if n < 1 {
		n = 1
	}
	return &semaphore{ch: make(chan struct{}, n)}
}

func (s *semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return errSemaphoreNotAcquired
	}
}
