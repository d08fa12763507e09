package pipeline

import (
	"context"
	"sync"
)

// Ring 有界的单消费者 FIFO 队列
// 队列满时 Publish 阻塞生产者, 形成背压; Close 之后不再接受新的事件, 消费者把已经接受的事件处理完后退出
type Ring[T any] struct {
	ch        chan T
	mu        sync.RWMutex
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		ch:      make(chan T, capacity),
		closing: make(chan struct{}),
	}
}

// Publish 发布一个事件, 队列满时阻塞直到有空位, ctx 取消或者队列关闭时返回错误
func (r *Ring[T]) Publish(ctx context.Context, v T) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrQueueClosed
	}
	select {
	case r.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.closing:
		return ErrQueueClosed
	}
}

// C 消费端, 队列关闭并且取空之后 channel 关闭
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Close 关闭队列, 阻塞中的生产者会收到 ErrQueueClosed
func (r *Ring[T]) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
	})
}

func (r *Ring[T]) Len() int {
	return len(r.ch)
}

func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}
