package command

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue 使用 channel 实现进程内命令队列。
type MemoryQueue struct {
	ch     chan Command
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Command, size)}
}

// Publish 将命令投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, cmd Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- cmd:
		return nil
	}
}

// Consume 顺序消费队列中的命令，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-q.ch:
			if !ok {
				return nil
			}
			_ = handler(ctx, cmd)
		}
	}
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}
