package command

import (
	"context"
)

// Handler 处理来自消息队列的命令。
type Handler func(ctx context.Context, cmd Command) error

// Producer 负责向队列投递命令。
type Producer interface {
	Publish(ctx context.Context, cmd Command) error
	Close() error
}

// Consumer 负责从队列中消费命令。所有实现都只使用一个消费协程，
// 保证命令按到达顺序逐个进入执行引擎。
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
