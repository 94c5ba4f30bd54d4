package command

import (
	"context"
	"log/slog"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/engine"
	"DefiFlow/internal/flow"
	"DefiFlow/pkg/logger"
)

// Executor 定义了处理器所需的执行引擎能力。
type Executor interface {
	Start(ctx context.Context, g flow.Graph) (engine.State, error)
	Stop(ctx context.Context) (engine.State, error)
	Reset(ctx context.Context) (engine.State, error)
}

// Observer 接收命令处理结果，用于指标统计。
type Observer interface {
	ObserveCommand(kind string, err error)
}

// Processor 负责从队列消费命令并交给执行引擎。
type Processor struct {
	executor Executor
	consumer Consumer
	tracker  *Tracker
	observer Observer
	logger   *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTracker 记录每条命令的结果，供调用方等待。
func WithTracker(t *Tracker) ProcessorOption {
	return func(p *Processor) {
		p.tracker = t
	}
}

// WithObserver 配置指标观察者。
func WithObserver(o Observer) ProcessorOption {
	return func(p *Processor) {
		p.observer = o
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor: executor,
		consumer: consumer,
		logger:   logger.Named("command"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动命令处理循环，阻塞到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.executor == nil {
		return apperrors.New(apperrors.CodeInitializationFailure, "命令处理器未初始化")
	}
	return p.consumer.Consume(ctx, p.Handle)
}

// Handle 执行单条命令。本地错误（校验失败、非法迁移）只记录在结果中，不会重试。
func (p *Processor) Handle(ctx context.Context, cmd Command) error {
	state, err := p.dispatch(ctx, cmd)
	outcome := newOutcome(cmd, state, err)
	if p.tracker != nil {
		p.tracker.Record(outcome)
	}
	if p.observer != nil {
		p.observer.ObserveCommand(string(cmd.Type), err)
	}
	if err != nil {
		p.logger.Warn("命令执行失败",
			slog.String("command_id", cmd.ID),
			slog.String("type", string(cmd.Type)),
			slog.String("error_code", string(outcome.Code)),
			slog.String("error", err.Error()),
			slog.String("phase", string(state.Phase)))
		return err
	}
	logger.Audit().Info("命令执行成功",
		slog.String("command_id", cmd.ID),
		slog.String("type", string(cmd.Type)),
		slog.String("run_id", state.RunID),
		slog.String("phase", string(state.Phase)))
	return nil
}

func (p *Processor) dispatch(ctx context.Context, cmd Command) (engine.State, error) {
	if err := cmd.Validate(); err != nil {
		return engine.State{}, err
	}
	switch cmd.Type {
	case TypeStart:
		return p.executor.Start(ctx, *cmd.Graph)
	case TypeStop:
		return p.executor.Stop(ctx)
	default:
		return p.executor.Reset(ctx)
	}
}
