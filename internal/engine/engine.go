// Package engine 驱动已校验的工作流图：收到启动命令后就绪，价格触发后
// 按固定顺序执行链上步骤，并上报每一次状态转换。
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"DefiFlow/internal/events"
	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/flow"
	"DefiFlow/internal/pricefeed"
	"DefiFlow/internal/quote"
	"DefiFlow/internal/web3"
	"DefiFlow/pkg/logger"
)

// Config 将执行绑定到具体的网络与合约。
type Config struct {
	SwapNetwork        web3.Network
	SettlementNetwork  web3.Network
	Pair               quote.Pair
	SwapRouter         common.Address
	Settlement         common.Address
	SettlementToken    common.Address
	SettlementDecimals int32
	// Instrument, when set, filters the ticks the trigger looks at.
	Instrument      string
	AmountTolerance decimal.Decimal
}

// Validate 校验配置。
func (c Config) Validate() error {
	if c.SwapNetwork.ChainID == 0 || c.SettlementNetwork.ChainID == 0 {
		return errors.New("swap and settlement networks are required")
	}
	if c.SwapRouter == (common.Address{}) {
		return errors.New("swap router address is required")
	}
	if c.Settlement == (common.Address{}) {
		return errors.New("settlement contract address is required")
	}
	if c.Pair.TokenOut == (common.Address{}) {
		return errors.New("output token is required")
	}
	if c.SettlementToken == (common.Address{}) {
		return errors.New("settlement token is required")
	}
	return nil
}

// Resolver 将收款方输入解析为地址。
type Resolver interface {
	Resolve(ctx context.Context, raw string) (common.Address, error)
}

// Quoter 根据期望产出计算兑换所需输入。
type Quoter interface {
	QuoteRequiredInput(ctx context.Context, desired decimal.Decimal) (quote.Quote, error)
}

// Observer 接收状态转换与步骤耗时，用于指标统计。
type Observer interface {
	ObservePhase(from, to string)
	ObserveStep(step string, duration time.Duration, err error)
}

// Option 定义可选配置。
type Option func(*Engine)

// WithResolver 指定启动时使用的收款方解析器。
func WithResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithQuoter 指定兑换输入缺失时使用的报价来源。
func WithQuoter(q Quoter) Option {
	return func(e *Engine) { e.quoter = q }
}

// WithPublisher 指定状态事件的投递目标。
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithObserver 指定指标记录器。
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine 持有执行状态，所有修改都在内部完成，调用方只读取快照并接收事件。
type Engine struct {
	cfg       Config
	wallet    web3.Wallet
	resolver  Resolver
	quoter    Quoter
	publisher events.Publisher
	observer  Observer
	logger    *slog.Logger

	// cmdMu serialises Start, Stop and Reset.
	cmdMu sync.Mutex

	mu      sync.Mutex
	state   State
	plan    *plan
	account common.Address
	runs    sync.WaitGroup

	notify    chan events.Event
	done      chan struct{}
	closed    bool
	closeOnce sync.Once
}

// New 构造处于 Idle 状态的执行引擎。
func New(cfg Config, wallet web3.Wallet, opts ...Option) (*Engine, error) {
	if wallet == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "未配置钱包")
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInitializationFailure, err, "执行引擎配置无效")
	}
	e := &Engine{
		cfg:    cfg,
		wallet: wallet,
		logger: logger.Named("engine"),
		state:  State{Phase: PhaseIdle, Summary: "idle", UpdatedAt: time.Now().UTC()},
		notify: make(chan events.Event, 256),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	go e.dispatch()
	return e, nil
}

// State 返回执行状态的快照。
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Start 校验工作流图、关联付款账户、解析全部收款方并确定兑换输入后进入
// Armed。已结束的执行会先回到 Idle。失败时状态保持不变。
func (e *Engine) Start(ctx context.Context, g flow.Graph) (State, error) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	switch current := e.State(); current.Phase {
	case PhaseArmed:
		return current, apperrors.New(apperrors.CodeConflict, "already armed; stop before starting again")
	case PhaseRunning:
		return current, invalidTransition(PhaseRunning, PhaseArmed)
	}

	if err := flow.Validate(g, flow.WithAmountTolerance(e.cfg.AmountTolerance)); err != nil {
		return e.State(), err
	}
	account, err := e.wallet.RequestAccounts(ctx)
	if err != nil {
		return e.State(), apperrors.Wrap(apperrors.CodeNoAccount, err, apperrors.Reason(err))
	}
	if account == (common.Address{}) {
		return e.State(), apperrors.New(apperrors.CodeNoAccount, "")
	}
	p, err := e.buildPlan(ctx, g.Clone())
	if err != nil {
		return e.State(), err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Phase.Terminal() {
		if err := e.setLocked(State{Phase: PhaseIdle}); err != nil {
			return e.state.clone(), err
		}
	}
	next := State{
		RunID:      p.runID,
		Phase:      PhaseArmed,
		Recipients: p.recipients,
		Trigger:    p.condition.String(),
	}
	if err := e.setLocked(next); err != nil {
		return e.state.clone(), err
	}
	e.plan, e.account = p, account
	e.logger.Info("工作流已就绪，等待触发",
		slog.String("run_id", p.runID),
		slog.String("trigger", next.Trigger),
		slog.String("amount_in", p.amountIn.String()),
		slog.Bool("amount_in_quoted", p.inputFromQuote),
		slog.Int("recipients", len(p.recipients)))
	return e.state.clone(), nil
}

// Stop 解除就绪，仅在 Armed 时可用，执行中的流程不可取消。
func (e *Engine) Stop(context.Context) (State, error) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Phase != PhaseArmed {
		return e.state.clone(), invalidTransition(e.state.Phase, PhaseIdle)
	}
	return e.disarmLocked()
}

// Reset 将已结束或已就绪的引擎恢复为 Idle 并丢弃执行计划。
func (e *Engine) Reset(context.Context) (State, error) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state.Phase {
	case PhaseIdle:
		return e.state.clone(), nil
	case PhaseRunning:
		return e.state.clone(), invalidTransition(PhaseRunning, PhaseIdle)
	}
	return e.disarmLocked()
}

func (e *Engine) disarmLocked() (State, error) {
	if err := e.setLocked(State{Phase: PhaseIdle}); err != nil {
		return e.state.clone(), err
	}
	e.plan, e.account = nil, common.Address{}
	return e.state.clone(), nil
}

// OnTick 用一次价格更新评估触发条件，满足时开始执行。仅在 Armed 时处理，
// 执行期间到达的价格不会启动第二次执行。执行不随 ctx 取消而中止。
func (e *Engine) OnTick(ctx context.Context, tick pricefeed.Tick) bool {
	if e.cfg.Instrument != "" && !strings.EqualFold(tick.Instrument, e.cfg.Instrument) {
		return false
	}
	e.mu.Lock()
	if e.state.Phase != PhaseArmed || e.plan == nil || !e.plan.condition.Met(tick.Price) {
		e.mu.Unlock()
		return false
	}
	next := e.state.clone()
	next.Phase = PhaseRunning
	next.Step = StepTriggered
	next.StepName = e.stepName(StepTriggered)
	next.FiredPrice = tick.Price.String()
	if err := e.setLocked(next); err != nil {
		e.mu.Unlock()
		return false
	}
	p, account := e.plan, e.account
	e.runs.Add(1)
	e.mu.Unlock()

	e.logger.Info("触发条件满足，开始执行",
		slog.String("run_id", p.runID),
		slog.String("price", tick.Price.String()),
		slog.String("trigger", p.condition.String()))
	go e.run(context.WithoutCancel(ctx), p, account)
	return true
}

// Watch 持续把价格交给 OnTick，直到 ctx 结束或通道关闭。
func (e *Engine) Watch(ctx context.Context, ticks <-chan pricefeed.Tick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			e.OnTick(ctx, tick)
		}
	}
}

// Wait 阻塞直到没有执行在进行。
func (e *Engine) Wait() {
	e.runs.Wait()
}

// Close 等待当前执行结束并投递剩余事件。
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.runs.Wait()
		e.mu.Lock()
		e.closed = true
		close(e.notify)
		e.mu.Unlock()
		<-e.done
	})
}

// setLocked applies next if the transition is allowed and publishes it.
func (e *Engine) setLocked(next State) error {
	from := e.state.Phase
	if !CanTransition(from, next.Phase) {
		return invalidTransition(from, next.Phase)
	}
	next.UpdatedAt = time.Now().UTC()
	next.Summary = summarize(next)
	e.state = next
	if e.observer != nil {
		e.observer.ObservePhase(string(from), string(next.Phase))
	}
	e.logger.Debug("状态迁移",
		slog.String("run_id", next.RunID),
		slog.String("from", string(from)),
		slog.String("to", string(next.Phase)),
		slog.Int("step", next.Step))
	e.emitLocked()
	return nil
}

func (e *Engine) emitLocked() {
	if e.publisher == nil || e.closed {
		return
	}
	s := e.state
	ev := events.Event{
		RunID:    s.RunID,
		Phase:    string(s.Phase),
		Step:     s.Step,
		StepName: s.StepName,
		Reason:   s.Reason,
		Code:     string(s.Code),
		TxRef:    s.LastTxRef,
		Summary:  s.Summary,
		At:       s.UpdatedAt,
	}.Stamp()
	select {
	case e.notify <- ev:
	default:
		e.logger.Warn("事件队列已满，丢弃事件", slog.String("run_id", s.RunID), slog.String("phase", ev.Phase))
	}
}

// dispatch publishes events in transition order.
func (e *Engine) dispatch() {
	defer close(e.done)
	for ev := range e.notify {
		if e.publisher == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.publisher.Publish(ctx, ev); err != nil {
			e.logger.Warn("发布状态事件失败", slog.String("event_id", ev.ID), slog.Any("error", err))
		}
		cancel()
	}
}

func (e *Engine) stepName(step int) string {
	switch step {
	case StepTriggered:
		return "Initializing Agent"
	case StepSwitchToSwap:
		return "Switching to " + displayName(e.cfg.SwapNetwork)
	case StepSwap:
		return "Swapping Tokens on " + displayName(e.cfg.SwapNetwork)
	case StepBridge:
		return "Moving Funds to Settlement Contract"
	case StepSwitchToSettlement:
		return "Switching to " + displayName(e.cfg.SettlementNetwork)
	case StepSettle:
		return "Settling Payroll on " + displayName(e.cfg.SettlementNetwork)
	}
	return fmt.Sprintf("step %d", step)
}

func displayName(n web3.Network) string {
	if n.DisplayName != "" {
		return n.DisplayName
	}
	if n.Name != "" {
		return n.Name
	}
	return fmt.Sprintf("chain %d", n.ChainID)
}
