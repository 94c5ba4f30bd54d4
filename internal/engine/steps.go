package engine

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/web3"
	"DefiFlow/internal/web3/contracts"
	"DefiFlow/pkg/logger"
)

const (
	txApprove    = "approve"
	txSwap       = "swap"
	txBridge     = "bridge"
	txSettlement = "settlement"
)

type step struct {
	index int
	key   string
	run   func(ctx context.Context, p *plan, account common.Address) error
}

func (e *Engine) steps() []step {
	return []step{
		{StepSwitchToSwap, "switch_swap_network", func(ctx context.Context, _ *plan, _ common.Address) error {
			return e.switchNetwork(ctx, e.cfg.SwapNetwork)
		}},
		{StepSwap, "swap", e.swap},
		{StepBridge, "bridge", e.bridge},
		{StepSwitchToSettlement, "switch_settlement_network", func(ctx context.Context, _ *plan, _ common.Address) error {
			return e.switchNetwork(ctx, e.cfg.SettlementNetwork)
		}},
		{StepSettle, "settle", e.settle},
	}
}

// run walks the steps strictly in order. The first error ends the run;
// nothing is retried and nothing already confirmed is undone.
func (e *Engine) run(ctx context.Context, p *plan, account common.Address) {
	defer e.runs.Done()
	for _, s := range e.steps() {
		if err := e.advance(s.index); err != nil {
			e.logger.Error("推进执行步骤失败", slog.String("run_id", p.runID), slog.Any("error", err))
			return
		}
		started := time.Now()
		err := s.run(ctx, p, account)
		if e.observer != nil {
			e.observer.ObserveStep(s.key, time.Since(started), err)
		}
		if err != nil {
			e.fail(p, s.index, err)
			return
		}
	}
	e.complete(p)
}

func (e *Engine) advance(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.state.clone()
	next.Step = index
	next.StepName = e.stepName(index)
	return e.setLocked(next)
}

func (e *Engine) fail(p *plan, index int, err error) {
	reason := apperrors.Reason(err)
	if reason == "" {
		reason = err.Error()
	}
	e.mu.Lock()
	next := e.state.clone()
	next.Phase = PhaseFailed
	next.Step = index
	next.StepName = e.stepName(index)
	next.Reason = reason
	next.Code = apperrors.CodeOf(err)
	setErr := e.setLocked(next)
	final := e.state.clone()
	e.mu.Unlock()
	if setErr != nil {
		e.logger.Error("无法记录失败状态", slog.String("run_id", p.runID), slog.Any("error", setErr))
	}

	logger.Audit().Warn("执行失败",
		slog.String("run_id", p.runID),
		slog.Int("step", index),
		slog.String("step_name", final.StepName),
		slog.String("code", string(final.Code)),
		slog.String("reason", reason),
		slog.String("summary", final.Summary),
		slog.String("last_tx", final.LastTxRef),
		slog.Any("error", err))
}

func (e *Engine) complete(p *plan) {
	e.mu.Lock()
	next := e.state.clone()
	next.Phase = PhaseComplete
	next.StepName = "Execution Complete"
	setErr := e.setLocked(next)
	final := e.state.clone()
	e.mu.Unlock()
	if setErr != nil {
		e.logger.Error("无法记录完成状态", slog.String("run_id", p.runID), slog.Any("error", setErr))
		return
	}
	logger.Audit().Info("执行完成",
		slog.String("run_id", p.runID),
		slog.String("amount_in", p.amountIn.String()),
		slog.String("amount_out", p.amountOut.String()),
		slog.Int("recipients", len(p.recipients)),
		slog.String("last_tx", final.LastTxRef))
}

// switchNetwork asks the signer to switch and adds the network first when
// the signer does not know it.
func (e *Engine) switchNetwork(ctx context.Context, n web3.Network) error {
	if e.wallet.ActiveChain() == n.ChainID {
		return nil
	}
	err := e.wallet.SwitchNetwork(ctx, n.ChainID)
	if apperrors.HasCode(err, apperrors.CodeNetworkNotFound) {
		e.logger.Info("钱包未配置该网络，尝试添加", slog.String("network", n.Name), slog.Uint64("chain_id", n.ChainID))
		if addErr := e.wallet.AddNetwork(ctx, n); addErr != nil {
			return classify(apperrors.CodeNetworkSwitch, addErr)
		}
		err = e.wallet.SwitchNetwork(ctx, n.ChainID)
	}
	if err != nil {
		return classify(apperrors.CodeNetworkSwitch, err)
	}
	return nil
}

func (e *Engine) swap(ctx context.Context, p *plan, account common.Address) error {
	pair := e.cfg.Pair
	value := new(big.Int)
	if pair.TokenIn == (common.Address{}) {
		value.Set(p.amountInUnits)
	} else if err := e.ensureAllowance(ctx, p, account, pair.TokenIn, e.cfg.SwapRouter, p.amountInUnits); err != nil {
		return err
	}
	data, err := contracts.ExactInputSwapData(pair.PoolKey(), pair.TokenIn, p.amountInUnits)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransactionRejected, err, "encode swap")
	}
	return e.transact(ctx, p, StepSwap, txSwap, e.cfg.SwapNetwork, e.cfg.SwapRouter, value, data)
}

// ensureAllowance approves the router when its allowance does not cover
// amount. The approval is confirmed before the swap is sent.
func (e *Engine) ensureAllowance(ctx context.Context, p *plan, owner common.Address, token, spender common.Address, amount *big.Int) error {
	query, err := contracts.AllowanceData(owner, spender)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransactionRejected, err, "encode allowance")
	}
	if out, err := e.wallet.Call(ctx, token, query); err == nil {
		if current, err := contracts.DecodeUint256("allowance", out); err == nil && current.Cmp(amount) >= 0 {
			return nil
		}
	} else {
		e.logger.Warn("查询授权额度失败，直接发起授权", slog.String("token", token.Hex()), slog.Any("error", err))
	}
	data, err := contracts.ApproveData(spender, amount)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransactionRejected, err, "encode approve")
	}
	return e.transact(ctx, p, StepSwap, txApprove, e.cfg.SwapNetwork, token, new(big.Int), data)
}

// bridge moves the swap output to the settlement contract with a plain
// token transfer on the swap network. It is not atomic with the swap.
func (e *Engine) bridge(ctx context.Context, p *plan, _ common.Address) error {
	data, err := contracts.TransferData(e.cfg.Settlement, p.bridgeUnits)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransactionRejected, err, "encode transfer")
	}
	return e.transact(ctx, p, StepBridge, txBridge, e.cfg.SwapNetwork, e.cfg.Pair.TokenOut, new(big.Int), data)
}

func (e *Engine) settle(ctx context.Context, p *plan, _ common.Address) error {
	data, err := contracts.DistributeData(e.cfg.SettlementToken, p.addresses, p.payoutUnits, p.memo)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransactionRejected, err, "encode distribution")
	}
	return e.transact(ctx, p, StepSettle, txSettlement, e.cfg.SettlementNetwork, e.cfg.Settlement, new(big.Int), data)
}

// transact submits one transaction, records its reference at once and
// waits for its receipt.
func (e *Engine) transact(ctx context.Context, p *plan, index int, kind string, network web3.Network, to common.Address, value *big.Int, data []byte) error {
	hash, err := e.wallet.SendTransaction(ctx, to, value, data)
	if err != nil {
		return classify(apperrors.CodeTransactionRejected, err)
	}
	e.recordTx(TxRecord{
		Step:    index,
		Kind:    kind,
		Hash:    hash.Hex(),
		ChainID: network.ChainID,
		URL:     network.TxURL(hash.Hex()),
	})
	e.logger.Info("交易已提交，等待确认",
		slog.String("run_id", p.runID),
		slog.String("kind", kind),
		slog.String("tx", hash.Hex()))

	receipt, err := e.wallet.WaitForConfirmation(ctx, hash)
	if err != nil {
		return classify(apperrors.CodeConfirmationTimeout, err)
	}
	if !receipt.Succeeded() {
		return apperrors.New(apperrors.CodeContractReverted, "", apperrors.WithMetadata("tx", hash.Hex()))
	}
	e.logger.Info("交易已确认",
		slog.String("run_id", p.runID),
		slog.String("kind", kind),
		slog.String("tx", hash.Hex()),
		slog.Uint64("block", receipt.BlockNumber))
	return nil
}

func (e *Engine) recordTx(tx TxRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Transactions = append(e.state.Transactions, tx)
	e.state.LastTxRef = tx.Hash
	e.state.UpdatedAt = time.Now().UTC()
	e.emitLocked()
}

// classify keeps errors that already carry a terminal code and files
// everything else under code, preserving the readable reason.
func classify(code apperrors.Code, err error) error {
	if e, ok := apperrors.From(err); ok && e.Terminal() {
		return err
	}
	return apperrors.Wrap(code, err, apperrors.Reason(err))
}
