package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/web3"
	"DefiFlow/pkg/logger"
)

// TxRequest is what an Approver is asked to sign off.
type TxRequest struct {
	ChainID uint64
	From    common.Address
	To      common.Address
	Value   *big.Int
	Data    []byte
	Gas     uint64
}

// Approver confirms a transaction before it is signed. Returning an error
// declines it.
type Approver func(ctx context.Context, req TxRequest) error

// AllowList approves only transactions addressed to one of addrs.
func AllowList(addrs ...common.Address) Approver {
	allowed := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		allowed[a] = struct{}{}
	}
	return func(_ context.Context, req TxRequest) error {
		if _, ok := allowed[req.To]; !ok {
			return fmt.Errorf("destination %s is not on the allow list", req.To.Hex())
		}
		return nil
	}
}

// WalletOption customises a Wallet.
type WalletOption func(*Wallet)

// WithDialer replaces the dialer used when switching to a new network.
func WithDialer(d Dialer) WalletOption {
	return func(w *Wallet) {
		if d != nil {
			w.dial = d
		}
	}
}

// WithApprover installs a signing policy.
func WithApprover(a Approver) WalletOption {
	return func(w *Wallet) { w.approve = a }
}

// WithPollInterval sets how often receipts are polled.
func WithPollInterval(d time.Duration) WalletOption {
	return func(w *Wallet) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithMaxPollErrors bounds consecutive transport failures while waiting for
// a receipt.
func WithMaxPollErrors(n int) WalletOption {
	return func(w *Wallet) {
		if n > 0 {
			w.maxPollErrors = n
		}
	}
}

// WithWalletLogger overrides the logger.
func WithWalletLogger(l *slog.Logger) WalletOption {
	return func(w *Wallet) {
		if l != nil {
			w.logger = l
		}
	}
}

// Wallet signs with a local key and submits through per-network RPC
// backends. It implements web3.Wallet.
type Wallet struct {
	key           *ecdsa.PrivateKey
	account       common.Address
	dial          Dialer
	approve       Approver
	pollInterval  time.Duration
	maxPollErrors int
	logger        *slog.Logger

	mu       sync.Mutex
	networks map[uint64]web3.Network
	backends map[uint64]Backend
	active   uint64
	sent     map[common.Hash]sentTx
}

type sentTx struct {
	chainID uint64
	msg     gethcore.CallMsg
}

// NewWallet creates a signer for key. It starts with no active network.
func NewWallet(key *ecdsa.PrivateKey, opts ...WalletOption) (*Wallet, error) {
	if key == nil {
		return nil, errors.New("未配置签名私钥")
	}
	w := &Wallet{
		key:           key,
		account:       crypto.PubkeyToAddress(key.PublicKey),
		dial:          DialNetwork,
		pollInterval:  time.Second,
		maxPollErrors: 5,
		logger:        logger.Named("wallet"),
		networks:      make(map[uint64]web3.Network),
		backends:      make(map[uint64]Backend),
		sent:          make(map[common.Hash]sentTx),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// NewWalletFromHex parses a hex private key, with or without 0x.
func NewWalletFromHex(hexKey string, opts ...WalletOption) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析签名私钥失败: %w", err)
	}
	return NewWallet(key, opts...)
}

// Attach registers an already connected backend for network and makes it
// known to the wallet.
func (w *Wallet) Attach(network web3.Network, backend Backend) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.networks[network.ChainID] = network
	w.backends[network.ChainID] = backend
}

// RequestAccounts returns the funding account.
func (w *Wallet) RequestAccounts(context.Context) (common.Address, error) {
	return w.account, nil
}

// ActiveChain returns the chain id transactions are currently sent to.
func (w *Wallet) ActiveChain() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// AddNetwork makes network known to the wallet without switching to it.
func (w *Wallet) AddNetwork(_ context.Context, network web3.Network) error {
	if err := network.Validate(); err != nil {
		return apperrors.Wrap(apperrors.CodeNetworkSwitch, err, "")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.networks[network.ChainID] = network
	return nil
}

// SwitchNetwork activates chainID, connecting to it on first use.
func (w *Wallet) SwitchNetwork(ctx context.Context, chainID uint64) error {
	w.mu.Lock()
	network, known := w.networks[chainID]
	backend := w.backends[chainID]
	w.mu.Unlock()
	if !known {
		return web3.ErrNetworkNotConfigured
	}

	if backend == nil {
		dialed, err := w.dial(ctx, network)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeNetworkSwitch, err, fmt.Sprintf("connect to %s failed", network.Name))
		}
		backend = dialed
	}
	remote, err := backend.ChainID(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNetworkSwitch, err, fmt.Sprintf("query chain id of %s failed", network.Name))
	}
	if remote.Uint64() != chainID {
		return apperrors.Newf(apperrors.CodeNetworkSwitch, "rpc for %s reports chain %d, expected %d", network.Name, remote.Uint64(), chainID)
	}

	w.mu.Lock()
	w.backends[chainID] = backend
	w.active = chainID
	w.mu.Unlock()
	w.logger.Info("已切换网络", slog.String("network", network.Name), slog.Uint64("chain_id", chainID))
	return nil
}

func (w *Wallet) activeBackend() (uint64, Backend, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	backend, ok := w.backends[w.active]
	if w.active == 0 || !ok {
		return 0, nil, apperrors.New(apperrors.CodeNetworkSwitch, "no active network")
	}
	return w.active, backend, nil
}

// Call performs a read-only call from the funding account on the active
// network.
func (w *Wallet) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	_, backend, err := w.activeBackend()
	if err != nil {
		return nil, err
	}
	out, err := backend.CallContract(ctx, gethcore.CallMsg{From: w.account, To: &to, Data: data}, nil)
	if err != nil {
		if reason, ok := revertReason(err); ok {
			return nil, apperrors.Wrap(apperrors.CodeContractReverted, err, reason)
		}
		return nil, err
	}
	return out, nil
}

// SendTransaction builds, approves, signs and submits an EIP-1559
// transaction on the active network.
func (w *Wallet) SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	chainID, backend, err := w.activeBackend()
	if err != nil {
		return common.Hash{}, err
	}
	if value == nil {
		value = new(big.Int)
	}
	msg := gethcore.CallMsg{From: w.account, To: &to, Value: value, Data: data}

	gas, err := backend.EstimateGas(ctx, msg)
	if err != nil {
		if reason, ok := revertReason(err); ok {
			return common.Hash{}, apperrors.Wrap(apperrors.CodeContractReverted, err, reason)
		}
		return common.Hash{}, apperrors.Wrap(apperrors.CodeTransactionRejected, err, "gas estimation failed")
	}

	if w.approve != nil {
		req := TxRequest{ChainID: chainID, From: w.account, To: to, Value: value, Data: data, Gas: gas}
		if err := w.approve(ctx, req); err != nil {
			return common.Hash{}, apperrors.Wrap(apperrors.CodeTransactionRejected, err, "")
		}
	}

	tx, err := w.buildTx(ctx, backend, chainID, msg, gas)
	if err != nil {
		return common.Hash{}, apperrors.Wrap(apperrors.CodeTransactionRejected, err, "prepare transaction failed")
	}
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(new(big.Int).SetUint64(chainID)), w.key)
	if err != nil {
		return common.Hash{}, apperrors.Wrap(apperrors.CodeTransactionRejected, err, "sign transaction failed")
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		if reason, ok := revertReason(err); ok {
			return common.Hash{}, apperrors.Wrap(apperrors.CodeContractReverted, err, reason)
		}
		if isTransportTimeout(err) {
			return common.Hash{}, apperrors.Wrap(apperrors.CodeConfirmationTimeout, err, "")
		}
		return common.Hash{}, apperrors.Wrap(apperrors.CodeTransactionRejected, err, err.Error())
	}

	hash := signed.Hash()
	w.mu.Lock()
	w.sent[hash] = sentTx{chainID: chainID, msg: msg}
	w.mu.Unlock()
	logger.Audit().Info("交易已提交",
		slog.String("tx", hash.Hex()),
		slog.Uint64("chain_id", chainID),
		slog.String("to", to.Hex()),
		slog.String("value", value.String()),
		slog.Uint64("gas", gas))
	return hash, nil
}

func (w *Wallet) buildTx(ctx context.Context, backend Backend, chainID uint64, msg gethcore.CallMsg, gas uint64) (*coretypes.Transaction, error) {
	nonce, err := backend.PendingNonceAt(ctx, w.account)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	tip, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(chainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        msg.To,
		Value:     msg.Value,
		Data:      msg.Data,
	}), nil
}

// WaitForConfirmation polls until the transaction is mined. A mined but
// reverted transaction is replayed to recover its reason.
func (w *Wallet) WaitForConfirmation(ctx context.Context, hash common.Hash) (*web3.Receipt, error) {
	w.mu.Lock()
	sent, known := w.sent[hash]
	chainID := w.active
	if known {
		chainID = sent.chainID
	}
	backend := w.backends[chainID]
	w.mu.Unlock()
	if backend == nil {
		return nil, apperrors.New(apperrors.CodeNetworkSwitch, "no backend for transaction network")
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	failures := 0
	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			w.forget(hash)
			return w.finish(ctx, backend, chainID, sent, receipt)
		case errors.Is(err, gethcore.NotFound):
			failures = 0
		case isTransportTimeout(err):
			return nil, apperrors.Wrap(apperrors.CodeConfirmationTimeout, err, "")
		default:
			failures++
			w.logger.Warn("查询交易回执失败", slog.String("tx", hash.Hex()), slog.Any("error", err))
			if failures >= w.maxPollErrors {
				return nil, apperrors.Wrap(apperrors.CodeConfirmationTimeout, err, "receipt polling kept failing")
			}
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.Wrap(apperrors.CodeConfirmationTimeout, ctx.Err(), "")
		case <-ticker.C:
		}
	}
}

func (w *Wallet) forget(hash common.Hash) {
	w.mu.Lock()
	delete(w.sent, hash)
	w.mu.Unlock()
}

func (w *Wallet) finish(ctx context.Context, backend Backend, chainID uint64, sent sentTx, receipt *coretypes.Receipt) (*web3.Receipt, error) {
	out := &web3.Receipt{
		TxHash:  receipt.TxHash,
		ChainID: chainID,
		GasUsed: receipt.GasUsed,
		Status:  receipt.Status,
		Logs:    receipt.Logs,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if out.Succeeded() {
		return out, nil
	}

	reason := "execution reverted"
	if sent.msg.To != nil && receipt.BlockNumber != nil && receipt.BlockNumber.Sign() > 0 {
		at := new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
		if _, err := backend.CallContract(ctx, sent.msg, at); err != nil {
			if r, ok := revertReason(err); ok {
				reason = r
			}
		}
	}
	return out, apperrors.New(apperrors.CodeContractReverted, reason,
		apperrors.WithMetadata("tx", receipt.TxHash.Hex()))
}

// Close releases every backend that owns a connection.
func (w *Wallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, b := range w.backends {
		switch c := b.(type) {
		case interface{ Close() }:
			c.Close()
		case io.Closer:
			_ = c.Close()
		}
		delete(w.backends, id)
	}
	w.active = 0
}

var _ web3.Wallet = (*Wallet)(nil)
