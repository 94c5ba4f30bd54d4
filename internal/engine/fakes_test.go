package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/flow"
	"DefiFlow/internal/quote"
	"DefiFlow/internal/trigger"
	"DefiFlow/internal/web3"
)

var (
	fundingAccount = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	tokenIn        = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenOut       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	router         = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	payroll        = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	arcUSDC        = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	alice          = common.HexToAddress("0x000000000000000000000000000000000000a11c")
)

var (
	sepolia = web3.Network{Name: "sepolia", ChainID: 11155111, DisplayName: "Sepolia", RPCURL: "http://sepolia", ExplorerURL: "https://sepolia.etherscan.io"}
	arc     = web3.Network{Name: "arc", ChainID: 5042002, DisplayName: "Arc", RPCURL: "http://arc"}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() Config {
	return Config{
		SwapNetwork:       sepolia,
		SettlementNetwork: arc,
		Pair: quote.Pair{
			TokenIn: tokenIn, TokenOut: tokenOut,
			TokenInDecimals: 18, TokenOutDecimals: 6,
		},
		SwapRouter:         router,
		Settlement:         payroll,
		SettlementToken:    arcUSDC,
		SettlementDecimals: 6,
	}
}

func payrollGraph(input string, recipients ...flow.Recipient) flow.Graph {
	return flow.Graph{
		Nodes: []flow.Node{
			{ID: "trigger-1", Attributes: flow.TriggerAttributes{Operator: trigger.GT, Threshold: dec("3000")}},
			{ID: "swap-1", Attributes: flow.SwapAttributes{InputAmount: input}},
			{ID: "resolver-1", Attributes: flow.ResolverAttributes{Recipients: recipients}},
			{ID: "distribute-1", Attributes: flow.DistributeAttributes{Memo: "Oct payroll"}},
		},
		Edges: []flow.Edge{
			{ID: "e1", Source: "trigger-1", Target: "swap-1"},
			{ID: "e2", Source: "swap-1", Target: "resolver-1"},
			{ID: "e3", Source: "resolver-1", Target: "distribute-1"},
		},
	}
}

type resolverFunc func(ctx context.Context, raw string) (common.Address, error)

func (f resolverFunc) Resolve(ctx context.Context, raw string) (common.Address, error) {
	return f(ctx, raw)
}

func names(book map[string]common.Address) resolverFunc {
	return func(_ context.Context, raw string) (common.Address, error) {
		if common.IsHexAddress(raw) {
			return common.HexToAddress(raw), nil
		}
		if addr, ok := book[raw]; ok {
			return addr, nil
		}
		return common.Address{}, apperrors.New(apperrors.CodeResolution, "name not found")
	}
}

type oracleFunc func(ctx context.Context, desired decimal.Decimal) (decimal.Decimal, uint64, error)

func (f oracleFunc) QuoteExactOutput(ctx context.Context, desired decimal.Decimal) (decimal.Decimal, uint64, error) {
	return f(ctx, desired)
}

type sentTx struct {
	to    common.Address
	value *big.Int
	data  []byte
	chain uint64
}

// fakeWallet scripts the signer. Confirmations block on gate when set.
type fakeWallet struct {
	mu        sync.Mutex
	chain     uint64
	known     map[uint64]bool
	calls     []string
	sent      map[common.Hash]sentTx
	order     []common.Hash
	allowance *big.Int
	revertOn  map[common.Address]string
	rejectOn  map[common.Address]error
	switchErr error
	gate      chan struct{}
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		known:     map[uint64]bool{arc.ChainID: true},
		sent:      make(map[common.Hash]sentTx),
		allowance: new(big.Int),
		revertOn:  make(map[common.Address]string),
		rejectOn:  make(map[common.Address]error),
	}
}

func (w *fakeWallet) log(format string, args ...any) {
	w.calls = append(w.calls, fmt.Sprintf(format, args...))
}

func (w *fakeWallet) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

func (w *fakeWallet) RequestAccounts(context.Context) (common.Address, error) {
	return fundingAccount, nil
}

func (w *fakeWallet) ActiveChain() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chain
}

func (w *fakeWallet) SwitchNetwork(_ context.Context, chainID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log("switch:%d", chainID)
	if w.switchErr != nil {
		return w.switchErr
	}
	if !w.known[chainID] {
		return web3.ErrNetworkNotConfigured
	}
	w.chain = chainID
	return nil
}

func (w *fakeWallet) AddNetwork(_ context.Context, n web3.Network) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log("add:%d", n.ChainID)
	w.known[n.ChainID] = true
	return nil
}

func (w *fakeWallet) SendTransaction(_ context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log("send:%s", to.Hex())
	if err, ok := w.rejectOn[to]; ok {
		return common.Hash{}, err
	}
	hash := common.BigToHash(big.NewInt(int64(len(w.order) + 1)))
	w.sent[hash] = sentTx{to: to, value: value, data: data, chain: w.chain}
	w.order = append(w.order, hash)
	return hash, nil
}

func (w *fakeWallet) WaitForConfirmation(ctx context.Context, hash common.Hash) (*web3.Receipt, error) {
	w.mu.Lock()
	gate := w.gate
	tx, ok := w.sent[hash]
	reason, reverts := w.revertOn[tx.to]
	w.mu.Unlock()
	if !ok {
		return nil, errors.New("unknown transaction")
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if reverts {
		return nil, apperrors.New(apperrors.CodeContractReverted, reason)
	}
	return &web3.Receipt{TxHash: hash, ChainID: tx.chain, BlockNumber: 7, Status: 1}, nil
}

func (w *fakeWallet) Call(_ context.Context, _ common.Address, _ []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return common.LeftPadBytes(w.allowance.Bytes(), 32), nil
}

func (w *fakeWallet) sentTo(i int) sentTx {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent[w.order[i]]
}
