package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"DefiFlow/internal/web3"
)

// Backend is the subset of an RPC connection the signer needs.
// *ethclient.Client and the simulated backend's client both satisfy it.
type Backend interface {
	gethcore.ContractCaller
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Dialer opens a backend for a network.
type Dialer func(ctx context.Context, network web3.Network) (Backend, error)

// Dial connects to an RPC endpoint over HTTP(S) or websocket.
func Dial(ctx context.Context, rawURL string) (*ethclient.Client, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("未配置 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}
	return ethclient.NewClient(rpcClient), nil
}

// DialNetwork is the default Dialer.
func DialNetwork(ctx context.Context, network web3.Network) (Backend, error) {
	return Dial(ctx, network.RPCURL)
}

var (
	_ Backend     = (*ethclient.Client)(nil)
	_ web3.Client = (*ethclient.Client)(nil)
)
