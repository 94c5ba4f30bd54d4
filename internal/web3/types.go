// Package web3 defines the signer and network abstractions the execution
// engine drives, plus the network definitions supplied as configuration.
package web3

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	apperrors "DefiFlow/internal/errors"
)

// ErrNetworkNotConfigured is returned by SwitchNetwork when the signer does
// not know the requested chain; callers add it and retry.
var ErrNetworkNotConfigured = apperrors.New(apperrors.CodeNetworkNotFound, "")

// Receipt is the confirmed outcome of a submitted transaction.
type Receipt struct {
	TxHash      common.Hash
	ChainID     uint64
	BlockNumber uint64
	GasUsed     uint64
	Status      uint64
	Logs        []*types.Log
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == types.ReceiptStatusSuccessful
}

// Wallet is the signer the engine sends transactions through. Every
// method may block on the user or the network.
type Wallet interface {
	RequestAccounts(ctx context.Context) (common.Address, error)
	ActiveChain() uint64
	SwitchNetwork(ctx context.Context, chainID uint64) error
	AddNetwork(ctx context.Context, network Network) error
	SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error)
	WaitForConfirmation(ctx context.Context, tx common.Hash) (*Receipt, error)
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Caller performs read-only contract calls on one network.
type Caller interface {
	gethcore.ContractCaller
}

// Client is a read-only connection to one network.
type Client interface {
	Caller
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}
