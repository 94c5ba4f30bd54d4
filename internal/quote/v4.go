package quote

import (
	"context"
	"errors"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"DefiFlow/internal/web3"
	"DefiFlow/internal/web3/contracts"
)

// Pair describes the traded pool and which side is sold.
type Pair struct {
	TokenIn          common.Address
	TokenOut         common.Address
	TokenInDecimals  int32
	TokenOutDecimals int32
	Fee              uint32
	TickSpacing      int32
	Hooks            common.Address
}

// PoolKey derives the pool key of the pair.
func (p Pair) PoolKey() contracts.PoolKey {
	fee, spacing := p.Fee, p.TickSpacing
	if fee == 0 {
		fee = contracts.DefaultFee
	}
	if spacing == 0 {
		spacing = contracts.DefaultTickSpacing
	}
	return contracts.NewPoolKey(p.TokenIn, p.TokenOut, fee, spacing, p.Hooks)
}

// V4Quoter asks a Uniswap v4 quoter through a read-only call.
type V4Quoter struct {
	caller  web3.Caller
	quoter  common.Address
	pair    Pair
	poolKey contracts.PoolKey
}

// NewV4Quoter creates an Oracle for pair at the quoter address.
func NewV4Quoter(caller web3.Caller, quoter common.Address, pair Pair) (*V4Quoter, error) {
	if caller == nil {
		return nil, errors.New("quoter needs an rpc caller")
	}
	return &V4Quoter{caller: caller, quoter: quoter, pair: pair, poolKey: pair.PoolKey()}, nil
}

// QuoteExactOutput implements Oracle.
func (q *V4Quoter) QuoteExactOutput(ctx context.Context, desired decimal.Decimal) (decimal.Decimal, uint64, error) {
	amountOut, err := contracts.ToBaseUnits(desired, q.pair.TokenOutDecimals)
	if err != nil {
		return decimal.Zero, 0, err
	}
	data, err := contracts.QuoteExactOutputData(q.poolKey, q.pair.TokenIn, amountOut)
	if err != nil {
		return decimal.Zero, 0, err
	}
	out, err := q.caller.CallContract(ctx, gethcore.CallMsg{To: &q.quoter, Data: data}, nil)
	if err != nil {
		return decimal.Zero, 0, err
	}
	amountIn, gas, err := contracts.DecodeQuote(out)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return contracts.FromBaseUnits(amountIn, q.pair.TokenInDecimals), gas.Uint64(), nil
}
