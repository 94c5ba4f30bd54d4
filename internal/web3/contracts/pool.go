package contracts

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pool defaults for the demo pair.
const (
	DefaultFee         = 3000
	DefaultTickSpacing = 60
)

var (
	// MinSqrtPrice and MaxSqrtPrice bound sqrtPriceLimitX96 in v4 pools.
	MinSqrtPrice, _ = new(big.Int).SetString("4295128739", 10)
	MaxSqrtPrice, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)
)

// PoolKey identifies a v4 pool. Field names follow the ABI tuple.
type PoolKey struct {
	Currency0   common.Address
	Currency1   common.Address
	Fee         *big.Int
	TickSpacing *big.Int
	Hooks       common.Address
}

// NewPoolKey orders the two tokens the way the pool manager expects.
func NewPoolKey(tokenA, tokenB common.Address, fee uint32, tickSpacing int32, hooks common.Address) PoolKey {
	c0, c1 := tokenA, tokenB
	if bytes.Compare(c1.Bytes(), c0.Bytes()) < 0 {
		c0, c1 = c1, c0
	}
	return PoolKey{
		Currency0:   c0,
		Currency1:   c1,
		Fee:         big.NewInt(int64(fee)),
		TickSpacing: big.NewInt(int64(tickSpacing)),
		Hooks:       hooks,
	}
}

// ZeroForOne reports whether selling tokenIn moves currency0 into the pool.
func (k PoolKey) ZeroForOne(tokenIn common.Address) bool {
	return tokenIn == k.Currency0
}

// PriceLimit returns the loosest sqrt price bound for the direction.
func PriceLimit(zeroForOne bool) *big.Int {
	if zeroForOne {
		return new(big.Int).Add(MinSqrtPrice, big.NewInt(1))
	}
	return new(big.Int).Sub(MaxSqrtPrice, big.NewInt(1))
}
