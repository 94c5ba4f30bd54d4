package contracts

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type swapParams struct {
	ZeroForOne        bool
	AmountSpecified   *big.Int
	SqrtPriceLimitX96 *big.Int
}

type testSettings struct {
	TakeClaims      bool
	SettleUsingBurn bool
}

type quoteParams struct {
	PoolKey     PoolKey
	ZeroForOne  bool
	ExactAmount *big.Int
	HookData    []byte
}

// ApproveData encodes ERC20.approve.
func ApproveData(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20.Pack("approve", spender, amount)
}

// TransferData encodes ERC20.transfer.
func TransferData(to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20.Pack("transfer", to, amount)
}

// AllowanceData encodes ERC20.allowance.
func AllowanceData(owner, spender common.Address) ([]byte, error) {
	return ERC20.Pack("allowance", owner, spender)
}

// BalanceOfData encodes ERC20.balanceOf.
func BalanceOfData(account common.Address) ([]byte, error) {
	return ERC20.Pack("balanceOf", account)
}

// DecodeUint256 unpacks the single uint256 returned by allowance and
// balanceOf.
func DecodeUint256(method string, data []byte) (*big.Int, error) {
	out, err := ERC20.Unpack(method, data)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: expected 1 value, got %d", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return v, nil
}

// ExactInputSwapData encodes a swap that sells exactly amountIn of tokenIn.
// v4 expresses exact input as a negative amountSpecified.
func ExactInputSwapData(key PoolKey, tokenIn common.Address, amountIn *big.Int) ([]byte, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, errors.New("swap amount must be positive")
	}
	zeroForOne := key.ZeroForOne(tokenIn)
	params := swapParams{
		ZeroForOne:        zeroForOne,
		AmountSpecified:   new(big.Int).Neg(amountIn),
		SqrtPriceLimitX96: PriceLimit(zeroForOne),
	}
	return SwapRouter.Pack("swap", key, params, testSettings{}, []byte{})
}

// QuoteExactOutputData encodes quoteExactOutputSingle for buying exactly
// amountOut of the token that is not tokenIn.
func QuoteExactOutputData(key PoolKey, tokenIn common.Address, amountOut *big.Int) ([]byte, error) {
	return Quoter.Pack("quoteExactOutputSingle", quoteParams{
		PoolKey:     key,
		ZeroForOne:  key.ZeroForOne(tokenIn),
		ExactAmount: amountOut,
		HookData:    []byte{},
	})
}

// DecodeQuote unpacks (amountIn, gasEstimate).
func DecodeQuote(data []byte) (amountIn, gasEstimate *big.Int, err error) {
	out, err := Quoter.Unpack("quoteExactOutputSingle", data)
	if err != nil {
		return nil, nil, err
	}
	if len(out) != 2 {
		return nil, nil, fmt.Errorf("quote: expected 2 values, got %d", len(out))
	}
	amountIn, ok1 := out[0].(*big.Int)
	gasEstimate, ok2 := out[1].(*big.Int)
	if !ok1 || !ok2 {
		return nil, nil, errors.New("quote: malformed response")
	}
	return amountIn, gasEstimate, nil
}

// DistributeData encodes distributeSalary. recipients and amounts must have
// the same length.
func DistributeData(token common.Address, recipients []common.Address, amounts []*big.Int, memo string) ([]byte, error) {
	if len(recipients) != len(amounts) {
		return nil, fmt.Errorf("distribute: %d recipients but %d amounts", len(recipients), len(amounts))
	}
	if len(recipients) == 0 {
		return nil, errors.New("distribute: no recipients")
	}
	return Payroll.Pack("distributeSalary", token, recipients, amounts, memo)
}

// ENSResolverData encodes registry.resolver(node).
func ENSResolverData(node [32]byte) ([]byte, error) {
	return ENS.Pack("resolver", node)
}

// ENSAddrData encodes resolver.addr(node).
func ENSAddrData(node [32]byte) ([]byte, error) {
	return ENS.Pack("addr", node)
}

// DecodeAddress unpacks a single address result of an ENS call.
func DecodeAddress(method string, data []byte) (common.Address, error) {
	out, err := ENS.Unpack(method, data)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("%s: expected 1 value, got %d", method, len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return addr, nil
}
