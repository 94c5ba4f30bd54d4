package contracts

import (
	"bytes"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

var (
	mETH  = common.HexToAddress("0x5f403fdc672e1D6902eA5C4CB1329cB5698d0c33")
	mUSDC = common.HexToAddress("0x8B5c068AF3f6D2eeeE4c0c7575d4D8e52504ac01")
)

func TestNewPoolKeySortsCurrencies(t *testing.T) {
	a := NewPoolKey(mETH, mUSDC, DefaultFee, DefaultTickSpacing, common.Address{})
	b := NewPoolKey(mUSDC, mETH, DefaultFee, DefaultTickSpacing, common.Address{})
	if a.Currency0 != b.Currency0 || a.Currency0 != mETH {
		t.Fatalf("currency0 = %s / %s", a.Currency0.Hex(), b.Currency0.Hex())
	}
	if !a.ZeroForOne(mETH) || a.ZeroForOne(mUSDC) {
		t.Fatalf("zeroForOne direction wrong")
	}
}

func TestExactInputSwapDataIsNegativeAndBounded(t *testing.T) {
	key := NewPoolKey(mETH, mUSDC, DefaultFee, DefaultTickSpacing, common.Address{})
	data, err := ExactInputSwapData(key, mETH, big.NewInt(1000))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	method := SwapRouter.Methods["swap"]
	if !bytes.Equal(data[:4], method.ID) {
		t.Fatalf("selector mismatch")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	params := reflect.ValueOf(args[1])
	zeroForOne := params.FieldByName("ZeroForOne").Bool()
	amount := params.FieldByName("AmountSpecified").Interface().(*big.Int)
	limit := params.FieldByName("SqrtPriceLimitX96").Interface().(*big.Int)
	if !zeroForOne || amount.Cmp(big.NewInt(-1000)) != 0 {
		t.Fatalf("zeroForOne=%v amount=%s", zeroForOne, amount)
	}
	if limit.Cmp(new(big.Int).Add(MinSqrtPrice, big.NewInt(1))) != 0 {
		t.Fatalf("price limit = %s", limit)
	}
	if _, err := ExactInputSwapData(key, mETH, big.NewInt(0)); err == nil {
		t.Fatalf("zero amount accepted")
	}
}

func TestDecodeQuote(t *testing.T) {
	out, err := Quoter.Methods["quoteExactOutputSingle"].Outputs.Pack(big.NewInt(5), big.NewInt(90000))
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	in, gas, err := DecodeQuote(out)
	if err != nil || in.Int64() != 5 || gas.Int64() != 90000 {
		t.Fatalf("DecodeQuote = %v %v %v", in, gas, err)
	}
	if _, _, err := DecodeQuote([]byte{0x01}); err == nil {
		t.Fatalf("malformed response accepted")
	}
}

func TestDistributeDataRequiresMatchingLengths(t *testing.T) {
	if _, err := DistributeData(mUSDC, []common.Address{mETH}, nil, "memo"); err == nil {
		t.Fatalf("length mismatch accepted")
	}
	data, err := DistributeData(mUSDC, []common.Address{mETH}, []*big.Int{big.NewInt(1)}, "Feb 2026 Salary")
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	want := crypto.Keccak256([]byte("distributeSalary(address,address[],uint256[],string)"))[:4]
	if !bytes.Equal(data[:4], want) {
		t.Fatalf("selector = %x, want %x", data[:4], want)
	}
}

func TestBaseUnits(t *testing.T) {
	units, err := ToBaseUnits(decimal.RequireFromString("1.5"), 18)
	if err != nil || units.String() != "1500000000000000000" {
		t.Fatalf("ToBaseUnits = %v %v", units, err)
	}
	if _, err := ToBaseUnits(decimal.RequireFromString("0.0000001"), 6); err == nil {
		t.Fatalf("excess precision accepted")
	}
	if got := FromBaseUnits(big.NewInt(2500000), 6); !got.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("FromBaseUnits = %s", got)
	}
}
