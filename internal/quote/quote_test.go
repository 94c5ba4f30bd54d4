package quote

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/web3/contracts"
)

type fakeOracle struct {
	calls atomic.Int32
	input decimal.Decimal
	err   error
}

func (f *fakeOracle) QuoteExactOutput(_ context.Context, _ decimal.Decimal) (decimal.Decimal, uint64, error) {
	f.calls.Add(1)
	return f.input, 120_000, f.err
}

func TestDegenerateAmountsNeverReachOracle(t *testing.T) {
	oracle := &fakeOracle{input: decimal.NewFromInt(1)}
	e := NewEngine(oracle)
	for _, raw := range []string{"0", "-1", "", "abc", "0.000"} {
		if _, err := e.QuoteString(context.Background(), raw); !errors.Is(err, ErrNoQuote) {
			t.Fatalf("QuoteString(%q) err = %v", raw, err)
		}
	}
	if _, err := e.QuoteRequiredInput(context.Background(), decimal.Zero); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("zero desired: %v", err)
	}
	if oracle.calls.Load() != 0 {
		t.Fatalf("oracle called %d times", oracle.calls.Load())
	}
}

func TestAuthoritativeQuote(t *testing.T) {
	e := NewEngine(&fakeOracle{input: decimal.RequireFromString("0.0051")})
	q, err := e.QuoteString(context.Background(), "10")
	if err != nil {
		t.Fatalf("QuoteString: %v", err)
	}
	if q.Estimate || !q.RequiredInput.Equal(decimal.RequireFromString("0.0051")) || q.GasEstimate != 120_000 {
		t.Fatalf("quote = %+v", q)
	}
	if err := q.Executable(); err != nil {
		t.Fatalf("authoritative quote not executable: %v", err)
	}
}

func TestOracleFailureYieldsFlaggedEstimate(t *testing.T) {
	for _, oracle := range []Oracle{
		&fakeOracle{err: errors.New("execution reverted")},
		&fakeOracle{input: decimal.Zero},
		nil,
	} {
		e := NewEngine(oracle)
		q, err := e.QuoteString(context.Background(), "10")
		if err != nil {
			t.Fatalf("fallback must not error: %v", err)
		}
		if !q.Estimate {
			t.Fatalf("fallback not flagged: %+v", q)
		}
		if !q.RequiredInput.Equal(decimal.RequireFromString("0.005")) {
			t.Fatalf("estimate = %s", q.RequiredInput)
		}
		if !apperrors.HasCode(q.Executable(), apperrors.CodeQuoteUnavailable) {
			t.Fatalf("estimate must not be executable")
		}
	}
}

func TestEstimateRoundsToFiveDecimals(t *testing.T) {
	e := NewEngine(nil, WithReferenceRate(decimal.NewFromInt(3)))
	q, _ := e.QuoteString(context.Background(), "1")
	if q.RequiredInput.String() != "0.33333" {
		t.Fatalf("estimate = %s", q.RequiredInput)
	}
}

type fakeCaller struct {
	msg gethcore.CallMsg
	out []byte
	err error
}

func (f *fakeCaller) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	f.msg = msg
	return f.out, f.err
}

func TestV4QuoterDecodesAmountIn(t *testing.T) {
	out, err := contracts.Quoter.Methods["quoteExactOutputSingle"].Outputs.Pack(
		new(big.Int).Mul(big.NewInt(5), big.NewInt(1e15)), big.NewInt(90_000))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	caller := &fakeCaller{out: out}
	quoterAddr := common.HexToAddress("0x61B3f2011A92d183C7dbaDBdA940a7555Ccf9227")
	q, err := NewV4Quoter(caller, quoterAddr, Pair{
		TokenIn:          common.HexToAddress("0x5f403fdc672e1D6902eA5C4CB1329cB5698d0c33"),
		TokenOut:         common.HexToAddress("0x8B5c068AF3f6D2eeeE4c0c7575d4D8e52504ac01"),
		TokenInDecimals:  18,
		TokenOutDecimals: 18,
	})
	if err != nil {
		t.Fatalf("NewV4Quoter: %v", err)
	}
	in, gas, err := q.QuoteExactOutput(context.Background(), decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("QuoteExactOutput: %v", err)
	}
	if !in.Equal(decimal.RequireFromString("0.005")) || gas != 90_000 {
		t.Fatalf("in=%s gas=%d", in, gas)
	}
	if *caller.msg.To != quoterAddr {
		t.Fatalf("called %s", caller.msg.To.Hex())
	}
	if string(caller.msg.Data[:4]) != string(contracts.Quoter.Methods["quoteExactOutputSingle"].ID) {
		t.Fatalf("wrong selector")
	}

	caller.err = errors.New("dial tcp: refused")
	e := NewEngine(q)
	fallback, err := e.QuoteString(context.Background(), "10")
	if err != nil || !fallback.Estimate {
		t.Fatalf("unreachable quoter must fall back: %+v %v", fallback, err)
	}
}

func TestFieldDebouncesQuotes(t *testing.T) {
	oracle := &fakeOracle{input: decimal.NewFromInt(2)}
	e := NewEngine(oracle)
	applied := make(chan Quote, 4)
	f := NewField(context.Background(), e, 20*time.Millisecond, func(q Quote, err error) {
		if err == nil {
			applied <- q
		}
	})
	defer f.Close()

	for _, raw := range []string{"1", "10", "100"} {
		f.Edit(raw)
	}
	select {
	case q := <-applied:
		if !q.DesiredOutput.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("applied quote for %s", q.DesiredOutput)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("quote never applied")
	}
	if oracle.calls.Load() != 1 {
		t.Fatalf("oracle calls = %d", oracle.calls.Load())
	}

	f.Edit("0")
	if _, err := f.Current(); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("zero must settle to no quote, got %v", err)
	}
}
