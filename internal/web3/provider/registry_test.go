package provider

import (
	"context"
	"errors"
	"math/big"
	"testing"

	gethcore "github.com/ethereum/go-ethereum"

	"DefiFlow/internal/web3"
)

type stubClient struct {
	chainID uint64
	closed  bool
}

func (s *stubClient) CallContract(context.Context, gethcore.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}
func (s *stubClient) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(s.chainID), nil
}
func (s *stubClient) Close() { s.closed = true }

func TestRegistryDialsEveryNetwork(t *testing.T) {
	networks := web3.Networks{Networks: map[string]web3.Network{
		"sepolia": {Name: "sepolia", ChainID: 11155111, RPCURL: "http://sepolia"},
		"arc":     {Name: "arc", ChainID: 5042002, RPCURL: "http://arc"},
	}}
	var dialed []*stubClient
	reg, err := NewRegistry(context.Background(), networks, func(_ context.Context, n web3.Network) (web3.Client, error) {
		c := &stubClient{chainID: n.ChainID}
		dialed = append(dialed, c)
		return c, nil
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if names := reg.Networks(); len(names) != 2 || names[0] != "arc" {
		t.Fatalf("networks = %v", names)
	}
	c, err := reg.Client("sepolia")
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if id, _ := c.ChainID(context.Background()); id.Uint64() != 11155111 {
		t.Fatalf("chain id = %v", id)
	}
	if _, err := reg.Client("mainnet"); err == nil {
		t.Fatalf("unknown network returned a client")
	}
	reg.Close()
	for _, c := range dialed {
		if !c.closed {
			t.Fatalf("client not closed")
		}
	}
}

func TestRegistryClosesOnDialFailure(t *testing.T) {
	networks := web3.Networks{Networks: map[string]web3.Network{
		"a": {Name: "a", ChainID: 1, RPCURL: "http://a"},
		"b": {Name: "b", ChainID: 2, RPCURL: "http://b"},
	}}
	first := &stubClient{}
	_, err := NewRegistry(context.Background(), networks, func(_ context.Context, n web3.Network) (web3.Client, error) {
		if n.Name == "a" {
			return first, nil
		}
		return nil, errors.New("boom")
	})
	if err == nil || !first.closed {
		t.Fatalf("err=%v closed=%v", err, first.closed)
	}
}
