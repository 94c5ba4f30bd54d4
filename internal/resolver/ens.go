package resolver

import (
	"context"
	"fmt"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"DefiFlow/internal/web3"
	"DefiFlow/internal/web3/contracts"
	"DefiFlow/internal/web3/ethereum"
)

// DefaultENSRegistry is the ENS registry address on mainnet and Sepolia.
var DefaultENSRegistry = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

// ENS resolves names through the ENS registry and the name's resolver.
type ENS struct {
	caller   web3.Caller
	registry common.Address
}

// NewENS creates an ENS name service on top of caller.
func NewENS(caller web3.Caller, registry common.Address) *ENS {
	if registry == (common.Address{}) {
		registry = DefaultENSRegistry
	}
	return &ENS{caller: caller, registry: registry}
}

// DialRelay connects an ENS name service to the application's JSON-RPC
// relay, so provider credentials never leave the server.
func DialRelay(ctx context.Context, relayURL string, registry common.Address) (*ENS, func(), error) {
	client, err := ethereum.Dial(ctx, relayURL)
	if err != nil {
		return nil, nil, err
	}
	return NewENS(client, registry), client.Close, nil
}

// ResolveName implements NameService.
func (e *ENS) ResolveName(ctx context.Context, name string) (common.Address, error) {
	node := NameHash(name)

	data, err := contracts.ENSResolverData(node)
	if err != nil {
		return common.Address{}, err
	}
	out, err := e.caller.CallContract(ctx, gethcore.CallMsg{To: &e.registry, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("ens registry: %w", err)
	}
	resolverAddr, err := contracts.DecodeAddress("resolver", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("ens registry: %w", err)
	}
	if resolverAddr == (common.Address{}) {
		return common.Address{}, nil
	}

	data, err = contracts.ENSAddrData(node)
	if err != nil {
		return common.Address{}, err
	}
	out, err = e.caller.CallContract(ctx, gethcore.CallMsg{To: &resolverAddr, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("ens resolver: %w", err)
	}
	return contracts.DecodeAddress("addr", out)
}

// NameHash computes the EIP-137 node of name. Labels are only lower-cased;
// full UTS-46 normalisation is not applied.
func NameHash(name string) [32]byte {
	var node [32]byte
	name = normalizeName(name)
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := crypto.Keccak256([]byte(labels[i]))
		node = crypto.Keccak256Hash(node[:], label)
	}
	return node
}
