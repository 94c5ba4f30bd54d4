package web3

import (
	"os"
	"path/filepath"
	"testing"
)

const networksYAML = `
networks:
  sepolia:
    chain_id: 11155111
    display_name: Sepolia
    rpc_url: https://ethereum-sepolia-rpc.publicnode.com
    currency: {name: Sepolia Ether, symbol: ETH, decimals: 18}
    explorer_url: https://sepolia.etherscan.io
  arc:
    chain_id: 5042002
    display_name: Arc Testnet
    rpc_url: https://rpc.testnet.arc.network
    currency: {name: USDC, symbol: USDC, decimals: 18}
    explorer_url: https://testnet.arcscan.app/
`

func TestLoadNetworks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	if err := os.WriteFile(path, []byte(networksYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	defs, err := LoadNetworks(path)
	if err != nil {
		t.Fatalf("LoadNetworks: %v", err)
	}
	sepolia, ok := defs.Lookup("sepolia")
	if !ok || sepolia.ChainIDHex() != "0xaa36a7" || sepolia.Name != "sepolia" {
		t.Fatalf("sepolia = %+v", sepolia)
	}
	arc, ok := defs.ByChainID(5042002)
	if !ok || arc.TxURL("0x1") != "https://testnet.arcscan.app/tx/0x1" {
		t.Fatalf("arc = %+v", arc)
	}
	if names := defs.Names(); len(names) != 2 || names[0] != "arc" {
		t.Fatalf("names = %v", names)
	}
}

func TestParseNetworksRequiresChainID(t *testing.T) {
	if _, err := ParseNetworks([]byte("networks:\n  x:\n    rpc_url: http://x\n")); err == nil {
		t.Fatalf("missing chain id accepted")
	}
	defs, err := LoadNetworks("")
	if err != nil || len(defs.Networks) != 0 {
		t.Fatalf("empty path: %v %v", defs, err)
	}
}
