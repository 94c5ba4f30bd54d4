package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Currency describes the native asset of a network.
type Currency struct {
	Name     string `yaml:"name" json:"name"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals int    `yaml:"decimals" json:"decimals"`
}

// Network is the configuration a signer needs to add and use a chain.
type Network struct {
	Name        string   `yaml:"-" json:"name"`
	ChainID     uint64   `yaml:"chain_id" json:"chainId"`
	DisplayName string   `yaml:"display_name" json:"displayName"`
	RPCURL      string   `yaml:"rpc_url" json:"rpcUrl"`
	Currency    Currency `yaml:"currency" json:"currency"`
	ExplorerURL string   `yaml:"explorer_url" json:"explorerUrl"`
}

// Validate checks the fields a signer cannot work without.
func (n Network) Validate() error {
	if n.ChainID == 0 {
		return fmt.Errorf("network %s: chain_id is required", n.Name)
	}
	if strings.TrimSpace(n.RPCURL) == "" {
		return fmt.Errorf("network %s: rpc_url is required", n.Name)
	}
	return nil
}

// ChainIDHex renders the chain id the way wallets expect it.
func (n Network) ChainIDHex() string {
	return fmt.Sprintf("0x%x", n.ChainID)
}

// TxURL links a transaction on the network's explorer.
func (n Network) TxURL(hash string) string {
	if n.ExplorerURL == "" {
		return ""
	}
	return strings.TrimRight(n.ExplorerURL, "/") + "/tx/" + hash
}

// Networks models configs/networks.yaml.
type Networks struct {
	Networks map[string]Network `yaml:"networks"`
}

// LoadNetworks parses the YAML file with network definitions.
func LoadNetworks(path string) (Networks, error) {
	if strings.TrimSpace(path) == "" {
		return Networks{Networks: map[string]Network{}}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Networks{}, fmt.Errorf("读取网络配置失败: %w", err)
	}
	return ParseNetworks(content)
}

// ParseNetworks decodes YAML network definitions.
func ParseNetworks(content []byte) (Networks, error) {
	var defs Networks
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Networks{}, fmt.Errorf("解析网络配置失败: %w", err)
	}
	if defs.Networks == nil {
		defs.Networks = map[string]Network{}
	}
	for name, n := range defs.Networks {
		n.Name = name
		if err := n.Validate(); err != nil {
			return Networks{}, err
		}
		defs.Networks[name] = n
	}
	return defs, nil
}

// Lookup returns the network registered under name.
func (d Networks) Lookup(name string) (Network, bool) {
	n, ok := d.Networks[name]
	return n, ok
}

// ByChainID finds a network by chain id.
func (d Networks) ByChainID(id uint64) (Network, bool) {
	for _, n := range d.Networks {
		if n.ChainID == id {
			return n, true
		}
	}
	return Network{}, false
}

// Names returns the configured network names in order.
func (d Networks) Names() []string {
	names := make([]string, 0, len(d.Networks))
	for name := range d.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
