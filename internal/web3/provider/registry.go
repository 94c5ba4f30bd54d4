// Package provider keeps one read-only RPC connection per configured
// network, created once at startup and shared by the quote engine and the
// settlement checks.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"DefiFlow/internal/web3"
	"DefiFlow/internal/web3/ethereum"
)

// DialFunc opens a client for a network.
type DialFunc func(ctx context.Context, network web3.Network) (web3.Client, error)

// DialEthereum is the default DialFunc.
func DialEthereum(ctx context.Context, network web3.Network) (web3.Client, error) {
	return ethereum.Dial(ctx, network.RPCURL)
}

// Registry manages a set of network clients keyed by network name.
type Registry struct {
	mu       sync.RWMutex
	networks web3.Networks
	clients  map[string]web3.Client
}

// NewRegistry dials every configured network.
func NewRegistry(ctx context.Context, networks web3.Networks, dial DialFunc) (*Registry, error) {
	if dial == nil {
		dial = DialEthereum
	}
	if len(networks.Networks) == 0 {
		return nil, errors.New("未配置任何网络")
	}
	clients := make(map[string]web3.Client, len(networks.Networks))
	for _, name := range networks.Names() {
		client, err := dial(ctx, networks.Networks[name])
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("初始化网络 %s 失败: %w", name, err)
		}
		clients[name] = client
	}
	return &Registry{networks: networks, clients: clients}, nil
}

// Client returns the client of the named network.
func (r *Registry) Client(name string) (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的网络客户端注册表")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("网络 %s 未在注册表中", name)
	}
	return client, nil
}

// Network returns the definition of the named network.
func (r *Registry) Network(name string) (web3.Network, bool) {
	if r == nil {
		return web3.Network{}, false
	}
	return r.networks.Lookup(name)
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Networks returns the registered network names.
func (r *Registry) Networks() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
