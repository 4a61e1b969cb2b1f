// Package registry holds the static network registry: the immutable mapping
// from network identifiers (legacy names and CAIP-2 forms) to network
// descriptors, including chain family, chain id, and known asset deployments.
package registry

import (
	"fmt"
	"strings"

	"github.com/vitwit/x402-facilitator/caip2"
	"github.com/vitwit/x402-facilitator/types"
)

// EIP712Domain carries the signing-domain parameters of an asset deployment.
type EIP712Domain struct {
	Name    string
	Version string
}

// TokenDeployment describes a known asset deployment on one network.
type TokenDeployment struct {
	// Address is the contract address (EVM) or mint (Solana).
	Address  string
	Decimals int
	// EIP712 is set for EVM deployments supporting EIP-3009.
	EIP712 *EIP712Domain
}

// Network is an immutable descriptor of one supported network.
type Network struct {
	// Name is the canonical legacy identifier, e.g. "base-sepolia".
	Name string
	// CAIP2 is the v2 identifier, e.g. "eip155:84532".
	CAIP2 caip2.ID
	// Family selects the chain-family adapter.
	Family types.ChainFamily
	// ChainID is the EVM chain id; zero for non-EVM families.
	ChainID uint64
	Testnet bool
	// USDC is the canonical USDC deployment, if known.
	USDC *TokenDeployment
}

// Registry resolves network identifiers to descriptors. It is populated once
// at startup and never mutated afterwards.
type Registry struct {
	byName  map[string]*Network
	byCAIP2 map[string]*Network
	ordered []*Network
}

// New builds a registry from a list of descriptors. Duplicate identifiers
// are a configuration error.
func New(networks []*Network) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]*Network, len(networks)),
		byCAIP2: make(map[string]*Network, len(networks)),
		ordered: make([]*Network, 0, len(networks)),
	}
	for _, n := range networks {
		if _, dup := r.byName[n.Name]; dup {
			return nil, fmt.Errorf("duplicate network name %q", n.Name)
		}
		key := n.CAIP2.String()
		if _, dup := r.byCAIP2[key]; dup {
			return nil, fmt.Errorf("duplicate CAIP-2 identifier %q", key)
		}
		r.byName[n.Name] = n
		r.byCAIP2[key] = n
		r.ordered = append(r.ordered, n)
	}
	return r, nil
}

// Resolve maps a network identifier in either supported encoding to its
// descriptor. Resolution fails closed: unknown or malformed identifiers
// resolve to nothing.
func (r *Registry) Resolve(identifier string) (*Network, error) {
	if n, ok := r.byName[identifier]; ok {
		return n, nil
	}
	id, err := caip2.Parse(identifier)
	if err != nil {
		return nil, fmt.Errorf("unknown network %q", identifier)
	}
	if n, ok := r.byCAIP2[id.String()]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("unknown network %q", identifier)
}

// Networks returns all descriptors in registration order.
func (r *Registry) Networks() []*Network {
	out := make([]*Network, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// USDCDomain returns the EIP-712 domain parameters for the network's USDC
// deployment if the given asset address matches it.
func (n *Network) USDCDomain(asset string) (*EIP712Domain, bool) {
	if n.USDC == nil || n.USDC.EIP712 == nil {
		return nil, false
	}
	if !strings.EqualFold(n.USDC.Address, asset) {
		return nil, false
	}
	return n.USDC.EIP712, true
}
