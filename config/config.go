// Package config loads facilitator configuration from the environment.
// RPC endpoints follow the RPC_URL_<NETWORK> convention; a network without
// an endpoint is simply not enabled.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/vitwit/x402-facilitator/registry"
	"github.com/vitwit/x402-facilitator/types"
)

const (
	EnvHost          = "HOST"
	EnvPort          = "PORT"
	EnvLogLevel      = "LOG_LEVEL"
	EnvBlocklistPath = "BLOCKLIST_PATH"
	EnvEnableEscrow  = "ENABLE_ESCROW"

	EnvEVMPrivateKey           = "EVM_PRIVATE_KEY"
	EnvEVMPrivateKeyMainnet    = "EVM_PRIVATE_KEY_MAINNET"
	EnvEVMPrivateKeyTestnet    = "EVM_PRIVATE_KEY_TESTNET"
	EnvSolanaPrivateKey        = "SOLANA_PRIVATE_KEY"
	EnvSolanaPrivateKeyMainnet = "SOLANA_PRIVATE_KEY_MAINNET"
	EnvSolanaPrivateKeyTestnet = "SOLANA_PRIVATE_KEY_TESTNET"
)

// Config is everything the facilitator reads from its environment.
type Config struct {
	ListenAddr    string
	LogLevel      string
	BlocklistPath string
	EnableEscrow  bool

	// RPCURLs maps canonical network names to endpoints. Only networks
	// present here are enabled.
	RPCURLs map[string]string

	evmKeyMainnet    string
	evmKeyTestnet    string
	solanaKeyMainnet string
	solanaKeyTestnet string
}

// FromEnv reads the configuration. It never fails on missing networks; it
// fails only when nothing at all is configured to serve.
func FromEnv(reg *registry.Registry) (*Config, error) {
	c := &Config{
		ListenAddr:    listenAddr(),
		LogLevel:      envOr(EnvLogLevel, "info"),
		BlocklistPath: os.Getenv(EnvBlocklistPath),
		EnableEscrow:  envBool(EnvEnableEscrow),
		RPCURLs:       make(map[string]string),

		evmKeyMainnet:    envOr(EnvEVMPrivateKeyMainnet, os.Getenv(EnvEVMPrivateKey)),
		evmKeyTestnet:    envOr(EnvEVMPrivateKeyTestnet, os.Getenv(EnvEVMPrivateKey)),
		solanaKeyMainnet: envOr(EnvSolanaPrivateKeyMainnet, os.Getenv(EnvSolanaPrivateKey)),
		solanaKeyTestnet: envOr(EnvSolanaPrivateKeyTestnet, os.Getenv(EnvSolanaPrivateKey)),
	}

	for _, net := range reg.Networks() {
		if url := os.Getenv(RPCEnvName(net.Name)); url != "" {
			c.RPCURLs[net.Name] = url
		}
	}
	if len(c.RPCURLs) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured; set at least one RPC_URL_<NETWORK>")
	}
	return c, nil
}

// RPCEnvName maps a canonical network name to its endpoint variable, e.g.
// "base-sepolia" to "RPC_URL_BASE_SEPOLIA".
func RPCEnvName(network string) string {
	return "RPC_URL_" + strings.ToUpper(strings.ReplaceAll(network, "-", "_"))
}

// EnabledNetworks filters the registry down to networks with an endpoint,
// preserving registration order.
func (c *Config) EnabledNetworks(reg *registry.Registry) []*registry.Network {
	var out []*registry.Network
	for _, net := range reg.Networks() {
		if _, ok := c.RPCURLs[net.Name]; ok {
			out = append(out, net)
		}
	}
	return out
}

// SignerKey returns the private key for a network, preferring the
// mainnet/testnet split over the shared fallback.
func (c *Config) SignerKey(net *registry.Network) string {
	switch net.Family {
	case types.FamilyEVM:
		if net.Testnet {
			return c.evmKeyTestnet
		}
		return c.evmKeyMainnet
	case types.FamilySolana:
		if net.Testnet {
			return c.solanaKeyTestnet
		}
		return c.solanaKeyMainnet
	default:
		return ""
	}
}

func listenAddr() string {
	host := envOr(EnvHost, "0.0.0.0")
	port := envOr(EnvPort, "8080")
	return host + ":" + port
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return strings.EqualFold(v, "true") || v == "1"
}
