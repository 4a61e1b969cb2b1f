package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402-facilitator/types"
)

func TestResolveBothEncodings(t *testing.T) {
	r := Default()

	tests := []struct {
		legacy string
		caip2  string
	}{
		{"base", "eip155:8453"},
		{"base-sepolia", "eip155:84532"},
		{"ethereum", "eip155:1"},
		{"polygon-amoy", "eip155:80002"},
		{"solana", "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"},
		{"near", "near:mainnet"},
		{"stellar-testnet", "stellar:testnet"},
		{"fogo", "fogo:mainnet"},
	}
	for _, tt := range tests {
		t.Run(tt.legacy, func(t *testing.T) {
			byName, err := r.Resolve(tt.legacy)
			require.NoError(t, err)
			byCaip2, err := r.Resolve(tt.caip2)
			require.NoError(t, err)
			assert.Same(t, byName, byCaip2, "both encodings must resolve to the same network")
			assert.Equal(t, tt.caip2, byName.CAIP2.String())
		})
	}
}

func TestResolveFailsClosed(t *testing.T) {
	r := Default()
	for _, id := range []string{
		"",
		"basenet",
		"eip155:999999999",
		"eip155:abc",
		"bitcoin:mainnet",
		"solana:unknownGenesisHashValue",
		"near:devnet",
	} {
		_, err := r.Resolve(id)
		assert.Error(t, err, "identifier %q must not resolve", id)
	}
}

func TestFamilies(t *testing.T) {
	r := Default()

	base, err := r.Resolve("base")
	require.NoError(t, err)
	assert.Equal(t, types.FamilyEVM, base.Family)
	assert.Equal(t, uint64(8453), base.ChainID)
	assert.False(t, base.Testnet)

	fogo, err := r.Resolve("fogo-testnet")
	require.NoError(t, err)
	assert.Equal(t, types.FamilySolana, fogo.Family)
	assert.True(t, fogo.Testnet)
}

func TestUSDCDomain(t *testing.T) {
	r := Default()
	base, err := r.Resolve("base")
	require.NoError(t, err)

	domain, ok := base.USDCDomain("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	require.True(t, ok)
	assert.Equal(t, "USD Coin", domain.Name)
	assert.Equal(t, "2", domain.Version)

	// Case-insensitive address match.
	_, ok = base.USDCDomain("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	assert.True(t, ok)

	_, ok = base.USDCDomain("0x0000000000000000000000000000000000000001")
	assert.False(t, ok)
}

func TestDuplicateRejected(t *testing.T) {
	nets := Default().Networks()
	_, err := New(append(nets, nets[0]))
	assert.Error(t, err)
}
