package registry

import (
	"github.com/vitwit/x402-facilitator/caip2"
	"github.com/vitwit/x402-facilitator/types"
)

func usdc(address string, decimals int, name, version string) *TokenDeployment {
	return &TokenDeployment{
		Address:  address,
		Decimals: decimals,
		EIP712:   &EIP712Domain{Name: name, Version: version},
	}
}

func usdcMint(address string, decimals int) *TokenDeployment {
	return &TokenDeployment{Address: address, Decimals: decimals}
}

func evm(name string, chainID uint64, testnet bool, deployment *TokenDeployment) *Network {
	return &Network{
		Name:    name,
		CAIP2:   caip2.EIP155(chainID),
		Family:  types.FamilyEVM,
		ChainID: chainID,
		Testnet: testnet,
		USDC:    deployment,
	}
}

// Default returns the registry of all networks this facilitator knows about.
// The table is the single source of truth for identifier mapping, chain ids,
// and canonical USDC deployments.
func Default() *Registry {
	networks := []*Network{
		evm("base", 8453, false, usdc("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", 6, "USD Coin", "2")),
		evm("base-sepolia", 84532, true, usdc("0x036CbD53842c5426634e7929541eC2318f3dCF7e", 6, "USDC", "2")),
		evm("ethereum", 1, false, usdc("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", 6, "USD Coin", "2")),
		evm("ethereum-sepolia", 11155111, true, usdc("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", 6, "USDC", "2")),
		evm("arbitrum", 42161, false, usdc("0xaf88d065e77c8cC2239327C5EDb3A432268e5831", 6, "USD Coin", "2")),
		evm("arbitrum-sepolia", 421614, true, usdc("0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d", 6, "USDC", "2")),
		evm("optimism", 10, false, usdc("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", 6, "USD Coin", "2")),
		evm("optimism-sepolia", 11155420, true, usdc("0x5fd84259d66Cd46123540766Be93DFE6D43130D7", 6, "USDC", "2")),
		evm("polygon", 137, false, usdc("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", 6, "USDC", "2")),
		evm("polygon-amoy", 80002, true, usdc("0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", 6, "USDC", "2")),
		evm("avalanche", 43114, false, usdc("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", 6, "USD Coin", "2")),
		evm("avalanche-fuji", 43113, true, usdc("0x5425890298aed601595a70AB815c96711a31Bc65", 6, "USD Coin", "2")),
		evm("celo", 42220, false, usdc("0xcebA9300f2b948710d2653dD7B07f33A8B32118C", 6, "USD Coin", "2")),
		evm("celo-sepolia", 44787, true, usdc("0x01C5C0122039549AD1493B8220cABEdD739BC44E", 6, "USD Coin", "2")),
		evm("hyperevm", 999, false, usdc("0xb88339cb7199b77e23db6e890353e22632ba630f", 6, "USDC", "2")),
		evm("hyperevm-testnet", 333, true, usdc("0x2B3370eE501B4a559b57D449569354196457D8Ab", 6, "USD Coin", "2")),
		evm("sei", 1329, false, usdc("0xe15fC38F6D8c56aF07bbCBe3BAf5708A2Bf42392", 6, "USDC", "2")),
		evm("sei-testnet", 1328, true, usdc("0x4fCF1784B31630811181f670Aea7A7bEF803eaED", 6, "USDC", "2")),
		evm("unichain", 130, false, usdc("0x078D782b760474a361dDA0AF3839290b0EF57AD6", 6, "USDC", "2")),
		evm("unichain-sepolia", 1301, true, usdc("0x31d0220469e10c4E71834a79b1f276d740d3768F", 6, "USDC", "2")),
		evm("monad", 143, false, usdc("0x754704bc059f8c67012fed69bc8a327a5aafb603", 6, "USDC", "2")),
		evm("xdc", 50, false, usdc("0x2A8E898b6242355c290E1f4Fc966b8788729A4D4", 6, "Bridged USDC(XDC)", "2")),
		evm("xrpl-evm", 1440000, false, usdc("0xDaF4556169c4F3f2231d8ab7BC8772Ddb7D4c84C", 6, "USDC", "2")),
		{
			Name:   "solana",
			CAIP2:  caip2.MustParse("solana:" + caip2.SolanaMainnetGenesis),
			Family: types.FamilySolana,
			USDC:   usdcMint("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", 6),
		},
		{
			Name:    "solana-devnet",
			CAIP2:   caip2.MustParse("solana:" + caip2.SolanaDevnetGenesis),
			Family:  types.FamilySolana,
			Testnet: true,
			USDC:    usdcMint("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", 6),
		},
		{Name: "near", CAIP2: caip2.MustParse("near:mainnet"), Family: types.FamilyNear},
		{Name: "near-testnet", CAIP2: caip2.MustParse("near:testnet"), Family: types.FamilyNear, Testnet: true},
		{Name: "stellar", CAIP2: caip2.MustParse("stellar:pubnet"), Family: types.FamilyStellar},
		{Name: "stellar-testnet", CAIP2: caip2.MustParse("stellar:testnet"), Family: types.FamilyStellar, Testnet: true},
		{
			Name:   "fogo",
			CAIP2:  caip2.MustParse("fogo:mainnet"),
			Family: types.FamilySolana,
			USDC:   usdcMint("uSd2czE61Evaf76RNbq4KPpXnkiL3irdzgLFUMe3NoG", 6),
		},
		{
			Name:    "fogo-testnet",
			CAIP2:   caip2.MustParse("fogo:testnet"),
			Family:  types.FamilySolana,
			Testnet: true,
			USDC:    usdcMint("ELNbJ1RtERV2fjtuZjbTscDekWhVzkQ1LjmiPsxp5uND", 6),
		},
	}

	r, err := New(networks)
	if err != nil {
		// The table above is static; a duplicate is a programming error.
		panic(err)
	}
	return r
}
