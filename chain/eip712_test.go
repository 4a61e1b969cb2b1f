package chain

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402-facilitator/types"
)

var testUSDC = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")

func testAuthorization(from common.Address) *types.EVMAuthorization {
	return &types.EVMAuthorization{
		From:        from.Hex(),
		To:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Value:       "10000",
		ValidAfter:  "0",
		ValidBefore: "9999999999",
		Nonce:       "0xf408d6d1f1d1bca7c6396ed30f00a46ca4e5b073fff983e42b348776a5aa651c",
	}
}

func TestRecoverAuthorizationSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	auth := testAuthorization(signer)
	digest, err := AuthorizationDigest(auth, "USDC", "2", 84532, testUSDC)
	require.NoError(t, err)

	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)

	recovered, err := RecoverAuthorizationSigner(auth, "0x"+hex.EncodeToString(sig), "USDC", "2", 84532, testUSDC)
	require.NoError(t, err)
	assert.Equal(t, signer, recovered)
}

func TestRecoverAuthorizationSignerLegacyRecoveryByte(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	auth := testAuthorization(signer)
	digest, err := AuthorizationDigest(auth, "USDC", "2", 84532, testUSDC)
	require.NoError(t, err)

	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	// Wallets commonly encode v as 27/28.
	sig[64] += 27

	recovered, err := RecoverAuthorizationSigner(auth, "0x"+hex.EncodeToString(sig), "USDC", "2", 84532, testUSDC)
	require.NoError(t, err)
	assert.Equal(t, signer, recovered)
}

func TestAuthorizationDigestBindsDomain(t *testing.T) {
	auth := testAuthorization(common.HexToAddress("0x857b06519E91e3A54538791bDbb0E22373e36b66"))

	base, err := AuthorizationDigest(auth, "USDC", "2", 84532, testUSDC)
	require.NoError(t, err)

	otherChain, err := AuthorizationDigest(auth, "USDC", "2", 8453, testUSDC)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherChain, "chain id must be part of the digest")

	otherName, err := AuthorizationDigest(auth, "USD Coin", "2", 84532, testUSDC)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherName, "domain name must be part of the digest")

	otherContract, err := AuthorizationDigest(auth, "USDC", "2", 84532,
		common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"))
	require.NoError(t, err)
	assert.NotEqual(t, base, otherContract, "verifying contract must be part of the digest")
}

func TestAuthorizationDigestRejectsMalformedFields(t *testing.T) {
	good := testAuthorization(common.HexToAddress("0x857b06519E91e3A54538791bDbb0E22373e36b66"))

	bad := *good
	bad.Value = "not-a-number"
	_, err := AuthorizationDigest(&bad, "USDC", "2", 84532, testUSDC)
	assert.Error(t, err)

	bad = *good
	bad.Nonce = "0x1234"
	_, err = AuthorizationDigest(&bad, "USDC", "2", 84532, testUSDC)
	assert.Error(t, err)

	bad = *good
	bad.From = "nobody"
	_, err = AuthorizationDigest(&bad, "USDC", "2", 84532, testUSDC)
	assert.Error(t, err)
}
