package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentPayloadMarshalEVM(t *testing.T) {
	p := PaymentPayload{
		X402Version: X402Version1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		EVM: &EVMPayload{
			Signature: "0x00",
			Authorization: EVMAuthorization{
				From:        "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				To:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
				Value:       "10000",
				ValidAfter:  "0",
				ValidBefore: "9999999999",
				Nonce:       "0xf408d6d1f1d1bca7c6396ed30f00a46ca4e5b073fff983e42b348776a5aa651c",
			},
		},
	}

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Contains(t, decoded, "payload")

	var evm EVMPayload
	require.NoError(t, json.Unmarshal(decoded["payload"], &evm))
	assert.Equal(t, "10000", evm.Authorization.Value)
}

func TestPaymentPayloadMarshalSolana(t *testing.T) {
	p := PaymentPayload{
		X402Version: X402Version2,
		Scheme:      "exact",
		Network:     "solana-devnet",
		Solana:      &SolanaPayload{Transaction: "AQID"},
	}

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Contains(t, decoded, "payload", "the transaction must not be dropped on re-marshal")

	var sol SolanaPayload
	require.NoError(t, json.Unmarshal(decoded["payload"], &sol))
	assert.Equal(t, "AQID", sol.Transaction)
}
