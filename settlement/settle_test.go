package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402-facilitator/chain"
	"github.com/vitwit/x402-facilitator/escrow"
	"github.com/vitwit/x402-facilitator/providers"
	"github.com/vitwit/x402-facilitator/registry"
	"github.com/vitwit/x402-facilitator/types"
)

type stubChainProvider struct {
	net     *registry.Network
	settled int
	resp    *types.SettleResponse
}

func (s *stubChainProvider) Network() *registry.Network { return s.net }
func (s *stubChainProvider) SignerAddress() string      { return "0xsigner" }
func (s *stubChainProvider) VerifyOnChain(context.Context, *types.VerifiedPayment) (string, error) {
	return "", nil
}
func (s *stubChainProvider) Settle(_ context.Context, vp *types.VerifiedPayment) (*types.SettleResponse, error) {
	s.settled++
	if s.resp != nil {
		return s.resp, nil
	}
	return &types.SettleResponse{
		Success:     true,
		Payer:       vp.Payer,
		Transaction: "0xabc",
		Network:     vp.Network,
	}, nil
}
func (s *stubChainProvider) Close() {}

func testExecutor(escrowEnabled bool) (*Executor, *stubChainProvider) {
	stub := &stubChainProvider{}
	reg := registry.Default()
	cache := providers.NewCache(reg.Networks(), func(_ context.Context, net *registry.Network) (chain.Provider, error) {
		stub.net = net
		return stub, nil
	}, nil)
	return New(cache, escrowEnabled, nil, nil), stub
}

func verifiedEVMPayment() *types.VerifiedPayment {
	return &types.VerifiedPayment{
		Requirements: types.PaymentRequirements{
			Scheme:            "exact",
			Network:           "base-sepolia",
			MaxAmountRequired: "10000",
			PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		},
		Payload: types.PaymentPayload{
			X402Version: types.X402Version1,
			Scheme:      "exact",
			Network:     "base-sepolia",
			EVM: &types.EVMPayload{
				Signature: "0x" + fmt.Sprintf("%0130d", 0),
				Authorization: types.EVMAuthorization{
					From:        "0x857b06519E91e3A54538791bDbb0E22373e36b66",
					To:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
					Value:       "10000",
					ValidAfter:  "0",
					ValidBefore: fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix()),
					Nonce:       "0xf408d6d1f1d1bca7c6396ed30f00a46ca4e5b073fff983e42b348776a5aa651c",
				},
			},
		},
		Network: "base-sepolia",
		Family:  types.FamilyEVM,
		Payer:   "0x857b06519E91e3A54538791bDbb0E22373e36b66",
	}
}

func TestSettleDirect(t *testing.T) {
	e, stub := testExecutor(false)

	resp, err := e.Settle(context.Background(), verifiedEVMPayment())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "0xabc", resp.Transaction)
	assert.Equal(t, 1, stub.settled)
}

func TestSettleRechecksExpiryBeforeBroadcast(t *testing.T) {
	e, stub := testExecutor(false)

	vp := verifiedEVMPayment()
	vp.Payload.EVM.Authorization.ValidBefore = fmt.Sprintf("%d", time.Now().Add(-time.Minute).Unix())
	resp, err := e.Settle(context.Background(), vp)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, types.ReasonExpired, resp.ErrorReason)
	assert.False(t, resp.Inconclusive)
	assert.Equal(t, 0, stub.settled, "an expired authorization must never be broadcast")
}

func TestSettleExpiryGraceWindow(t *testing.T) {
	e, stub := testExecutor(false)

	// Valid on paper, but with less margin than a broadcast needs.
	vp := verifiedEVMPayment()
	vp.Payload.EVM.Authorization.ValidBefore = fmt.Sprintf("%d", time.Now().Add(2*time.Second).Unix())
	resp, err := e.Settle(context.Background(), vp)
	require.NoError(t, err)
	assert.Equal(t, types.ReasonExpired, resp.ErrorReason)
	assert.Equal(t, 0, stub.settled)
}

func TestSettleInconclusiveOutcomePassesThrough(t *testing.T) {
	e, stub := testExecutor(false)
	stub.resp = &types.SettleResponse{
		Success:      false,
		ErrorReason:  types.ErrCodeConfirmationTimeout,
		Transaction:  "0xdef",
		Inconclusive: true,
	}

	resp, err := e.Settle(context.Background(), verifiedEVMPayment())
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.True(t, resp.Inconclusive)
	assert.Equal(t, "0xdef", resp.Transaction, "the broadcast hash must surface on timeout")
}

func withRefundExtension(vp *types.VerifiedPayment) *types.VerifiedPayment {
	factory, _ := escrow.DeploymentFor("base-sepolia")
	proxy := escrow.ProxyAddress(factory.Factory, common.HexToAddress("0x1111111111111111111111111111111111111111"))
	vp.Requirements.PayTo = proxy.Hex()
	vp.Payload.EVM.Authorization.To = proxy.Hex()
	raw := fmt.Sprintf(`{"info":{"factoryAddress":"%s","merchantPayouts":{"%s":"0x1111111111111111111111111111111111111111"}}}`,
		factory.Factory.Hex(), proxy.Hex())
	vp.Payload.Extensions = map[string]json.RawMessage{
		escrow.ExtensionKey: json.RawMessage(raw),
	}
	return vp
}

func TestSettleEscrowDisabled(t *testing.T) {
	e, stub := testExecutor(false)

	resp, err := e.Settle(context.Background(), withRefundExtension(verifiedEVMPayment()))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, types.ErrCodeEscrowMismatch, resp.ErrorReason)
	assert.Equal(t, 0, stub.settled)
}

func TestSettleEscrowMalformedExtension(t *testing.T) {
	e, stub := testExecutor(true)

	vp := verifiedEVMPayment()
	vp.Payload.Extensions = map[string]json.RawMessage{
		escrow.ExtensionKey: json.RawMessage(`{"info":`),
	}
	resp, err := e.Settle(context.Background(), vp)
	require.NoError(t, err)
	assert.Equal(t, types.ErrCodeEscrowMismatch, resp.ErrorReason)
	assert.Equal(t, 0, stub.settled)
}

func TestSettleEscrowRequiresRelayCapableProvider(t *testing.T) {
	// The stub provider cannot relay, so a valid escrow route must still be
	// refused rather than settled directly.
	e, stub := testExecutor(true)

	resp, err := e.Settle(context.Background(), withRefundExtension(verifiedEVMPayment()))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, types.ErrCodeEscrowMismatch, resp.ErrorReason)
	assert.Equal(t, 0, stub.settled, "escrow payments must never fall back to direct settlement")
}
