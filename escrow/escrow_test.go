package escrow

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/x402-facilitator/types"
)

var (
	baseSepoliaFactory = common.HexToAddress("0xf981D813842eE78d18ef8ac825eef8e2C8A8BaC2")
	merchantA          = common.HexToAddress("0x1111111111111111111111111111111111111111")
	merchantB          = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestProxyAddressDeterministic(t *testing.T) {
	a := ProxyAddress(baseSepoliaFactory, merchantA)
	b := ProxyAddress(baseSepoliaFactory, merchantA)
	assert.Equal(t, a, b)
	assert.NotEqual(t, common.Address{}, a)
}

func TestProxyAddressVariesWithInputs(t *testing.T) {
	a := ProxyAddress(baseSepoliaFactory, merchantA)
	b := ProxyAddress(baseSepoliaFactory, merchantB)
	assert.NotEqual(t, a, b, "different merchants must get different proxies")

	c := ProxyAddress(common.HexToAddress("0x41Cc4D337FEC5E91ddcf4C363700FC6dB5f3A814"), merchantA)
	assert.NotEqual(t, a, c, "different factories must get different proxies")
}

func TestDeploymentFor(t *testing.T) {
	d, ok := DeploymentFor("base")
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0x41Cc4D337FEC5E91ddcf4C363700FC6dB5f3A814"), d.Factory)

	_, ok = DeploymentFor("avalanche")
	assert.False(t, ok)
}

func TestFromPayload(t *testing.T) {
	proxy := ProxyAddress(baseSepoliaFactory, merchantA)
	raw := fmt.Sprintf(`{"info":{"factoryAddress":"%s","merchantPayouts":{"%s":"%s"}}}`,
		baseSepoliaFactory.Hex(), proxy.Hex(), merchantA.Hex())

	p := &types.PaymentPayload{Extensions: map[string]json.RawMessage{
		ExtensionKey: json.RawMessage(raw),
	}}
	ext, ok, err := FromPayload(p)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, baseSepoliaFactory, ext.Info.FactoryAddress)
	assert.Equal(t, merchantA, ext.Info.MerchantPayouts[proxy])
}

func TestFromPayloadAbsent(t *testing.T) {
	_, ok, err := FromPayload(&types.PaymentPayload{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFromPayloadMalformed(t *testing.T) {
	p := &types.PaymentPayload{Extensions: map[string]json.RawMessage{
		ExtensionKey: json.RawMessage(`{"info":`),
	}}
	_, _, err := FromPayload(p)
	require.Error(t, err)
	var ferr *types.FacilitatorError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, types.ErrCodeEscrowMismatch, ferr.Code)
}

func escrowPayment(proxy common.Address) *types.VerifiedPayment {
	return &types.VerifiedPayment{
		Requirements: types.PaymentRequirements{PayTo: proxy.Hex()},
		Network:      "base-sepolia",
		Family:       types.FamilyEVM,
	}
}

func TestResolveRoute(t *testing.T) {
	proxy := ProxyAddress(baseSepoliaFactory, merchantA)
	ext := &Extension{Info: Info{
		FactoryAddress:  baseSepoliaFactory,
		MerchantPayouts: map[common.Address]common.Address{proxy: merchantA},
	}}

	route, err := ResolveRoute(ext, escrowPayment(proxy))
	require.NoError(t, err)
	assert.Equal(t, proxy, route.Proxy)
	assert.Equal(t, merchantA, route.Merchant)
	assert.Equal(t, baseSepoliaFactory, route.Factory)
}

func TestResolveRouteRejectsForeignProxy(t *testing.T) {
	proxy := ProxyAddress(baseSepoliaFactory, merchantA)
	ext := &Extension{Info: Info{
		FactoryAddress: baseSepoliaFactory,
		// The extension claims the proxy pays out to a different merchant.
		MerchantPayouts: map[common.Address]common.Address{proxy: merchantB},
	}}

	_, err := ResolveRoute(ext, escrowPayment(proxy))
	require.Error(t, err)
	var ferr *types.FacilitatorError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, types.ErrCodeEscrowMismatch, ferr.Code)
}

func TestResolveRouteRejectsUnlistedProxy(t *testing.T) {
	proxy := ProxyAddress(baseSepoliaFactory, merchantA)
	ext := &Extension{Info: Info{
		FactoryAddress:  baseSepoliaFactory,
		MerchantPayouts: map[common.Address]common.Address{},
	}}

	_, err := ResolveRoute(ext, escrowPayment(proxy))
	require.Error(t, err)
}

func TestResolveRouteRejectsWrongFactory(t *testing.T) {
	proxy := ProxyAddress(baseSepoliaFactory, merchantA)
	ext := &Extension{Info: Info{
		FactoryAddress:  common.HexToAddress("0x41Cc4D337FEC5E91ddcf4C363700FC6dB5f3A814"), // base mainnet factory
		MerchantPayouts: map[common.Address]common.Address{proxy: merchantA},
	}}

	_, err := ResolveRoute(ext, escrowPayment(proxy))
	require.Error(t, err)
}

func TestResolveRouteRejectsNetworkWithoutDeployment(t *testing.T) {
	proxy := ProxyAddress(baseSepoliaFactory, merchantA)
	ext := &Extension{Info: Info{
		FactoryAddress:  baseSepoliaFactory,
		MerchantPayouts: map[common.Address]common.Address{proxy: merchantA},
	}}

	vp := escrowPayment(proxy)
	vp.Network = "polygon"
	_, err := ResolveRoute(ext, vp)
	require.Error(t, err)

	vp = escrowPayment(proxy)
	vp.Network = "solana"
	vp.Family = types.FamilySolana
	_, err = ResolveRoute(ext, vp)
	require.Error(t, err)
}
