// Package escrow implements the refund extension: payments routed through a
// deterministic deposit proxy that holds funds in escrow instead of paying
// the merchant directly. A payment opts in by carrying a "refund" extension
// and naming the proxy as payTo.
package escrow

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/x402-facilitator/types"
)

// ExtensionKey is the extension name payments use to opt into escrow.
const ExtensionKey = "refund"

// CreateXAddress is the CreateX universal deployer, identical on every EVM
// chain.
var CreateXAddress = common.HexToAddress("0xba5Ed099633D3B313e4D5F7bdc1305d3c28ba5Ed")

// create3ProxyInitcodeHash is keccak256 of CreateX's minimal CREATE3 proxy
// bytecode.
var create3ProxyInitcodeHash = common.HexToHash("0x21c35dbe1b344a2488cf3321d6ce542f8e9f305544ff09e4993a62319a497c1f")

// Deployment holds the escrow contract addresses on one network.
type Deployment struct {
	Factory        common.Address
	Escrow         common.Address
	Implementation common.Address
}

var deployments = map[string]Deployment{
	"base": {
		Factory:        common.HexToAddress("0x41Cc4D337FEC5E91ddcf4C363700FC6dB5f3A814"),
		Escrow:         common.HexToAddress("0xC409e6da89E54253fbA86C1CE3E553d24E03f6bC"),
		Implementation: common.HexToAddress("0x55eEC2951Da58118ebf32fD925A9bBB13096e828"),
	},
	"base-sepolia": {
		Factory:        common.HexToAddress("0xf981D813842eE78d18ef8ac825eef8e2C8A8BaC2"),
		Escrow:         common.HexToAddress("0xF7F2Bc463d79Bd3E5Cb693944B422c39114De058"),
		Implementation: common.HexToAddress("0x740785D15a77caCeE72De645f1bAeed880E2E99B"),
	},
}

// DeploymentFor returns the escrow contracts on a network, if deployed.
func DeploymentFor(network string) (Deployment, bool) {
	d, ok := deployments[network]
	return d, ok
}

// Info is the body of the refund extension.
type Info struct {
	// FactoryAddress is the DepositRelayFactory the proxies came from.
	FactoryAddress common.Address `json:"factoryAddress"`
	// MerchantPayouts maps each proxy address to the merchant payout
	// address behind it.
	MerchantPayouts map[common.Address]common.Address `json:"merchantPayouts"`
}

// Extension is the decoded refund extension.
type Extension struct {
	Info Info `json:"info"`
}

// FromPayload extracts the refund extension when the payment carries one.
// A present but malformed extension is an error, not a silent fall-through
// to direct settlement.
func FromPayload(p *types.PaymentPayload) (*Extension, bool, error) {
	raw, ok := p.Extensions[ExtensionKey]
	if !ok {
		return nil, false, nil
	}
	var ext Extension
	if err := json.Unmarshal(raw, &ext); err != nil {
		return nil, false, types.NewConclusive(types.ErrCodeEscrowMismatch,
			fmt.Sprintf("invalid refund extension: %v", err), err)
	}
	return &ext, true, nil
}

// Route is a validated escrow settlement target.
type Route struct {
	Proxy    common.Address
	Merchant common.Address
	Factory  common.Address
}

// ResolveRoute validates the extension against a verified payment before
// any network call happens: the network must carry an escrow deployment,
// the stated factory must be that deployment, payTo must be a proxy listed
// in the extension, and the proxy must derive from the merchant payout.
func ResolveRoute(ext *Extension, vp *types.VerifiedPayment) (*Route, error) {
	if vp.Family != types.FamilyEVM {
		return nil, types.NewConclusive(types.ErrCodeEscrowMismatch,
			"escrow settlement requires an EVM network", nil)
	}
	deployment, ok := DeploymentFor(vp.Network)
	if !ok {
		return nil, types.NewConclusive(types.ErrCodeEscrowMismatch,
			fmt.Sprintf("network %s has no escrow deployment", vp.Network), nil)
	}
	if ext.Info.FactoryAddress != deployment.Factory {
		return nil, types.NewConclusive(types.ErrCodeEscrowMismatch,
			fmt.Sprintf("factory %s is not the %s escrow factory", ext.Info.FactoryAddress.Hex(), vp.Network), nil)
	}
	if !common.IsHexAddress(vp.Requirements.PayTo) {
		return nil, types.NewConclusive(types.ErrCodeEscrowMismatch,
			"escrow payTo must be an EVM address", nil)
	}
	proxy := common.HexToAddress(vp.Requirements.PayTo)
	merchant, ok := ext.Info.MerchantPayouts[proxy]
	if !ok {
		return nil, types.NewConclusive(types.ErrCodeEscrowMismatch,
			fmt.Sprintf("proxy %s not present in merchantPayouts", proxy.Hex()), nil)
	}
	if derived := ProxyAddress(deployment.Factory, merchant); derived != proxy {
		return nil, types.NewConclusive(types.ErrCodeEscrowMismatch,
			fmt.Sprintf("proxy %s does not derive from merchant %s", proxy.Hex(), merchant.Hex()), nil)
	}
	return &Route{Proxy: proxy, Merchant: merchant, Factory: deployment.Factory}, nil
}

// ProxyAddress computes the deterministic CREATE3 address of the deposit
// proxy a factory deploys for a merchant payout:
//
//	salt        = keccak256(factory || merchant)
//	guardedSalt = keccak256(factory || salt)
//	proxy       = CREATE3(CreateX, guardedSalt)
func ProxyAddress(factory, merchant common.Address) common.Address {
	salt := crypto.Keccak256(factory.Bytes(), merchant.Bytes())
	guardedSalt := crypto.Keccak256(factory.Bytes(), salt)
	return create3Address(CreateXAddress, guardedSalt)
}

// create3Address resolves a CREATE3 deployment: CREATE2 places a minimal
// proxy, which then CREATEs the real contract at nonce 1.
func create3Address(deployer common.Address, salt []byte) common.Address {
	create2Input := make([]byte, 0, 85)
	create2Input = append(create2Input, 0xff)
	create2Input = append(create2Input, deployer.Bytes()...)
	create2Input = append(create2Input, salt...)
	create2Input = append(create2Input, create3ProxyInitcodeHash.Bytes()...)
	proxy := common.BytesToAddress(crypto.Keccak256(create2Input)[12:])

	// RLP([proxy, 1]) for the CREATE at nonce 1.
	rlp := make([]byte, 0, 23)
	rlp = append(rlp, 0xd6, 0x94)
	rlp = append(rlp, proxy.Bytes()...)
	rlp = append(rlp, 0x01)
	return common.BytesToAddress(crypto.Keccak256(rlp)[12:])
}
