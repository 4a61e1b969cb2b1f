package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/registry"
	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/utils"
)

// eip3009ABI covers the token entry points the facilitator calls: the
// transfer itself plus the two read-only preflight checks.
const eip3009ABI = `[
  {"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"name":"authorizationState","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"name":"transferWithAuthorization","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// depositRelayABI is the proxy entry point used for escrow settlement.
const depositRelayABI = `[
  {"inputs":[{"name":"fromUser","type":"address"},{"name":"amount","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"name":"executeDeposit","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// relayFactoryABI is the factory lookup used to verify a proxy before
// routing a settlement through it.
const relayFactoryABI = `[
  {"inputs":[{"name":"relay","type":"address"}],"name":"getMerchantFromRelay","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const (
	defaultConfirmAttempts = 10
	defaultConfirmInterval = 3 * time.Second
)

// EVMProvider settles EIP-3009 transfers on one EVM network. The facilitator
// key pays gas; the payer's signed authorization moves the tokens.
type EVMProvider struct {
	net    *registry.Network
	client *ethclient.Client
	key    *ecdsa.PrivateKey
	signer common.Address
	nonces *NonceSource
	log    logger.Logger

	tokenABI   abi.ABI
	relayABI   abi.ABI
	factoryABI abi.ABI

	confirmAttempts int
	confirmInterval time.Duration
}

// NewEVMProvider dials the RPC endpoint and checks that it serves the chain
// the descriptor claims. A chain id mismatch is a configuration error, not
// something to limp along with.
func NewEVMProvider(ctx context.Context, net *registry.Network, rpcURL, privateKeyHex string, log logger.Logger) (*EVMProvider, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, types.NewConfigError(fmt.Sprintf("invalid signer key for %s", net.Name), err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, types.NewConfigError(fmt.Sprintf("dial %s rpc", net.Name), err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, types.NewConfigError(fmt.Sprintf("query %s chain id", net.Name), err)
	}
	if chainID.Uint64() != net.ChainID {
		client.Close()
		return nil, types.NewConfigError(
			fmt.Sprintf("%s rpc serves chain %d, expected %d", net.Name, chainID.Uint64(), net.ChainID), nil)
	}

	tokenABI, err := abi.JSON(strings.NewReader(eip3009ABI))
	if err != nil {
		client.Close()
		return nil, types.NewConfigError("parse token abi", err)
	}
	relayABI, err := abi.JSON(strings.NewReader(depositRelayABI))
	if err != nil {
		client.Close()
		return nil, types.NewConfigError("parse relay abi", err)
	}
	factoryABI, err := abi.JSON(strings.NewReader(relayFactoryABI))
	if err != nil {
		client.Close()
		return nil, types.NewConfigError("parse factory abi", err)
	}

	p := &EVMProvider{
		net:             net,
		client:          client,
		key:             key,
		signer:          crypto.PubkeyToAddress(key.PublicKey),
		nonces:          NewNonceSource(),
		log:             log,
		tokenABI:        tokenABI,
		relayABI:        relayABI,
		factoryABI:      factoryABI,
		confirmAttempts: defaultConfirmAttempts,
		confirmInterval: defaultConfirmInterval,
	}
	log.Info("evm provider ready", map[string]any{
		"network": net.Name,
		"chainId": net.ChainID,
		"signer":  p.signer.Hex(),
	})
	return p, nil
}

func (p *EVMProvider) Network() *registry.Network { return p.net }

func (p *EVMProvider) SignerAddress() string { return p.signer.Hex() }

func (p *EVMProvider) Close() { p.client.Close() }

// evmAuthValues is an EVM payload parsed into contract-call form.
type evmAuthValues struct {
	from        common.Address
	to          common.Address
	value       *big.Int
	validAfter  *big.Int
	validBefore *big.Int
	nonce       [32]byte
	v           uint8
	r           [32]byte
	s           [32]byte
}

func parseEVMPayload(payload *types.EVMPayload) (*evmAuthValues, error) {
	if payload == nil {
		return nil, fmt.Errorf("missing evm payload")
	}
	auth := &payload.Authorization
	if !common.IsHexAddress(auth.From) {
		return nil, fmt.Errorf("invalid from address %q", auth.From)
	}
	if !common.IsHexAddress(auth.To) {
		return nil, fmt.Errorf("invalid to address %q", auth.To)
	}
	value, err := utils.ParseAmount(auth.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}
	validAfter, err := utils.ParseAmount(auth.ValidAfter)
	if err != nil {
		return nil, fmt.Errorf("invalid validAfter: %w", err)
	}
	validBefore, err := utils.ParseAmount(auth.ValidBefore)
	if err != nil {
		return nil, fmt.Errorf("invalid validBefore: %w", err)
	}
	nonce, err := utils.ParseBytes32(auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	sig, err := utils.ParseSignature(payload.Signature)
	if err != nil {
		return nil, err
	}
	v, r, s, err := utils.SplitSignature(sig)
	if err != nil {
		return nil, err
	}
	return &evmAuthValues{
		from:        common.HexToAddress(auth.From),
		to:          common.HexToAddress(auth.To),
		value:       value,
		validAfter:  validAfter,
		validBefore: validBefore,
		nonce:       nonce,
		v:           v,
		r:           r,
		s:           s,
	}, nil
}

// VerifyOnChain checks payer balance, replay state of the authorization
// nonce, and finally simulates the transfer from the facilitator signer.
func (p *EVMProvider) VerifyOnChain(ctx context.Context, vp *types.VerifiedPayment) (string, error) {
	av, err := parseEVMPayload(vp.Payload.EVM)
	if err != nil {
		return types.ReasonInvalidPayload, nil
	}
	token := common.HexToAddress(vp.Requirements.Asset)

	var balance *big.Int
	if err := p.callToken(ctx, token, "balanceOf", &balance, av.from); err != nil {
		return "", fmt.Errorf("balanceOf: %w", err)
	}
	if balance.Cmp(av.value) < 0 {
		return types.ReasonInsufficientFunds, nil
	}

	var used bool
	if err := p.callToken(ctx, token, "authorizationState", &used, av.from, av.nonce); err != nil {
		return "", fmt.Errorf("authorizationState: %w", err)
	}
	if used {
		return types.ReasonNonceAlreadyUsed, nil
	}

	data, err := p.tokenABI.Pack("transferWithAuthorization",
		av.from, av.to, av.value, av.validAfter, av.validBefore, av.nonce, av.v, av.r, av.s)
	if err != nil {
		return "", fmt.Errorf("pack transferWithAuthorization: %w", err)
	}
	if _, err := p.client.CallContract(ctx, ethereum.CallMsg{From: p.signer, To: &token, Data: data}, nil); err != nil {
		p.log.Debug("transfer simulation reverted", map[string]any{
			"network": p.net.Name,
			"payer":   av.from.Hex(),
			"error":   err.Error(),
		})
		return types.ReasonInvalidSignature, nil
	}
	return "", nil
}

func (p *EVMProvider) callToken(ctx context.Context, token common.Address, method string, out interface{}, args ...interface{}) error {
	data, err := p.tokenABI.Pack(method, args...)
	if err != nil {
		return err
	}
	raw, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return err
	}
	return p.tokenABI.UnpackIntoInterface(out, method, raw)
}

// Settle broadcasts transferWithAuthorization against the asset contract.
func (p *EVMProvider) Settle(ctx context.Context, vp *types.VerifiedPayment) (*types.SettleResponse, error) {
	av, err := parseEVMPayload(vp.Payload.EVM)
	if err != nil {
		return p.failure(vp, types.ErrCodeBroadcastFailed, err.Error(), false), nil
	}
	data, err := p.tokenABI.Pack("transferWithAuthorization",
		av.from, av.to, av.value, av.validAfter, av.validBefore, av.nonce, av.v, av.r, av.s)
	if err != nil {
		return nil, fmt.Errorf("pack transferWithAuthorization: %w", err)
	}
	p.log.Info("settling transfer", map[string]any{
		"network": p.net.Name,
		"payer":   av.from.Hex(),
		"amount":  utils.FormatUnits(av.value, p.assetDecimals(vp.Requirements.Asset)),
	})
	return p.submit(ctx, vp, common.HexToAddress(vp.Requirements.Asset), data)
}

// SettleViaRelay routes the authorization through an escrow proxy's
// executeDeposit entry point instead of calling the token directly.
func (p *EVMProvider) SettleViaRelay(ctx context.Context, vp *types.VerifiedPayment, proxy common.Address) (*types.SettleResponse, error) {
	av, err := parseEVMPayload(vp.Payload.EVM)
	if err != nil {
		return p.failure(vp, types.ErrCodeBroadcastFailed, err.Error(), false), nil
	}
	data, err := p.relayABI.Pack("executeDeposit",
		av.from, av.value, av.validAfter, av.validBefore, av.nonce, av.v, av.r, av.s)
	if err != nil {
		return nil, fmt.Errorf("pack executeDeposit: %w", err)
	}
	return p.submit(ctx, vp, proxy, data)
}

// assetDecimals resolves display decimals for logging. Unknown assets log in
// base units.
func (p *EVMProvider) assetDecimals(asset string) int {
	if p.net.USDC != nil && strings.EqualFold(p.net.USDC.Address, asset) {
		return p.net.USDC.Decimals
	}
	return 0
}

// RelayMerchant queries the factory contract for the merchant registered
// behind a proxy. The zero address means the proxy is not deployed.
func (p *EVMProvider) RelayMerchant(ctx context.Context, factory, proxy common.Address) (common.Address, error) {
	data, err := p.factoryABI.Pack("getMerchantFromRelay", proxy)
	if err != nil {
		return common.Address{}, err
	}
	raw, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("getMerchantFromRelay: %w", err)
	}
	var merchant common.Address
	if err := p.factoryABI.UnpackIntoInterface(&merchant, "getMerchantFromRelay", raw); err != nil {
		return common.Address{}, err
	}
	return merchant, nil
}

func (p *EVMProvider) submit(ctx context.Context, vp *types.VerifiedPayment, to common.Address, calldata []byte) (*types.SettleResponse, error) {
	nonce, err := p.nonces.Claim(ctx, func(ctx context.Context) (uint64, error) {
		return p.client.PendingNonceAt(ctx, p.signer)
	})
	if err != nil {
		return p.failure(vp, types.ErrCodeNonceCoordination, err.Error(), false), nil
	}

	gasLimit, err := p.client.EstimateGas(ctx, ethereum.CallMsg{From: p.signer, To: &to, Data: calldata})
	if err != nil {
		// Never broadcast: the estimation call itself reverted or the node
		// refused it, so the nonce goes back into circulation.
		p.nonces.Release(nonce)
		return p.failure(vp, types.ErrCodeBroadcastFailed, fmt.Sprintf("estimate gas: %v", err), false), nil
	}
	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		p.nonces.Release(nonce)
		return p.failure(vp, types.ErrCodeBroadcastFailed, fmt.Sprintf("suggest gas price: %v", err), false), nil
	}

	chainID := new(big.Int).SetUint64(p.net.ChainID)
	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, calldata)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(chainID), p.key)
	if err != nil {
		p.nonces.Release(nonce)
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	if err := p.client.SendTransaction(ctx, signed); err != nil {
		if ambiguousSendError(err) {
			// The node may have accepted the transaction before the
			// response was lost, so the nonce must never be reused.
			p.nonces.Retire(nonce)
			resp := p.failure(vp, types.ErrCodeBroadcastFailed, fmt.Sprintf("send tx: %v", err), true)
			resp.Transaction = signed.Hash().Hex()
			return resp, nil
		}
		p.nonces.Release(nonce)
		return p.failure(vp, types.ErrCodeBroadcastFailed, fmt.Sprintf("send tx: %v", err), false), nil
	}

	// The nonce is spent the moment the node accepts the transaction,
	// whatever confirmation later says.
	p.nonces.Retire(nonce)

	p.log.Info("transaction broadcast", map[string]any{
		"network": p.net.Name,
		"tx":      signed.Hash().Hex(),
		"nonce":   nonce,
	})

	// The broadcast happened; confirmation bookkeeping must finish even if
	// the caller goes away.
	return p.awaitReceipt(context.WithoutCancel(ctx), vp, signed.Hash())
}

func (p *EVMProvider) awaitReceipt(ctx context.Context, vp *types.VerifiedPayment, txHash common.Hash) (*types.SettleResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.confirmAttempts+1)*p.confirmInterval)
	defer cancel()

poll:
	for i := 0; i < p.confirmAttempts; i++ {
		select {
		case <-ctx.Done():
			break poll
		case <-time.After(p.confirmInterval):
		}

		receipt, err := p.client.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			continue
		}
		if err != nil {
			p.log.Warn("receipt poll failed", map[string]any{
				"network": p.net.Name,
				"tx":      txHash.Hex(),
				"error":   err.Error(),
			})
			continue
		}
		if receipt.Status == ethtypes.ReceiptStatusFailed {
			resp := p.failure(vp, types.ErrCodeReverted, "transaction reverted", false)
			resp.Transaction = txHash.Hex()
			return resp, nil
		}
		return &types.SettleResponse{
			Success:     true,
			Payer:       vp.Payer,
			Transaction: txHash.Hex(),
			Network:     vp.Network,
		}, nil
	}

	// The transaction is broadcast but unconfirmed. It may still land, so
	// the outcome is inconclusive rather than failed.
	resp := p.failure(vp, types.ErrCodeConfirmationTimeout, "transaction not confirmed in time", true)
	resp.Transaction = txHash.Hex()
	return resp, nil
}

func (p *EVMProvider) failure(vp *types.VerifiedPayment, code, detail string, inconclusive bool) *types.SettleResponse {
	p.log.Warn("settlement failed", map[string]any{
		"network":      p.net.Name,
		"code":         code,
		"detail":       detail,
		"inconclusive": inconclusive,
	})
	return &types.SettleResponse{
		Success:      false,
		ErrorReason:  code,
		Payer:        vp.Payer,
		Network:      vp.Network,
		Inconclusive: inconclusive,
	}
}

func ambiguousSendError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	// "already known" means an earlier attempt reached the mempool.
	return strings.Contains(err.Error(), "already known")
}
