// Package verification turns raw payment requests into verified payments.
// Checks run in a fixed order and short-circuit on the first failure, so
// cheap stateless checks always precede RPC calls.
package verification

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/x402-facilitator/chain"
	"github.com/vitwit/x402-facilitator/compliance"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/providers"
	"github.com/vitwit/x402-facilitator/registry"
	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/utils"
)

// settleGrace is how much validity an authorization must have left beyond
// now. An authorization expiring mid-broadcast is worthless, so anything
// closer than this to its deadline is declined upfront.
const settleGrace = 6 * time.Second

// Verifier runs the verification pipeline.
type Verifier struct {
	reg   *registry.Registry
	cache *providers.Cache
	gate  compliance.Gate
	log   logger.Logger
	now   func() time.Time
}

func New(reg *registry.Registry, cache *providers.Cache, gate compliance.Gate, log logger.Logger) *Verifier {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if gate == nil {
		gate = compliance.AllowAllGate{}
	}
	return &Verifier{reg: reg, cache: cache, gate: gate, log: log, now: time.Now}
}

// Verify checks one payment end to end. A decline comes back as a
// VerifyResponse with a structured reason; the error is reserved for
// infrastructure faults where no judgement was reached.
func (v *Verifier) Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifiedPayment, *types.VerifyResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, decline(types.ReasonInvalidPayload, ""), nil
	}
	if payload := req.PaymentPayload.EVM; payload != nil {
		if err := utils.ValidateStruct(payload); err != nil {
			return nil, decline(types.ReasonInvalidPayload, ""), nil
		}
	}
	if payload := req.PaymentPayload.Solana; payload != nil {
		if err := utils.ValidateStruct(payload); err != nil {
			return nil, decline(types.ReasonInvalidPayload, ""), nil
		}
	}

	net, err := v.reg.Resolve(req.PaymentRequirements.Network)
	if err != nil {
		return nil, decline(types.ReasonUnsupportedNetwork, ""), nil
	}
	payloadNet, err := v.reg.Resolve(req.PaymentPayload.Network)
	if err != nil {
		return nil, decline(types.ReasonUnsupportedNetwork, ""), nil
	}
	if payloadNet != net {
		return nil, decline(types.ReasonRequirementsMismatch, ""), nil
	}

	if req.PaymentRequirements.Scheme != string(types.SchemeExact) ||
		req.PaymentPayload.Scheme != string(types.SchemeExact) {
		return nil, decline(types.ReasonUnsupportedScheme, ""), nil
	}

	var (
		payer  string
		reason string
	)
	switch net.Family {
	case types.FamilyEVM:
		payer, reason = v.verifyEVM(req, net)
	case types.FamilySolana:
		if req.PaymentPayload.Solana == nil {
			reason = types.ReasonInvalidPayload
		} else {
			payer, reason = chain.DecodeSolanaPayment(req.PaymentPayload.Solana, &req.PaymentRequirements)
		}
	default:
		// Registered for discovery, but no settlement adapter yet.
		reason = types.ReasonUnsupportedNetwork
	}
	if reason != "" {
		return nil, decline(reason, payer), nil
	}

	screening, err := v.gate.Screen(ctx, payer, req.PaymentRequirements.PayTo, compliance.Context{
		Amount:   req.PaymentRequirements.MaxAmountRequired,
		Currency: req.PaymentRequirements.Asset,
		Network:  net.Name,
	})
	if err != nil {
		return nil, nil, err
	}
	if screening.Decision != compliance.Clear {
		v.log.Warn("payment declined by screening", map[string]any{
			"network":  net.Name,
			"decision": screening.Decision.String(),
		})
		return nil, decline(types.ReasonBlockedAddress, payer), nil
	}

	vp := &types.VerifiedPayment{
		Requirements: req.PaymentRequirements,
		Payload:      req.PaymentPayload,
		Network:      net.Name,
		Family:       net.Family,
		Payer:        payer,
	}

	prov, err := v.cache.Get(ctx, net.Name)
	if err != nil {
		var ferr *types.FacilitatorError
		if errors.As(err, &ferr) && ferr.Code == types.ErrCodeUnsupportedNetwork {
			return nil, decline(types.ReasonUnsupportedNetwork, payer), nil
		}
		return nil, nil, err
	}
	chainReason, err := prov.VerifyOnChain(ctx, vp)
	if err != nil {
		return nil, nil, err
	}
	if chainReason != "" {
		return nil, decline(chainReason, payer), nil
	}

	return vp, &types.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// verifyEVM runs every stateless EVM check and returns the recovered payer.
func (v *Verifier) verifyEVM(req *types.VerifyRequest, net *registry.Network) (string, string) {
	payload := req.PaymentPayload.EVM
	if payload == nil {
		return "", types.ReasonInvalidPayload
	}
	auth := &payload.Authorization

	if !strings.EqualFold(auth.To, req.PaymentRequirements.PayTo) {
		return "", types.ReasonRequirementsMismatch
	}

	required, err := utils.ParseAmount(req.PaymentRequirements.MaxAmountRequired)
	if err != nil {
		return "", types.ReasonRequirementsMismatch
	}
	value, err := utils.ParseAmount(auth.Value)
	if err != nil {
		return "", types.ReasonInvalidPayload
	}
	if value.Cmp(required) < 0 {
		return "", types.ReasonInsufficientValue
	}

	validAfter, err := utils.ParseTimestamp(auth.ValidAfter)
	if err != nil {
		return "", types.ReasonInvalidPayload
	}
	validBefore, err := utils.ParseTimestamp(auth.ValidBefore)
	if err != nil {
		return "", types.ReasonInvalidPayload
	}
	now := v.now()
	if now.Unix() < validAfter {
		return "", types.ReasonNotYetValid
	}
	if now.Add(settleGrace).Unix() >= validBefore {
		return "", types.ReasonExpired
	}

	name, version, ok := signingDomain(&req.PaymentRequirements, net)
	if !ok {
		return "", types.ReasonRequirementsMismatch
	}
	signer, err := chain.RecoverAuthorizationSigner(auth, payload.Signature,
		name, version, net.ChainID, common.HexToAddress(req.PaymentRequirements.Asset))
	if err != nil {
		return "", types.ReasonInvalidSignature
	}
	if !strings.EqualFold(signer.Hex(), auth.From) {
		return signer.Hex(), types.ReasonInvalidSignature
	}
	return signer.Hex(), ""
}

// signingDomain resolves the EIP-712 domain of the asset: an explicit
// override in the requirements wins, then the registry's known USDC
// deployment. An unknown asset with no override cannot be verified.
func signingDomain(req *types.PaymentRequirements, net *registry.Network) (string, string, bool) {
	name, hasName := req.EIP712Name()
	version, hasVersion := req.EIP712Version()
	if hasName && hasVersion {
		return name, version, true
	}
	if domain, ok := net.USDCDomain(req.Asset); ok {
		if !hasName {
			name = domain.Name
		}
		if !hasVersion {
			version = domain.Version
		}
		return name, version, true
	}
	return "", "", false
}

func decline(reason, payer string) *types.VerifyResponse {
	return &types.VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}
}
