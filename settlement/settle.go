// Package settlement executes verified payments on chain. It consumes the
// VerifiedPayment produced by verification in the same call; nothing here
// trusts request data that has not been through the verifier.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/x402-facilitator/chain"
	"github.com/vitwit/x402-facilitator/escrow"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/providers"
	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/utils"
)

// broadcastGrace mirrors the verifier's margin: if the authorization is
// this close to expiry, broadcasting would pay gas for a transfer the token
// contract will reject.
const broadcastGrace = 6 * time.Second

// Executor settles verified payments.
type Executor struct {
	cache         *providers.Cache
	escrowEnabled bool
	log           logger.Logger
	rec           metrics.Recorder
	now           func() time.Time
}

func New(cache *providers.Cache, escrowEnabled bool, log logger.Logger, rec metrics.Recorder) *Executor {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Executor{
		cache:         cache,
		escrowEnabled: escrowEnabled,
		log:           log,
		rec:           rec,
		now:           time.Now,
	}
}

// Settle broadcasts one verified payment and reports the outcome. Payment
// failures are data in the response; the error is for infrastructure faults
// only.
func (e *Executor) Settle(ctx context.Context, vp *types.VerifiedPayment) (*types.SettleResponse, error) {
	started := e.now()

	resp, err := e.settle(ctx, vp)
	if err != nil {
		return nil, err
	}

	outcome := "settled"
	if !resp.Success {
		outcome = "failed"
		if resp.Inconclusive {
			outcome = "inconclusive"
		}
	}
	e.rec.IncCounter("settle_"+outcome, map[string]string{"network": vp.Network})
	e.rec.ObserveLatency("settle", e.now().Sub(started), map[string]string{"network": vp.Network})
	return resp, nil
}

func (e *Executor) settle(ctx context.Context, vp *types.VerifiedPayment) (*types.SettleResponse, error) {
	// An EVM authorization can expire between verification and broadcast.
	// Re-check so an expired one never costs gas.
	if vp.Family == types.FamilyEVM && vp.Payload.EVM != nil {
		validBefore, err := utils.ParseTimestamp(vp.Payload.EVM.Authorization.ValidBefore)
		if err != nil {
			return failure(vp, types.ReasonInvalidPayload, false), nil
		}
		if e.now().Add(broadcastGrace).Unix() >= validBefore {
			return failure(vp, types.ReasonExpired, false), nil
		}
	}

	ext, hasEscrow, err := escrow.FromPayload(&vp.Payload)
	if err != nil {
		return failure(vp, types.ErrCodeEscrowMismatch, false), nil
	}

	prov, err := e.cache.Get(ctx, vp.Network)
	if err != nil {
		var ferr *types.FacilitatorError
		if errors.As(err, &ferr) {
			return failure(vp, ferr.Code, !ferr.Conclusive), nil
		}
		return nil, err
	}

	if hasEscrow {
		return e.settleEscrow(ctx, vp, ext, prov)
	}
	return prov.Settle(ctx, vp)
}

// settleEscrow routes the payment through its deposit proxy after verifying
// the proxy against both the extension data and the factory contract.
func (e *Executor) settleEscrow(ctx context.Context, vp *types.VerifiedPayment, ext *escrow.Extension, prov chain.Provider) (*types.SettleResponse, error) {
	if !e.escrowEnabled {
		e.log.Warn("escrow settlement requested but disabled", map[string]any{"network": vp.Network})
		return failure(vp, types.ErrCodeEscrowMismatch, false), nil
	}

	route, err := escrow.ResolveRoute(ext, vp)
	if err != nil {
		e.log.Warn("escrow route rejected", map[string]any{
			"network": vp.Network,
			"error":   err.Error(),
		})
		return failure(vp, types.ErrCodeEscrowMismatch, false), nil
	}

	evm, ok := prov.(*chain.EVMProvider)
	if !ok {
		return failure(vp, types.ErrCodeEscrowMismatch, false), nil
	}

	// The factory is authoritative on which merchant sits behind the proxy.
	merchant, err := evm.RelayMerchant(ctx, route.Factory, route.Proxy)
	if err != nil {
		return nil, fmt.Errorf("verify escrow proxy: %w", err)
	}
	if merchant == (common.Address{}) || merchant != route.Merchant {
		e.log.Warn("escrow proxy failed on-chain verification", map[string]any{
			"network":  vp.Network,
			"proxy":    route.Proxy.Hex(),
			"expected": route.Merchant.Hex(),
			"actual":   merchant.Hex(),
		})
		return failure(vp, types.ErrCodeEscrowMismatch, false), nil
	}

	e.log.Info("settling through escrow proxy", map[string]any{
		"network":  vp.Network,
		"proxy":    route.Proxy.Hex(),
		"merchant": route.Merchant.Hex(),
	})
	return evm.SettleViaRelay(ctx, vp, route.Proxy)
}

func failure(vp *types.VerifiedPayment, code string, inconclusive bool) *types.SettleResponse {
	return &types.SettleResponse{
		Success:      false,
		ErrorReason:  code,
		Payer:        vp.Payer,
		Network:      vp.Network,
		Inconclusive: inconclusive,
	}
}
