// Package facilitator verifies and settles x402 payments across multiple
// blockchain networks. It wires protocol normalization, the verification
// pipeline, and settlement over a shared per-network provider cache.
package facilitator

import (
	"context"
	"fmt"
	"time"

	"github.com/vitwit/x402-facilitator/chain"
	"github.com/vitwit/x402-facilitator/compliance"
	"github.com/vitwit/x402-facilitator/config"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/protocol"
	"github.com/vitwit/x402-facilitator/providers"
	"github.com/vitwit/x402-facilitator/registry"
	"github.com/vitwit/x402-facilitator/settlement"
	"github.com/vitwit/x402-facilitator/types"
	"github.com/vitwit/x402-facilitator/verification"
)

// Facilitator is the top-level entry point.
type Facilitator struct {
	reg        *registry.Registry
	cache      *providers.Cache
	normalizer *protocol.Normalizer
	verifier   *verification.Verifier
	executor   *settlement.Executor
	gate       compliance.Gate
	log        logger.Logger
	rec        metrics.Recorder
	timeout    time.Duration
}

// New builds a facilitator from configuration. Providers dial lazily, so a
// network with a bad endpoint degrades on first use instead of failing
// startup.
func New(cfg *config.Config, opts ...Option) (*Facilitator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	f := &Facilitator{
		reg:     registry.Default(),
		log:     logger.NoopLogger{},
		rec:     metrics.NoopRecorder{},
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}

	f.normalizer = protocol.NewNormalizer(f.reg)
	f.gate = compliance.NewGate(cfg.BlocklistPath, f.log)
	f.cache = providers.NewCache(cfg.EnabledNetworks(f.reg), providerBuilder(cfg, f.log), f.log)
	f.verifier = verification.New(f.reg, f.cache, f.gate, f.log)
	f.executor = settlement.New(f.cache, cfg.EnableEscrow, f.log, f.rec)
	return f, nil
}

// providerBuilder maps a network descriptor to its chain-family adapter.
func providerBuilder(cfg *config.Config, log logger.Logger) providers.Builder {
	return func(ctx context.Context, net *registry.Network) (chain.Provider, error) {
		rpcURL := cfg.RPCURLs[net.Name]
		switch net.Family {
		case types.FamilyEVM:
			key := cfg.SignerKey(net)
			if key == "" {
				return nil, types.NewConfigError(fmt.Sprintf("no signer key for %s", net.Name), nil)
			}
			return chain.NewEVMProvider(ctx, net, rpcURL, key, log)
		case types.FamilySolana:
			return chain.NewSolanaProvider(net, rpcURL, cfg.SignerKey(net), log)
		default:
			return nil, types.NewConfigError(
				fmt.Sprintf("network family %s has no settlement adapter", net.Family), nil)
		}
	}
}

// Verify checks a payment without settling it.
func (f *Facilitator) Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	started := time.Now()

	_, resp, err := f.verifier.Verify(ctx, req)
	if err != nil {
		return nil, err
	}

	outcome := "valid"
	if !resp.IsValid {
		outcome = "invalid"
	}
	f.rec.IncCounter("verify_"+outcome, map[string]string{"network": req.PaymentRequirements.Network})
	f.rec.ObserveLatency("verify", time.Since(started), map[string]string{"network": req.PaymentRequirements.Network})
	return resp, nil
}

// Settle verifies and settles a payment in one call. Settlement always
// re-verifies; it never trusts a prior verify call.
func (f *Facilitator) Settle(ctx context.Context, req *types.SettleRequest) (*types.SettleResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	vp, verdict, err := f.verifier.Verify(ctx, req)
	if err != nil {
		return nil, err
	}
	if vp == nil {
		f.rec.IncCounter("settle_declined", map[string]string{"network": req.PaymentRequirements.Network})
		return &types.SettleResponse{
			Success:     false,
			ErrorReason: verdict.InvalidReason,
			Payer:       verdict.Payer,
			Network:     req.PaymentRequirements.Network,
		}, nil
	}
	return f.executor.Settle(ctx, vp)
}

// Supported enumerates every payment kind the enabled networks accept. Kinds
// whose provider is already live advertise the fee-payer address.
func (f *Facilitator) Supported() *types.SupportedResponse {
	resp := protocol.SupportedKinds(f.cache.Networks())
	for i := range resp.Kinds {
		net, err := f.reg.Resolve(resp.Kinds[i].Network)
		if err != nil {
			continue
		}
		if p, ok := f.cache.Peek(net.Name); ok {
			if addr := p.SignerAddress(); addr != "" {
				resp.Kinds[i].Extra = map[string]interface{}{"feePayer": addr}
			}
		}
	}
	return resp
}

// Normalizer exposes the wire codec, for transports.
func (f *Facilitator) Normalizer() *protocol.Normalizer { return f.normalizer }

// Gate exposes the compliance gate, for health reporting.
func (f *Facilitator) Gate() compliance.Gate { return f.gate }

// Close shuts down all network providers.
func (f *Facilitator) Close() { f.cache.Close() }
