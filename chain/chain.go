// Package chain holds the chain-family adapters. A Provider wraps one RPC
// connection to one network and exposes the two operations the pipeline
// needs from it: on-chain verification checks and settlement.
package chain

import (
	"context"

	"github.com/vitwit/x402-facilitator/registry"
	"github.com/vitwit/x402-facilitator/types"
)

// Provider is a live connection to one network. Implementations are safe for
// concurrent use; settlement serializes only nonce allocation internally.
type Provider interface {
	// Network returns the descriptor this provider was built for.
	Network() *registry.Network

	// SignerAddress returns the facilitator's fee-payer address on this
	// network, in the network's native encoding.
	SignerAddress() string

	// VerifyOnChain runs the stateful preconditions of verification for a
	// payment that already passed every stateless check. A non-empty reason
	// means the payment is invalid for that structured reason; a non-nil
	// error means the check itself could not be performed.
	VerifyOnChain(ctx context.Context, vp *types.VerifiedPayment) (reason string, err error)

	// Settle broadcasts the transfer and waits for confirmation. Payment
	// failures come back inside the response, never as the error; the error
	// is reserved for infrastructure faults.
	Settle(ctx context.Context, vp *types.VerifiedPayment) (*types.SettleResponse, error)

	// Close releases the underlying RPC connection.
	Close()
}
