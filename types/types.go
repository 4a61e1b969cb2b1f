// Package types defines the wire and domain types shared across the
// facilitator: payment requirements, authorization payloads, verify/settle
// requests and responses, and the error taxonomy.
package types

import (
	"encoding/json"
	"fmt"
)

// X402Version identifies the protocol encoding a request uses.
type X402Version int

const (
	// X402Version1 uses legacy network names and flat payment requirements.
	X402Version1 X402Version = 1
	// X402Version2 uses CAIP-2 network identifiers and splits resource
	// metadata from payment requirements.
	X402Version2 X402Version = 2
)

// PaymentScheme represents supported payment schemes.
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
)

// ChainFamily classifies a network into a blockchain family. The set is
// closed: every supported network maps to exactly one family.
type ChainFamily string

const (
	FamilyEVM     ChainFamily = "evm"
	FamilySolana  ChainFamily = "solana"
	FamilyNear    ChainFamily = "near"
	FamilyStellar ChainFamily = "stellar"
)

// PaymentRequirements defines what a resource server accepts as payment.
// Network is always the canonical legacy name here; the protocol package
// converts CAIP-2 identifiers before requests reach the pipeline.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use (e.g., "exact").
	Scheme string `json:"scheme" validate:"required"`

	// Network of the blockchain to send payment on.
	Network string `json:"network" validate:"required"`

	// Amount required to pay for the resource in atomic units of the asset.
	// Represented as a decimal string because Go has no uint256.
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required"`

	// URL of the resource to pay for.
	Resource string `json:"resource,omitempty"`

	// Description of the resource being purchased.
	Description string `json:"description,omitempty"`

	// MIME type of the resource response.
	MimeType string `json:"mimeType,omitempty"`

	// Address to which the payment must be sent.
	PayTo string `json:"payTo" validate:"required"`

	// Maximum time in seconds for the resource server to respond.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Address of the asset contract (EIP-3009 token on EVM, mint on Solana).
	Asset string `json:"asset" validate:"required"`

	// Extra carries scheme-specific data, e.g. the EIP-712 domain name and
	// version of the asset when it differs from the registry default.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// EVMAuthorization is an EIP-3009 transfer authorization signed by the payer.
type EVMAuthorization struct {
	From        string `json:"from" validate:"required"`
	To          string `json:"to" validate:"required"`
	Value       string `json:"value" validate:"required"` // uint256 decimal string
	ValidAfter  string `json:"validAfter" validate:"required"`
	ValidBefore string `json:"validBefore" validate:"required"`
	Nonce       string `json:"nonce" validate:"required"` // 0x-prefixed bytes32
}

// EVMPayload carries an EVM authorization together with its 65-byte signature.
type EVMPayload struct {
	Signature     string           `json:"signature" validate:"required"`
	Authorization EVMAuthorization `json:"authorization" validate:"required"`
}

// SolanaPayload carries a base64-encoded, partially signed Solana transaction.
type SolanaPayload struct {
	Transaction string `json:"transaction" validate:"required"`
}

// PaymentPayload is the chain-tagged payment authorization submitted by the
// client. Exactly one of the family payloads is set.
type PaymentPayload struct {
	X402Version X402Version `json:"x402Version"`
	Scheme      string      `json:"scheme"`
	Network     string      `json:"network"`

	// Both families share the "payload" wire key; MarshalJSON picks the one
	// that is set.
	EVM    *EVMPayload    `json:"payload,omitempty"`
	Solana *SolanaPayload `json:"-"`

	// Extensions holds optional protocol extensions keyed by name, e.g.
	// "refund" for proxy settlement. Decoded lazily by the feature that
	// consumes them.
	Extensions map[string]json.RawMessage `json:"extensions,omitempty"`
}

// MarshalJSON emits the active family payload under the shared "payload"
// key, so a normalized Solana request re-marshals the same way an EVM one
// does.
func (p PaymentPayload) MarshalJSON() ([]byte, error) {
	type alias PaymentPayload
	out := struct {
		alias
		Payload interface{} `json:"payload,omitempty"`
	}{alias: alias(p)}
	switch {
	case p.EVM != nil:
		out.Payload = p.EVM
	case p.Solana != nil:
		out.Payload = p.Solana
	}
	return json.Marshal(out)
}

// VerifyRequest is the canonical internal request shape produced by the
// protocol normalizer and consumed by the verification and settlement
// pipeline. Version records the inbound encoding so responses can be
// rendered in the same version.
type VerifyRequest struct {
	Version             X402Version         `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest shares the shape of VerifyRequest; settlement re-validates
// everything rather than trusting a prior verify call.
type SettleRequest = VerifyRequest

// VerifyResponse is the result of payment verification.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the result of payment settlement.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Payer       string `json:"payer,omitempty"`
	// Transaction is the settlement identifier (transaction hash or
	// signature) once the transfer has been broadcast.
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	// Inconclusive marks outcomes where the transfer may still land on
	// chain (confirmation timed out). Callers must not treat these as
	// conclusive failures.
	Inconclusive bool `json:"inconclusive,omitempty"`
}

// VerifiedPayment is the product of a successful verification, produced once
// and consumed once by settlement within the same call. It carries the
// resolved network so settlement never re-derives it from raw input.
type VerifiedPayment struct {
	Requirements PaymentRequirements
	Payload      PaymentPayload
	Network      string // canonical legacy network name
	Family       ChainFamily
	Payer        string
}

// SupportedKind describes one (version, scheme, network) tuple the
// facilitator accepts.
type SupportedKind struct {
	X402Version X402Version            `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse enumerates every supported kind in every supported
// request encoding.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// Validate checks that a VerifyRequest carries the fields the pipeline needs.
func (v *VerifyRequest) Validate() error {
	if v.Version != X402Version1 && v.Version != X402Version2 {
		return fmt.Errorf("unsupported x402Version %d", v.Version)
	}
	if v.PaymentPayload.EVM == nil && v.PaymentPayload.Solana == nil {
		return fmt.Errorf("payment payload is required")
	}
	return v.PaymentRequirements.Validate()
}

// Validate checks that PaymentRequirements contains all required fields.
func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("paymentRequirements.scheme is required")
	}
	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}
	if pr.MaxAmountRequired == "" {
		return fmt.Errorf("paymentRequirements.maxAmountRequired is required")
	}
	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}
	if pr.Asset == "" {
		return fmt.Errorf("paymentRequirements.asset is required")
	}
	return nil
}

// EIP712Name returns the asset's EIP-712 domain name override from Extra,
// if the resource server supplied one.
func (pr *PaymentRequirements) EIP712Name() (string, bool) {
	v, ok := pr.Extra["name"].(string)
	return v, ok && v != ""
}

// EIP712Version returns the asset's EIP-712 domain version override from
// Extra, if supplied.
func (pr *PaymentRequirements) EIP712Version() (string, bool) {
	v, ok := pr.Extra["version"].(string)
	return v, ok && v != ""
}
