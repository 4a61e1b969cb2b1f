// Package protocol normalizes the two wire encodings into the canonical
// internal request and renders responses in the version the request used.
// Version 1 carries legacy network names and flat requirements; version 2
// carries CAIP-2 identifiers and nests the accepted requirements inside the
// payment payload.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/vitwit/x402-facilitator/registry"
	"github.com/vitwit/x402-facilitator/types"
)

// Normalizer decodes wire requests against a network registry.
type Normalizer struct {
	reg *registry.Registry
}

func NewNormalizer(reg *registry.Registry) *Normalizer {
	return &Normalizer{reg: reg}
}

type wirePayload struct {
	X402Version int                        `json:"x402Version"`
	Scheme      string                     `json:"scheme"`
	Network     string                     `json:"network"`
	Payload     json.RawMessage            `json:"payload"`
	Extensions  map[string]json.RawMessage `json:"extensions"`

	// v2 nests the accepted requirements and resource metadata here.
	Resource *wireResource     `json:"resource"`
	Accepted *wireRequirements `json:"accepted"`
}

type wireResource struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

type wireRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	Resource          string                 `json:"resource"`
	Description       string                 `json:"description"`
	MimeType          string                 `json:"mimeType"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra"`
}

type wireRequest struct {
	X402Version         int               `json:"x402Version"`
	PaymentPayload      *wirePayload      `json:"paymentPayload"`
	PaymentRequirements *wireRequirements `json:"paymentRequirements"`
}

// DetectVersion classifies a raw request body. Only explicit markers select
// v2: a version tag of 2 or the nested accepted requirements. A CAIP-2
// network string alone is not an upgrade; anything ambiguous stays v1 so
// legacy clients keep working.
func (n *Normalizer) DetectVersion(raw []byte) types.X402Version {
	var req wireRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return types.X402Version1
	}
	if req.X402Version == 2 {
		return types.X402Version2
	}
	if req.PaymentPayload != nil {
		if req.PaymentPayload.X402Version == 2 || req.PaymentPayload.Accepted != nil {
			return types.X402Version2
		}
	}
	return types.X402Version1
}

// DecodeRequest parses either encoding into the canonical request shape.
// Network identifiers are rewritten to canonical legacy names when the
// registry knows them; unknown identifiers pass through untouched so the
// verifier can decline them with a structured reason.
func (n *Normalizer) DecodeRequest(raw []byte) (*types.VerifyRequest, error) {
	version := n.DetectVersion(raw)

	var req wireRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("malformed request body: %w", err)
	}
	if req.PaymentPayload == nil {
		return nil, fmt.Errorf("paymentPayload is required")
	}

	requirements := req.PaymentRequirements
	if version == types.X402Version2 && req.PaymentPayload.Accepted != nil {
		requirements = req.PaymentPayload.Accepted
	}
	if requirements == nil {
		return nil, fmt.Errorf("paymentRequirements is required")
	}

	out := &types.VerifyRequest{
		Version: version,
		PaymentPayload: types.PaymentPayload{
			X402Version: version,
			Scheme:      req.PaymentPayload.Scheme,
			Network:     n.canonicalNetwork(req.PaymentPayload.Network),
			Extensions:  req.PaymentPayload.Extensions,
		},
		PaymentRequirements: n.convertRequirements(requirements, req.PaymentPayload.Resource),
	}
	if out.PaymentPayload.Scheme == "" {
		out.PaymentPayload.Scheme = out.PaymentRequirements.Scheme
	}
	if out.PaymentPayload.Network == "" {
		out.PaymentPayload.Network = out.PaymentRequirements.Network
	}

	if err := decodeFamilyPayload(req.PaymentPayload.Payload, &out.PaymentPayload); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeFamilyPayload decides the payload family by shape: an EVM payload
// carries an authorization, a Solana payload a transaction.
func decodeFamilyPayload(raw json.RawMessage, out *types.PaymentPayload) error {
	if len(raw) == 0 {
		return fmt.Errorf("payment payload body is required")
	}
	var probe struct {
		Authorization *json.RawMessage `json:"authorization"`
		Transaction   string           `json:"transaction"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("malformed payment payload: %w", err)
	}
	switch {
	case probe.Authorization != nil:
		var evm types.EVMPayload
		if err := json.Unmarshal(raw, &evm); err != nil {
			return fmt.Errorf("malformed evm payload: %w", err)
		}
		out.EVM = &evm
	case probe.Transaction != "":
		out.Solana = &types.SolanaPayload{Transaction: probe.Transaction}
	default:
		return fmt.Errorf("payment payload carries neither an authorization nor a transaction")
	}
	return nil
}

func (n *Normalizer) convertRequirements(w *wireRequirements, resource *wireResource) types.PaymentRequirements {
	amount := w.MaxAmountRequired
	if amount == "" {
		amount = w.Amount
	}
	out := types.PaymentRequirements{
		Scheme:            w.Scheme,
		Network:           n.canonicalNetwork(w.Network),
		MaxAmountRequired: amount,
		Resource:          w.Resource,
		Description:       w.Description,
		MimeType:          w.MimeType,
		PayTo:             w.PayTo,
		MaxTimeoutSeconds: w.MaxTimeoutSeconds,
		Asset:             w.Asset,
		Extra:             w.Extra,
	}
	if resource != nil {
		if out.Resource == "" {
			out.Resource = resource.URL
		}
		if out.Description == "" {
			out.Description = resource.Description
		}
		if out.MimeType == "" {
			out.MimeType = resource.MimeType
		}
	}
	return out
}

func (n *Normalizer) canonicalNetwork(identifier string) string {
	if identifier == "" {
		return identifier
	}
	if net, err := n.reg.Resolve(identifier); err == nil {
		return net.Name
	}
	return identifier
}

// EncodeSettleResponse renders a settle response for the wire, translating
// the network identifier back into the request's encoding.
func (n *Normalizer) EncodeSettleResponse(resp *types.SettleResponse, version types.X402Version) *types.SettleResponse {
	out := *resp
	if version == types.X402Version2 && out.Network != "" {
		if net, err := n.reg.Resolve(out.Network); err == nil {
			out.Network = net.CAIP2.String()
		}
	}
	return &out
}

// SupportedKinds enumerates every (version, scheme, network) tuple the
// given networks accept, in both encodings.
func SupportedKinds(nets []*registry.Network) *types.SupportedResponse {
	kinds := make([]types.SupportedKind, 0, 2*len(nets))
	for _, net := range nets {
		kinds = append(kinds, types.SupportedKind{
			X402Version: types.X402Version1,
			Scheme:      string(types.SchemeExact),
			Network:     net.Name,
		})
		kinds = append(kinds, types.SupportedKind{
			X402Version: types.X402Version2,
			Scheme:      string(types.SchemeExact),
			Network:     net.CAIP2.String(),
		})
	}
	return &types.SupportedResponse{Kinds: kinds}
}
