package types

import "fmt"

// Invalid-reason codes returned by verification. These are structured
// decline reasons, not errors: verification failures are data.
const (
	ReasonUnsupportedNetwork   = "unsupported_network"
	ReasonUnsupportedScheme    = "unsupported_scheme"
	ReasonRequirementsMismatch = "requirements_mismatch"
	ReasonInsufficientValue    = "insufficient_value"
	ReasonInsufficientFunds    = "insufficient_funds"
	ReasonExpired              = "authorization_expired"
	ReasonNotYetValid          = "authorization_not_yet_valid"
	ReasonInvalidSignature     = "invalid_signature"
	ReasonBlockedAddress       = "blocked_address"
	ReasonInvalidPayload       = "invalid_payload"
	ReasonNonceAlreadyUsed     = "nonce_already_used"
)

// Settlement error codes. Conclusive codes mean the same authorization must
// not be retried; inconclusive codes mean the transfer may still land.
const (
	ErrCodeConfigError         = "configuration_error"
	ErrCodeUnsupportedNetwork  = "unsupported_network"
	ErrCodeBroadcastFailed     = "broadcast_failed"
	ErrCodeReverted            = "transaction_reverted"
	ErrCodeConfirmationTimeout = "confirmation_timeout"
	ErrCodeNonceCoordination   = "nonce_coordination_error"
	ErrCodeEscrowMismatch      = "escrow_proxy_mismatch"
)

// FacilitatorError is a structured error carried across package boundaries.
// Responses derive their public reason from Code; Message stays internal.
type FacilitatorError struct {
	Code    string
	Message string
	// Conclusive reports whether retrying the same authorization is known
	// to be futile (chain rejected it, or its replay nonce is consumed).
	Conclusive bool
	Err        error
}

func (e *FacilitatorError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FacilitatorError) Unwrap() error { return e.Err }

// NewConfigError reports a fatal, single-network configuration failure.
func NewConfigError(msg string, err error) *FacilitatorError {
	return &FacilitatorError{Code: ErrCodeConfigError, Message: msg, Conclusive: true, Err: err}
}

// NewConclusive reports a settlement failure that must not be retried with
// the same authorization.
func NewConclusive(code, msg string, err error) *FacilitatorError {
	return &FacilitatorError{Code: code, Message: msg, Conclusive: true, Err: err}
}

// NewInconclusive reports a settlement failure whose on-chain outcome is
// unknown; the transfer may still land.
func NewInconclusive(code, msg string, err error) *FacilitatorError {
	return &FacilitatorError{Code: code, Message: msg, Err: err}
}
