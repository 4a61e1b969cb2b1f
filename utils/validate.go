package utils

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs struct-tag validation on a decoded request.
func ValidateStruct(v interface{}) error {
	return validate.Struct(v)
}

// ParseBytes32 decodes a 0x-prefixed hex string into exactly 32 bytes.
func ParseBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// ParseSignature decodes a 65-byte ECDSA signature and normalizes the
// recovery byte from the 27/28 convention to 0/1.
func ParseSignature(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(b) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(b))
	}
	if b[64] >= 27 {
		b[64] -= 27
	}
	return b, nil
}

// SplitSignature splits a normalized 65-byte signature into its r, s and v
// components as used by transferWithAuthorization.
func SplitSignature(sig []byte) (v uint8, r [32]byte, s [32]byte, err error) {
	if len(sig) != 65 {
		err = fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
		return
	}
	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])
	v = sig[64]
	if v < 27 {
		v += 27
	}
	return
}
