// Package utils provides parsing and formatting helpers shared by the
// verification and settlement pipeline.
package utils

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a base-unit amount string into a big integer. Amounts
// are arbitrary precision and never negative; anything else is rejected
// rather than coerced.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("amount cannot be negative: %q", s)
	}
	return n, nil
}

// ParseTimestamp parses a decimal unix timestamp string. Values that do not
// fit an int64 are rejected, not wrapped.
func ParseTimestamp(s string) (int64, error) {
	n, err := ParseAmount(s)
	if err != nil {
		return 0, err
	}
	if !n.IsInt64() {
		return 0, fmt.Errorf("timestamp %q out of range", s)
	}
	return n.Int64(), nil
}

// FormatUnits renders a base-unit amount in display units for logs and
// metrics. Settlement arithmetic never uses this; it is presentation only.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
