package server

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// parseAmount converts a decimal string from an API payload into a big
// integer. Amounts are bounded to 256 bits, matching the ledger arithmetic.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s must be set", field)
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s %q is not a valid amount: %w", field, raw, err)
	}
	return value.ToBig(), nil
}

// formatAmount renders a big integer for an API response. Nil values render
// as zero so callers never see null amounts.
func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
