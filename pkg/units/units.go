// Package units converts human-readable decimal asset quantities to the
// integer base-unit representation used by the ledger and back.
package units

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrPrecision is returned when a decimal quantity carries more fractional
// digits than the asset's base-unit scale can represent. Conversion never
// silently truncates.
var ErrPrecision = errors.New("units: amount exceeds asset precision")

// ToBaseUnits scales amount by 10^decimals and returns the exact integer
// result. The amount must be representable without loss at the given scale.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	shifted := amount.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %s does not fit in %d decimals", ErrPrecision, amount.String(), decimals)
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits is the exact inverse of ToBaseUnits: base units scaled down
// by 10^decimals. The round trip is lossless for any value ToBaseUnits
// accepted.
func FromBaseUnits(baseUnits *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(baseUnits, -int32(decimals))
}
