package exchange

import (
	"fmt"
	"time"
)

// ValidateCrossing checks that a left/right order pair is economically
// matchable: asset data mirrors, both orders are unexpired at now, and both
// maker amounts are nonzero. It runs before signing (to avoid wasting a
// signature on an unmatchable pair) and again immediately before settlement,
// since orders may expire in between.
func ValidateCrossing(left, right *Order, now time.Time) error {
	if !left.MakerAssetData.Equal(right.TakerAssetData) {
		return fmt.Errorf("%w: left maker asset %s != right taker asset %s",
			ErrNonCrossing, left.MakerAssetData, right.TakerAssetData)
	}
	if !left.TakerAssetData.Equal(right.MakerAssetData) {
		return fmt.Errorf("%w: left taker asset %s != right maker asset %s",
			ErrNonCrossing, left.TakerAssetData, right.MakerAssetData)
	}
	if left.Expired(now) {
		return fmt.Errorf("%w: left order expired at %s", ErrExpiredOrder, left.ExpirationTimeSeconds)
	}
	if right.Expired(now) {
		return fmt.Errorf("%w: right order expired at %s", ErrExpiredOrder, right.ExpirationTimeSeconds)
	}
	if left.MakerAssetAmount.Sign() == 0 {
		return fmt.Errorf("%w: left maker amount is zero", ErrNonCrossing)
	}
	if right.MakerAssetAmount.Sign() == 0 {
		return fmt.Errorf("%w: right maker amount is zero", ErrNonCrossing)
	}
	return nil
}
