package exchange

import "errors"

// Error kinds for the matching and settlement pipeline. Callers classify
// with errors.Is; detail (which invariant, which party, which leg) is
// carried in the wrapping message.
var (
	// ErrInvalidAmount rejects zero or negative order amounts at
	// construction, before any signing is attempted.
	ErrInvalidAmount = errors.New("exchange: non-positive order amount")

	// ErrNonCrossing rejects a left/right pair that is not economically
	// matchable (asset data does not mirror, zero maker amounts).
	ErrNonCrossing = errors.New("exchange: orders do not cross")

	// ErrExpiredOrder rejects an order whose expiration time has passed.
	ErrExpiredOrder = errors.New("exchange: order expired")

	// ErrAllowance rejects settlement when a party has not approved the
	// exchange to move enough of the required asset.
	ErrAllowance = errors.New("exchange: insufficient allowance")

	// ErrArithmeticInvariant indicates an unsigned underflow in fill
	// computation. It signals a logic bug, never a normal-path condition.
	ErrArithmeticInvariant = errors.New("exchange: arithmetic invariant violated")

	// ErrSigning wraps a failure of the signing collaborator.
	ErrSigning = errors.New("exchange: order signing failed")

	// ErrInvalidSignature rejects a signed order whose signature does not
	// recover to the order's maker.
	ErrInvalidSignature = errors.New("exchange: signature does not match maker")

	// ErrOrderAlreadyFilled rejects re-settlement of an order the engine
	// has already applied for its full amount.
	ErrOrderAlreadyFilled = errors.New("exchange: order already fully filled")

	// ErrLedgerTransfer wraps a failure of the ledger collaborator while
	// applying the atomic transfer set. The wrapping message identifies
	// the failing leg; no partial state is applied.
	ErrLedgerTransfer = errors.New("exchange: ledger transfer failed")
)
