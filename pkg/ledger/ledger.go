// Package ledger defines the balance-holding collaborator the settlement
// engine runs against, plus a reference in-memory implementation with
// optional pebble persistence.
package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrNegativeAmount      = errors.New("ledger: negative amount")
)

// Unlimited is the sentinel allowance meaning "never consumed".
var Unlimited = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// TransferOp is one leg of an atomic transfer set.
type TransferOp struct {
	From   common.Address
	To     common.Address
	Asset  []byte
	Amount *big.Int
}

// TransferError identifies which leg of an atomic set failed. The whole set
// is discarded when any leg fails.
type TransferError struct {
	Index int
	Op    TransferOp
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %d (%s -> %s, %s): %v",
		e.Index, e.Op.From.Hex(), e.Op.To.Hex(), e.Op.Amount, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Ledger is the external collaborator holding balances and executing
// transfers. Implementations must provide per-account serializability for
// the duration of one ExecuteAtomic call.
type Ledger interface {
	// Approve grants spender the right to move up to amount of owner's
	// asset. Pass Unlimited for a non-consuming approval.
	Approve(owner, spender common.Address, asset []byte, amount *big.Int) error
	Allowance(owner, spender common.Address, asset []byte) *big.Int
	BalanceOf(holder common.Address, asset []byte) *big.Int
	Transfer(from, to common.Address, asset []byte, amount *big.Int) error
	// ExecuteAtomic applies the complete sequence or nothing at all.
	ExecuteAtomic(ops []TransferOp) error
}
