package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemLedger is the reference Ledger: per-(asset, holder) balances and
// per-(asset, owner, spender) allowances, serialized by one mutex.
// ExecuteAtomic validates the whole transfer set against a staged view
// before committing, so a failing leg leaves no trace.
type MemLedger struct {
	mu         sync.Mutex
	balances   map[string]map[common.Address]*big.Int
	allowances map[string]map[common.Address]map[common.Address]*big.Int
}

func NewMemLedger() *MemLedger {
	return &MemLedger{
		balances:   make(map[string]map[common.Address]*big.Int),
		allowances: make(map[string]map[common.Address]map[common.Address]*big.Int),
	}
}

func assetKey(asset []byte) string { return string(asset) }

// Mint credits holder with amount of asset out of thin air. Host-side
// funding helper standing in for token deposits (e.g. wrapping ether).
func (l *MemLedger) Mint(holder common.Address, asset []byte, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: mint %s", ErrNegativeAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(holder, asset, amount)
	return nil
}

func (l *MemLedger) credit(holder common.Address, asset []byte, amount *big.Int) {
	key := assetKey(asset)
	if l.balances[key] == nil {
		l.balances[key] = make(map[common.Address]*big.Int)
	}
	cur := l.balances[key][holder]
	if cur == nil {
		cur = new(big.Int)
	}
	l.balances[key][holder] = new(big.Int).Add(cur, amount)
}

// BalanceEntry is one (holder, asset) balance row, used by the persistence
// layer to export and restore ledger state.
type BalanceEntry struct {
	Holder common.Address
	Asset  []byte
	Amount *big.Int
}

// Entries exports every tracked balance row, zeroed ones included: a
// holder who spent their whole balance must overwrite the stale persisted
// row, or a restart resurrects the funds.
func (l *MemLedger) Entries() []BalanceEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []BalanceEntry
	for key, holders := range l.balances {
		for holder, bal := range holders {
			out = append(out, BalanceEntry{
				Holder: holder,
				Asset:  []byte(key),
				Amount: new(big.Int).Set(bal),
			})
		}
	}
	return out
}

func (l *MemLedger) Approve(owner, spender common.Address, asset []byte, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: approve %s", ErrNegativeAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := assetKey(asset)
	if l.allowances[key] == nil {
		l.allowances[key] = make(map[common.Address]map[common.Address]*big.Int)
	}
	if l.allowances[key][owner] == nil {
		l.allowances[key][owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[key][owner][spender] = new(big.Int).Set(amount)
	return nil
}

func (l *MemLedger) Allowance(owner, spender common.Address, asset []byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m := l.allowances[assetKey(asset)]; m != nil {
		if s := m[owner]; s != nil {
			if a := s[spender]; a != nil {
				return new(big.Int).Set(a)
			}
		}
	}
	return new(big.Int)
}

func (l *MemLedger) BalanceOf(holder common.Address, asset []byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(holder, asset)
}

func (l *MemLedger) balanceLocked(holder common.Address, asset []byte) *big.Int {
	if m := l.balances[assetKey(asset)]; m != nil {
		if b := m[holder]; b != nil {
			return new(big.Int).Set(b)
		}
	}
	return new(big.Int)
}

func (l *MemLedger) Transfer(from, to common.Address, asset []byte, amount *big.Int) error {
	return l.ExecuteAtomic([]TransferOp{{From: from, To: to, Asset: asset, Amount: amount}})
}

// ExecuteAtomic applies all ops or none. Each op is validated against the
// running staged balances, so a set may legitimately spend funds received
// earlier in the same set.
func (l *MemLedger) ExecuteAtomic(ops []TransferOp) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	staged := make(map[string]map[common.Address]*big.Int)
	get := func(holder common.Address, asset []byte) *big.Int {
		key := assetKey(asset)
		if staged[key] == nil {
			staged[key] = make(map[common.Address]*big.Int)
		}
		if staged[key][holder] == nil {
			staged[key][holder] = l.balanceLocked(holder, asset)
		}
		return staged[key][holder]
	}

	for i, op := range ops {
		if op.Amount.Sign() < 0 {
			return &TransferError{Index: i, Op: op, Err: ErrNegativeAmount}
		}
		from := get(op.From, op.Asset)
		if from.Cmp(op.Amount) < 0 {
			return &TransferError{Index: i, Op: op, Err: fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, from, op.Amount)}
		}
		from.Sub(from, op.Amount)
		to := get(op.To, op.Asset)
		to.Add(to, op.Amount)
	}

	// Every leg cleared against the staged view; commit.
	for key, holders := range staged {
		if l.balances[key] == nil {
			l.balances[key] = make(map[common.Address]*big.Int)
		}
		for holder, bal := range holders {
			l.balances[key][holder] = bal
		}
	}
	return nil
}
