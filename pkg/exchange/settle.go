package exchange

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/haryshwaran/crossmatch/pkg/ledger"
)

// FeesPaid itemizes the fee debits of one settlement. The matcher acts as
// taker for both legs and pays both taker fees.
type FeesPaid struct {
	LeftMakerFee     *big.Int
	RightMakerFee    *big.Int
	MatcherTakerFees *big.Int
}

// SettlementResult records the amounts one successful match moved. It is
// read-only once produced.
type SettlementResult struct {
	LeftOrderHash  common.Hash
	RightOrderHash common.Hash

	// LeftFillAmount is the left maker asset moved left maker -> right maker;
	// RightFillAmount is the right maker asset moved right maker -> left maker.
	LeftFillAmount  *big.Int
	RightFillAmount *big.Int

	// Spread legs paid to the matcher, denominated in the asset class where
	// each surplus arose. At most one leg is positive for sanely priced
	// pairs, but both are tracked so no surplus is ever lost or
	// double-counted.
	LeftSpreadAmount  *big.Int // in left maker asset
	RightSpreadAmount *big.Int // in right maker asset
	SpreadRecipient   common.Address

	Fees FeesPaid
}

// SettlementEngine computes and applies the atomic fill of one crossed
// order pair against the ledger collaborator. One engine serves one venue:
// orders bound to another exchange address are rejected.
type SettlementEngine struct {
	ledger   ledger.Ledger
	hasher   Hasher
	verifier SignatureVerifier
	venue    common.Address
	feeAsset AssetData

	mu     sync.Mutex
	filled map[common.Hash]bool
}

func NewSettlementEngine(l ledger.Ledger, hasher Hasher, verifier SignatureVerifier, venue common.Address, feeAsset AssetData) *SettlementEngine {
	return &SettlementEngine{
		ledger:   l,
		hasher:   hasher,
		verifier: verifier,
		venue:    venue,
		feeAsset: feeAsset,
		filled:   make(map[common.Hash]bool),
	}
}

// MatchOrders fills both orders atomically and routes any price spread to
// the matcher. The pair is re-validated at entry (time may have passed
// since signing), signatures are verified, allowances are checked, and the
// full transfer set is submitted as one all-or-nothing ledger operation.
func (e *SettlementEngine) MatchOrders(left, right *SignedOrder, matcher common.Address) (*SettlementResult, error) {
	now := time.Now()
	if err := ValidateCrossing(&left.Order, &right.Order, now); err != nil {
		return nil, err
	}
	if left.ExchangeAddress != e.venue {
		return nil, fmt.Errorf("%w: left order bound to venue %s, engine serves %s",
			ErrNonCrossing, left.ExchangeAddress.Hex(), e.venue.Hex())
	}
	if right.ExchangeAddress != e.venue {
		return nil, fmt.Errorf("%w: right order bound to venue %s, engine serves %s",
			ErrNonCrossing, right.ExchangeAddress.Hex(), e.venue.Hex())
	}
	for _, side := range []struct {
		name  string
		order *SignedOrder
	}{{"left", left}, {"right", right}} {
		if t := side.order.Taker; t != (common.Address{}) && t != matcher {
			return nil, fmt.Errorf("%w: %s order restricts taker to %s", ErrNonCrossing, side.name, t.Hex())
		}
		if s := side.order.Sender; s != (common.Address{}) && s != matcher {
			return nil, fmt.Errorf("%w: %s order restricts sender to %s", ErrNonCrossing, side.name, s.Hex())
		}
	}
	if err := VerifySignedOrder(left, e.hasher, e.verifier); err != nil {
		return nil, fmt.Errorf("left order: %w", err)
	}
	if err := VerifySignedOrder(right, e.hasher, e.verifier); err != nil {
		return nil, fmt.Errorf("right order: %w", err)
	}

	leftHash, err := e.hasher.HashOrder(&left.Order)
	if err != nil {
		return nil, fmt.Errorf("hash left order: %w", err)
	}
	rightHash, err := e.hasher.HashOrder(&right.Order)
	if err != nil {
		return nil, fmt.Errorf("hash right order: %w", err)
	}

	// Reserve both digests under one critical section before the ledger is
	// touched: a concurrent submission of the same pair must fail here, not
	// settle a second time while the first is still inside ExecuteAtomic.
	e.mu.Lock()
	if e.filled[leftHash] {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: left order %s", ErrOrderAlreadyFilled, leftHash.Hex())
	}
	if e.filled[rightHash] {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: right order %s", ErrOrderAlreadyFilled, rightHash.Hex())
	}
	e.filled[leftHash] = true
	e.filled[rightHash] = true
	e.mu.Unlock()

	release := func() {
		e.mu.Lock()
		delete(e.filled, leftHash)
		delete(e.filled, rightHash)
		e.mu.Unlock()
	}

	res, ops, err := e.plan(left, right, matcher)
	if err != nil {
		release()
		return nil, err
	}
	res.LeftOrderHash = leftHash
	res.RightOrderHash = rightHash

	if err := e.checkAllowances(left, right, matcher, res); err != nil {
		release()
		return nil, err
	}

	// One compound operation: the ledger applies every leg or none. The
	// reservation is released on failure so the pair can be resubmitted.
	if err := e.ledger.ExecuteAtomic(ops); err != nil {
		release()
		return nil, fmt.Errorf("%w: %v", ErrLedgerTransfer, err)
	}

	return res, nil
}

// plan computes fill amounts, spread, and the ordered transfer set without
// touching the ledger.
//
// Fill amounts are the pairwise minimums: each maker gives no more of its
// asset than the counterparty asked for. A maker whose own ask is fully
// satisfied commits its entire offer, and the surplus beyond the
// counterparty's ask is the spread, paid to the matcher in that asset
// class. A maker whose ask is only partly met keeps its surplus.
func (e *SettlementEngine) plan(left, right *SignedOrder, matcher common.Address) (*SettlementResult, []ledger.TransferOp, error) {
	leftFill := bigMin(left.MakerAssetAmount, right.TakerAssetAmount)
	rightFill := bigMin(right.MakerAssetAmount, left.TakerAssetAmount)

	zero := new(big.Int)
	leftSpread, rightSpread := zero, zero
	if rightFill.Cmp(left.TakerAssetAmount) == 0 {
		s, err := checkedSub(left.MakerAssetAmount, leftFill)
		if err != nil {
			return nil, nil, err
		}
		leftSpread = s
	}
	if leftFill.Cmp(right.TakerAssetAmount) == 0 {
		s, err := checkedSub(right.MakerAssetAmount, rightFill)
		if err != nil {
			return nil, nil, err
		}
		rightSpread = s
	}

	leftAsset := left.MakerAssetData
	rightAsset := right.MakerAssetData

	ops := []ledger.TransferOp{
		{From: left.Maker, To: right.Maker, Asset: leftAsset, Amount: leftFill},
		{From: right.Maker, To: left.Maker, Asset: rightAsset, Amount: rightFill},
	}
	if leftSpread.Sign() > 0 {
		ops = append(ops, ledger.TransferOp{From: left.Maker, To: matcher, Asset: leftAsset, Amount: leftSpread})
	}
	if rightSpread.Sign() > 0 {
		ops = append(ops, ledger.TransferOp{From: right.Maker, To: matcher, Asset: rightAsset, Amount: rightSpread})
	}
	// Full fills only: maker fee pro-ration by fill ratio reduces to the
	// whole fee.
	if left.MakerFee.Sign() > 0 && left.FeeRecipient != (common.Address{}) {
		ops = append(ops, ledger.TransferOp{From: left.Maker, To: left.FeeRecipient, Asset: e.feeAsset, Amount: left.MakerFee})
	}
	if right.MakerFee.Sign() > 0 && right.FeeRecipient != (common.Address{}) {
		ops = append(ops, ledger.TransferOp{From: right.Maker, To: right.FeeRecipient, Asset: e.feeAsset, Amount: right.MakerFee})
	}
	matcherFees := new(big.Int)
	if left.TakerFee.Sign() > 0 && left.FeeRecipient != (common.Address{}) {
		ops = append(ops, ledger.TransferOp{From: matcher, To: left.FeeRecipient, Asset: e.feeAsset, Amount: left.TakerFee})
		matcherFees.Add(matcherFees, left.TakerFee)
	}
	if right.TakerFee.Sign() > 0 && right.FeeRecipient != (common.Address{}) {
		ops = append(ops, ledger.TransferOp{From: matcher, To: right.FeeRecipient, Asset: e.feeAsset, Amount: right.TakerFee})
		matcherFees.Add(matcherFees, right.TakerFee)
	}

	res := &SettlementResult{
		LeftFillAmount:    leftFill,
		RightFillAmount:   rightFill,
		LeftSpreadAmount:  leftSpread,
		RightSpreadAmount: rightSpread,
		SpreadRecipient:   matcher,
		Fees: FeesPaid{
			LeftMakerFee:     new(big.Int).Set(left.MakerFee),
			RightMakerFee:    new(big.Int).Set(right.MakerFee),
			MatcherTakerFees: matcherFees,
		},
	}
	return res, ops, nil
}

// checkAllowances verifies each party pre-approved the venue to move at
// least what settlement will debit, naming the under-approved party.
func (e *SettlementEngine) checkAllowances(left, right *SignedOrder, matcher common.Address, res *SettlementResult) error {
	type debit struct {
		party string
		owner common.Address
		asset AssetData
		need  *big.Int
	}
	required := []debit{
		{"left maker", left.Maker, left.MakerAssetData, new(big.Int).Add(res.LeftFillAmount, res.LeftSpreadAmount)},
		{"right maker", right.Maker, right.MakerAssetData, new(big.Int).Add(res.RightFillAmount, res.RightSpreadAmount)},
	}
	if res.Fees.LeftMakerFee.Sign() > 0 && left.FeeRecipient != (common.Address{}) {
		required = append(required, debit{"left maker", left.Maker, e.feeAsset, res.Fees.LeftMakerFee})
	}
	if res.Fees.RightMakerFee.Sign() > 0 && right.FeeRecipient != (common.Address{}) {
		required = append(required, debit{"right maker", right.Maker, e.feeAsset, res.Fees.RightMakerFee})
	}
	if res.Fees.MatcherTakerFees.Sign() > 0 {
		required = append(required, debit{"matcher", matcher, e.feeAsset, res.Fees.MatcherTakerFees})
	}

	// Fold duplicate (owner, asset) debits so a fee denominated in the
	// maker asset is checked against one combined requirement.
	type key struct {
		owner common.Address
		asset string
	}
	totals := make(map[key]*debit)
	var order []key
	for i := range required {
		d := required[i]
		k := key{d.owner, string(d.asset)}
		if prev, ok := totals[k]; ok {
			prev.need = new(big.Int).Add(prev.need, d.need)
			continue
		}
		cp := d
		totals[k] = &cp
		order = append(order, k)
	}

	for _, k := range order {
		d := totals[k]
		granted := e.ledger.Allowance(d.owner, e.venue, d.asset)
		if granted.Cmp(d.need) < 0 {
			return fmt.Errorf("%w: %s (%s) approved %s of asset %s, settlement needs %s",
				ErrAllowance, d.party, d.owner.Hex(), granted, d.asset, d.need)
		}
	}
	return nil
}

func bigMin(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// checkedSub subtracts b from a, treating underflow as a logic error. The
// min formulation above makes underflow unreachable; this is a loud guard,
// not a normal-path branch.
func checkedSub(a, b *big.Int) (*big.Int, error) {
	if a.Cmp(b) < 0 {
		return nil, fmt.Errorf("%w: %s - %s underflows", ErrArithmeticInvariant, a, b)
	}
	return new(big.Int).Sub(a, b), nil
}
