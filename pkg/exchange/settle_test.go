package exchange_test

import (
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	xcrypto "github.com/haryshwaran/crossmatch/pkg/crypto"
	"github.com/haryshwaran/crossmatch/pkg/exchange"
	"github.com/haryshwaran/crossmatch/pkg/ledger"
	"github.com/haryshwaran/crossmatch/pkg/report"
	"github.com/haryshwaran/crossmatch/pkg/units"
)

var (
	venue     = common.HexToAddress("0x48bacb9266a570d521063ef5dd96e61686dbe788")
	zrxToken  = common.HexToAddress("0x0077d78e52ba96a0ac48c6d918a68acfe78590af")
	wethToken = common.HexToAddress("0x5e800494b71b164ed7ea38c80e943792a1a2820d")
)

type fixture struct {
	t       *testing.T
	ledger  *ledger.MemLedger
	hasher  *xcrypto.OrderHasher
	engine  *exchange.SettlementEngine
	builder *exchange.OrderBuilder

	leftMaker  *xcrypto.Signer
	rightMaker *xcrypto.Signer
	matcher    *xcrypto.Signer

	zrx  exchange.AssetData // base asset, also the fee asset
	weth exchange.AssetData // quote asset
}

func newFixture(t *testing.T, makerFee, takerFee *big.Int, feeRecipient common.Address) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ledger: ledger.NewMemLedger(),
		hasher: xcrypto.NewOrderHasher(big.NewInt(50)),
		zrx:    exchange.EncodeERC20AssetData(zrxToken),
		weth:   exchange.EncodeERC20AssetData(wethToken),
	}
	var err error
	if f.leftMaker, err = xcrypto.GenerateKey(); err != nil {
		t.Fatalf("generate left maker key: %v", err)
	}
	if f.rightMaker, err = xcrypto.GenerateKey(); err != nil {
		t.Fatalf("generate right maker key: %v", err)
	}
	if f.matcher, err = xcrypto.GenerateKey(); err != nil {
		t.Fatalf("generate matcher key: %v", err)
	}

	f.engine = exchange.NewSettlementEngine(f.ledger, f.hasher, xcrypto.Verifier{}, venue, f.zrx)
	f.builder = exchange.NewOrderBuilder(exchange.BuilderConfig{
		ExchangeAddress: venue,
		BaseAsset:       f.zrx,
		QuoteAsset:      f.weth,
		BaseDecimals:    18,
		QuoteDecimals:   18,
		FeeRecipient:    feeRecipient,
		MakerFee:        makerFee,
		TakerFee:        takerFee,
	})

	ten := wei(t, "10")
	for _, holder := range []common.Address{f.leftMaker.Address(), f.rightMaker.Address(), f.matcher.Address()} {
		for _, asset := range []exchange.AssetData{f.zrx, f.weth} {
			if err := f.ledger.Mint(holder, asset, ten); err != nil {
				t.Fatalf("mint: %v", err)
			}
			if err := f.ledger.Approve(holder, venue, asset, ledger.Unlimited); err != nil {
				t.Fatalf("approve: %v", err)
			}
		}
	}
	return f
}

func wei(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := units.ToBaseUnits(decimal.RequireFromString(s), 18)
	if err != nil {
		t.Fatalf("ToBaseUnits(%s): %v", s, err)
	}
	return v
}

func (f *fixture) signedOrder(dir exchange.Direction, base, quote string, maker *xcrypto.Signer) *exchange.SignedOrder {
	f.t.Helper()
	intent, err := exchange.NewTradeIntent(dir, decimal.RequireFromString(base), decimal.RequireFromString(quote))
	if err != nil {
		f.t.Fatalf("NewTradeIntent: %v", err)
	}
	salt, err := exchange.GenerateSalt()
	if err != nil {
		f.t.Fatalf("GenerateSalt: %v", err)
	}
	now := time.Now()
	order, err := f.builder.Build(intent, maker.Address(), exchange.FutureExpiration(now, time.Hour), salt)
	if err != nil {
		f.t.Fatalf("Build: %v", err)
	}
	signed, err := exchange.SignOrder(order, f.hasher, maker, now)
	if err != nil {
		f.t.Fatalf("SignOrder: %v", err)
	}
	return signed
}

func (f *fixture) parties() []common.Address {
	return []common.Address{f.leftMaker.Address(), f.rightMaker.Address(), f.matcher.Address()}
}

func (f *fixture) snapshot(extra ...common.Address) report.Snapshot {
	return report.Take(f.ledger, append(f.parties(), extra...), [][]byte{f.zrx, f.weth})
}

func (f *fixture) assertDelta(deltas map[report.Key]*big.Int, holder common.Address, asset exchange.AssetData, want *big.Int) {
	f.t.Helper()
	got := deltas[report.Key{Holder: holder, Asset: string(asset)}]
	if got == nil {
		got = new(big.Int)
	}
	if got.Cmp(want) != 0 {
		f.t.Errorf("delta for %s / %s = %s, want %s", holder.Hex(), asset, got, want)
	}
}

func assertConservation(t *testing.T, deltas map[report.Key]*big.Int) {
	t.Helper()
	for asset, total := range report.AssetTotals(deltas) {
		if total.Sign() != 0 {
			t.Errorf("asset %x not conserved: net delta %s", asset, total)
		}
	}
}

// Left buys 0.2 ZRX offering 0.082 WETH; right sells 0.82 ZRX asking only
// 0.05 WETH. Both asks are fully satisfiable, so each maker commits its
// whole offer and the matcher keeps the surplus on both legs.
func TestMatchOrdersSpread(t *testing.T) {
	f := newFixture(t, nil, nil, common.Address{})
	left := f.signedOrder(exchange.Buy, "0.2", "0.082", f.leftMaker)
	right := f.signedOrder(exchange.Sell, "0.82", "0.05", f.rightMaker)

	before := f.snapshot()
	res, err := f.engine.MatchOrders(left, right, f.matcher.Address())
	if err != nil {
		t.Fatalf("MatchOrders: %v", err)
	}
	deltas := report.Diff(before, f.snapshot())

	if res.LeftFillAmount.Cmp(wei(t, "0.05")) != 0 {
		t.Errorf("left fill = %s, want 0.05 WETH", res.LeftFillAmount)
	}
	if res.RightFillAmount.Cmp(wei(t, "0.2")) != 0 {
		t.Errorf("right fill = %s, want 0.2 ZRX", res.RightFillAmount)
	}
	if res.LeftSpreadAmount.Cmp(wei(t, "0.032")) != 0 {
		t.Errorf("left spread = %s, want 0.032 WETH", res.LeftSpreadAmount)
	}
	if res.RightSpreadAmount.Cmp(wei(t, "0.62")) != 0 {
		t.Errorf("right spread = %s, want 0.62 ZRX", res.RightSpreadAmount)
	}
	if res.SpreadRecipient != f.matcher.Address() {
		t.Errorf("spread recipient = %s, want matcher", res.SpreadRecipient.Hex())
	}

	// Left maker: pays full 0.082 WETH, receives the 0.2 ZRX it asked for.
	f.assertDelta(deltas, f.leftMaker.Address(), f.weth, new(big.Int).Neg(wei(t, "0.082")))
	f.assertDelta(deltas, f.leftMaker.Address(), f.zrx, wei(t, "0.2"))
	// Right maker: pays full 0.82 ZRX, receives the 0.05 WETH it asked for.
	f.assertDelta(deltas, f.rightMaker.Address(), f.zrx, new(big.Int).Neg(wei(t, "0.82")))
	f.assertDelta(deltas, f.rightMaker.Address(), f.weth, wei(t, "0.05"))
	// Matcher keeps both surpluses.
	f.assertDelta(deltas, f.matcher.Address(), f.weth, wei(t, "0.032"))
	f.assertDelta(deltas, f.matcher.Address(), f.zrx, wei(t, "0.62"))

	assertConservation(t, deltas)
}

// Left buys 0.2 ZRX for 0.05 WETH; right sells only 0.05 ZRX for 0.2 WETH.
// Neither ask is fully met, so fills are the pairwise minimums and no
// spread accrues.
func TestMatchOrdersNoSpread(t *testing.T) {
	f := newFixture(t, nil, nil, common.Address{})
	left := f.signedOrder(exchange.Buy, "0.2", "0.05", f.leftMaker)
	right := f.signedOrder(exchange.Sell, "0.05", "0.2", f.rightMaker)

	before := f.snapshot()
	res, err := f.engine.MatchOrders(left, right, f.matcher.Address())
	if err != nil {
		t.Fatalf("MatchOrders: %v", err)
	}
	deltas := report.Diff(before, f.snapshot())

	if res.LeftFillAmount.Cmp(wei(t, "0.05")) != 0 {
		t.Errorf("left fill = %s, want 0.05 WETH", res.LeftFillAmount)
	}
	if res.RightFillAmount.Cmp(wei(t, "0.05")) != 0 {
		t.Errorf("right fill = %s, want 0.05 ZRX", res.RightFillAmount)
	}
	if res.LeftSpreadAmount.Sign() != 0 || res.RightSpreadAmount.Sign() != 0 {
		t.Errorf("spread = %s / %s, want zero on both legs", res.LeftSpreadAmount, res.RightSpreadAmount)
	}
	f.assertDelta(deltas, f.matcher.Address(), f.zrx, new(big.Int))
	f.assertDelta(deltas, f.matcher.Address(), f.weth, new(big.Int))
	assertConservation(t, deltas)
}

func TestMatchOrdersFees(t *testing.T) {
	feeRecipient := common.HexToAddress("0xfee0000000000000000000000000000000000fee")
	makerFee := wei(t, "0.001")
	takerFee := wei(t, "0.002")
	f := newFixture(t, makerFee, takerFee, feeRecipient)

	left := f.signedOrder(exchange.Buy, "0.2", "0.082", f.leftMaker)
	right := f.signedOrder(exchange.Sell, "0.82", "0.05", f.rightMaker)

	before := f.snapshot(feeRecipient)
	res, err := f.engine.MatchOrders(left, right, f.matcher.Address())
	if err != nil {
		t.Fatalf("MatchOrders: %v", err)
	}
	after := report.Take(f.ledger, append(f.parties(), feeRecipient), [][]byte{f.zrx, f.weth})
	deltas := report.Diff(before, after)

	// Recipient collects both maker fees and both matcher-paid taker fees.
	totalFees := new(big.Int).Add(new(big.Int).Mul(makerFee, big.NewInt(2)), new(big.Int).Mul(takerFee, big.NewInt(2)))
	f.assertDelta(deltas, feeRecipient, f.zrx, totalFees)

	wantMatcherFees := new(big.Int).Mul(takerFee, big.NewInt(2))
	if res.Fees.MatcherTakerFees.Cmp(wantMatcherFees) != 0 {
		t.Errorf("matcher taker fees = %s, want %s", res.Fees.MatcherTakerFees, wantMatcherFees)
	}
	// Matcher nets right-leg spread minus both taker fees on the ZRX leg.
	wantMatcherZRX := new(big.Int).Sub(wei(t, "0.62"), wantMatcherFees)
	f.assertDelta(deltas, f.matcher.Address(), f.zrx, wantMatcherZRX)

	assertConservation(t, deltas)
}

func TestMatchOrdersDoubleFill(t *testing.T) {
	f := newFixture(t, nil, nil, common.Address{})
	left := f.signedOrder(exchange.Buy, "0.2", "0.082", f.leftMaker)
	right := f.signedOrder(exchange.Sell, "0.82", "0.05", f.rightMaker)

	if _, err := f.engine.MatchOrders(left, right, f.matcher.Address()); err != nil {
		t.Fatalf("first MatchOrders: %v", err)
	}
	before := f.snapshot()
	_, err := f.engine.MatchOrders(left, right, f.matcher.Address())
	if !errors.Is(err, exchange.ErrOrderAlreadyFilled) {
		t.Fatalf("second MatchOrders error = %v, want ErrOrderAlreadyFilled", err)
	}
	for key, d := range report.Diff(before, f.snapshot()) {
		if d.Sign() != 0 {
			t.Errorf("rejected resubmission moved funds: %v changed by %s", key, d)
		}
	}
}

// gateLedger signals when a settlement enters ExecuteAtomic and holds it
// there until released, so a test can submit a duplicate while the first
// settlement is in flight.
type gateLedger struct {
	*ledger.MemLedger
	entered chan struct{}
	release chan struct{}
}

func (g *gateLedger) ExecuteAtomic(ops []ledger.TransferOp) error {
	g.entered <- struct{}{}
	<-g.release
	return g.MemLedger.ExecuteAtomic(ops)
}

func TestMatchOrdersConcurrentResubmission(t *testing.T) {
	f := newFixture(t, nil, nil, common.Address{})
	gate := &gateLedger{
		MemLedger: f.ledger,
		entered:   make(chan struct{}, 2),
		release:   make(chan struct{}),
	}
	engine := exchange.NewSettlementEngine(gate, f.hasher, xcrypto.Verifier{}, venue, f.zrx)

	left := f.signedOrder(exchange.Buy, "0.2", "0.082", f.leftMaker)
	right := f.signedOrder(exchange.Sell, "0.82", "0.05", f.rightMaker)

	before := f.snapshot()
	type outcome struct {
		res *exchange.SettlementResult
		err error
	}
	results := make(chan outcome, 2)
	go func() {
		res, err := engine.MatchOrders(left, right, f.matcher.Address())
		results <- outcome{res, err}
	}()
	<-gate.entered // first submission is now inside the ledger

	go func() {
		res, err := engine.MatchOrders(left, right, f.matcher.Address())
		results <- outcome{res, err}
	}()

	// The duplicate must be rejected while the first is still in flight.
	dup := <-results
	if !errors.Is(dup.err, exchange.ErrOrderAlreadyFilled) {
		t.Fatalf("in-flight duplicate error = %v, want ErrOrderAlreadyFilled", dup.err)
	}

	close(gate.release)
	first := <-results
	if first.err != nil {
		t.Fatalf("original submission failed: %v", first.err)
	}

	// Exactly one settlement moved funds.
	deltas := report.Diff(before, f.snapshot())
	f.assertDelta(deltas, f.leftMaker.Address(), f.weth, new(big.Int).Neg(wei(t, "0.082")))
	f.assertDelta(deltas, f.matcher.Address(), f.zrx, wei(t, "0.62"))
	assertConservation(t, deltas)
}

func TestMatchOrdersAllowance(t *testing.T) {
	f := newFixture(t, nil, nil, common.Address{})
	left := f.signedOrder(exchange.Buy, "0.2", "0.082", f.leftMaker)
	right := f.signedOrder(exchange.Sell, "0.82", "0.05", f.rightMaker)

	// Left maker revokes its WETH approval.
	if err := f.ledger.Approve(f.leftMaker.Address(), venue, f.weth, new(big.Int)); err != nil {
		t.Fatalf("revoke approval: %v", err)
	}

	before := f.snapshot()
	_, err := f.engine.MatchOrders(left, right, f.matcher.Address())
	if !errors.Is(err, exchange.ErrAllowance) {
		t.Fatalf("MatchOrders error = %v, want ErrAllowance", err)
	}
	if msg := err.Error(); !strings.Contains(msg, "left maker") {
		t.Errorf("allowance error does not name the under-approved party: %q", msg)
	}
	for key, d := range report.Diff(before, f.snapshot()) {
		if d.Sign() != 0 {
			t.Errorf("failed match moved funds: %v changed by %s", key, d)
		}
	}
}

func TestMatchOrdersExpired(t *testing.T) {
	f := newFixture(t, nil, nil, common.Address{})
	left := f.signedOrder(exchange.Buy, "0.2", "0.082", f.leftMaker)
	right := f.signedOrder(exchange.Sell, "0.82", "0.05", f.rightMaker)

	// Orders may expire between signing and settlement.
	left.ExpirationTimeSeconds = big.NewInt(time.Now().Add(-time.Minute).Unix())
	_, err := f.engine.MatchOrders(left, right, f.matcher.Address())
	if !errors.Is(err, exchange.ErrExpiredOrder) {
		t.Fatalf("MatchOrders error = %v, want ErrExpiredOrder", err)
	}
}

func TestMatchOrdersNonCrossingPair(t *testing.T) {
	f := newFixture(t, nil, nil, common.Address{})
	left := f.signedOrder(exchange.Buy, "0.2", "0.082", f.leftMaker)
	// Same direction on both sides: asset data cannot mirror.
	right := f.signedOrder(exchange.Buy, "0.2", "0.05", f.rightMaker)

	before := f.snapshot()
	_, err := f.engine.MatchOrders(left, right, f.matcher.Address())
	if !errors.Is(err, exchange.ErrNonCrossing) {
		t.Fatalf("MatchOrders error = %v, want ErrNonCrossing", err)
	}
	for key, d := range report.Diff(before, f.snapshot()) {
		if d.Sign() != 0 {
			t.Errorf("non-crossing pair moved funds: %v changed by %s", key, d)
		}
	}
}

func TestMatchOrdersTamperedOrder(t *testing.T) {
	f := newFixture(t, nil, nil, common.Address{})
	left := f.signedOrder(exchange.Buy, "0.2", "0.082", f.leftMaker)
	right := f.signedOrder(exchange.Sell, "0.82", "0.05", f.rightMaker)

	// Any field change after signing is a distinct order with no signature.
	left.MakerAssetAmount = wei(t, "0.001")
	_, err := f.engine.MatchOrders(left, right, f.matcher.Address())
	if !errors.Is(err, exchange.ErrInvalidSignature) {
		t.Fatalf("MatchOrders error = %v, want ErrInvalidSignature", err)
	}
}

func TestMatchOrdersWrongVenue(t *testing.T) {
	f := newFixture(t, nil, nil, common.Address{})
	otherVenue := common.HexToAddress("0x9999999999999999999999999999999999999999")
	otherEngine := exchange.NewSettlementEngine(f.ledger, f.hasher, xcrypto.Verifier{}, otherVenue, f.zrx)

	left := f.signedOrder(exchange.Buy, "0.2", "0.082", f.leftMaker)
	right := f.signedOrder(exchange.Sell, "0.82", "0.05", f.rightMaker)

	_, err := otherEngine.MatchOrders(left, right, f.matcher.Address())
	if !errors.Is(err, exchange.ErrNonCrossing) {
		t.Fatalf("MatchOrders error = %v, want venue rejection via ErrNonCrossing", err)
	}
}

func TestMatchOrdersRestrictedTaker(t *testing.T) {
	f := newFixture(t, nil, nil, common.Address{})
	left := f.signedOrder(exchange.Buy, "0.2", "0.082", f.leftMaker)
	right := f.signedOrder(exchange.Sell, "0.82", "0.05", f.rightMaker)

	// Restricting the taker requires re-signing; build the restriction in
	// before signature by mutating and re-signing.
	restricted := left.Order
	restricted.Taker = common.HexToAddress("0x1234")
	signed, err := exchange.SignOrder(&restricted, f.hasher, f.leftMaker, time.Now())
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}

	_, err = f.engine.MatchOrders(signed, right, f.matcher.Address())
	if !errors.Is(err, exchange.ErrNonCrossing) {
		t.Fatalf("MatchOrders error = %v, want taker restriction via ErrNonCrossing", err)
	}
}

// failingLedger passes allowance checks through but refuses the atomic
// transfer set, standing in for a ledger-side abort.
type failingLedger struct {
	*ledger.MemLedger
}

var errLedgerDown = errors.New("ledger unavailable")

func (f *failingLedger) ExecuteAtomic(ops []ledger.TransferOp) error {
	return errLedgerDown
}

func TestMatchOrdersLedgerFailure(t *testing.T) {
	f := newFixture(t, nil, nil, common.Address{})
	failing := &failingLedger{MemLedger: f.ledger}
	engine := exchange.NewSettlementEngine(failing, f.hasher, xcrypto.Verifier{}, venue, f.zrx)

	left := f.signedOrder(exchange.Buy, "0.2", "0.082", f.leftMaker)
	right := f.signedOrder(exchange.Sell, "0.82", "0.05", f.rightMaker)

	before := f.snapshot()
	_, err := engine.MatchOrders(left, right, f.matcher.Address())
	if !errors.Is(err, exchange.ErrLedgerTransfer) {
		t.Fatalf("MatchOrders error = %v, want ErrLedgerTransfer", err)
	}
	for key, d := range report.Diff(before, f.snapshot()) {
		if d.Sign() != 0 {
			t.Errorf("failed settlement moved funds: %v changed by %s", key, d)
		}
	}

	// The reservation was rolled back: resubmitting hits the ledger again
	// rather than being treated as already filled.
	if _, err := engine.MatchOrders(left, right, f.matcher.Address()); !errors.Is(err, exchange.ErrLedgerTransfer) {
		t.Errorf("resubmission error = %v, want ErrLedgerTransfer", err)
	}
	// And the pair settles once the ledger recovers.
	if _, err := f.engine.MatchOrders(left, right, f.matcher.Address()); err != nil {
		t.Errorf("retry after ledger recovery failed: %v", err)
	}
}
