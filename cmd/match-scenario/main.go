// Command match-scenario runs three crossed-order matches end to end
// against the reference ledger: build orders from trade intents, validate
// crossing, sign both sides, settle atomically, and report balance deltas.
//
// The left maker sells ZRX for WETH (or vice versa), the right maker holds
// the mirrored order, and the matcher submits both, pays both taker fees,
// and collects any price spread.
package main

import (
	"log"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/haryshwaran/crossmatch/params"
	"github.com/haryshwaran/crossmatch/pkg/crypto"
	"github.com/haryshwaran/crossmatch/pkg/exchange"
	"github.com/haryshwaran/crossmatch/pkg/ledger"
	"github.com/haryshwaran/crossmatch/pkg/report"
	"github.com/haryshwaran/crossmatch/pkg/units"
	"github.com/haryshwaran/crossmatch/pkg/util"
	"github.com/haryshwaran/crossmatch/pkg/watcher"
)

type intentSpec struct {
	dir   exchange.Direction
	base  string
	quote string
}

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	env, err := newScenarioEnv(cfg, logger)
	if err != nil {
		logger.Fatal("scenario setup", zap.Error(err))
	}
	defer env.close()

	scenarios := []struct {
		name  string
		left  intentSpec
		right intentSpec
	}{
		{
			name:  "spread on both legs",
			left:  intentSpec{exchange.Buy, "0.2", "0.082"},
			right: intentSpec{exchange.Sell, "0.82", "0.05"},
		},
		{
			name:  "exact partial overlap",
			left:  intentSpec{exchange.Buy, "0.2", "0.05"},
			right: intentSpec{exchange.Sell, "0.05", "0.2"},
		},
		{
			name:  "sides swapped",
			left:  intentSpec{exchange.Sell, "0.82", "0.05"},
			right: intentSpec{exchange.Buy, "0.2", "0.082"},
		},
	}

	for _, sc := range scenarios {
		logger.Info("running scenario", zap.String("name", sc.name))
		if err := env.run(sc.left, sc.right); err != nil {
			logger.Error("scenario failed", zap.String("name", sc.name), zap.Error(err))
		}
	}
}

type scenarioEnv struct {
	cfg     params.Config
	log     *zap.Logger
	ledger  *ledger.MemLedger
	builder *exchange.OrderBuilder
	hasher  *crypto.OrderHasher
	engine  *exchange.SettlementEngine
	watcher *watcher.OrderWatcher
	tmpDir  string

	leftMaker  *crypto.Signer
	rightMaker *crypto.Signer
	matcher    *crypto.Signer

	zrxAsset  exchange.AssetData
	wethAsset exchange.AssetData
}

func newScenarioEnv(cfg params.Config, logger *zap.Logger) (*scenarioEnv, error) {
	// Deterministic accounts keep logged addresses stable across runs.
	leftMaker, err := crypto.DeriveKey("scenario/left-maker")
	if err != nil {
		return nil, err
	}
	rightMaker, err := crypto.DeriveKey("scenario/right-maker")
	if err != nil {
		return nil, err
	}
	matcher, err := crypto.DeriveKey("scenario/matcher")
	if err != nil {
		return nil, err
	}

	zrx := cfg.Tokens["ZRX"]
	weth := cfg.Tokens["WETH"]
	zrxAsset := exchange.EncodeERC20AssetData(zrx.Address)
	wethAsset := exchange.EncodeERC20AssetData(weth.Address)

	ml := ledger.NewMemLedger()
	hasher := crypto.NewOrderHasher(cfg.Exchange.ChainID)
	verifier := crypto.Verifier{}
	engine := exchange.NewSettlementEngine(ml, hasher, verifier, cfg.Exchange.Address, zrxAsset)

	tmpDir, err := os.MkdirTemp("", "match-scenario-orders")
	if err != nil {
		return nil, err
	}
	w, err := watcher.NewOrderWatcher(tmpDir, hasher, verifier, logger)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}

	builder := exchange.NewOrderBuilder(exchange.BuilderConfig{
		ExchangeAddress: cfg.Exchange.Address,
		BaseAsset:       zrxAsset,
		QuoteAsset:      wethAsset,
		BaseDecimals:    zrx.Decimals,
		QuoteDecimals:   weth.Decimals,
	})

	env := &scenarioEnv{
		cfg:     cfg,
		log:     logger,
		ledger:  ml,
		builder: builder,
		hasher:  hasher,
		engine:  engine,
		watcher: w,
		tmpDir:  tmpDir,

		leftMaker:  leftMaker,
		rightMaker: rightMaker,
		matcher:    matcher,

		zrxAsset:  zrxAsset,
		wethAsset: wethAsset,
	}
	if err := env.fund(); err != nil {
		env.close()
		return nil, err
	}
	return env, nil
}

func (e *scenarioEnv) close() {
	e.watcher.Close()
	os.RemoveAll(e.tmpDir)
}

// fund credits both makers with trading stock and grants the venue
// unlimited allowances, mirroring the approval-and-deposit setup a real
// host performs against token contracts.
func (e *scenarioEnv) fund() error {
	ten, err := units.ToBaseUnits(decimal.RequireFromString("10"), 18)
	if err != nil {
		return err
	}
	venue := e.cfg.Exchange.Address
	for _, maker := range []common.Address{e.leftMaker.Address(), e.rightMaker.Address()} {
		for _, asset := range []exchange.AssetData{e.zrxAsset, e.wethAsset} {
			if err := e.ledger.Mint(maker, asset, ten); err != nil {
				return err
			}
			if err := e.ledger.Approve(maker, venue, asset, ledger.Unlimited); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *scenarioEnv) run(leftSpec, rightSpec intentSpec) error {
	now := time.Now()
	expiration := exchange.FutureExpiration(now, e.cfg.OrderTTL)

	left, err := e.buildOrder(leftSpec, e.leftMaker.Address(), expiration)
	if err != nil {
		return err
	}
	right, err := e.buildOrder(rightSpec, e.rightMaker.Address(), expiration)
	if err != nil {
		return err
	}

	// Reject unmatchable pairs before spending a signature on them.
	if err := exchange.ValidateCrossing(left, right, now); err != nil {
		return err
	}

	signedLeft, err := exchange.SignOrder(left, e.hasher, e.leftMaker, now)
	if err != nil {
		return err
	}
	signedRight, err := exchange.SignOrder(right, e.hasher, e.rightMaker, now)
	if err != nil {
		return err
	}
	if err := e.watcher.Add(signedLeft, now); err != nil {
		return err
	}
	if err := e.watcher.Add(signedRight, now); err != nil {
		return err
	}

	holders := []common.Address{e.leftMaker.Address(), e.rightMaker.Address(), e.matcher.Address()}
	assets := [][]byte{e.zrxAsset, e.wethAsset}
	before := report.Take(e.ledger, holders, assets)

	res, err := e.engine.MatchOrders(signedLeft, signedRight, e.matcher.Address())
	if err != nil {
		return err
	}
	e.watcher.Remove(res.LeftOrderHash)
	e.watcher.Remove(res.RightOrderHash)

	after := report.Take(e.ledger, holders, assets)
	deltas := report.Diff(before, after)

	e.log.Info("matched",
		zap.String("left", res.LeftOrderHash.Hex()),
		zap.String("right", res.RightOrderHash.Hex()),
		zap.String("leftFill", units.FromBaseUnits(res.LeftFillAmount, 18).String()),
		zap.String("rightFill", units.FromBaseUnits(res.RightFillAmount, 18).String()),
		zap.String("leftSpread", units.FromBaseUnits(res.LeftSpreadAmount, 18).String()),
		zap.String("rightSpread", units.FromBaseUnits(res.RightSpreadAmount, 18).String()),
	)
	names := map[common.Address]string{
		e.leftMaker.Address():  "leftMaker",
		e.rightMaker.Address(): "rightMaker",
		e.matcher.Address():    "matcher",
	}
	symbols := map[string]string{
		string(e.zrxAsset):  "ZRX",
		string(e.wethAsset): "WETH",
	}
	for key, delta := range deltas {
		if delta.Sign() == 0 {
			continue
		}
		e.log.Info("balance delta",
			zap.String("party", names[key.Holder]),
			zap.String("asset", symbols[key.Asset]),
			zap.String("delta", units.FromBaseUnits(delta, 18).String()),
		)
	}
	for asset, total := range report.AssetTotals(deltas) {
		if total.Sign() != 0 {
			e.log.Error("conservation violated",
				zap.String("asset", symbols[asset]),
				zap.String("net", total.String()),
			)
		}
	}
	return nil
}

func (e *scenarioEnv) buildOrder(spec intentSpec, maker common.Address, expiration *big.Int) (*exchange.Order, error) {
	intent, err := exchange.NewTradeIntent(spec.dir,
		decimal.RequireFromString(spec.base),
		decimal.RequireFromString(spec.quote),
	)
	if err != nil {
		return nil, err
	}
	salt, err := exchange.GenerateSalt()
	if err != nil {
		return nil, err
	}
	return e.builder.Build(intent, maker, expiration, salt)
}
