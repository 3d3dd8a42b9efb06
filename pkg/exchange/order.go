package exchange

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/haryshwaran/crossmatch/pkg/units"
)

// Order is the core entity of the protocol: a maker's signed commitment to
// give MakerAssetAmount of the maker asset in exchange for TakerAssetAmount
// of the taker asset, valid until ExpirationTimeSeconds, bound to one
// settlement venue by ExchangeAddress.
//
// Zero addresses mean open/unrestricted: a zero Taker lets anyone fill, a
// zero Sender lets anyone submit, a zero FeeRecipient waives fee routing.
type Order struct {
	ExchangeAddress common.Address `json:"exchangeAddress"`

	Maker        common.Address `json:"makerAddress"`
	Taker        common.Address `json:"takerAddress"`
	Sender       common.Address `json:"senderAddress"`
	FeeRecipient common.Address `json:"feeRecipientAddress"`

	MakerAssetData AssetData `json:"makerAssetData"`
	TakerAssetData AssetData `json:"takerAssetData"`

	MakerAssetAmount *big.Int `json:"makerAssetAmount"`
	TakerAssetAmount *big.Int `json:"takerAssetAmount"`
	MakerFee         *big.Int `json:"makerFee"`
	TakerFee         *big.Int `json:"takerFee"`

	ExpirationTimeSeconds *big.Int `json:"expirationTimeSeconds"`
	Salt                  *big.Int `json:"salt"`
}

// Expired reports whether the order's expiration time is at or before now.
func (o *Order) Expired(now time.Time) bool {
	return o.ExpirationTimeSeconds.Cmp(big.NewInt(now.Unix())) <= 0
}

// SignedOrder is an Order plus the maker's signature over its digest. It is
// immutable: any field change invalidates the signature and must be treated
// as a distinct order.
type SignedOrder struct {
	Order
	Signature []byte `json:"signature"`
}

// GenerateSalt draws a random 256-bit salt so otherwise-identical orders
// hash to distinct digests.
func GenerateSalt() (*big.Int, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return new(big.Int).SetBytes(buf[:]), nil
}

// FutureExpiration returns now+ttl as a Unix-seconds expiration value.
func FutureExpiration(now time.Time, ttl time.Duration) *big.Int {
	return big.NewInt(now.Add(ttl).Unix())
}

// OrderBuilder turns trade intents over one base/quote asset pair into
// well-formed unsigned orders. The builder holds venue configuration only;
// Build itself is pure given the caller-supplied expiration and salt.
type OrderBuilder struct {
	exchange      common.Address
	baseAsset     AssetData
	quoteAsset    AssetData
	baseDecimals  uint8
	quoteDecimals uint8
	feeRecipient  common.Address
	makerFee      *big.Int
	takerFee      *big.Int
}

// BuilderConfig configures an OrderBuilder for one venue and asset pair.
type BuilderConfig struct {
	ExchangeAddress common.Address
	BaseAsset       AssetData
	QuoteAsset      AssetData
	BaseDecimals    uint8
	QuoteDecimals   uint8
	FeeRecipient    common.Address
	MakerFee        *big.Int // nil means zero
	TakerFee        *big.Int // nil means zero
}

func NewOrderBuilder(cfg BuilderConfig) *OrderBuilder {
	makerFee := cfg.MakerFee
	if makerFee == nil {
		makerFee = new(big.Int)
	}
	takerFee := cfg.TakerFee
	if takerFee == nil {
		takerFee = new(big.Int)
	}
	return &OrderBuilder{
		exchange:      cfg.ExchangeAddress,
		baseAsset:     cfg.BaseAsset,
		quoteAsset:    cfg.QuoteAsset,
		baseDecimals:  cfg.BaseDecimals,
		quoteDecimals: cfg.QuoteDecimals,
		feeRecipient:  cfg.FeeRecipient,
		makerFee:      makerFee,
		takerFee:      takerFee,
	}
}

// Build produces an unsigned order from a trade intent.
//
// A buy intent offers the quote asset to receive the base asset, so the
// maker side carries the quote amount; a sell intent is the reverse. This
// mapping is the invariant the whole pipeline rests on.
func (b *OrderBuilder) Build(intent TradeIntent, maker common.Address, expiration, salt *big.Int) (*Order, error) {
	baseUnits, err := units.ToBaseUnits(intent.BaseAmount, b.baseDecimals)
	if err != nil {
		return nil, err
	}
	quoteUnits, err := units.ToBaseUnits(intent.QuoteAmount, b.quoteDecimals)
	if err != nil {
		return nil, err
	}
	if baseUnits.Sign() <= 0 {
		return nil, fmt.Errorf("%w: base %s", ErrInvalidAmount, baseUnits)
	}
	if quoteUnits.Sign() <= 0 {
		return nil, fmt.Errorf("%w: quote %s", ErrInvalidAmount, quoteUnits)
	}

	order := &Order{
		ExchangeAddress:       b.exchange,
		Maker:                 maker,
		FeeRecipient:          b.feeRecipient,
		MakerFee:              new(big.Int).Set(b.makerFee),
		TakerFee:              new(big.Int).Set(b.takerFee),
		ExpirationTimeSeconds: expiration,
		Salt:                  salt,
	}
	switch intent.Direction {
	case Buy:
		order.MakerAssetData = b.quoteAsset
		order.TakerAssetData = b.baseAsset
		order.MakerAssetAmount = quoteUnits
		order.TakerAssetAmount = baseUnits
	case Sell:
		order.MakerAssetData = b.baseAsset
		order.TakerAssetData = b.quoteAsset
		order.MakerAssetAmount = baseUnits
		order.TakerAssetAmount = quoteUnits
	default:
		return nil, fmt.Errorf("unknown trade direction %d", intent.Direction)
	}
	return order, nil
}

// BuildMirror produces the right-side order of a matched pair: the counter
// intent expressed against the same pair, with maker/taker asset data
// mirrored from the given left order.
func (b *OrderBuilder) BuildMirror(left *Order, intent TradeIntent, maker common.Address, expiration, salt *big.Int) (*Order, error) {
	right, err := b.Build(intent, maker, expiration, salt)
	if err != nil {
		return nil, err
	}
	if !right.MakerAssetData.Equal(left.TakerAssetData) || !right.TakerAssetData.Equal(left.MakerAssetData) {
		return nil, fmt.Errorf("%w: intent %s does not mirror left order's asset pair", ErrNonCrossing, intent.Direction)
	}
	return right, nil
}
