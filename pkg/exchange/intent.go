package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Direction tags which side of the base asset a trade intent takes.
type Direction int8

const (
	Buy  Direction = 1
	Sell Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// TradeIntent is the high-level input to the order builder: a direction
// plus the base and quote quantities in human units. Intents are validated
// at construction and never persisted.
type TradeIntent struct {
	Direction   Direction
	BaseAmount  decimal.Decimal
	QuoteAmount decimal.Decimal
}

// NewTradeIntent validates that both quantities are strictly positive and
// the direction is known.
func NewTradeIntent(dir Direction, base, quote decimal.Decimal) (TradeIntent, error) {
	if dir != Buy && dir != Sell {
		return TradeIntent{}, fmt.Errorf("unknown trade direction %d", dir)
	}
	if !base.IsPositive() {
		return TradeIntent{}, fmt.Errorf("%w: base amount %s", ErrInvalidAmount, base)
	}
	if !quote.IsPositive() {
		return TradeIntent{}, fmt.Errorf("%w: quote amount %s", ErrInvalidAmount, quote)
	}
	return TradeIntent{Direction: dir, BaseAmount: base, QuoteAmount: quote}, nil
}
