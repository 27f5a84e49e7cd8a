package decoder

import (
	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/shopspring/decimal"
)

const (
	TagSpotPlaceOrder uint8 = 10
	TagSpotFillOrder  uint8 = 11
	TagSpotFees       uint8 = 15
	TagPerpPlaceOrder uint8 = 18
	TagPerpFillOrder  uint8 = 19
	TagPerpFees       uint8 = 23
)

const (
	placeOrderSize = 24
	fillOrderSize  = 52
	feeSize        = 24
)

// Event is one decoded venue log record. Concrete types are PlaceOrder,
// FillOrder and Fee.
type Event interface {
	Tag() uint8
	Market() trade.MarketKind
}

type PlaceOrder struct {
	tag          uint8
	MarketKind   trade.MarketKind
	InstrumentID uint32
	OrderType    trade.OrderType
	IOC          bool
	// Leverage is zero when the order does not carry one (spot orders).
	Leverage uint8
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

func (e PlaceOrder) Tag() uint8               { return e.tag }
func (e PlaceOrder) Market() trade.MarketKind { return e.MarketKind }

type FillOrder struct {
	tag           uint8
	MarketKind    trade.MarketKind
	InstrumentID  uint32
	HasInstrument bool
	Side          trade.Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Notional      decimal.Decimal
	// Rebates is signed: positive is a rebate paid to the trader.
	Rebates  decimal.Decimal
	OrderID  int64
	ClientID uint32
}

func (e FillOrder) Tag() uint8               { return e.tag }
func (e FillOrder) Market() trade.MarketKind { return e.MarketKind }

// EmbeddedFee reports the fee carried on the fill itself, if any.
func (e FillOrder) EmbeddedFee() (decimal.Decimal, bool) {
	if e.Rebates.IsZero() {
		return decimal.Zero, false
	}
	return e.Rebates.Neg(), true
}

type Fee struct {
	tag        uint8
	MarketKind trade.MarketKind
	Amount     decimal.Decimal
	RefPayment decimal.Decimal
}

func (e Fee) Tag() uint8               { return e.tag }
func (e Fee) Market() trade.MarketKind { return e.MarketKind }

func marketForTag(tag uint8) (trade.MarketKind, bool) {
	switch tag {
	case TagSpotPlaceOrder, TagSpotFillOrder, TagSpotFees:
		return trade.MarketSpot, true
	case TagPerpPlaceOrder, TagPerpFillOrder, TagPerpFees:
		return trade.MarketPerp, true
	default:
		return "", false
	}
}
