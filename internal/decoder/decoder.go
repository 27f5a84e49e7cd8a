package decoder

import (
	"errors"
	"fmt"

	"github.com/coldbell/tradelens/backend/internal/trade"
	bin "github.com/gagliardetto/binary"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownTag = fmt.Errorf("%w: unknown tag", trade.ErrDecodeFailure)
	ErrTruncated  = fmt.Errorf("%w: truncated payload", trade.ErrDecodeFailure)
	ErrEmpty      = fmt.Errorf("%w: empty payload", trade.ErrDecodeFailure)
)

// Scales holds the number of implied decimal places for each fixed-point
// field family.
type Scales struct {
	PriceDecimals    int32
	QuantityDecimals int32
	FeeDecimals      int32
}

func DefaultScales() Scales {
	return Scales{PriceDecimals: 6, QuantityDecimals: 9, FeeDecimals: 9}
}

type Decoder struct {
	scales Scales
}

func New(scales Scales) *Decoder {
	return &Decoder{scales: scales}
}

func (d *Decoder) Scales() Scales {
	return d.scales
}

// Decode turns one raw record into a typed event. The first byte is the tag.
func (d *Decoder) Decode(payload []byte) (Event, error) {
	if len(payload) == 0 {
		return nil, ErrEmpty
	}
	tag := payload[0]
	market, ok := marketForTag(tag)
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownTag, tag)
	}

	switch tag {
	case TagSpotPlaceOrder, TagPerpPlaceOrder:
		return d.decodePlaceOrder(tag, market, payload)
	case TagSpotFillOrder, TagPerpFillOrder:
		return d.decodeFillOrder(tag, market, payload)
	default:
		return d.decodeFee(tag, market, payload)
	}
}

func (d *Decoder) decodePlaceOrder(tag uint8, market trade.MarketKind, payload []byte) (Event, error) {
	if err := requireSize(tag, payload, placeOrderSize); err != nil {
		return nil, err
	}
	r := newReader(payload)
	r.skip(1)
	orderType := r.u8()
	ioc := r.u8()
	leverage := r.u8()
	instrument := r.u32()
	price := r.i64()
	qty := r.i64()
	if r.err != nil {
		return nil, fmt.Errorf("decode place order tag %d: %w", tag, r.err)
	}

	return PlaceOrder{
		tag:          tag,
		MarketKind:   market,
		InstrumentID: instrument,
		OrderType:    trade.OrderTypeFromCode(orderType),
		IOC:          ioc != 0,
		Leverage:     leverage,
		Price:        scaleAbs(price, d.scales.PriceDecimals),
		Quantity:     scaleAbs(qty, d.scales.QuantityDecimals),
	}, nil
}

func (d *Decoder) decodeFillOrder(tag uint8, market trade.MarketKind, payload []byte) (Event, error) {
	if err := requireSize(tag, payload, fillOrderSize); err != nil {
		return nil, err
	}
	r := newReader(payload)
	r.skip(1)
	sideFlag := r.u8()
	r.skip(2)
	instrument := r.u32()
	orderID := r.i64()
	qty := r.i64()
	notional := r.i64()
	price := r.i64()
	rebates := r.i64()
	clientID := r.u32()
	if r.err != nil {
		return nil, fmt.Errorf("decode fill order tag %d: %w", tag, r.err)
	}

	side := trade.SideBuy
	if sideFlag&1 == 1 {
		side = trade.SideSell
	}

	return FillOrder{
		tag:           tag,
		MarketKind:    market,
		InstrumentID:  instrument,
		HasInstrument: instrument != 0,
		Side:          side,
		Price:         scaleAbs(price, d.scales.PriceDecimals),
		Quantity:      scaleAbs(qty, d.scales.QuantityDecimals),
		Notional:      scaleAbs(notional, d.scales.PriceDecimals),
		Rebates:       decimal.New(rebates, -d.scales.FeeDecimals),
		OrderID:       orderID,
		ClientID:      clientID,
	}, nil
}

func (d *Decoder) decodeFee(tag uint8, market trade.MarketKind, payload []byte) (Event, error) {
	if err := requireSize(tag, payload, feeSize); err != nil {
		return nil, err
	}
	r := newReader(payload)
	r.skip(8)
	fees := r.i64()
	refPayment := r.i64()
	if r.err != nil {
		return nil, fmt.Errorf("decode fee tag %d: %w", tag, r.err)
	}

	return Fee{
		tag:        tag,
		MarketKind: market,
		Amount:     decimal.New(fees, -d.scales.FeeDecimals),
		RefPayment: decimal.New(refPayment, -d.scales.FeeDecimals),
	}, nil
}

func requireSize(tag uint8, payload []byte, size int) error {
	if len(payload) < size {
		return fmt.Errorf("%w: tag %d needs %d bytes, got %d", ErrTruncated, tag, size, len(payload))
	}
	return nil
}

func scaleAbs(raw int64, decimals int32) decimal.Decimal {
	return decimal.New(raw, -decimals).Abs()
}

// reader wraps the borsh-style LE decoder and keeps the first error so field
// reads can be chained.
type reader struct {
	dec *bin.Decoder
	err error
}

func newReader(payload []byte) *reader {
	return &reader{dec: bin.NewBinDecoder(payload)}
}

func (r *reader) fail(err error) {
	if r.err == nil && err != nil {
		r.err = errors.Join(ErrTruncated, err)
	}
}

func (r *reader) skip(n uint) {
	if r.err != nil {
		return
	}
	r.fail(r.dec.SkipBytes(n))
}

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint8()
	r.fail(err)
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint32(bin.LE)
	r.fail(err)
	return v
}

func (r *reader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadInt64(bin.LE)
	r.fail(err)
	return v
}
