// Package correlator turns the decoded events of one transaction into fills.
package correlator

import (
	"fmt"
	"strings"
	"time"

	"github.com/coldbell/tradelens/backend/internal/decoder"
	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/shopspring/decimal"
)

// FallbackPolicy decides the instrument of a fill that carries no instrument
// of its own and has no place-order context in its transaction.
type FallbackPolicy string

const (
	FallbackDefault  FallbackPolicy = "default"
	FallbackOrderID  FallbackPolicy = "order-id"
	FallbackClientID FallbackPolicy = "client-id"
)

func ParseFallbackPolicy(raw string) (FallbackPolicy, error) {
	switch FallbackPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FallbackDefault, "fill-or-default":
		return FallbackDefault, nil
	case FallbackOrderID:
		return FallbackOrderID, nil
	case FallbackClientID:
		return FallbackClientID, nil
	default:
		return "", fmt.Errorf("invalid instrument fallback %q (expected default|order-id|client-id)", raw)
	}
}

type Options struct {
	Fallback          FallbackPolicy
	DefaultInstrument uint32
}

type Transaction struct {
	Signature  string
	Wallet     string
	ExecutedAt time.Time
	Events     []decoder.Event
}

// Stats reports how each fill got its instrument and how fee events were
// attached.
type Stats struct {
	FromFill     int
	FromContext  int
	FromFallback int
	FeesAttached int
	FeesOrphaned int
	FeesSkipped  int
}

type Correlator struct {
	opts Options
}

func New(opts Options) *Correlator {
	if opts.Fallback == "" {
		opts.Fallback = FallbackDefault
	}
	return &Correlator{opts: opts}
}

type orderContext struct {
	set        bool
	instrument uint32
	orderType  trade.OrderType
	ioc        bool
	leverage   uint8
}

// Correlate emits one fill per fill event. Place-order events update a running
// context that only lives for this transaction. Fee events are summed onto the
// nearest preceding fill of the same market kind unless that fill already
// carries its own fee.
func (c *Correlator) Correlate(tx Transaction) ([]trade.Fill, Stats) {
	var (
		ctx   orderContext
		stats Stats
		fills = make([]trade.Fill, 0, len(tx.Events))
		// embedded marks fills whose fee came from the fill record itself.
		embedded = make([]bool, 0, len(tx.Events))
	)

	for _, event := range tx.Events {
		switch ev := event.(type) {
		case decoder.PlaceOrder:
			ctx = orderContext{
				set:        true,
				instrument: ev.InstrumentID,
				orderType:  ev.OrderType,
				ioc:        ev.IOC,
				leverage:   ev.Leverage,
			}
		case decoder.FillOrder:
			fill := trade.Fill{
				Signature:   fmt.Sprintf("%s:%d", tx.Signature, len(fills)),
				TxSignature: tx.Signature,
				Wallet:      tx.Wallet,
				Side:        ev.Side,
				MarketKind:  ev.MarketKind,
				OrderType:   trade.OrderUnknown,
				Price:       ev.Price,
				Quantity:    ev.Quantity,
				Fee:         decimal.Zero,
				RealizedPnL: decimal.Zero,
				OrderID:     ev.OrderID,
				ClientID:    ev.ClientID,
				ExecutedAt:  tx.ExecutedAt,
			}
			switch {
			case ev.HasInstrument:
				fill.InstrumentID = ev.InstrumentID
				stats.FromFill++
			case ctx.set:
				fill.InstrumentID = ctx.instrument
				stats.FromContext++
			default:
				fill.InstrumentID = c.fallbackInstrument(ev)
				stats.FromFallback++
			}
			if ctx.set {
				fill.OrderType = ctx.orderType
				fill.Leverage = ctx.leverage
				fill.IOC = ctx.ioc
			}
			fee, hasFee := ev.EmbeddedFee()
			if hasFee {
				fill.Fee = fee
			}
			fills = append(fills, fill)
			embedded = append(embedded, hasFee)
		case decoder.Fee:
			idx := nearestFill(fills, ev.MarketKind)
			if idx < 0 {
				stats.FeesOrphaned++
				continue
			}
			if embedded[idx] {
				stats.FeesSkipped++
				continue
			}
			fills[idx].Fee = fills[idx].Fee.Add(ev.Amount)
			stats.FeesAttached++
		}
	}
	return fills, stats
}

func (c *Correlator) fallbackInstrument(ev decoder.FillOrder) uint32 {
	switch c.opts.Fallback {
	case FallbackOrderID:
		if ev.OrderID > 0 && ev.OrderID <= int64(^uint32(0)) {
			return uint32(ev.OrderID)
		}
	case FallbackClientID:
		if ev.ClientID != 0 {
			return ev.ClientID
		}
	}
	return c.opts.DefaultInstrument
}

func nearestFill(fills []trade.Fill, market trade.MarketKind) int {
	for i := len(fills) - 1; i >= 0; i-- {
		if fills[i].MarketKind == market {
			return i
		}
	}
	return -1
}
