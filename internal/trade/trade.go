package trade

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func ParseSide(raw string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "bid", "long", "b":
		return SideBuy, true
	case "sell", "ask", "short", "s":
		return SideSell, true
	default:
		return "", false
	}
}

type MarketKind string

const (
	MarketSpot MarketKind = "spot"
	MarketPerp MarketKind = "perp"
)

func ParseMarketKind(raw string) (MarketKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "spot":
		return MarketSpot, true
	case "perp", "perpetual":
		return MarketPerp, true
	default:
		return "", false
	}
}

type OrderType string

const (
	OrderLimit       OrderType = "LIMIT"
	OrderMarket      OrderType = "MARKET"
	OrderMarginCall  OrderType = "MARGIN_CALL"
	OrderForcedClose OrderType = "FORCED_CLOSE"
	OrderUnknown     OrderType = "UNKNOWN"
)

// OrderTypeFromCode maps the venue's on-chain order type byte.
func OrderTypeFromCode(code uint8) OrderType {
	switch code {
	case 0:
		return OrderLimit
	case 1:
		return OrderMarket
	case 2:
		return OrderMarginCall
	case 3:
		return OrderForcedClose
	default:
		return OrderUnknown
	}
}

// Fill is one executed trade leg as persisted. RealizedPnL is derived and is
// overwritten by every ledger recompute.
type Fill struct {
	Signature     string          `json:"signature"`
	TxSignature   string          `json:"txSignature"`
	Wallet        string          `json:"wallet"`
	InstrumentID  uint32          `json:"instrumentId"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	MarketKind    MarketKind      `json:"marketKind"`
	OrderType     OrderType       `json:"orderType"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Fee           decimal.Decimal `json:"fee"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	Leverage      uint8           `json:"leverage,omitempty"`
	IOC           bool            `json:"ioc,omitempty"`
	OrderID       int64           `json:"orderId"`
	ClientID      uint32          `json:"clientId"`
	LowConfidence bool            `json:"lowConfidence,omitempty"`
	ExecutedAt    time.Time       `json:"executedAt"`
}

func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Quantity)
}

// Filter narrows a wallet's stored fill history.
type Filter struct {
	Symbol       string
	InstrumentID *uint32
	Start        *time.Time
	End          *time.Time
	Limit        int
	Offset       int
}

func (f Filter) Matches(fill Fill) bool {
	if f.InstrumentID != nil && fill.InstrumentID != *f.InstrumentID {
		return false
	}
	if symbol := strings.TrimSpace(f.Symbol); symbol != "" && !strings.EqualFold(symbol, fill.Symbol) {
		return false
	}
	if f.Start != nil && fill.ExecutedAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && fill.ExecutedAt.After(*f.End) {
		return false
	}
	return true
}
