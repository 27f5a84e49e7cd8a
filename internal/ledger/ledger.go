// Package ledger replays a wallet's fills through an average-cost position
// per instrument and stamps each fill with the P&L it realized.
package ledger

import (
	"sort"

	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/shopspring/decimal"
)

// Position is the running state of one instrument. AvgEntryPrice is zero
// whenever NetSize is zero.
type Position struct {
	InstrumentID  uint32          `json:"instrumentId"`
	NetSize       decimal.Decimal `json:"netSize"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
}

func (p Position) IsFlat() bool {
	return p.NetSize.IsZero()
}

type Result struct {
	Fills     []trade.Fill
	Positions map[uint32]Position
}

// Enrich returns a copy of fills in ascending execution order with
// RealizedPnL recomputed from scratch.
func Enrich(fills []trade.Fill) []trade.Fill {
	return Replay(fills).Fills
}

// Replay is Enrich plus the closing position of every instrument.
func Replay(fills []trade.Fill) Result {
	out := make([]trade.Fill, len(fills))
	copy(out, fills)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExecutedAt.Before(out[j].ExecutedAt)
	})

	positions := make(map[uint32]Position, 8)
	for i := range out {
		state, ok := positions[out[i].InstrumentID]
		if !ok {
			state = Position{InstrumentID: out[i].InstrumentID, NetSize: decimal.Zero, AvgEntryPrice: decimal.Zero}
		}
		state, out[i].RealizedPnL = apply(state, out[i].Side, out[i].Price, out[i].Quantity)
		positions[out[i].InstrumentID] = state
	}

	return Result{Fills: out, Positions: positions}
}

func apply(state Position, side trade.Side, price, size decimal.Decimal) (Position, decimal.Decimal) {
	size = size.Abs()
	switch side {
	case trade.SideBuy:
		if state.NetSize.IsNegative() {
			return reduce(state, size, price, true)
		}
		return add(state, size, price, true), decimal.Zero
	case trade.SideSell:
		if state.NetSize.IsPositive() {
			return reduce(state, size, price, false)
		}
		return add(state, size, price, false), decimal.Zero
	default:
		return state, decimal.Zero
	}
}

// add grows a flat or same-direction position and re-averages its entry.
func add(state Position, size, price decimal.Decimal, buy bool) Position {
	held := state.NetSize.Abs()
	total := held.Add(size)
	if total.IsZero() {
		state.AvgEntryPrice = decimal.Zero
		return state
	}
	state.AvgEntryPrice = held.Mul(state.AvgEntryPrice).Add(size.Mul(price)).Div(total)
	if buy {
		state.NetSize = state.NetSize.Add(size)
	} else {
		state.NetSize = state.NetSize.Sub(size)
	}
	return state
}

// reduce closes against an opposite position, flipping at price when the
// fill is larger than what was held.
func reduce(state Position, size, price decimal.Decimal, buy bool) (Position, decimal.Decimal) {
	closed := decimal.Min(state.NetSize.Abs(), size)
	var pnl decimal.Decimal
	if buy {
		pnl = state.AvgEntryPrice.Sub(price).Mul(closed)
		state.NetSize = state.NetSize.Add(size)
	} else {
		pnl = price.Sub(state.AvgEntryPrice).Mul(closed)
		state.NetSize = state.NetSize.Sub(size)
	}

	switch {
	case state.NetSize.IsZero():
		state.AvgEntryPrice = decimal.Zero
	case buy && state.NetSize.IsPositive(), !buy && state.NetSize.IsNegative():
		state.AvgEntryPrice = price
	}
	return state, pnl
}
