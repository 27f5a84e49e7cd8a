// Package analytics derives dashboard metrics from an enriched fill history.
// Every function accepts an empty slice and returns a zero value.
package analytics

import (
	"sort"
	"time"

	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/shopspring/decimal"
)

type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
	BiasNeutral Bias = "NEUTRAL"
)

var (
	hundred        = decimal.NewFromInt(100)
	bullishRatio   = decimal.RequireFromString("1.2")
	bearishRatio   = decimal.RequireFromString("0.8")
	percentPlaces  = int32(4)
	ratioPlaces    = int32(8)
	durationPlaces = int32(0)
)

type CoreMetrics struct {
	TotalPnL      decimal.Decimal `json:"totalPnl"`
	TotalVolume   decimal.Decimal `json:"totalVolume"`
	TotalFees     decimal.Decimal `json:"totalFees"`
	NetPnL        decimal.Decimal `json:"netPnl"`
	TotalTrades   int             `json:"totalTrades"`
	WinningTrades int             `json:"winningTrades"`
	LosingTrades  int             `json:"losingTrades"`
	WinRate       decimal.Decimal `json:"winRate"`
}

func Core(fills []trade.Fill) CoreMetrics {
	out := CoreMetrics{
		TotalPnL:    decimal.Zero,
		TotalVolume: decimal.Zero,
		TotalFees:   decimal.Zero,
		NetPnL:      decimal.Zero,
		WinRate:     decimal.Zero,
	}
	for _, f := range fills {
		out.TotalPnL = out.TotalPnL.Add(f.RealizedPnL)
		out.TotalVolume = out.TotalVolume.Add(f.Notional())
		out.TotalFees = out.TotalFees.Add(f.Fee)
		switch f.RealizedPnL.Sign() {
		case 1:
			out.WinningTrades++
		case -1:
			out.LosingTrades++
		}
	}
	out.TotalTrades = len(fills)
	out.NetPnL = out.TotalPnL.Sub(out.TotalFees)
	out.WinRate = percent(decimal.NewFromInt(int64(out.WinningTrades)), decimal.NewFromInt(int64(out.TotalTrades)))
	return out
}

type LongShortMix struct {
	LongTrades   int             `json:"longTrades"`
	ShortTrades  int             `json:"shortTrades"`
	LongVolume   decimal.Decimal `json:"longVolume"`
	ShortVolume  decimal.Decimal `json:"shortVolume"`
	LongPercent  decimal.Decimal `json:"longPercent"`
	ShortPercent decimal.Decimal `json:"shortPercent"`
	Ratio        decimal.Decimal `json:"ratio"`
	Bias         Bias            `json:"bias"`
}

func LongShort(fills []trade.Fill) LongShortMix {
	out := LongShortMix{
		LongVolume:   decimal.Zero,
		ShortVolume:  decimal.Zero,
		LongPercent:  decimal.Zero,
		ShortPercent: decimal.Zero,
		Ratio:        decimal.Zero,
		Bias:         BiasNeutral,
	}
	if len(fills) == 0 {
		return out
	}

	for _, f := range fills {
		switch f.Side {
		case trade.SideBuy:
			out.LongTrades++
			out.LongVolume = out.LongVolume.Add(f.Notional())
		case trade.SideSell:
			out.ShortTrades++
			out.ShortVolume = out.ShortVolume.Add(f.Notional())
		}
	}

	longs := decimal.NewFromInt(int64(out.LongTrades))
	shorts := decimal.NewFromInt(int64(out.ShortTrades))
	if out.ShortTrades > 0 {
		out.Ratio = longs.DivRound(shorts, ratioPlaces)
	} else {
		out.Ratio = longs
	}
	sided := longs.Add(shorts)
	out.LongPercent = percent(longs, sided)
	out.ShortPercent = percent(shorts, sided)

	switch {
	case out.Ratio.GreaterThan(bullishRatio):
		out.Bias = BiasBullish
	case out.Ratio.LessThan(bearishRatio):
		out.Bias = BiasBearish
	}
	return out
}

type RiskMetrics struct {
	LargestGain  decimal.Decimal `json:"largestGain"`
	LargestLoss  decimal.Decimal `json:"largestLoss"`
	AvgWin       decimal.Decimal `json:"avgWin"`
	AvgLoss      decimal.Decimal `json:"avgLoss"`
	ProfitFactor decimal.Decimal `json:"profitFactor"`
	AvgHoldingMS int64           `json:"avgHoldingMs"`
	HoldingPairs int             `json:"holdingPairs"`
}

func (r RiskMetrics) AvgHolding() time.Duration {
	return time.Duration(r.AvgHoldingMS) * time.Millisecond
}

func Risk(fills []trade.Fill) RiskMetrics {
	out := RiskMetrics{
		LargestGain:  decimal.Zero,
		LargestLoss:  decimal.Zero,
		AvgWin:       decimal.Zero,
		AvgLoss:      decimal.Zero,
		ProfitFactor: decimal.Zero,
	}
	if len(fills) == 0 {
		return out
	}

	totalWins, totalLosses := decimal.Zero, decimal.Zero
	wins, losses := 0, 0
	for i, f := range fills {
		pnl := f.RealizedPnL
		if i == 0 || pnl.GreaterThan(out.LargestGain) {
			out.LargestGain = pnl
		}
		if i == 0 || pnl.LessThan(out.LargestLoss) {
			out.LargestLoss = pnl
		}
		switch pnl.Sign() {
		case 1:
			wins++
			totalWins = totalWins.Add(pnl)
		case -1:
			losses++
			totalLosses = totalLosses.Add(pnl.Abs())
		}
	}
	if wins > 0 {
		out.AvgWin = totalWins.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		out.AvgLoss = totalLosses.Div(decimal.NewFromInt(int64(losses)))
	}
	if totalLosses.IsPositive() {
		out.ProfitFactor = totalWins.DivRound(totalLosses, ratioPlaces)
	}

	out.AvgHoldingMS, out.HoldingPairs = averageHolding(fills)
	return out
}

// averageHolding pairs each instrument's buys and sells index for index in
// time order and averages the absolute gap.
func averageHolding(fills []trade.Fill) (int64, int) {
	type legs struct {
		buys  []time.Time
		sells []time.Time
	}
	byInstrument := make(map[uint32]*legs, 8)
	for _, f := range ascending(fills) {
		l, ok := byInstrument[f.InstrumentID]
		if !ok {
			l = &legs{}
			byInstrument[f.InstrumentID] = l
		}
		switch f.Side {
		case trade.SideBuy:
			l.buys = append(l.buys, f.ExecutedAt)
		case trade.SideSell:
			l.sells = append(l.sells, f.ExecutedAt)
		}
	}

	var total time.Duration
	pairs := 0
	for _, l := range byInstrument {
		n := min(len(l.buys), len(l.sells))
		for i := 0; i < n; i++ {
			gap := l.sells[i].Sub(l.buys[i])
			if gap < 0 {
				gap = -gap
			}
			total += gap
			pairs++
		}
	}
	if pairs == 0 {
		return 0, 0
	}
	avg := decimal.NewFromInt(total.Milliseconds()).DivRound(decimal.NewFromInt(int64(pairs)), durationPlaces)
	return avg.IntPart(), pairs
}

func percent(part, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).DivRound(total, percentPlaces)
}

func ascending(fills []trade.Fill) []trade.Fill {
	out := make([]trade.Fill, len(fills))
	copy(out, fills)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExecutedAt.Before(out[j].ExecutedAt)
	})
	return out
}
