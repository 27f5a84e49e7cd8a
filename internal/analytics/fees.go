package analytics

import (
	"sort"

	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/shopspring/decimal"
)

// SymbolResolver names an instrument for display.
type SymbolResolver interface {
	Symbol(instrumentID uint32) string
}

type FeeBucket struct {
	Key     string          `json:"key"`
	Fees    decimal.Decimal `json:"fees"`
	Percent decimal.Decimal `json:"percent"`
}

type InstrumentFees struct {
	InstrumentID uint32          `json:"instrumentId"`
	Symbol       string          `json:"symbol"`
	Fees         decimal.Decimal `json:"fees"`
	Percent      decimal.Decimal `json:"percent"`
}

type FeeComposition struct {
	TotalFees    decimal.Decimal  `json:"totalFees"`
	ByMarket     []FeeBucket      `json:"byMarket"`
	ByInstrument []InstrumentFees `json:"byInstrument"`
}

// Fees splits absolute fees by market kind and by instrument. Instrument
// buckets are ordered by fee, largest first.
func Fees(fills []trade.Fill, symbols SymbolResolver) FeeComposition {
	out := FeeComposition{
		TotalFees:    decimal.Zero,
		ByMarket:     []FeeBucket{},
		ByInstrument: []InstrumentFees{},
	}
	if len(fills) == 0 {
		return out
	}

	byMarket := map[trade.MarketKind]decimal.Decimal{
		trade.MarketSpot: decimal.Zero,
		trade.MarketPerp: decimal.Zero,
	}
	byInstrument := make(map[uint32]*InstrumentFees, 8)
	for _, f := range fills {
		fee := f.Fee.Abs()
		out.TotalFees = out.TotalFees.Add(fee)
		byMarket[f.MarketKind] = byMarket[f.MarketKind].Add(fee)

		bucket, ok := byInstrument[f.InstrumentID]
		if !ok {
			bucket = &InstrumentFees{
				InstrumentID: f.InstrumentID,
				Symbol:       symbolFor(f, symbols),
				Fees:         decimal.Zero,
			}
			byInstrument[f.InstrumentID] = bucket
		}
		bucket.Fees = bucket.Fees.Add(fee)
	}

	for _, kind := range []trade.MarketKind{trade.MarketSpot, trade.MarketPerp} {
		out.ByMarket = append(out.ByMarket, FeeBucket{
			Key:     string(kind),
			Fees:    byMarket[kind],
			Percent: percent(byMarket[kind], out.TotalFees),
		})
	}

	for _, bucket := range byInstrument {
		bucket.Percent = percent(bucket.Fees, out.TotalFees)
		out.ByInstrument = append(out.ByInstrument, *bucket)
	}
	sort.Slice(out.ByInstrument, func(i, j int) bool {
		a, b := out.ByInstrument[i], out.ByInstrument[j]
		if cmp := a.Fees.Cmp(b.Fees); cmp != 0 {
			return cmp > 0
		}
		return a.InstrumentID < b.InstrumentID
	})
	return out
}

func (c FeeComposition) Market(kind trade.MarketKind) decimal.Decimal {
	for _, bucket := range c.ByMarket {
		if bucket.Key == string(kind) {
			return bucket.Fees
		}
	}
	return decimal.Zero
}

func symbolFor(f trade.Fill, symbols SymbolResolver) string {
	if f.Symbol != "" {
		return f.Symbol
	}
	if symbols != nil {
		return symbols.Symbol(f.InstrumentID)
	}
	return fallbackSymbol(f.InstrumentID)
}
