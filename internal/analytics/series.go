package analytics

import (
	"time"

	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/shopspring/decimal"
)

type SeriesPoint struct {
	Timestamp     time.Time       `json:"timestamp"`
	Signature     string          `json:"signature"`
	TradePnL      decimal.Decimal `json:"tradePnl"`
	CumulativePnL decimal.Decimal `json:"cumulativePnl"`
}

// Series is the cumulative realized P&L curve, one point per fill.
func Series(fills []trade.Fill) []SeriesPoint {
	out := make([]SeriesPoint, 0, len(fills))
	cumulative := decimal.Zero
	for _, f := range ascending(fills) {
		cumulative = cumulative.Add(f.RealizedPnL)
		out = append(out, SeriesPoint{
			Timestamp:     f.ExecutedAt,
			Signature:     f.Signature,
			TradePnL:      f.RealizedPnL,
			CumulativePnL: cumulative,
		})
	}
	return out
}

type DrawdownPoint struct {
	Timestamp time.Time `json:"timestamp"`
	// Drawdown is never positive so it can be drawn under the P&L curve.
	Drawdown decimal.Decimal `json:"drawdown"`
	Peak     decimal.Decimal `json:"peak"`
}

type DrawdownReport struct {
	MaxDrawdown     decimal.Decimal `json:"maxDrawdown"`
	CurrentDrawdown decimal.Decimal `json:"currentDrawdown"`
	Series          []DrawdownPoint `json:"series"`
}

func Drawdown(fills []trade.Fill) DrawdownReport {
	out := DrawdownReport{
		MaxDrawdown:     decimal.Zero,
		CurrentDrawdown: decimal.Zero,
		Series:          make([]DrawdownPoint, 0, len(fills)),
	}

	peak := decimal.Zero
	for _, point := range Series(fills) {
		if point.CumulativePnL.GreaterThan(peak) {
			peak = point.CumulativePnL
		}
		drawdown := peak.Sub(point.CumulativePnL)
		if drawdown.GreaterThan(out.MaxDrawdown) {
			out.MaxDrawdown = drawdown
		}
		out.CurrentDrawdown = drawdown
		out.Series = append(out.Series, DrawdownPoint{
			Timestamp: point.Timestamp,
			Drawdown:  drawdown.Neg(),
			Peak:      peak,
		})
	}
	return out
}
