package analytics

import (
	"time"

	"github.com/coldbell/tradelens/backend/internal/trade"
)

// Bundle is everything the dashboard renders for one wallet.
type Bundle struct {
	Wallet      string         `json:"wallet"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Core        CoreMetrics    `json:"core"`
	LongShort   LongShortMix   `json:"longShort"`
	Risk        RiskMetrics    `json:"risk"`
	Series      []SeriesPoint  `json:"series"`
	Drawdown    DrawdownReport `json:"drawdown"`
	Fees        FeeComposition `json:"fees"`
	Sessions    SessionReport  `json:"sessions"`
	Calendar    CalendarReport `json:"calendar"`
	Journal     []JournalRow   `json:"journal"`
}

// Compute runs every aggregate over fills that already carry realized P&L.
func Compute(wallet string, fills []trade.Fill, symbols SymbolResolver, now time.Time) Bundle {
	return Bundle{
		Wallet:      wallet,
		GeneratedAt: now.UTC(),
		Core:        Core(fills),
		LongShort:   LongShort(fills),
		Risk:        Risk(fills),
		Series:      Series(fills),
		Drawdown:    Drawdown(fills),
		Fees:        Fees(fills, symbols),
		Sessions:    Sessions(fills),
		Calendar:    Calendar(fills),
		Journal:     Journal(fills, symbols),
	}
}
