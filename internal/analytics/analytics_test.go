package analytics

import (
	"testing"
	"time"

	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2025, 3, 2, 14, 30, 0, 0, time.UTC) // Sunday

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mkFill(sig string, side trade.Side, price, qty, fee, pnl string, at time.Time) trade.Fill {
	return trade.Fill{
		Signature:    sig,
		InstrumentID: 1,
		Side:         side,
		MarketKind:   trade.MarketPerp,
		Price:        d(price),
		Quantity:     d(qty),
		Fee:          d(fee),
		RealizedPnL:  d(pnl),
		ExecutedAt:   at,
	}
}

type staticSymbols map[uint32]string

func (s staticSymbols) Symbol(id uint32) string {
	if sym, ok := s[id]; ok {
		return sym
	}
	return fallbackSymbol(id)
}

func TestLongShortBias(t *testing.T) {
	var fills []trade.Fill
	for i := 0; i < 6; i++ {
		fills = append(fills, mkFill("b", trade.SideBuy, "10", "1", "0", "0", t0))
	}
	for i := 0; i < 4; i++ {
		fills = append(fills, mkFill("s", trade.SideSell, "10", "1", "0", "0", t0))
	}

	mix := LongShort(fills)
	if !mix.Ratio.Equal(d("1.5")) {
		t.Fatalf("ratio = %s, want 1.5", mix.Ratio)
	}
	if mix.Bias != BiasBullish {
		t.Fatalf("bias = %s, want BULLISH", mix.Bias)
	}
	if !mix.LongPercent.Equal(d("60")) || !mix.ShortPercent.Equal(d("40")) {
		t.Fatalf("split = %s/%s, want 60/40", mix.LongPercent, mix.ShortPercent)
	}
	if !mix.LongVolume.Equal(d("60")) {
		t.Fatalf("long volume = %s, want 60", mix.LongVolume)
	}
}

func TestLongShortThresholds(t *testing.T) {
	tests := []struct {
		name        string
		buys, sells int
		want        Bias
	}{
		{name: "only buys", buys: 3, sells: 0, want: BiasBullish},
		{name: "balanced", buys: 5, sells: 5, want: BiasNeutral},
		{name: "exactly 1.2", buys: 6, sells: 5, want: BiasNeutral},
		{name: "bearish", buys: 1, sells: 2, want: BiasBearish},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fills []trade.Fill
			for i := 0; i < tt.buys; i++ {
				fills = append(fills, mkFill("b", trade.SideBuy, "1", "1", "0", "0", t0))
			}
			for i := 0; i < tt.sells; i++ {
				fills = append(fills, mkFill("s", trade.SideSell, "1", "1", "0", "0", t0))
			}
			if got := LongShort(fills).Bias; got != tt.want {
				t.Fatalf("bias = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCoreMetrics(t *testing.T) {
	fills := []trade.Fill{
		mkFill("a", trade.SideBuy, "100", "2", "0.5", "0", t0),
		mkFill("b", trade.SideSell, "110", "1", "0.25", "10", t0.Add(time.Minute)),
		mkFill("c", trade.SideSell, "90", "1", "0.25", "-10", t0.Add(2*time.Minute)),
		mkFill("e", trade.SideBuy, "50", "1", "0", "5", t0.Add(3*time.Minute)),
	}
	core := Core(fills)
	if !core.TotalPnL.Equal(d("5")) || !core.TotalFees.Equal(d("1")) || !core.NetPnL.Equal(d("4")) {
		t.Fatalf("unexpected totals: pnl=%s fees=%s net=%s", core.TotalPnL, core.TotalFees, core.NetPnL)
	}
	if !core.TotalVolume.Equal(d("450")) {
		t.Fatalf("volume = %s, want 450", core.TotalVolume)
	}
	if core.WinningTrades != 2 || core.LosingTrades != 1 || !core.WinRate.Equal(d("50")) {
		t.Fatalf("unexpected win stats: %+v", core)
	}
}

func TestRiskMetrics(t *testing.T) {
	fills := []trade.Fill{
		mkFill("a", trade.SideBuy, "1", "1", "0", "0", t0),
		mkFill("b", trade.SideSell, "1", "1", "0", "30", t0.Add(10*time.Second)),
		mkFill("c", trade.SideBuy, "1", "1", "0", "-5", t0.Add(20*time.Second)),
		mkFill("e", trade.SideSell, "1", "1", "0", "-15", t0.Add(50*time.Second)),
	}
	risk := Risk(fills)
	if !risk.LargestGain.Equal(d("30")) || !risk.LargestLoss.Equal(d("-15")) {
		t.Fatalf("extremes = %s/%s", risk.LargestGain, risk.LargestLoss)
	}
	if !risk.AvgWin.Equal(d("30")) || !risk.AvgLoss.Equal(d("10")) {
		t.Fatalf("averages = %s/%s", risk.AvgWin, risk.AvgLoss)
	}
	if !risk.ProfitFactor.Equal(d("1.5")) {
		t.Fatalf("profit factor = %s, want 1.5", risk.ProfitFactor)
	}
	// pairs: (0s,10s) and (20s,50s)
	if risk.HoldingPairs != 2 || risk.AvgHolding() != 20*time.Second {
		t.Fatalf("holding = %d pairs, %s", risk.HoldingPairs, risk.AvgHolding())
	}
}

func TestRiskProfitFactorWithoutLosses(t *testing.T) {
	risk := Risk([]trade.Fill{mkFill("a", trade.SideSell, "1", "1", "0", "3", t0)})
	if !risk.ProfitFactor.IsZero() {
		t.Fatalf("profit factor = %s, want 0", risk.ProfitFactor)
	}
}

func TestDrawdownNeverPositive(t *testing.T) {
	pnls := []string{"10", "-4", "-8", "5", "12", "-20", "3"}
	fills := make([]trade.Fill, 0, len(pnls))
	for i, p := range pnls {
		fills = append(fills, mkFill("x", trade.SideSell, "1", "1", "0", p, t0.Add(time.Duration(i)*time.Hour)))
	}

	report := Drawdown(fills)
	if len(report.Series) != len(pnls) {
		t.Fatalf("series length = %d", len(report.Series))
	}
	for i, point := range report.Series {
		if point.Drawdown.IsPositive() {
			t.Fatalf("point %d drawdown %s is positive", i, point.Drawdown)
		}
		if point.Drawdown.Abs().GreaterThan(report.MaxDrawdown) {
			t.Fatalf("point %d drawdown %s exceeds max %s", i, point.Drawdown, report.MaxDrawdown)
		}
	}
	// cumulative: 10 6 -2 3 15 -5 -2, peak 15 then -5 => 20
	if !report.MaxDrawdown.Equal(d("20")) || !report.CurrentDrawdown.Equal(d("17")) {
		t.Fatalf("max/current = %s/%s, want 20/17", report.MaxDrawdown, report.CurrentDrawdown)
	}

	series := Series(fills)
	if !series[len(series)-1].CumulativePnL.Equal(d("-2")) {
		t.Fatalf("final cumulative = %s", series[len(series)-1].CumulativePnL)
	}
}

func TestFeeComposition(t *testing.T) {
	spot := mkFill("a", trade.SideBuy, "1", "1", "1", "0", t0)
	spot.MarketKind = trade.MarketSpot
	spot.InstrumentID = 2
	perp := mkFill("b", trade.SideBuy, "1", "1", "-3", "0", t0)

	fees := Fees([]trade.Fill{spot, perp}, staticSymbols{1: "SOL-PERP"})
	if !fees.TotalFees.Equal(d("4")) {
		t.Fatalf("total = %s, want 4", fees.TotalFees)
	}
	if !fees.Market(trade.MarketPerp).Equal(d("3")) || !fees.Market(trade.MarketSpot).Equal(d("1")) {
		t.Fatalf("by market = %+v", fees.ByMarket)
	}
	if len(fees.ByInstrument) != 2 || fees.ByInstrument[0].Symbol != "SOL-PERP" || !fees.ByInstrument[0].Percent.Equal(d("75")) {
		t.Fatalf("by instrument = %+v", fees.ByInstrument)
	}
	if fees.ByInstrument[1].Symbol != "Instrument #2" {
		t.Fatalf("fallback symbol = %q", fees.ByInstrument[1].Symbol)
	}
}

func TestSessionsAndCalendar(t *testing.T) {
	fills := []trade.Fill{
		mkFill("a", trade.SideSell, "1", "1", "0", "10", t0),
		mkFill("b", trade.SideSell, "1", "1", "0", "-4", t0.Add(time.Hour)),
		mkFill("c", trade.SideSell, "1", "1", "0", "-7", t0.Add(24*time.Hour)),
		mkFill("e", trade.SideSell, "1", "1", "0", "2", t0.AddDate(0, 1, 0)),
	}

	sessions := Sessions(fills)
	if sessions.TotalSessions != 3 || sessions.ProfitableSessions != 2 || sessions.LosingSessions != 1 {
		t.Fatalf("unexpected session counts: %+v", sessions)
	}
	if sessions.Days[0].Date != "2025-03-02" || sessions.Days[0].Trades != 2 || !sessions.Days[0].WinRate.Equal(d("50")) {
		t.Fatalf("first day = %+v", sessions.Days[0])
	}
	if sessions.Best.Date != "2025-03-02" || sessions.Worst.Date != "2025-03-03" {
		t.Fatalf("best/worst = %s/%s", sessions.Best.Date, sessions.Worst.Date)
	}

	cal := Calendar(fills)
	if len(cal.ByHour) != 24 || len(cal.ByWeekday) != 7 {
		t.Fatalf("bucket sizes = %d/%d", len(cal.ByHour), len(cal.ByWeekday))
	}
	if cal.ByHour[14].Label != "14:00" || cal.ByHour[14].Trades != 3 {
		t.Fatalf("hour 14 = %+v", cal.ByHour[14])
	}
	if cal.ByWeekday[0].Trades != 2 || !cal.ByWeekday[0].AvgPnL.Equal(d("3")) {
		t.Fatalf("sunday = %+v", cal.ByWeekday[0])
	}
	if len(cal.ByMonth) != 2 || cal.ByMonth[0].Label != "2025-03" || cal.ByMonth[1].Label != "2025-04" {
		t.Fatalf("months = %+v", cal.ByMonth)
	}
}

func TestSessionFeesUseMagnitude(t *testing.T) {
	fills := []trade.Fill{
		mkFill("rebate", trade.SideBuy, "1", "1", "-0.5", "0", t0),
		mkFill("charge", trade.SideSell, "1", "1", "1", "2", t0.Add(time.Hour)),
	}

	sessions := Sessions(fills)
	if len(sessions.Days) != 1 {
		t.Fatalf("days = %d, want 1", len(sessions.Days))
	}
	if !sessions.Days[0].Fees.Equal(d("1.5")) {
		t.Fatalf("session fees = %s, want 1.5", sessions.Days[0].Fees)
	}
	if total := Fees(fills, staticSymbols{}).TotalFees; !sessions.Days[0].Fees.Equal(total) {
		t.Fatalf("session fees %s disagree with fee composition %s", sessions.Days[0].Fees, total)
	}
}

func TestJournalFormatting(t *testing.T) {
	fills := []trade.Fill{
		mkFill("old", trade.SideBuy, "1234.5", "2", "-0.0025", "0", t0),
		mkFill("new", trade.SideSell, "1300", "0.5", "0.001", "-12.345", t0.Add(time.Minute)),
	}
	rows := Journal(fills, staticSymbols{1: "SOL/USDC"})
	if len(rows) != 2 || rows[0].Signature != "new" {
		t.Fatalf("expected newest first, got %+v", rows)
	}
	older := rows[1]
	if older.Price != "$1,234.50" || older.Quantity != "2.0000" || older.PnL != "+$0.00" || older.Fee != "$0.002500" {
		t.Fatalf("unexpected formatting: %+v", older)
	}
	if older.Class != PnLNeutral || older.BaseSymbol != "SOL" || older.Date != "Mar 02, 14:30:00" {
		t.Fatalf("unexpected row: %+v", older)
	}
	if rows[0].PnL != "-$12.35" || rows[0].Class != PnLLoss {
		t.Fatalf("unexpected loss row: %+v", rows[0])
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := FormatUSD(d("1234567.891")); got != "$1,234,567.89" {
		t.Fatalf("FormatUSD = %q", got)
	}
	if got := FormatUSD(d("999")); got != "$999.00" {
		t.Fatalf("FormatUSD = %q", got)
	}
	if got := FormatSignedUSD(d("123456")); got != "+$123,456.00" {
		t.Fatalf("FormatSignedUSD = %q", got)
	}
	for in, want := range map[string]string{"BTC-PERP": "BTC", "ETH/USDC": "ETH", "BONK": "BONK"} {
		if got := BaseSymbol(in); got != want {
			t.Fatalf("BaseSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEmptyInputs(t *testing.T) {
	core := Core(nil)
	if core.TotalTrades != 0 || !core.WinRate.IsZero() {
		t.Fatalf("core = %+v", core)
	}
	if mix := LongShort(nil); mix.Bias != BiasNeutral || !mix.Ratio.IsZero() {
		t.Fatalf("long/short = %+v", mix)
	}
	if risk := Risk(nil); !risk.ProfitFactor.IsZero() || risk.HoldingPairs != 0 {
		t.Fatalf("risk = %+v", risk)
	}
	if s := Series(nil); len(s) != 0 {
		t.Fatalf("series = %+v", s)
	}
	if dd := Drawdown(nil); !dd.MaxDrawdown.IsZero() || len(dd.Series) != 0 {
		t.Fatalf("drawdown = %+v", dd)
	}
	if fees := Fees(nil, nil); !fees.TotalFees.IsZero() || len(fees.ByMarket) != 0 {
		t.Fatalf("fees = %+v", fees)
	}
	if s := Sessions(nil); s.TotalSessions != 0 || s.Best != nil || s.Days == nil {
		t.Fatalf("sessions = %+v", s)
	}
	if c := Calendar(nil); len(c.ByHour) != 0 || c.ByMonth == nil {
		t.Fatalf("calendar = %+v", c)
	}
	if rows := Journal(nil, nil); rows == nil || len(rows) != 0 {
		t.Fatalf("journal = %+v", rows)
	}
	bundle := Compute("w", nil, nil, t0)
	if bundle.Wallet != "w" || bundle.Core.TotalTrades != 0 {
		t.Fatalf("bundle = %+v", bundle)
	}
}
