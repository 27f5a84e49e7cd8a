package analytics

import (
	"fmt"
	"strings"

	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/shopspring/decimal"
)

type PnLClass string

const (
	PnLProfit  PnLClass = "profit"
	PnLLoss    PnLClass = "loss"
	PnLNeutral PnLClass = "neutral"
)

const journalDateLayout = "Jan 02, 15:04:05"

type JournalRow struct {
	Signature    string           `json:"signature"`
	InstrumentID uint32           `json:"instrumentId"`
	Symbol       string           `json:"symbol"`
	BaseSymbol   string           `json:"baseSymbol"`
	Side         trade.Side       `json:"side"`
	MarketKind   trade.MarketKind `json:"marketKind"`
	Price        string           `json:"price"`
	Quantity     string           `json:"quantity"`
	PnL          string           `json:"pnl"`
	Fee          string           `json:"fee"`
	Date         string           `json:"date"`
	Class        PnLClass         `json:"class"`
}

// Journal renders fills as display rows, newest first.
func Journal(fills []trade.Fill, symbols SymbolResolver) []JournalRow {
	ordered := ascending(fills)
	out := make([]JournalRow, 0, len(ordered))
	for i := len(ordered) - 1; i >= 0; i-- {
		f := ordered[i]
		symbol := symbolFor(f, symbols)
		out = append(out, JournalRow{
			Signature:    f.Signature,
			InstrumentID: f.InstrumentID,
			Symbol:       symbol,
			BaseSymbol:   BaseSymbol(symbol),
			Side:         f.Side,
			MarketKind:   f.MarketKind,
			Price:        FormatUSD(f.Price),
			Quantity:     f.Quantity.StringFixed(4),
			PnL:          FormatSignedUSD(f.RealizedPnL),
			Fee:          "$" + f.Fee.Abs().StringFixed(6),
			Date:         f.ExecutedAt.UTC().Format(journalDateLayout),
			Class:        Classify(f.RealizedPnL),
		})
	}
	return out
}

func Classify(pnl decimal.Decimal) PnLClass {
	switch pnl.Sign() {
	case 1:
		return PnLProfit
	case -1:
		return PnLLoss
	default:
		return PnLNeutral
	}
}

// BaseSymbol shortens "SOL/USDC" or "SOL-PERP" to "SOL".
func BaseSymbol(symbol string) string {
	if head, _, ok := strings.Cut(symbol, "/"); ok {
		return head
	}
	if head, _, ok := strings.Cut(symbol, "-"); ok {
		return head
	}
	return symbol
}

// FormatUSD renders an amount as "$1,234.56".
func FormatUSD(v decimal.Decimal) string {
	if v.IsNegative() {
		return "-$" + groupThousands(v.Abs().StringFixed(2))
	}
	return "$" + groupThousands(v.StringFixed(2))
}

// FormatSignedUSD always carries a sign: "+$12.00", "-$3.50".
func FormatSignedUSD(v decimal.Decimal) string {
	if v.IsNegative() {
		return FormatUSD(v)
	}
	return "+" + FormatUSD(v)
}

func groupThousands(fixed string) string {
	whole, frac, hasFrac := strings.Cut(fixed, ".")
	if len(whole) <= 3 {
		return fixed
	}
	var b strings.Builder
	lead := len(whole) % 3
	if lead > 0 {
		b.WriteString(whole[:lead])
	}
	for i := lead; i < len(whole); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(whole[i : i+3])
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

func fallbackSymbol(id uint32) string {
	return fmt.Sprintf("Instrument #%d", id)
}
