package decoder

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/shopspring/decimal"
)

const programLogPrefix = "Program log: "

var (
	heuristicFillPattern = regexp.MustCompile(`(?i)\bfill\b`)
	heuristicKVPattern   = regexp.MustCompile(`(?i)\b(side|price|qty|quantity|instr|instrument|fee|market)=([^\s,]+)`)
)

// HeuristicFill is a fill recovered from human readable program logs. It is
// lower confidence than a binary record and is only used for transactions
// that produced no binary fills.
type HeuristicFill struct {
	Line         int
	MarketKind   trade.MarketKind
	InstrumentID uint32
	Side         trade.Side
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	Fee          decimal.Decimal
}

// ScanHeuristic looks for lines such as
// "Program log: fill side=sell price=101.5 qty=2 instr=1 fee=0.01".
func ScanHeuristic(lines []string) []HeuristicFill {
	var out []HeuristicFill
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, programLogPrefix) {
			continue
		}
		body := strings.TrimPrefix(trimmed, programLogPrefix)
		if !heuristicFillPattern.MatchString(body) {
			continue
		}

		fill := HeuristicFill{Line: i, MarketKind: trade.MarketSpot}
		var haveSide, havePrice, haveQty bool
		for _, match := range heuristicKVPattern.FindAllStringSubmatch(body, -1) {
			key, value := strings.ToLower(match[1]), match[2]
			switch key {
			case "side":
				fill.Side, haveSide = trade.ParseSide(value)
			case "price":
				if v, err := decimal.NewFromString(value); err == nil {
					fill.Price, havePrice = v.Abs(), true
				}
			case "qty", "quantity":
				if v, err := decimal.NewFromString(value); err == nil {
					fill.Quantity, haveQty = v.Abs(), true
				}
			case "instr", "instrument":
				if v, err := strconv.ParseUint(value, 10, 32); err == nil {
					fill.InstrumentID = uint32(v)
				}
			case "fee":
				if v, err := decimal.NewFromString(value); err == nil {
					fill.Fee = v
				}
			case "market":
				if kind, ok := trade.ParseMarketKind(value); ok {
					fill.MarketKind = kind
				}
			}
		}
		if !haveSide || !havePrice || !haveQty || fill.Quantity.IsZero() {
			continue
		}
		out = append(out, fill)
	}
	return out
}
