package indexer

import (
	"context"
	"fmt"
	"sort"

	"github.com/coldbell/tradelens/backend/internal/chain"
	"github.com/coldbell/tradelens/backend/internal/correlator"
	"github.com/coldbell/tradelens/backend/internal/decoder"
	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// txOutcome is the decode and correlate result for one transaction.
type txOutcome struct {
	fills     []trade.Fill
	events    []decoder.Event
	failures  []decoder.Failure
	stats     correlator.Stats
	heuristic int
}

type decodeReport struct {
	Transactions   int
	Events         int
	DecodeFailures int
	HeuristicFills int
	Correlation    correlator.Stats
}

// decodeTransactions fans transactions out to a bounded worker group and
// returns their fills sorted ascending by execution time.
func (s *Service) decodeTransactions(ctx context.Context, wallet string, txs []chain.Transaction) ([]trade.Fill, decodeReport, error) {
	outcomes := make([]txOutcome, len(txs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.opts.DecodeConcurrency)
	for i, tx := range txs {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			outcomes[i] = s.decodeTransaction(wallet, tx)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, decodeReport{}, err
	}

	report := decodeReport{Transactions: len(txs)}
	fills := make([]trade.Fill, 0, len(txs))
	for i, outcome := range outcomes {
		for _, failure := range outcome.failures {
			s.logger.Debug("skipping undecodable log line",
				"signature", txs[i].Signature,
				"line", failure.Line,
				"err", failure.Err,
			)
		}
		for _, event := range outcome.events {
			s.metrics.IncDecodedEvent(eventKind(event))
		}
		report.Events += len(outcome.events)
		report.DecodeFailures += len(outcome.failures)
		report.HeuristicFills += outcome.heuristic
		report.Correlation = addStats(report.Correlation, outcome.stats)
		fills = append(fills, outcome.fills...)
	}

	sortFills(fills)
	return fills, report, nil
}

func (s *Service) decodeTransaction(wallet string, tx chain.Transaction) txOutcome {
	decoded := s.decoder.DecodeLogs(tx.LogLines)
	fills, stats := s.correlator.Correlate(correlator.Transaction{
		Signature:  tx.Signature,
		Wallet:     wallet,
		ExecutedAt: tx.BlockTime,
		Events:     decoded.Events,
	})
	out := txOutcome{
		fills:    fills,
		events:   decoded.Events,
		failures: decoded.Failures,
		stats:    stats,
	}
	if len(fills) == 0 && s.opts.HeuristicEnabled {
		out.fills = heuristicFills(wallet, tx, decoder.ScanHeuristic(tx.LogLines))
		out.heuristic = len(out.fills)
	}
	for i := range out.fills {
		if out.fills[i].Symbol == "" && s.symbols != nil {
			out.fills[i].Symbol = s.symbols.Symbol(out.fills[i].InstrumentID)
		}
	}
	return out
}

func heuristicFills(wallet string, tx chain.Transaction, found []decoder.HeuristicFill) []trade.Fill {
	out := make([]trade.Fill, 0, len(found))
	for _, h := range found {
		out = append(out, trade.Fill{
			Signature:     fmt.Sprintf("%s:%d", tx.Signature, len(out)),
			TxSignature:   tx.Signature,
			Wallet:        wallet,
			InstrumentID:  h.InstrumentID,
			Side:          h.Side,
			MarketKind:    h.MarketKind,
			OrderType:     trade.OrderUnknown,
			Price:         h.Price,
			Quantity:      h.Quantity,
			Fee:           h.Fee,
			RealizedPnL:   decimal.Zero,
			LowConfidence: true,
			ExecutedAt:    tx.BlockTime,
		})
	}
	return out
}

func sortFills(fills []trade.Fill) {
	sort.SliceStable(fills, func(i, j int) bool {
		if !fills[i].ExecutedAt.Equal(fills[j].ExecutedAt) {
			return fills[i].ExecutedAt.Before(fills[j].ExecutedAt)
		}
		return fillOrderLess(fills[i], fills[j])
	})
}

// fillOrderLess orders fills of the same instant by transaction, then by
// their position inside it ("tx:2" before "tx:10").
func fillOrderLess(a, b trade.Fill) bool {
	if a.TxSignature != b.TxSignature {
		return a.TxSignature < b.TxSignature
	}
	if len(a.Signature) != len(b.Signature) {
		return len(a.Signature) < len(b.Signature)
	}
	return a.Signature < b.Signature
}

func eventKind(event decoder.Event) string {
	switch event.(type) {
	case decoder.PlaceOrder:
		return "place_order"
	case decoder.FillOrder:
		return "fill"
	case decoder.Fee:
		return "fee"
	default:
		return "unknown"
	}
}

func addStats(a, b correlator.Stats) correlator.Stats {
	a.FromFill += b.FromFill
	a.FromContext += b.FromContext
	a.FromFallback += b.FromFallback
	a.FeesAttached += b.FeesAttached
	a.FeesOrphaned += b.FeesOrphaned
	a.FeesSkipped += b.FeesSkipped
	return a
}
