package indexer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coldbell/tradelens/backend/internal/analytics"
	"github.com/coldbell/tradelens/backend/internal/chain"
	"github.com/coldbell/tradelens/backend/internal/config"
	"github.com/coldbell/tradelens/backend/internal/decoder"
	"github.com/coldbell/tradelens/backend/internal/decoder/decodertest"
	"github.com/coldbell/tradelens/backend/internal/store"
	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/shopspring/decimal"
)

const testWallet = "11111111111111111111111111111111"

type fakeReader struct {
	txs       []chain.Transaction
	err       error
	lastUntil string
	calls     atomic.Int32
}

func (f *fakeReader) ListTransactions(_ context.Context, _ string, opts chain.ListOptions) ([]chain.Transaction, error) {
	f.calls.Add(1)
	f.lastUntil = opts.Until
	if f.err != nil {
		return nil, f.err
	}
	return f.txs, nil
}

type fakeStore struct {
	mu       sync.Mutex
	fills    map[string]trade.Fill
	status   map[string]store.SyncStatus
	sessions map[string][]analytics.SessionDay
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		fills:    make(map[string]trade.Fill),
		status:   make(map[string]store.SyncStatus),
		sessions: make(map[string][]analytics.SessionDay),
	}
}

func (f *fakeStore) UpsertFills(_ context.Context, fills []trade.Fill) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := 0
	for _, fill := range fills {
		if _, ok := f.fills[fill.Signature]; ok {
			continue
		}
		f.fills[fill.Signature] = fill
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) QueryFills(_ context.Context, wallet string, filter trade.Filter) ([]trade.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]trade.Fill, 0, len(f.fills))
	for _, fill := range f.fills {
		if fill.Wallet == wallet && filter.Matches(fill) {
			out = append(out, fill)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].ExecutedAt.Before(out[j].ExecutedAt)
		}
		return fillOrderLess(out[i], out[j])
	})
	return out, nil
}

func (f *fakeStore) GetSyncStatus(_ context.Context, wallet string) (store.SyncStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.status[wallet]
	if !ok {
		return store.SyncStatus{}, trade.ErrNotFound
	}
	return status, nil
}

func (f *fakeStore) MarkSyncing(_ context.Context, wallet, syncID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.status[wallet]
	status.Wallet, status.Status, status.LastSyncID, status.ErrorMessage = wallet, store.SyncSyncing, syncID, ""
	f.status[wallet] = status
	return nil
}

func (f *fakeStore) MarkSynced(_ context.Context, wallet, syncID, lastSignature string, inserted int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.status[wallet]
	status.Status, status.LastSyncID, status.LastSyncedAt = store.SyncIdle, syncID, at
	if lastSignature != "" {
		status.LastSignature = lastSignature
	}
	status.TotalTradesSynced += int64(inserted)
	f.status[wallet] = status
	return nil
}

func (f *fakeStore) MarkSyncFailed(_ context.Context, wallet, syncID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.status[wallet]
	status.Status, status.LastSyncID, status.ErrorMessage = store.SyncError, syncID, message
	f.status[wallet] = status
	return nil
}

func (f *fakeStore) UpsertSessions(_ context.Context, wallet string, days []analytics.SessionDay) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[wallet] = days
	return nil
}

func (f *fakeStore) ListSessions(_ context.Context, wallet string, _, _ int) ([]analytics.SessionDay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[wallet], nil
}

var (
	t0   = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	spot = decoder.TagSpotFillOrder
)

func fillLine(sell bool, instrument uint32, price, qty int64) string {
	return decodertest.Line(decodertest.FillOrder{
		Tag:        spot,
		Sell:       sell,
		Instrument: instrument,
		Price:      price,
		Qty:        qty,
	}.Bytes())
}

func newTestService(reader *fakeReader, fs *fakeStore) *Service {
	svc := NewService(Deps{Reader: reader, Store: fs}, Options{}, nil)
	svc.now = func() time.Time { return t0.Add(time.Hour) }
	return svc
}

func TestSyncSkipsMalformedLine(t *testing.T) {
	reader := &fakeReader{txs: []chain.Transaction{{
		Signature: "tx1",
		BlockTime: t0,
		LogLines: []string{
			"Program log: Instruction: Swap",
			fillLine(false, 1, 100_000_000, 1_000_000_000),
			decoder.ProgramDataPrefix + "!!!not-base64!!!",
			fillLine(false, 1, 101_000_000, 1_000_000_000),
			fillLine(true, 1, 102_000_000, 2_000_000_000),
		},
	}}}
	fs := newFakeStore()
	svc := newTestService(reader, fs)

	result, err := svc.Sync(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.InsertedCount != 3 || result.Fills != 3 || result.DecodeFailures != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.SyncID == "" {
		t.Fatalf("expected a sync id")
	}

	status := fs.status[testWallet]
	if status.Status != store.SyncIdle || status.LastSignature != "tx1" || status.TotalTradesSynced != 3 {
		t.Fatalf("unexpected status %+v", status)
	}
	if days := fs.sessions[testWallet]; len(days) != 1 || days[0].Trades != 3 {
		t.Fatalf("unexpected sessions %+v", days)
	}
	if fill, ok := fs.fills["tx1:0"]; !ok || fill.Symbol != "SOL/USDC" {
		t.Fatalf("expected symbol resolved from registry, got %+v", fill)
	}
}

func TestSyncIsIdempotentAndIncremental(t *testing.T) {
	reader := &fakeReader{txs: []chain.Transaction{
		{Signature: "tx2", BlockTime: t0.Add(time.Minute), LogLines: []string{fillLine(true, 2, 50_000_000, 1_000_000_000)}},
		{Signature: "tx1", BlockTime: t0, LogLines: []string{fillLine(false, 2, 40_000_000, 1_000_000_000)}},
	}}
	fs := newFakeStore()
	svc := newTestService(reader, fs)

	first, err := svc.Sync(context.Background(), testWallet)
	if err != nil || first.InsertedCount != 2 {
		t.Fatalf("first sync = %+v, %v", first, err)
	}
	second, err := svc.Sync(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.InsertedCount != 0 {
		t.Fatalf("re-sync inserted %d duplicates", second.InsertedCount)
	}
	if reader.lastUntil != "tx2" {
		t.Fatalf("second sync should page from last signature, got %q", reader.lastUntil)
	}
	if first.SyncID == second.SyncID {
		t.Fatalf("sync ids must differ")
	}
}

func TestSyncUpstreamFailureRecordsError(t *testing.T) {
	reader := &fakeReader{err: trade.Unavailable("get signatures for address", errors.New("dial tcp: refused"))}
	fs := newFakeStore()
	svc := newTestService(reader, fs)

	_, err := svc.Sync(context.Background(), testWallet)
	if !errors.Is(err, trade.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
	if status := fs.status[testWallet]; status.Status != store.SyncError || status.ErrorMessage == "" {
		t.Fatalf("expected error status, got %+v", status)
	}
}

func TestSyncRequiresWallet(t *testing.T) {
	svc := newTestService(&fakeReader{}, newFakeStore())
	if _, err := svc.Sync(context.Background(), "  "); !errors.Is(err, trade.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestSyncHeuristicOnlyWhenNoBinaryFills(t *testing.T) {
	reader := &fakeReader{txs: []chain.Transaction{
		{Signature: "bin", BlockTime: t0, LogLines: []string{
			fillLine(false, 1, 100_000_000, 1_000_000_000),
			"Program log: fill side=sell price=99 qty=1 instr=1",
		}},
		{Signature: "text", BlockTime: t0.Add(time.Minute), LogLines: []string{
			"Program log: fill side=sell price=105 qty=1 instr=1",
		}},
	}}
	fs := newFakeStore()
	svc := NewService(Deps{Reader: reader, Store: fs}, Options{HeuristicEnabled: true}, nil)

	result, err := svc.Sync(context.Background(), testWallet)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Fills != 2 || result.HeuristicFills != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if !fs.fills["text:0"].LowConfidence || fs.fills["bin:0"].LowConfidence {
		t.Fatalf("confidence flags wrong: %+v", fs.fills)
	}
}

func TestAnalyticsEnrichesBeforeFiltering(t *testing.T) {
	fs := newFakeStore()
	add := func(sig string, instrument uint32, symbol string, side trade.Side, qty, price string, minute int) {
		fs.fills[sig] = trade.Fill{
			Signature:    sig,
			TxSignature:  sig,
			Wallet:       testWallet,
			InstrumentID: instrument,
			Symbol:       symbol,
			Side:         side,
			MarketKind:   trade.MarketSpot,
			Quantity:     decimal.RequireFromString(qty),
			Price:        decimal.RequireFromString(price),
			ExecutedAt:   t0.Add(time.Duration(minute) * time.Minute),
		}
	}
	add("a", 1, "SOL/USDC", trade.SideBuy, "10", "100", 0)
	add("b", 1, "SOL/USDC", trade.SideSell, "10", "110", 10)
	add("c", 1, "SOL/USDC", trade.SideBuy, "5", "90", 20)
	add("d", 2, "BTC/USDC", trade.SideBuy, "1", "60000", 5)
	svc := newTestService(&fakeReader{}, fs)

	start := t0.Add(5 * time.Minute)
	bundle, err := svc.Analytics(context.Background(), testWallet, AnalyticsFilter{Symbol: "sol/usdc", StartDate: &start})
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if bundle.Core.TotalTrades != 2 {
		t.Fatalf("expected 2 filtered trades, got %d", bundle.Core.TotalTrades)
	}
	if !bundle.Core.TotalPnL.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected pnl from full history (100), got %s", bundle.Core.TotalPnL)
	}

	trades, err := svc.Trades(context.Background(), testWallet, trade.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(trades) != 2 || trades[0].Signature != "c" || trades[1].Signature != "b" {
		t.Fatalf("expected newest first [c b], got %+v", trades)
	}
	if !trades[1].RealizedPnL.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected enriched pnl on b, got %s", trades[1].RealizedPnL)
	}
}

func TestSubscribeReceivesSyncEvents(t *testing.T) {
	reader := &fakeReader{txs: []chain.Transaction{
		{Signature: "tx1", BlockTime: t0, LogLines: []string{fillLine(false, 1, 1_000_000, 1_000_000_000)}},
	}}
	svc := newTestService(reader, newFakeStore())

	events, cancel := svc.Subscribe(testWallet)
	defer cancel()
	other, cancelOther := svc.Subscribe("someone-else")
	defer cancelOther()

	if _, err := svc.Sync(context.Background(), testWallet); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Wallet != testWallet || ev.InsertedCount != 1 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no sync event delivered")
	}
	select {
	case ev := <-other:
		t.Fatalf("unrelated subscriber got %+v", ev)
	default:
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	reader := &fakeReader{}
	svc := NewService(Deps{Reader: reader, Store: newFakeStore()}, Options{
		Wallets:      []string{testWallet},
		PollInterval: time.Hour,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if reader.calls.Load() > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("initial sync never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestResolveOptionsUsesSyncConfig(t *testing.T) {
	cfg := config.SyncConfig{TxLimit: 100, DecodeConcurrency: 3, HeuristicEnabled: true}

	opts := resolveOptions(cfg, Options{})
	if opts.DecodeConcurrency != 3 || opts.TxLimit != 100 || !opts.HeuristicEnabled {
		t.Fatalf("resolved = %+v", opts)
	}

	opts = resolveOptions(cfg, Options{DecodeConcurrency: 2, TxLimit: 10})
	if opts.DecodeConcurrency != 2 || opts.TxLimit != 10 {
		t.Fatalf("explicit options overridden: %+v", opts)
	}
}
