package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/coldbell/tradelens/backend/internal/analytics"
	"github.com/coldbell/tradelens/backend/internal/chain"
	"github.com/coldbell/tradelens/backend/internal/correlator"
	"github.com/coldbell/tradelens/backend/internal/decoder"
	"github.com/coldbell/tradelens/backend/internal/ledger"
	"github.com/coldbell/tradelens/backend/internal/metrics"
	"github.com/coldbell/tradelens/backend/internal/registry"
	"github.com/coldbell/tradelens/backend/internal/store"
	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/google/uuid"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

type TransactionReader interface {
	ListTransactions(ctx context.Context, wallet string, opts chain.ListOptions) ([]chain.Transaction, error)
}

type FillStore interface {
	UpsertFills(ctx context.Context, fills []trade.Fill) (int, error)
	QueryFills(ctx context.Context, wallet string, filter trade.Filter) ([]trade.Fill, error)
	GetSyncStatus(ctx context.Context, wallet string) (store.SyncStatus, error)
	MarkSyncing(ctx context.Context, wallet, syncID string) error
	MarkSynced(ctx context.Context, wallet, syncID, lastSignature string, inserted int, at time.Time) error
	MarkSyncFailed(ctx context.Context, wallet, syncID, message string) error
	UpsertSessions(ctx context.Context, wallet string, days []analytics.SessionDay) error
	ListSessions(ctx context.Context, wallet string, limit, offset int) ([]analytics.SessionDay, error)
}

type Options struct {
	TxLimit           int
	DecodeConcurrency int
	HeuristicEnabled  bool
	Wallets           []string
	PollInterval      time.Duration
}

type Deps struct {
	Reader     TransactionReader
	Store      FillStore
	Decoder    *decoder.Decoder
	Correlator *correlator.Correlator
	Registry   *registry.Registry
	Metrics    *metrics.Metrics
}

type Service struct {
	reader     TransactionReader
	store      FillStore
	decoder    *decoder.Decoder
	correlator *correlator.Correlator
	registry   *registry.Registry
	symbols    analytics.SymbolResolver
	metrics    *metrics.Metrics
	opts       Options
	logger     *slog.Logger
	hub        *hub
	now        func() time.Time
}

func NewService(deps Deps, opts Options, logger *slog.Logger) *Service {
	if opts.TxLimit <= 0 {
		opts.TxLimit = 100
	}
	if opts.DecodeConcurrency <= 0 {
		opts.DecodeConcurrency = 8
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Minute
	}
	if deps.Decoder == nil {
		deps.Decoder = decoder.New(decoder.DefaultScales())
	}
	if deps.Correlator == nil {
		deps.Correlator = correlator.New(correlator.Options{})
	}
	if deps.Registry == nil {
		deps.Registry = registry.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		reader:     deps.Reader,
		store:      deps.Store,
		decoder:    deps.Decoder,
		correlator: deps.Correlator,
		registry:   deps.Registry,
		symbols:    deps.Registry,
		metrics:    deps.Metrics,
		opts:       opts,
		logger:     logger,
		hub:        newHub(),
		now:        time.Now,
	}
}

func (s *Service) Close() error {
	if closer, ok := s.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

type SyncResult struct {
	SyncID         string           `json:"syncId"`
	Wallet         string           `json:"wallet"`
	InsertedCount  int              `json:"insertedCount"`
	Transactions   int              `json:"transactions"`
	Fills          int              `json:"fills"`
	DecodeFailures int              `json:"decodeFailures"`
	HeuristicFills int              `json:"heuristicFills"`
	Correlation    correlator.Stats `json:"-"`
}

// Sync pulls new transactions for the wallet, persists their fills and
// refreshes the wallet's session rollup. Re-running it is safe: fills are
// keyed by signature.
func (s *Service) Sync(ctx context.Context, wallet string) (SyncResult, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return SyncResult{}, fmt.Errorf("sync: %w: wallet is required", trade.ErrInvalidArgument)
	}

	started := s.now()
	result := SyncResult{SyncID: uuid.NewString(), Wallet: wallet}
	logger := s.logger.With("sync_id", result.SyncID, "wallet", wallet)

	err := s.sync(ctx, logger, &result)
	status := "ok"
	if err != nil {
		status = "error"
		if markErr := s.store.MarkSyncFailed(context.WithoutCancel(ctx), wallet, result.SyncID, err.Error()); markErr != nil {
			logger.Error("failed to record sync failure", "err", markErr)
		}
		logger.Error("sync failed", "err", err)
	}
	s.metrics.ObserveSync(status, s.now().Sub(started))
	if err != nil {
		return result, err
	}

	logger.Info("sync complete",
		"transactions", result.Transactions,
		"fills", result.Fills,
		"inserted", result.InsertedCount,
		"decode_failures", result.DecodeFailures,
		"heuristic_fills", result.HeuristicFills,
		"duration", s.now().Sub(started).String(),
	)
	s.hub.publish(SyncEvent{Wallet: wallet, SyncID: result.SyncID, InsertedCount: result.InsertedCount})
	return result, nil
}

func (s *Service) sync(ctx context.Context, logger *slog.Logger, result *SyncResult) error {
	wallet := result.Wallet

	var until string
	status, err := s.store.GetSyncStatus(ctx, wallet)
	switch {
	case err == nil:
		until = status.LastSignature
	case errors.Is(err, trade.ErrNotFound):
	default:
		return fmt.Errorf("load sync status: %w", err)
	}

	if err := s.store.MarkSyncing(ctx, wallet, result.SyncID); err != nil {
		return fmt.Errorf("mark syncing: %w", err)
	}

	txs, err := s.reader.ListTransactions(ctx, wallet, chain.ListOptions{Limit: s.opts.TxLimit, Until: until})
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}
	s.metrics.AddTransactionsRead(len(txs))
	logger.Debug("fetched transactions", "count", len(txs), "until", until)

	fills, report, err := s.decodeTransactions(ctx, wallet, txs)
	if err != nil {
		return fmt.Errorf("decode transactions: %w", err)
	}
	result.Transactions = report.Transactions
	result.Fills = len(fills)
	result.DecodeFailures = report.DecodeFailures
	result.HeuristicFills = report.HeuristicFills
	result.Correlation = report.Correlation
	s.recordDecodeMetrics(report)
	if report.Correlation.FromFallback > 0 {
		logger.Warn("fills resolved by instrument fallback", "count", report.Correlation.FromFallback)
	}

	inserted, err := s.store.UpsertFills(ctx, fills)
	if err != nil {
		return fmt.Errorf("persist fills: %w", err)
	}
	result.InsertedCount = inserted
	s.metrics.AddFillsInserted(inserted)

	history, err := s.store.QueryFills(ctx, wallet, trade.Filter{})
	if err != nil {
		return fmt.Errorf("reload fills: %w", err)
	}
	sessions := analytics.Sessions(ledger.Enrich(history))
	if err := s.store.UpsertSessions(ctx, wallet, sessions.Days); err != nil {
		return fmt.Errorf("persist sessions: %w", err)
	}

	lastSignature := ""
	if len(txs) > 0 {
		lastSignature = txs[0].Signature
	}
	if err := s.store.MarkSynced(ctx, wallet, result.SyncID, lastSignature, inserted, s.now()); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

func (s *Service) recordDecodeMetrics(report decodeReport) {
	s.metrics.AddDecodeFailures(report.DecodeFailures)
	s.metrics.AddHeuristicFills(report.HeuristicFills)
	s.metrics.AddInstrumentSource("fill", report.Correlation.FromFill)
	s.metrics.AddInstrumentSource("context", report.Correlation.FromContext)
	s.metrics.AddInstrumentSource("fallback", report.Correlation.FromFallback)
	s.metrics.AddFeeEvents("attached", report.Correlation.FeesAttached)
	s.metrics.AddFeeEvents("orphaned", report.Correlation.FeesOrphaned)
	s.metrics.AddFeeEvents("skipped", report.Correlation.FeesSkipped)
}

// AnalyticsFilter narrows the fills an analytics bundle is computed over.
// Realized P&L is always computed over the full history first.
type AnalyticsFilter struct {
	Symbol    string
	StartDate *time.Time
	EndDate   *time.Time
}

func (s *Service) Analytics(ctx context.Context, wallet string, filter AnalyticsFilter) (analytics.Bundle, error) {
	fills, err := s.enrichedHistory(ctx, wallet, trade.Filter{
		Symbol: filter.Symbol,
		Start:  filter.StartDate,
		End:    filter.EndDate,
	})
	if err != nil {
		return analytics.Bundle{}, err
	}
	return analytics.Compute(strings.TrimSpace(wallet), fills, s.symbols, s.now()), nil
}

// Trades returns enriched fills newest first.
func (s *Service) Trades(ctx context.Context, wallet string, filter trade.Filter) ([]trade.Fill, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	filter.Limit, filter.Offset = 0, 0

	fills, err := s.enrichedHistory(ctx, wallet, filter)
	if err != nil {
		return nil, err
	}
	out := make([]trade.Fill, 0, min(limit, len(fills)))
	for i := len(fills) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, fills[i])
	}
	return out, nil
}

func (s *Service) SyncStatus(ctx context.Context, wallet string) (store.SyncStatus, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return store.SyncStatus{}, fmt.Errorf("sync status: %w: wallet is required", trade.ErrInvalidArgument)
	}
	return s.store.GetSyncStatus(ctx, wallet)
}

func (s *Service) Sessions(ctx context.Context, wallet string, limit, offset int) ([]analytics.SessionDay, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("sessions: %w: wallet is required", trade.ErrInvalidArgument)
	}
	return s.store.ListSessions(ctx, wallet, limit, offset)
}

func (s *Service) Instruments() []registry.Instrument {
	return s.registry.List()
}

// Subscribe delivers an event after every successful sync of wallet.
func (s *Service) Subscribe(wallet string) (<-chan SyncEvent, func()) {
	return s.hub.subscribe(wallet)
}

func (s *Service) enrichedHistory(ctx context.Context, wallet string, filter trade.Filter) ([]trade.Fill, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("load fills: %w: wallet is required", trade.ErrInvalidArgument)
	}
	history, err := s.store.QueryFills(ctx, wallet, trade.Filter{})
	if err != nil {
		return nil, fmt.Errorf("load fills: %w", err)
	}
	for i := range history {
		if history[i].Symbol == "" {
			history[i].Symbol = s.symbols.Symbol(history[i].InstrumentID)
		}
	}

	enriched := ledger.Enrich(history)
	out := enriched[:0]
	for _, f := range enriched {
		if filter.Matches(f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Run re-syncs every configured wallet on a fixed interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("failed to close store", "err", err)
		}
	}()

	s.logger.Info("indexer started",
		"wallets", len(s.opts.Wallets),
		"poll_interval", s.opts.PollInterval.String(),
		"tx_limit", s.opts.TxLimit,
	)
	if len(s.opts.Wallets) == 0 {
		s.logger.Warn("no wallets configured; waiting for shutdown")
	}

	s.syncAll(ctx)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("indexer stopped")
			return nil
		case <-ticker.C:
			s.syncAll(ctx)
		}
	}
}

func (s *Service) syncAll(ctx context.Context) {
	for _, wallet := range s.opts.Wallets {
		if ctx.Err() != nil {
			return
		}
		// Sync logs its own failures; one bad wallet does not stop the round.
		_, _ = s.Sync(ctx, wallet)
	}
}

func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
