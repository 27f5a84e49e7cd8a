package indexer

import (
	"fmt"
	"log/slog"

	"github.com/coldbell/tradelens/backend/internal/chain"
	"github.com/coldbell/tradelens/backend/internal/config"
	"github.com/coldbell/tradelens/backend/internal/correlator"
	"github.com/coldbell/tradelens/backend/internal/decoder"
	"github.com/coldbell/tradelens/backend/internal/metrics"
	"github.com/coldbell/tradelens/backend/internal/registry"
	"github.com/coldbell/tradelens/backend/internal/store"
)

// Open wires the pipeline against Postgres and the configured RPC endpoint.
// The caller owns the returned service and must Close it.
func Open(cfg config.SyncConfig, opts Options, m *metrics.Metrics, logger *slog.Logger) (*Service, error) {
	fallback, err := correlator.ParseFallbackPolicy(cfg.InstrumentFallback)
	if err != nil {
		return nil, fmt.Errorf("init correlator: %w", err)
	}
	instruments, err := registry.Load(cfg.InstrumentsFile)
	if err != nil {
		return nil, fmt.Errorf("init registry: %w", err)
	}
	fillStore, err := store.New(cfg.DBDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	reader := chain.Dial(cfg.RPCURL, chain.Options{
		Commitment:        cfg.Commitment,
		RequestsPerSecond: cfg.RPCRequestsPerSecond,
		MaxConcurrency:    cfg.RPCMaxConcurrency,
		ProgramID:         cfg.ProgramID,
	}, logger)

	opts = resolveOptions(cfg, opts)

	logger.Info("sync pipeline configured",
		"rpc", cfg.RPCURL,
		"commitment", cfg.Commitment,
		"program_id", programLabel(cfg),
		"instrument_fallback", string(fallback),
		"price_decimals", cfg.PriceDecimals,
		"quantity_decimals", cfg.QuantityDecimals,
		"fee_decimals", cfg.FeeDecimals,
		"heuristic", opts.HeuristicEnabled,
		"decode_concurrency", opts.DecodeConcurrency,
		"instruments", len(instruments.List()),
	)

	return NewService(Deps{
		Reader: reader,
		Store:  fillStore,
		Decoder: decoder.New(decoder.Scales{
			PriceDecimals:    cfg.PriceDecimals,
			QuantityDecimals: cfg.QuantityDecimals,
			FeeDecimals:      cfg.FeeDecimals,
		}),
		Correlator: correlator.New(correlator.Options{
			Fallback:          fallback,
			DefaultInstrument: cfg.DefaultInstrument,
		}),
		Registry: instruments,
		Metrics:  m,
	}, opts, logger), nil
}

// resolveOptions fills unset per-process options from the sync config.
func resolveOptions(cfg config.SyncConfig, opts Options) Options {
	if opts.TxLimit <= 0 {
		opts.TxLimit = cfg.TxLimit
	}
	if opts.DecodeConcurrency <= 0 {
		opts.DecodeConcurrency = cfg.DecodeConcurrency
	}
	opts.HeuristicEnabled = opts.HeuristicEnabled || cfg.HeuristicEnabled
	return opts
}

func programLabel(cfg config.SyncConfig) string {
	if cfg.ProgramID.IsZero() {
		return "any"
	}
	return cfg.ProgramID.String()
}
