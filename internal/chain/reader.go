// Package chain reads a wallet's transactions and their program logs from a
// Solana JSON-RPC endpoint.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultLimit          = 100
	maxSignaturesPerQuery = 1000
)

// RPC is the subset of *rpc.Client the reader needs.
type RPC interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

var _ RPC = (*rpc.Client)(nil)

type Transaction struct {
	Signature string
	Slot      uint64
	BlockTime time.Time
	LogLines  []string
}

type Options struct {
	Commitment        rpc.CommitmentType
	RequestsPerSecond float64
	MaxConcurrency    int
	// ProgramID, when set, drops transactions that never invoke the program.
	ProgramID solana.PublicKey
}

type ListOptions struct {
	Limit int
	// Until stops paging at this signature (exclusive), for incremental sync.
	Until string
}

type Reader struct {
	rpc     RPC
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewReader(client RPC, opts Options, logger *slog.Logger) *Reader {
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	limit := rate.Inf
	burst := opts.MaxConcurrency
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = max(1, int(opts.RequestsPerSecond))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		rpc:     client,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Dial builds a reader against an RPC endpoint URL.
func Dial(endpoint string, opts Options, logger *slog.Logger) *Reader {
	return NewReader(rpc.New(endpoint), opts, logger)
}

// ListTransactions returns up to opts.Limit successful transactions for the
// wallet, newest first. Unknown or pruned transactions are skipped.
func (r *Reader) ListTransactions(ctx context.Context, wallet string, opts ListOptions) ([]Transaction, error) {
	account, err := solana.PublicKeyFromBase58(strings.TrimSpace(wallet))
	if err != nil {
		return nil, fmt.Errorf("parse wallet %q: %w: %w", wallet, trade.ErrInvalidArgument, err)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxSignaturesPerQuery {
		limit = maxSignaturesPerQuery
	}

	query := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: r.opts.Commitment,
	}
	if until := strings.TrimSpace(opts.Until); until != "" {
		sig, err := solana.SignatureFromBase58(until)
		if err != nil {
			return nil, fmt.Errorf("parse until signature: %w: %w", trade.ErrInvalidArgument, err)
		}
		query.Until = sig
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	signatures, err := r.rpc.GetSignaturesForAddressWithOpts(ctx, account, query)
	if err != nil {
		return nil, trade.Unavailable("get signatures for address", err)
	}

	pending := make([]*rpc.TransactionSignature, 0, len(signatures))
	for _, sig := range signatures {
		if sig == nil || sig.Err != nil {
			continue
		}
		pending = append(pending, sig)
	}

	results := make([]*Transaction, len(pending))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.opts.MaxConcurrency)
	for i, sig := range pending {
		group.Go(func() error {
			tx, err := r.fetch(groupCtx, sig)
			if err != nil {
				return err
			}
			results[i] = tx
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := make([]Transaction, 0, len(results))
	for _, tx := range results {
		if tx == nil {
			continue
		}
		out = append(out, *tx)
	}
	r.logger.Debug("fetched transactions",
		"wallet", account.String(),
		"signatures", len(signatures),
		"transactions", len(out),
	)
	return out, nil
}

func (r *Reader) fetch(ctx context.Context, sig *rpc.TransactionSignature) (*Transaction, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	maxVersion := uint64(0)
	res, err := r.rpc.GetTransaction(ctx, sig.Signature, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     r.opts.Commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && res == nil) {
		r.logger.Warn("transaction not found", "signature", sig.Signature.String())
		return nil, nil
	}
	if err != nil {
		return nil, trade.Unavailable("get transaction "+sig.Signature.String(), err)
	}
	if res.Meta == nil || res.Meta.Err != nil {
		return nil, nil
	}
	if !r.opts.ProgramID.IsZero() && !invokesProgram(res.Meta.LogMessages, r.opts.ProgramID) {
		return nil, nil
	}

	tx := &Transaction{
		Signature: sig.Signature.String(),
		Slot:      res.Slot,
		LogLines:  res.Meta.LogMessages,
	}
	switch {
	case res.BlockTime != nil:
		tx.BlockTime = res.BlockTime.Time().UTC()
	case sig.BlockTime != nil:
		tx.BlockTime = sig.BlockTime.Time().UTC()
	}
	return tx, nil
}

func invokesProgram(lines []string, programID solana.PublicKey) bool {
	needle := "Program " + programID.String() + " invoke"
	for _, line := range lines {
		if strings.HasPrefix(line, needle) {
			return true
		}
	}
	return false
}
