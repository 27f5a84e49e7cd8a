package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coldbell/tradelens/backend/internal/trade"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// UpsertFills inserts fills keyed by signature and ignores ones already
// stored. It returns how many rows were new.
func (s *Store) UpsertFills(ctx context.Context, fills []trade.Fill) (int, error) {
	if len(fills) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.WithTx(ctx, func(tx *Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO fills (
				signature, tx_signature, wallet, instrument_id, symbol, side, market_kind, order_type,
				price, quantity, fee, leverage, ioc, order_id, client_id, low_confidence, executed_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (signature) DO NOTHING
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		createdAt := nowMillis()
		for _, f := range fills {
			res, err := stmt.ExecContext(ctx,
				f.Signature,
				f.TxSignature,
				f.Wallet,
				int64(f.InstrumentID),
				f.Symbol,
				string(f.Side),
				string(f.MarketKind),
				string(f.OrderType),
				f.Price.String(),
				f.Quantity.String(),
				f.Fee.String(),
				int(f.Leverage),
				boolToInt(f.IOC),
				f.OrderID,
				int64(f.ClientID),
				boolToInt(f.LowConfidence),
				f.ExecutedAt.UnixMilli(),
				createdAt,
			)
			if err != nil {
				return fmt.Errorf("insert fill %s: %w", f.Signature, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, trade.Unavailable("upsert fills", err)
	}
	return inserted, nil
}

// QueryFills loads a wallet's stored fills oldest first. Limit and offset
// apply only when filter.Limit is positive.
func (s *Store) QueryFills(ctx context.Context, wallet string, filter trade.Filter) ([]trade.Fill, error) {
	query, args := buildFillQuery(wallet, filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, trade.Unavailable("query fills", err)
	}
	defer rows.Close()

	items := make([]trade.Fill, 0, 64)
	for rows.Next() {
		var row fillRow
		if err := rows.Scan(
			&row.Signature,
			&row.TxSignature,
			&row.Wallet,
			&row.InstrumentID,
			&row.Symbol,
			&row.Side,
			&row.MarketKind,
			&row.OrderType,
			&row.Price,
			&row.Quantity,
			&row.Fee,
			&row.Leverage,
			&row.IOC,
			&row.OrderID,
			&row.ClientID,
			&row.LowConfidence,
			&row.ExecutedAt,
		); err != nil {
			return nil, trade.Unavailable("scan fill", err)
		}
		items = append(items, row.fill(s.logger))
	}
	if err := rows.Err(); err != nil {
		return nil, trade.Unavailable("query fills", err)
	}
	return items, nil
}

func buildFillQuery(wallet string, filter trade.Filter) (string, []any) {
	clauses := []string{"wallet = ?"}
	args := make([]any, 0, 6)
	args = append(args, wallet)

	if filter.InstrumentID != nil {
		clauses = append(clauses, "instrument_id = ?")
		args = append(args, int64(*filter.InstrumentID))
	}
	if symbol := strings.TrimSpace(filter.Symbol); symbol != "" {
		clauses = append(clauses, "LOWER(symbol) = LOWER(?)")
		args = append(args, symbol)
	}
	if filter.Start != nil {
		clauses = append(clauses, "executed_at >= ?")
		args = append(args, filter.Start.UnixMilli())
	}
	if filter.End != nil {
		clauses = append(clauses, "executed_at <= ?")
		args = append(args, filter.End.UnixMilli())
	}

	query := fmt.Sprintf(`
		SELECT
			signature,
			tx_signature,
			wallet,
			instrument_id,
			symbol,
			side,
			market_kind,
			order_type,
			price,
			quantity,
			fee,
			leverage,
			ioc,
			order_id,
			client_id,
			low_confidence,
			executed_at
		FROM fills
		WHERE %s
		ORDER BY executed_at ASC, tx_signature ASC, LENGTH(signature) ASC, signature ASC
	`, strings.Join(clauses, " AND "))

	if filter.Limit > 0 {
		limit, offset := normalizePagination(filter.Limit, filter.Offset)
		query += "LIMIT ? OFFSET ?\n"
		args = append(args, limit, offset)
	}
	return query, args
}

type fillRow struct {
	Signature     string
	TxSignature   string
	Wallet        string
	InstrumentID  int64
	Symbol        string
	Side          string
	MarketKind    string
	OrderType     string
	Price         string
	Quantity      string
	Fee           string
	Leverage      int
	IOC           int
	OrderID       int64
	ClientID      int64
	LowConfidence int
	ExecutedAt    int64
}

// fill converts a stored row. Unparsable numeric columns become zero and are
// logged instead of failing the whole history.
func (r fillRow) fill(logger *slog.Logger) trade.Fill {
	out := trade.Fill{
		Signature:     r.Signature,
		TxSignature:   r.TxSignature,
		Wallet:        r.Wallet,
		InstrumentID:  uint32(r.InstrumentID),
		Symbol:        r.Symbol,
		MarketKind:    trade.MarketKind(r.MarketKind),
		OrderType:     trade.OrderType(r.OrderType),
		Leverage:      uint8(r.Leverage),
		IOC:           r.IOC != 0,
		OrderID:       r.OrderID,
		ClientID:      uint32(r.ClientID),
		LowConfidence: r.LowConfidence != 0,
		ExecutedAt:    time.UnixMilli(r.ExecutedAt).UTC(),
	}
	if side, ok := trade.ParseSide(r.Side); ok {
		out.Side = side
	} else {
		logger.Warn("stored fill has unknown side", "signature", r.Signature, "side", r.Side)
	}

	var err error
	if out.Price, err = trade.DecimalOrZero(r.Price); err != nil {
		logger.Warn("stored fill has bad price", "signature", r.Signature, "err", err)
	}
	if out.Quantity, err = trade.DecimalOrZero(r.Quantity); err != nil {
		logger.Warn("stored fill has bad quantity", "signature", r.Signature, "err", err)
	}
	if out.Fee, err = trade.DecimalOrZero(r.Fee); err != nil {
		logger.Warn("stored fill has bad fee", "signature", r.Signature, "err", err)
	}
	return out
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
