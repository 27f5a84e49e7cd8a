package store

import (
	"context"

	"github.com/coldbell/tradelens/backend/internal/analytics"
	"github.com/coldbell/tradelens/backend/internal/trade"
	"github.com/shopspring/decimal"
)

func (s *Store) UpsertSessions(ctx context.Context, wallet string, days []analytics.SessionDay) error {
	if len(days) == 0 {
		return nil
	}
	err := s.WithTx(ctx, func(tx *Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO trading_sessions (wallet, session_date, trades, wins, losses, pnl, volume, fees, win_rate, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (wallet, session_date) DO UPDATE SET
				trades = excluded.trades,
				wins = excluded.wins,
				losses = excluded.losses,
				pnl = excluded.pnl,
				volume = excluded.volume,
				fees = excluded.fees,
				win_rate = excluded.win_rate,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		updatedAt := nowMillis()
		for _, day := range days {
			if _, err := stmt.ExecContext(ctx,
				wallet,
				day.Date,
				int64(day.Trades),
				int64(day.Wins),
				int64(day.Losses),
				day.PnL.String(),
				day.Volume.String(),
				day.Fees.String(),
				day.WinRate.String(),
				updatedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return trade.Unavailable("upsert sessions", err)
	}
	return nil
}

// ListSessions returns stored daily rollups, newest day first.
func (s *Store) ListSessions(ctx context.Context, wallet string, limit, offset int) ([]analytics.SessionDay, error) {
	limit, offset = normalizePagination(limit, offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_date, trades, wins, losses, pnl, volume, fees, win_rate
		FROM trading_sessions
		WHERE wallet = ?
		ORDER BY session_date DESC
		LIMIT ? OFFSET ?
	`, wallet, limit, offset)
	if err != nil {
		return nil, trade.Unavailable("list sessions", err)
	}
	defer rows.Close()

	items := make([]analytics.SessionDay, 0, limit)
	for rows.Next() {
		var (
			day                        analytics.SessionDay
			trades, wins, losses       int64
			pnl, volume, fees, winRate string
		)
		if err := rows.Scan(&day.Date, &trades, &wins, &losses, &pnl, &volume, &fees, &winRate); err != nil {
			return nil, trade.Unavailable("scan session", err)
		}
		day.Trades, day.Wins, day.Losses = int(trades), int(wins), int(losses)
		day.PnL = s.decimalColumn("pnl", day.Date, pnl)
		day.Volume = s.decimalColumn("volume", day.Date, volume)
		day.Fees = s.decimalColumn("fees", day.Date, fees)
		day.WinRate = s.decimalColumn("win_rate", day.Date, winRate)
		items = append(items, day)
	}
	if err := rows.Err(); err != nil {
		return nil, trade.Unavailable("list sessions", err)
	}
	return items, nil
}

func (s *Store) decimalColumn(column, date, raw string) decimal.Decimal {
	v, err := trade.DecimalOrZero(raw)
	if err != nil {
		s.logger.Warn("stored session has bad "+column, "session_date", date, "err", err)
	}
	return v
}
