package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coldbell/tradelens/backend/internal/trade"
)

type SyncState string

const (
	SyncIdle    SyncState = "IDLE"
	SyncSyncing SyncState = "SYNCING"
	SyncError   SyncState = "ERROR"
)

type SyncStatus struct {
	Wallet            string    `json:"wallet"`
	Status            SyncState `json:"status"`
	LastSignature     string    `json:"lastSignature,omitempty"`
	TotalTradesSynced int64     `json:"totalTradesSynced"`
	LastSyncedAt      time.Time `json:"lastSyncedAt"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	LastSyncID        string    `json:"lastSyncId,omitempty"`
}

func (s *Store) GetSyncStatus(ctx context.Context, wallet string) (SyncStatus, error) {
	var (
		out          SyncStatus
		status       string
		lastSyncedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT wallet, status, last_signature, total_trades_synced, last_synced_at, error_message, last_sync_id
		FROM sync_status
		WHERE wallet = ?
	`, wallet).Scan(
		&out.Wallet,
		&status,
		&out.LastSignature,
		&out.TotalTradesSynced,
		&lastSyncedAt,
		&out.ErrorMessage,
		&out.LastSyncID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncStatus{}, fmt.Errorf("sync status for %s: %w", wallet, trade.ErrNotFound)
	}
	if err != nil {
		return SyncStatus{}, trade.Unavailable("get sync status", err)
	}
	out.Status = SyncState(status)
	if lastSyncedAt > 0 {
		out.LastSyncedAt = time.UnixMilli(lastSyncedAt).UTC()
	}
	return out, nil
}

func (s *Store) MarkSyncing(ctx context.Context, wallet, syncID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_status (wallet, status, last_sync_id, error_message, updated_at)
		VALUES (?, ?, ?, '', ?)
		ON CONFLICT (wallet) DO UPDATE SET
			status = excluded.status,
			last_sync_id = excluded.last_sync_id,
			error_message = '',
			updated_at = excluded.updated_at
	`, wallet, string(SyncSyncing), syncID, nowMillis())
	if err != nil {
		return trade.Unavailable("mark syncing", err)
	}
	return nil
}

// MarkSynced records a successful run. An empty lastSignature keeps the
// previous cursor.
func (s *Store) MarkSynced(ctx context.Context, wallet, syncID, lastSignature string, inserted int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_status (wallet, status, last_signature, total_trades_synced, last_synced_at, error_message, last_sync_id, updated_at)
		VALUES (?, ?, ?, ?, ?, '', ?, ?)
		ON CONFLICT (wallet) DO UPDATE SET
			status = excluded.status,
			last_signature = CASE WHEN excluded.last_signature = '' THEN sync_status.last_signature ELSE excluded.last_signature END,
			total_trades_synced = sync_status.total_trades_synced + excluded.total_trades_synced,
			last_synced_at = excluded.last_synced_at,
			error_message = '',
			last_sync_id = excluded.last_sync_id,
			updated_at = excluded.updated_at
	`, wallet, string(SyncIdle), lastSignature, int64(inserted), at.UnixMilli(), syncID, nowMillis())
	if err != nil {
		return trade.Unavailable("mark synced", err)
	}
	return nil
}

func (s *Store) MarkSyncFailed(ctx context.Context, wallet, syncID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_status (wallet, status, error_message, last_sync_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (wallet) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			last_sync_id = excluded.last_sync_id,
			updated_at = excluded.updated_at
	`, wallet, string(SyncError), message, syncID, nowMillis())
	if err != nil {
		return trade.Unavailable("mark sync failed", err)
	}
	return nil
}
