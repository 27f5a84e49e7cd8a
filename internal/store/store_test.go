package store

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/coldbell/tradelens/backend/internal/trade"
)

func TestRebindPostgresPlaceholders(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "SELECT * FROM fills WHERE wallet = ? AND instrument_id = ?", want: "SELECT * FROM fills WHERE wallet = $1 AND instrument_id = $2"},
		{in: "SELECT '?' , ?", want: "SELECT '?' , $1"},
		{in: "SELECT 'it''s ?', ?", want: "SELECT 'it''s ?', $1"},
		{in: "SELECT 1", want: "SELECT 1"},
	}
	for _, tt := range tests {
		if got := rebindPostgresPlaceholders(tt.in); got != tt.want {
			t.Fatalf("rebind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizePagination(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, defaultPageLimit, 0},
		{500, -3, maxPageLimit, 0},
		{25, 10, 25, 10},
	}
	for _, tt := range tests {
		limit, offset := normalizePagination(tt.limit, tt.offset)
		if limit != tt.wantLimit || offset != tt.wantOffset {
			t.Fatalf("normalizePagination(%d, %d) = %d, %d", tt.limit, tt.offset, limit, offset)
		}
	}
}

func TestBuildFillQuery(t *testing.T) {
	instrument := uint32(3)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := buildFillQuery("wallet-1", trade.Filter{
		InstrumentID: &instrument,
		Start:        &start,
		Limit:        10,
	})
	for _, want := range []string{"wallet = ?", "instrument_id = ?", "executed_at >= ?", "LIMIT ? OFFSET ?"} {
		if !strings.Contains(query, want) {
			t.Fatalf("query missing %q:\n%s", want, query)
		}
	}
	if strings.Contains(query, "executed_at <= ?") {
		t.Fatalf("unexpected end clause:\n%s", query)
	}
	if len(args) != 5 || args[0] != "wallet-1" || args[1] != int64(3) || args[2] != start.UnixMilli() {
		t.Fatalf("unexpected args %v", args)
	}

	query, args = buildFillQuery("wallet-1", trade.Filter{})
	if strings.Contains(query, "LIMIT") || len(args) != 1 {
		t.Fatalf("unfiltered query should load full history, got %v\n%s", args, query)
	}
}

func TestFillRowBadNumbersBecomeZero(t *testing.T) {
	row := fillRow{
		Signature:    "sig:0",
		Wallet:       "w",
		InstrumentID: 2,
		Side:         "sell",
		MarketKind:   "perp",
		Price:        "12.5",
		Quantity:     "not-a-number",
		Fee:          "",
		IOC:          1,
		ExecutedAt:   1_700_000_000_000,
	}
	f := row.fill(slog.New(slog.DiscardHandler))
	if !f.Quantity.IsZero() || !f.Fee.IsZero() {
		t.Fatalf("expected zero for bad columns, got qty=%s fee=%s", f.Quantity, f.Fee)
	}
	if f.Price.String() != "12.5" || f.Side != trade.SideSell || !f.IOC || f.InstrumentID != 2 {
		t.Fatalf("unexpected fill %+v", f)
	}
	if !f.ExecutedAt.Equal(time.UnixMilli(1_700_000_000_000)) {
		t.Fatalf("executed at = %s", f.ExecutedAt)
	}
}
