package trade

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseSide(t *testing.T) {
	cases := map[string]Side{
		"BUY":   SideBuy,
		" bid ": SideBuy,
		"sell":  SideSell,
		"Short": SideSell,
	}
	for raw, want := range cases {
		got, ok := ParseSide(raw)
		if !ok || got != want {
			t.Fatalf("ParseSide(%q) = %q,%v want %q", raw, got, ok, want)
		}
	}
	if _, ok := ParseSide("hold"); ok {
		t.Fatalf("expected unknown side to be rejected")
	}
}

func TestOrderTypeFromCode(t *testing.T) {
	if OrderTypeFromCode(1) != OrderMarket {
		t.Fatalf("expected MARKET for code 1")
	}
	if OrderTypeFromCode(9) != OrderUnknown {
		t.Fatalf("expected UNKNOWN for code 9")
	}
}

func TestFilterMatches(t *testing.T) {
	start := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	filter := Filter{Symbol: "sol/usdc", Start: &start, End: &end}

	inside := Fill{Symbol: "SOL/USDC", ExecutedAt: start.Add(time.Hour)}
	if !filter.Matches(inside) {
		t.Fatalf("expected fill inside range to match")
	}
	before := Fill{Symbol: "SOL/USDC", ExecutedAt: start.Add(-time.Second)}
	if filter.Matches(before) {
		t.Fatalf("expected fill before range to be excluded")
	}
	other := Fill{Symbol: "BTC/USDC", ExecutedAt: start.Add(time.Hour)}
	if filter.Matches(other) {
		t.Fatalf("expected other symbol to be excluded")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &RateLimitedError{RetryAfterSeconds: 3}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited error to match sentinel")
	}

	wrapped := Unavailable("list transactions", context.DeadlineExceeded)
	if !errors.Is(wrapped, ErrUpstreamUnavailable) || !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Fatalf("expected both sentinel and cause, got %v", wrapped)
	}
	if Unavailable("noop", nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
}
