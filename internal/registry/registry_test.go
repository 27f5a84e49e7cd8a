package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/coldbell/tradelens/backend/internal/trade"
)

func TestDefaultTableAndFallback(t *testing.T) {
	r := New()
	if got := r.Symbol(2); got != "BTC/USDC" {
		t.Fatalf("Symbol(2) = %q", got)
	}
	if got := r.Symbol(99); got != "Instrument #99" {
		t.Fatalf("Symbol(99) = %q", got)
	}
	list := r.List()
	if len(list) != 4 || list[0].ID != 1 || list[3].ID != 4 {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestLoadMapOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	if err := os.WriteFile(path, []byte("1: SOL-PERP\n7: JUP/USDC\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := r.Symbol(1); got != "SOL-PERP" {
		t.Fatalf("override not applied: %q", got)
	}
	if got := r.Symbol(7); got != "JUP/USDC" {
		t.Fatalf("new instrument missing: %q", got)
	}
	if got := r.Symbol(3); got != "ETH/USDC" {
		t.Fatalf("default lost: %q", got)
	}
}

func TestLoadListOverrides(t *testing.T) {
	body := "instruments:\n  - id: 9\n    symbol: WIF-PERP\n    kind: perp\n"
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	inst, ok := r.Lookup(9)
	if !ok || inst.Symbol != "WIF-PERP" || inst.Kind != trade.MarketPerp {
		t.Fatalf("unexpected instrument %+v (ok=%v)", inst, ok)
	}
}

func TestLoadRejectsEmptySymbol(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	if err := os.WriteFile(path, []byte("5: \"  \"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, trade.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	r, err := Load("  ")
	if err != nil || r.Symbol(4) != "BONK/USDC" {
		t.Fatalf("Load(empty) = %v, %v", r, err)
	}
}
