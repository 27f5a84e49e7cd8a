// Package registry maps venue instrument ids to display symbols.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/coldbell/tradelens/backend/internal/trade"
	"gopkg.in/yaml.v3"
)

type Instrument struct {
	ID     uint32           `json:"id" yaml:"id"`
	Symbol string           `json:"symbol" yaml:"symbol"`
	Kind   trade.MarketKind `json:"kind,omitempty" yaml:"kind,omitempty"`
}

var defaultInstruments = []Instrument{
	{ID: 1, Symbol: "SOL/USDC"},
	{ID: 2, Symbol: "BTC/USDC"},
	{ID: 3, Symbol: "ETH/USDC"},
	{ID: 4, Symbol: "BONK/USDC"},
}

type Registry struct {
	mu          sync.RWMutex
	instruments map[uint32]Instrument
}

func New(overrides ...Instrument) *Registry {
	r := &Registry{instruments: make(map[uint32]Instrument, len(defaultInstruments)+len(overrides))}
	for _, inst := range defaultInstruments {
		r.instruments[inst.ID] = inst
	}
	for _, inst := range overrides {
		r.Set(inst)
	}
	return r
}

// Load builds a registry from the default table plus the overrides in path.
// An empty path yields the default table.
func Load(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return New(), nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instruments file: %w", err)
	}
	overrides, err := parseOverrides(body)
	if err != nil {
		return nil, fmt.Errorf("parse instruments file %s: %w", path, err)
	}
	return New(overrides...), nil
}

// parseOverrides accepts either a list of instruments or an `id: symbol` map.
func parseOverrides(body []byte) ([]Instrument, error) {
	var list struct {
		Instruments []Instrument `yaml:"instruments"`
	}
	if err := yaml.Unmarshal(body, &list); err == nil && len(list.Instruments) > 0 {
		for _, inst := range list.Instruments {
			if strings.TrimSpace(inst.Symbol) == "" {
				return nil, fmt.Errorf("instrument %d: %w: empty symbol", inst.ID, trade.ErrInvalidArgument)
			}
		}
		return list.Instruments, nil
	}

	var byID map[uint32]string
	if err := yaml.Unmarshal(body, &byID); err != nil {
		return nil, err
	}
	out := make([]Instrument, 0, len(byID))
	for id, symbol := range byID {
		if strings.TrimSpace(symbol) == "" {
			return nil, fmt.Errorf("instrument %d: %w: empty symbol", id, trade.ErrInvalidArgument)
		}
		out = append(out, Instrument{ID: id, Symbol: strings.TrimSpace(symbol)})
	}
	return out, nil
}

func (r *Registry) Set(inst Instrument) {
	r.mu.Lock()
	r.instruments[inst.ID] = inst
	r.mu.Unlock()
}

func (r *Registry) Lookup(id uint32) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instruments[id]
	return inst, ok
}

// Symbol never fails: unknown ids render as "Instrument #N".
func (r *Registry) Symbol(id uint32) string {
	if inst, ok := r.Lookup(id); ok {
		return inst.Symbol
	}
	return fmt.Sprintf("Instrument #%d", id)
}

func (r *Registry) List() []Instrument {
	r.mu.RLock()
	out := make([]Instrument, 0, len(r.instruments))
	for _, inst := range r.instruments {
		out = append(out, inst)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
