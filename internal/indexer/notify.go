package indexer

import (
	"strings"
	"sync"
)

// SyncEvent is published after a wallet sync finishes successfully.
type SyncEvent struct {
	Wallet        string `json:"wallet"`
	SyncID        string `json:"syncId"`
	InsertedCount int    `json:"insertedCount"`
}

type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan SyncEvent]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan SyncEvent]struct{})}
}

// subscribe registers interest in one wallet. The returned cancel func must be
// called once the receiver stops reading.
func (h *hub) subscribe(wallet string) (<-chan SyncEvent, func()) {
	wallet = strings.TrimSpace(wallet)
	ch := make(chan SyncEvent, 4)

	h.mu.Lock()
	if h.subs[wallet] == nil {
		h.subs[wallet] = make(map[chan SyncEvent]struct{})
	}
	h.subs[wallet][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[wallet], ch)
			if len(h.subs[wallet]) == 0 {
				delete(h.subs, wallet)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// publish never blocks; a slow subscriber misses events.
func (h *hub) publish(event SyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[event.Wallet] {
		select {
		case ch <- event:
		default:
		}
	}
}
