// internal/wallet/hub.go
package wallet

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is the wallet state of one session.
type Identity struct {
	SessionID string         `json:"-"`
	Address   common.Address `json:"address"`
	Linked    bool           `json:"linked"`
}

// Hub fans identity changes out to per-session subscribers. A nil *Hub is
// valid and drops everything.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Identity]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Identity]struct{})}
}

// Subscribe returns a channel of identity changes for the session and a
// function that cancels the subscription and closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan Identity, func()) {
	ch := make(chan Identity, 4)
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Identity]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sessionID], ch)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			close(ch)
		})
	}
}

// Publish delivers id to the session's subscribers. Slow subscribers miss updates.
func (h *Hub) Publish(id Identity) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[id.SessionID] {
		select {
		case ch <- id:
		default:
		}
	}
}
