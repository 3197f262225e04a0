package devserver

import (
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"
)

// envelope is one frame on the push socket.
type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// peer is one joined socket.
type peer struct {
	conn *websocket.Conn
	mu   gosync.Mutex
}

func (p *peer) send(env envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.conn.WriteJSON(env)
}

// hub tracks joined sockets per user.
type hub struct {
	mu    gosync.Mutex
	peers map[string]map[*peer]struct{}
}

func newHub() *hub {
	return &hub{peers: make(map[string]map[*peer]struct{})}
}

func (h *hub) add(userID string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.peers[userID]
	if !ok {
		set = make(map[*peer]struct{})
		h.peers[userID] = set
	}
	set[p] = struct{}{}
}

func (h *hub) remove(userID string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.peers[userID]
	delete(set, p)
	if len(set) == 0 {
		delete(h.peers, userID)
	}
}

func (h *hub) snapshot(userID string) []*peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*peer, 0, len(h.peers[userID]))
	for p := range h.peers[userID] {
		out = append(out, p)
	}
	return out
}

func (h *hub) count(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers[userID])
}

// broadcast sends env to every socket joined as userID and returns how many
// writes succeeded.
func (h *hub) broadcast(userID string, env envelope) int {
	sent := 0
	for _, p := range h.snapshot(userID) {
		if err := p.send(env); err == nil {
			sent++
		}
	}
	return sent
}

// drop closes every socket joined as userID without a close frame, which
// looks like a network failure to the client.
func (h *hub) drop(userID string) {
	for _, p := range h.snapshot(userID) {
		p.conn.Close()
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	var all []*peer
	for _, set := range h.peers {
		for p := range set {
			all = append(all, p)
		}
	}
	h.mu.Unlock()
	for _, p := range all {
		p.conn.Close()
	}
}
