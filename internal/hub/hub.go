// Package hub fans encoded status messages out to subscribers with a
// bounded per-subscriber queue.
package hub

import (
	"fmt"
	"sync"

	"github.com/kstaniek/go-pidsky/internal/logging"
	"github.com/kstaniek/go-pidsky/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

// ParsePolicy maps "drop" or "kick" to a policy.
func ParsePolicy(s string) (BackpressurePolicy, error) {
	switch s {
	case "", "drop":
		return PolicyDrop, nil
	case "kick":
		return PolicyKick, nil
	}
	return PolicyDrop, fmt.Errorf("unknown hub policy %q (want drop|kick)", s)
}

// DefaultOutBufSize is the per-client queue length used by NewClient when
// the hub has no OutBufSize set.
const DefaultOutBufSize = 64

type Client struct {
	Out       chan []byte
	Closed    chan struct{}
	closeOnce sync.Once
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// NewClient allocates a client sized to the hub's OutBufSize. It is not
// registered; call Add.
func (h *Hub) NewClient() *Client {
	n := h.OutBufSize
	if n <= 0 {
		n = DefaultOutBufSize
	}
	return &Client{Out: make(chan []byte, n), Closed: make(chan struct{})}
}

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetStatusClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("status_first_client")
	}
}

// Remove unregisters a client and updates metrics; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetStatusClients(cur)
	if existed && cur == 0 {
		logging.L().Info("status_last_client")
	}
}

// Broadcast queues msg for every client honoring the backpressure policy.
// It never blocks.
func (h *Hub) Broadcast(msg []byte) {
	for _, c := range h.Snapshot() {
		select {
		case c.Out <- msg:
		default:
			if h.Policy == PolicyKick {
				metrics.IncStatusKick()
				c.Close() // writer exits; handler removes the client
			} else {
				metrics.IncStatusDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
