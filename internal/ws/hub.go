package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Conn is the minimal connection surface the Hub needs. The production
// implementation wraps a gorilla websocket; tests use in-memory fakes.
type Conn interface {
	// Send queues data for delivery. A non-nil error marks the connection
	// dead; the Hub treats it as a disconnect.
	Send(data []byte) error
	Close() error
}

// Hub manages zero-or-more live connections per call identifier and
// broadcasts server events to them.
//
// Ordering: within one connection, delivery order matches the order Broadcast
// was invoked. No ordering is guaranteed across distinct connections for the
// same call.
type Hub struct {
	mu    sync.RWMutex
	calls map[string][]Conn

	log   *slog.Logger
	clock func() time.Time
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		calls: map[string][]Conn{},
		log:   log,
		clock: time.Now,
	}
}

// SetClock replaces the timestamp clock. Tests only.
func (h *Hub) SetClock(clock func() time.Time) { h.clock = clock }

func (h *Hub) Connect(conn Conn, callID string) {
	h.mu.Lock()
	h.calls[callID] = append(h.calls[callID], conn)
	h.mu.Unlock()
	h.log.Info("ws connected", "call_id", callID)
}

func (h *Hub) Disconnect(conn Conn, callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(conn, callID)
}

func (h *Hub) removeLocked(conn Conn, callID string) {
	conns := h.calls[callID]
	for i, c := range conns {
		if c == conn {
			h.calls[callID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.calls[callID]) == 0 {
		delete(h.calls, callID)
	}
}

// Broadcast delivers event to every connection attached to the call. A
// connection whose send fails is evicted silently; a failed send is a
// disconnect, never a broadcast error. The Hub stamps the envelope timestamp
// when the caller left it zero.
func (h *Hub) Broadcast(callID string, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = h.clock().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("ws marshal failed", "call_id", callID, "type", event.Type, "err", err)
		return
	}

	h.mu.RLock()
	conns := make([]Conn, len(h.calls[callID]))
	copy(conns, h.calls[callID])
	h.mu.RUnlock()

	var dead []Conn
	for _, conn := range conns {
		if err := conn.Send(data); err != nil {
			dead = append(dead, conn)
		}
	}
	if len(dead) > 0 {
		h.mu.Lock()
		for _, conn := range dead {
			h.removeLocked(conn, callID)
		}
		h.mu.Unlock()
		h.log.Info("ws evicted dead connections", "call_id", callID, "count", len(dead))
	}
}

func (h *Hub) HasConnections(callID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.calls[callID]) > 0
}

// ConnectionCount reports the number of live connections for a call.
func (h *Hub) ConnectionCount(callID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.calls[callID])
}

// ActiveCalls lists call ids with at least one live connection.
func (h *Hub) ActiveCalls() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.calls))
	for id := range h.calls {
		out = append(out, id)
	}
	return out
}

// CloseAll closes and removes every connection for a call.
func (h *Hub) CloseAll(callID string) {
	h.mu.Lock()
	conns := h.calls[callID]
	delete(h.calls, callID)
	h.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}
