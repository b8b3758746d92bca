package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	failed bool
	closed bool
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return errors.New("connection gone")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) events(t *testing.T) []Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, 0, len(f.sent))
	for _, data := range f.sent {
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestBroadcastDeliversToAllConnections(t *testing.T) {
	hub := NewHub(nil)
	a, b := &fakeConn{}, &fakeConn{}
	hub.Connect(a, "c1")
	hub.Connect(b, "c1")

	hub.Broadcast("c1", StatusUpdateEvent("c1", "connected", ""))

	for _, conn := range []*fakeConn{a, b} {
		evs := conn.events(t)
		if len(evs) != 1 || evs[0].Type != EventStatusUpdate {
			t.Fatalf("expected one status_update, got %+v", evs)
		}
	}
}

func TestBroadcastEvictsDeadConnection(t *testing.T) {
	hub := NewHub(nil)
	live, dead := &fakeConn{}, &fakeConn{failed: true}
	hub.Connect(live, "c1")
	hub.Connect(dead, "c1")

	hub.Broadcast("c1", StatusUpdateEvent("c1", "connected", ""))

	if got := len(live.events(t)); got != 1 {
		t.Fatalf("live connection should receive the event, got %d", got)
	}
	if hub.ConnectionCount("c1") != 1 {
		t.Fatalf("dead connection should be evicted, count = %d", hub.ConnectionCount("c1"))
	}

	// Later broadcasts only hit the survivor.
	hub.Broadcast("c1", StatusUpdateEvent("c1", "ended", ""))
	if got := len(live.events(t)); got != 2 {
		t.Fatalf("expected 2 events on live connection, got %d", got)
	}
}

func TestBroadcastStampsTimestamp(t *testing.T) {
	hub := NewHub(nil)
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	hub.SetClock(func() time.Time { return now })

	conn := &fakeConn{}
	hub.Connect(conn, "c1")
	hub.Broadcast("c1", StatusUpdateEvent("c1", "connected", ""))

	evs := conn.events(t)
	if !evs[0].Timestamp.Equal(now) {
		t.Fatalf("timestamp = %v, want %v", evs[0].Timestamp, now)
	}

	// A caller-supplied timestamp is preserved.
	supplied := now.Add(-time.Minute)
	ev := StatusUpdateEvent("c1", "connected", "")
	ev.Timestamp = supplied
	hub.Broadcast("c1", ev)
	evs = conn.events(t)
	if !evs[1].Timestamp.Equal(supplied) {
		t.Fatalf("supplied timestamp overwritten: %v", evs[1].Timestamp)
	}
}

func TestBroadcastOrderPerConnection(t *testing.T) {
	hub := NewHub(nil)
	conn := &fakeConn{}
	hub.Connect(conn, "c1")

	hub.Broadcast("c1", StatusUpdateEvent("c1", "connected", ""))
	hub.Broadcast("c1", TranscriptChunkEvent("c1", "Seller", "hi", 0, 1, true))
	hub.Broadcast("c1", StatusUpdateEvent("c1", "ended", ""))

	evs := conn.events(t)
	want := []string{EventStatusUpdate, EventTranscriptChunk, EventStatusUpdate}
	if len(evs) != len(want) {
		t.Fatalf("got %d events, want %d", len(evs), len(want))
	}
	for i, ev := range evs {
		if ev.Type != want[i] {
			t.Fatalf("event %d = %s, want %s", i, ev.Type, want[i])
		}
	}
}

func TestDisconnectAndHasConnections(t *testing.T) {
	hub := NewHub(nil)
	conn := &fakeConn{}

	if hub.HasConnections("c1") {
		t.Fatalf("no connections expected")
	}
	hub.Connect(conn, "c1")
	if !hub.HasConnections("c1") {
		t.Fatalf("connection expected")
	}
	hub.Disconnect(conn, "c1")
	if hub.HasConnections("c1") {
		t.Fatalf("connection should be removed")
	}

	// Broadcasting to a call with no connections is a no-op, not a failure.
	hub.Broadcast("c1", StatusUpdateEvent("c1", "connected", ""))
}

func TestBroadcastToleratesConcurrentDisconnect(t *testing.T) {
	hub := NewHub(nil)
	conns := make([]*fakeConn, 20)
	for i := range conns {
		conns[i] = &fakeConn{}
		hub.Connect(conns[i], "c1")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			hub.Broadcast("c1", StatusUpdateEvent("c1", "connected", ""))
		}
	}()
	go func() {
		defer wg.Done()
		for _, c := range conns {
			hub.Disconnect(c, "c1")
		}
	}()
	wg.Wait()
}

func TestCloseAll(t *testing.T) {
	hub := NewHub(nil)
	a, b := &fakeConn{}, &fakeConn{}
	hub.Connect(a, "c1")
	hub.Connect(b, "c1")

	hub.CloseAll("c1")
	if hub.HasConnections("c1") {
		t.Fatalf("connections should be gone")
	}
	if !a.closed || !b.closed {
		t.Fatalf("connections should be closed")
	}
}
