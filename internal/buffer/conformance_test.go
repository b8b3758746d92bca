package buffer

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"dealsense/internal/calls"
)

func chunkAt(text string, start, end float64) calls.TranscriptChunk {
	return calls.TranscriptChunk{Speaker: "Seller", Text: text, Start: start, End: end, IsFinal: true}
}

// runBufferContract asserts the semantics every backend must satisfy
// identically: append order, head trimming at the count cap, time windowing
// and empty-buffer behavior.
func runBufferContract(t *testing.T, name string, factory func(t *testing.T, opts Options) Buffer) {
	ctx := context.Background()

	t.Run(name+"/AppendOrderPreserved", func(t *testing.T) {
		b := factory(t, Options{MaxChunks: 10})
		for i := 0; i < 5; i++ {
			s := float64(i)
			if err := b.Append(ctx, "c1", chunkAt(fmt.Sprintf("line %d", i), s, s+1)); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		all, err := b.All(ctx, "c1")
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("len = %d, want 5", len(all))
		}
		for i, c := range all {
			if c.Text != fmt.Sprintf("line %d", i) {
				t.Fatalf("chunk %d = %q, out of order", i, c.Text)
			}
		}
	})

	t.Run(name+"/CountCapTrimsHead", func(t *testing.T) {
		b := factory(t, Options{MaxChunks: 3})
		for i := 0; i < 5; i++ {
			s := float64(i)
			if err := b.Append(ctx, "c1", chunkAt(fmt.Sprintf("line %d", i), s, s+1)); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		all, err := b.All(ctx, "c1")
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("len = %d, want 3", len(all))
		}
		if all[0].Text != "line 2" || all[2].Text != "line 4" {
			t.Fatalf("expected oldest chunks trimmed, got %q..%q", all[0].Text, all[2].Text)
		}
	})

	t.Run(name+"/RecentIsTimeSuffix", func(t *testing.T) {
		b := factory(t, Options{MaxChunks: 10})
		// Latest end offset is 200; a 60s window keeps start >= 140.
		offsets := [][2]float64{{0, 10}, {100, 110}, {150, 160}, {190, 200}}
		for i, o := range offsets {
			if err := b.Append(ctx, "c1", chunkAt(fmt.Sprintf("line %d", i), o[0], o[1])); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		recent, err := b.Recent(ctx, "c1", 60)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(recent) != 2 {
			t.Fatalf("len = %d, want 2", len(recent))
		}
		if recent[0].Text != "line 2" || recent[1].Text != "line 3" {
			t.Fatalf("recent window wrong: %q, %q", recent[0].Text, recent[1].Text)
		}
	})

	t.Run(name+"/EmptyBufferYieldsEmpty", func(t *testing.T) {
		b := factory(t, Options{})
		all, err := b.All(ctx, "nope")
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		if len(all) != 0 {
			t.Fatalf("expected empty slice, got %d chunks", len(all))
		}
		recent, err := b.Recent(ctx, "nope", 120)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(recent) != 0 {
			t.Fatalf("expected empty recent, got %d chunks", len(recent))
		}
	})

	t.Run(name+"/ClearDropsCall", func(t *testing.T) {
		b := factory(t, Options{})
		if err := b.Append(ctx, "c1", chunkAt("line", 0, 1)); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := b.Append(ctx, "c2", chunkAt("other", 0, 1)); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := b.Clear(ctx, "c1"); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		all, _ := b.All(ctx, "c1")
		if len(all) != 0 {
			t.Fatalf("c1 should be empty after clear")
		}
		other, _ := b.All(ctx, "c2")
		if len(other) != 1 {
			t.Fatalf("clear must not touch other calls")
		}
	})
}

func TestMemoryBufferContract(t *testing.T) {
	runBufferContract(t, "memory", func(t *testing.T, opts Options) Buffer {
		return NewMemory(opts)
	})
}

// TestRedisBufferContract runs the same contract against a real Redis when
// REDIS_ADDR is set; it is skipped otherwise.
func TestRedisBufferContract(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	n := 0
	runBufferContract(t, "redis", func(t *testing.T, opts Options) Buffer {
		n++
		r := NewRedis(rdb, opts)
		// Isolate each subtest in its own keys.
		prefix := fmt.Sprintf("test%d-%d-", time.Now().UnixNano(), n)
		return prefixedBuffer{Buffer: r, prefix: prefix}
	})
}

type prefixedBuffer struct {
	Buffer
	prefix string
}

func (p prefixedBuffer) Append(ctx context.Context, callID string, chunk calls.TranscriptChunk) error {
	return p.Buffer.Append(ctx, p.prefix+callID, chunk)
}

func (p prefixedBuffer) Recent(ctx context.Context, callID string, w float64) ([]calls.TranscriptChunk, error) {
	return p.Buffer.Recent(ctx, p.prefix+callID, w)
}

func (p prefixedBuffer) All(ctx context.Context, callID string) ([]calls.TranscriptChunk, error) {
	return p.Buffer.All(ctx, p.prefix+callID)
}

func (p prefixedBuffer) Clear(ctx context.Context, callID string) error {
	return p.Buffer.Clear(ctx, p.prefix+callID)
}

func TestMemoryTTLExpiresEntry(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	m := NewMemory(Options{TTL: time.Minute})
	m.SetClock(func() time.Time { return now })

	ctx := context.Background()
	if err := m.Append(ctx, "c1", chunkAt("line", 0, 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	now = now.Add(30 * time.Second)
	all, _ := m.All(ctx, "c1")
	if len(all) != 1 {
		t.Fatalf("entry expired too early")
	}

	// A fresh append restarts the TTL.
	if err := m.Append(ctx, "c1", chunkAt("line 2", 1, 2)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	now = now.Add(45 * time.Second)
	all, _ = m.All(ctx, "c1")
	if len(all) != 2 {
		t.Fatalf("append must restart the TTL")
	}

	now = now.Add(time.Hour)
	all, _ = m.All(ctx, "c1")
	if len(all) != 0 {
		t.Fatalf("entry must expire after the TTL")
	}
}

func TestWindowText(t *testing.T) {
	m := NewMemory(Options{})
	ctx := context.Background()
	_ = m.Append(ctx, "c1", calls.TranscriptChunk{Speaker: "Seller", Text: "hi", Start: 0, End: 1, IsFinal: true})
	_ = m.Append(ctx, "c1", calls.TranscriptChunk{Speaker: "Customer", Text: "hello", Start: 1, End: 2, IsFinal: true})

	text, err := WindowText(ctx, m, "c1", 120)
	if err != nil {
		t.Fatalf("WindowText: %v", err)
	}
	if text != "Seller: hi\nCustomer: hello" {
		t.Fatalf("text = %q", text)
	}
}

func TestMemorySideStore(t *testing.T) {
	m := NewMemory(Options{})
	ctx := context.Background()

	meta := Meta{DealID: 42, AccountName: "Acme", StartedAt: time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)}
	if err := m.SetMeta(ctx, "c1", meta); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	got, err := m.GetMeta(ctx, "c1")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if got.AccountName != "Acme" || got.DealID != 42 {
		t.Fatalf("meta = %+v", got)
	}

	if err := m.SetStatus(ctx, "c1", "in_progress"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	status, err := m.GetStatus(ctx, "c1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != "in_progress" {
		t.Fatalf("status = %q", status)
	}

	if err := m.Cleanup(ctx, "c1"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	status, _ = m.GetStatus(ctx, "c1")
	if status != "" {
		t.Fatalf("cleanup must drop status, got %q", status)
	}
}
