package transcription

import (
	"context"
	"strings"
	"testing"
)

func TestScriptedEmitsOneChunkPerPush(t *testing.T) {
	s := NewScripted()
	ctx := context.Background()

	ch, err := s.Open(ctx, "c1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Push(ctx, "c1", []byte("audio"), i+1); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	if err := s.Close("c1"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var chunks []Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}

	// Timing is contiguous and derived from word count.
	at := 0.0
	for i, c := range chunks {
		if c.Start != at {
			t.Fatalf("chunk %d start = %f, want %f", i, c.Start, at)
		}
		words := float64(len(strings.Fields(c.Text)))
		want := at + words/wordsPerSecond
		if c.End != want {
			t.Fatalf("chunk %d end = %f, want %f", i, c.End, want)
		}
		if !c.IsFinal {
			t.Fatalf("scripted chunks are final")
		}
		at = c.End
	}
}

func TestScriptedCyclesThroughScript(t *testing.T) {
	lines := []Chunk{
		{Speaker: "Seller", Text: "one"},
		{Speaker: "Customer", Text: "two"},
	}
	s := NewScriptedWith(lines)
	ctx := context.Background()

	ch, err := s.Open(ctx, "c1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Push(ctx, "c1", nil, 0); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	_ = s.Close("c1")

	var texts []string
	for c := range ch {
		texts = append(texts, c.Text)
	}
	if len(texts) != 3 || texts[0] != "one" || texts[1] != "two" || texts[2] != "one" {
		t.Fatalf("script should cycle, got %v", texts)
	}
}

func TestScriptedSessionLifecycle(t *testing.T) {
	s := NewScripted()
	ctx := context.Background()

	if err := s.Push(ctx, "c1", nil, 0); err == nil {
		t.Fatalf("push before open must fail")
	}

	if _, err := s.Open(ctx, "c1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Open(ctx, "c1"); err == nil {
		t.Fatalf("double open must fail")
	}

	if err := s.Close("c1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Push(ctx, "c1", nil, 0); err == nil {
		t.Fatalf("push after close must fail")
	}
	if err := s.Close("c1"); err != nil {
		t.Fatalf("closing a closed session is a no-op: %v", err)
	}

	// The id can be reused after close.
	if _, err := s.Open(ctx, "c1"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestScriptedDropsDuplicateAndStaleFrames(t *testing.T) {
	s := NewScripted()
	ctx := context.Background()

	ch, err := s.Open(ctx, "c1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for _, seq := range []int{1, 2, 2, 1, 3} {
		if err := s.Push(ctx, "c1", nil, seq); err != nil {
			t.Fatalf("Push seq %d: %v", seq, err)
		}
	}
	// Unnumbered frames are always accepted.
	if err := s.Push(ctx, "c1", nil, 0); err != nil {
		t.Fatalf("Push seq 0: %v", err)
	}
	_ = s.Close("c1")

	var n int
	for range ch {
		n++
	}
	if n != 4 {
		t.Fatalf("chunks = %d, want 4 (duplicate and stale frames dropped)", n)
	}
}

func TestForMode(t *testing.T) {
	for _, mode := range []string{"", "scripted"} {
		tr, err := ForMode(mode)
		if err != nil {
			t.Fatalf("ForMode(%q): %v", mode, err)
		}
		if _, ok := tr.(*Scripted); !ok {
			t.Fatalf("ForMode(%q) = %T, want *Scripted", mode, tr)
		}
	}
	if _, err := ForMode("whisper"); err == nil {
		t.Fatalf("unknown mode must fail")
	}
}
