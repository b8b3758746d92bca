package buffer

import (
	"context"
	"sync"
	"time"

	"dealsense/internal/calls"
)

// Memory is the in-process Buffer and SideStore for single-process or
// degraded operation. Trimming and windowing semantics mirror Redis exactly.

type Memory struct {
	mu sync.Mutex

	opts    Options
	entries map[string]*memoryEntry
	meta    map[string]Meta
	status  map[string]string

	clock func() time.Time
}

type memoryEntry struct {
	chunks    []calls.TranscriptChunk
	expiresAt time.Time
}

func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:    opts.withDefaults(),
		entries: map[string]*memoryEntry{},
		meta:    map[string]Meta{},
		status:  map[string]string{},
		clock:   time.Now,
	}
}

// SetClock replaces the TTL clock. Tests only.
func (m *Memory) SetClock(clock func() time.Time) { m.clock = clock }

func (m *Memory) Append(ctx context.Context, callID string, chunk calls.TranscriptChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.live(callID)
	if entry == nil {
		entry = &memoryEntry{}
		m.entries[callID] = entry
	}
	entry.chunks = append(entry.chunks, chunk)
	if n := len(entry.chunks); n > m.opts.MaxChunks {
		entry.chunks = entry.chunks[n-m.opts.MaxChunks:]
	}
	// TTL restarts on every append, matching PEXPIRE on the Redis side.
	entry.expiresAt = m.clock().Add(m.opts.TTL)
	return nil
}

func (m *Memory) Recent(ctx context.Context, callID string, windowSeconds float64) ([]calls.TranscriptChunk, error) {
	all, err := m.All(ctx, callID)
	if err != nil {
		return nil, err
	}
	return recentWindow(all, windowSeconds), nil
}

func (m *Memory) All(ctx context.Context, callID string) ([]calls.TranscriptChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.live(callID)
	if entry == nil {
		return []calls.TranscriptChunk{}, nil
	}
	out := make([]calls.TranscriptChunk, len(entry.chunks))
	copy(out, entry.chunks)
	return out, nil
}

func (m *Memory) Clear(ctx context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, callID)
	return nil
}

// live returns the entry for callID, dropping it first if the TTL elapsed.
// Callers must hold mu.
func (m *Memory) live(callID string) *memoryEntry {
	entry, ok := m.entries[callID]
	if !ok {
		return nil
	}
	if m.clock().After(entry.expiresAt) {
		delete(m.entries, callID)
		return nil
	}
	return entry
}

func (m *Memory) SetMeta(ctx context.Context, callID string, meta Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[callID] = meta
	return nil
}

func (m *Memory) GetMeta(ctx context.Context, callID string) (Meta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta[callID], nil
}

func (m *Memory) SetStatus(ctx context.Context, callID string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[callID] = status
	return nil
}

func (m *Memory) GetStatus(ctx context.Context, callID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[callID], nil
}

func (m *Memory) Cleanup(ctx context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, callID)
	delete(m.meta, callID)
	delete(m.status, callID)
	return nil
}

// recentWindow filters chunks to those starting within windowSeconds of the
// latest end offset. Shared by both backends so query results stay identical.
func recentWindow(chunks []calls.TranscriptChunk, windowSeconds float64) []calls.TranscriptChunk {
	if len(chunks) == 0 {
		return []calls.TranscriptChunk{}
	}
	latest := chunks[0].End
	for _, c := range chunks[1:] {
		if c.End > latest {
			latest = c.End
		}
	}
	cutoff := latest - windowSeconds

	out := make([]calls.TranscriptChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Start >= cutoff {
			out = append(out, c)
		}
	}
	return out
}
