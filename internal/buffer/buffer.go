package buffer

import (
	"context"
	"time"

	"dealsense/internal/calls"
)

// Buffer is the short-term, time-windowed store of recent utterances per
// call. It backs live context queries; the Repository remains the store of
// record.
//
// Backends must be interchangeable: for a given sequence of appends both
// implementations return identical results from Recent/All. Only failure and
// availability properties may differ.
type Buffer interface {
	// Append adds a chunk to the tail of the per-call list. The count cap is
	// a hard memory ceiling enforced on every append (trim from the head);
	// the TTL bounds the lifetime of the whole per-call entry.
	Append(ctx context.Context, callID string, chunk calls.TranscriptChunk) error

	// Recent returns chunks whose start offset is >= (latest end offset -
	// window seconds), in buffer order. An empty buffer yields an empty
	// slice, not an error.
	Recent(ctx context.Context, callID string, windowSeconds float64) ([]calls.TranscriptChunk, error)

	All(ctx context.Context, callID string) ([]calls.TranscriptChunk, error)

	Clear(ctx context.Context, callID string) error
}

// Options tunes the per-call caps. Zero values fall back to defaults.
type Options struct {
	// MaxChunks bounds memory per call; oldest chunks are trimmed first.
	MaxChunks int
	// TTL bounds entry lifetime, keeping buffers around briefly after the
	// call ends so late queries still have context.
	TTL time.Duration
}

const (
	defaultMaxChunks = 100
	defaultTTL       = time.Hour
)

func (o Options) withDefaults() Options {
	out := o
	if out.MaxChunks <= 0 {
		out.MaxChunks = defaultMaxChunks
	}
	if out.TTL <= 0 {
		out.TTL = defaultTTL
	}
	return out
}

// WindowText renders recent chunks as the newline-joined "speaker: text"
// context block handed to the answering collaborator.
func WindowText(ctx context.Context, b Buffer, callID string, windowSeconds float64) (string, error) {
	chunks, err := b.Recent(ctx, callID, windowSeconds)
	if err != nil {
		return "", err
	}
	return calls.JoinLines(chunks), nil
}

// Meta is the fast-access call metadata kept alongside the buffer for
// low-latency reads during the call.
type Meta struct {
	DealID      int       `json:"deal_id"`
	AccountName string    `json:"account_name"`
	ContactName string    `json:"contact_name,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// SideStore holds per-call metadata and live status next to the buffer.
type SideStore interface {
	SetMeta(ctx context.Context, callID string, meta Meta) error
	GetMeta(ctx context.Context, callID string) (Meta, error)

	SetStatus(ctx context.Context, callID string, status string) error
	GetStatus(ctx context.Context, callID string) (string, error)

	// Cleanup drops all side-store entries for a call.
	Cleanup(ctx context.Context, callID string) error
}
