package transcription

import (
	"context"
	"fmt"
)

// Chunk is one recognized span of speech.
type Chunk struct {
	Speaker    string
	Text       string
	Start      float64
	End        float64
	IsFinal    bool
	Confidence float64
}

// Transcriber turns pushed audio into a stream of transcript chunks. Open
// returns the per-call chunk channel; Push never blocks on recognition, it
// only enqueues. Close ends the stream and closes the channel so consumers
// can drain and exit.
//
// seq is the client's monotonically increasing frame number. Handling
// out-of-order or duplicate frames is the backend's responsibility; the
// caller forwards seq as received.
type Transcriber interface {
	Open(ctx context.Context, callID string) (<-chan Chunk, error)
	Push(ctx context.Context, callID string, audio []byte, seq int) error
	Close(callID string) error
}

// ForMode returns the transcriber for a configured mode. The empty mode
// selects the scripted backend; real speech backends register new mode
// names here.
func ForMode(mode string) (Transcriber, error) {
	switch mode {
	case "", "scripted":
		return NewScripted(), nil
	default:
		return nil, fmt.Errorf("transcription: unknown mode %q", mode)
	}
}
