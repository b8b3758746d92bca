package calls

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTerminalState is returned when a transition is attempted from a
	// state that accepts none (summarized, error).
	ErrTerminalState = errors.New("call is in a terminal state")
)

// Repository is the durable record of calls, transcripts, summaries and
// action items. It outlives any live connection.
//
// State machine rules are enforced here:
// - end: in_progress -> ended (duration computed); ended/summarized is a no-op.
// - summarize-complete: ended -> summarized only.
// - error is terminal.
type Repository interface {
	// CreateCall registers a call in in_progress state. If a call with the
	// same id already exists, the existing record is returned with
	// created=false (idempotent start).
	CreateCall(ctx context.Context, call Call) (out Call, created bool, err error)

	GetCall(ctx context.Context, callID string) (Call, error)
	ListCallsByDeal(ctx context.Context, dealID int) ([]Call, error)

	// EndCall transitions in_progress -> ended and computes duration.
	// Ending an already ended or summarized call is an idempotent no-op.
	EndCall(ctx context.Context, callID string) (Call, error)

	// SetCallSummarized transitions ended -> summarized.
	SetCallSummarized(ctx context.Context, callID string) (Call, error)

	// MarkCallError moves any non-terminal call to the error state.
	MarkCallError(ctx context.Context, callID string) (Call, error)

	// PurgeCall removes the call and cascades to transcript, summary and
	// action items. Administrative use only.
	PurgeCall(ctx context.Context, callID string) error

	AddTranscriptChunk(ctx context.Context, chunk TranscriptChunk) (TranscriptChunk, error)

	// GetTranscript returns final chunks ordered by start offset. A negative
	// bound disables that side of the time-range filter.
	GetTranscript(ctx context.Context, callID string, from, to float64) ([]TranscriptChunk, error)

	// FullTranscriptText is the ordered "speaker: text" concatenation of all
	// final chunks.
	FullTranscriptText(ctx context.Context, callID string) (string, error)

	// UpsertSummary stores the summary for a call, replacing any existing one.
	UpsertSummary(ctx context.Context, summary CallSummary) (CallSummary, error)
	GetSummary(ctx context.Context, callID string) (CallSummary, error)

	CreateActionItems(ctx context.Context, items []ActionItem) ([]ActionItem, error)
	ListActionItems(ctx context.Context, callID string) ([]ActionItem, error)
	GetActionItem(ctx context.Context, itemID string) (ActionItem, error)
	UpdateActionItem(ctx context.Context, itemID string, update ActionItemUpdate) (ActionItem, error)
}
