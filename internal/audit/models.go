package audit

import "time"

// Event is an immutable, append-only record of something that happened to a
// call outside the transcript itself: lifecycle transitions, extraction
// outcomes, administrative edits.
//
// Invariants:
// - Events are never updated or deleted.
// - Callers treat audit logging as best-effort; it must not block call flows.

type Event struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	// Type indicates the business category of the record.
	Type EventType `json:"type" db:"type"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallStarted    EventType = "call_started"
	EventTypeCallEnded      EventType = "call_ended"
	EventTypeCallSummarized EventType = "call_summarized"
	EventTypeCallError      EventType = "call_error"
	EventTypeCallPurged     EventType = "call_purged"
	EventTypeItemUpdated    EventType = "action_item_updated"
)
